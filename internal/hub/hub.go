package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chatwire/hub/internal/metrics"
)

const (
	commandTimeout    = 5 * time.Second
	stopTimeout       = 10 * time.Second
	commandBufferSize = 256
)

// Options carries the hub's runtime tunables.
type Options struct {
	HeartbeatEnabled   bool
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	HeartbeatMaxMissed int

	MaxFollowerNotifications int
	NotificationThrottle     time.Duration
	MaxContentSize           int

	MaxMessageSize int
	TypingTimeout  time.Duration
}

// --- Command types ---

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type connectCmd struct {
	baseHubCmd
	handle       string
	errorChannel chan error
}

type disconnectCmd struct {
	baseHubCmd
	handle string
	reason string
}

type clientEventCmd struct {
	baseHubCmd
	handle string
	event  string
	data   json.RawMessage
}

type heartbeatDeadlineCmd struct {
	baseHubCmd
	handle string
	beatID string
}

type typingExpiredCmd struct {
	baseHubCmd
	handle string
	target string
}

type deliverNotificationCmd struct {
	baseHubCmd
	handle  string
	payload map[string]any
}

type certificateRefreshCmd struct {
	baseHubCmd
}

type clientCountCmd struct {
	baseHubCmd
	replyChannel chan int
}

type snapshotCmd struct {
	baseHubCmd
	handle       string
	replyChannel chan *ClientSnapshot
}

type stopCmd struct {
	baseHubCmd
}

// ClientSnapshot is a point-in-time copy of one record, safe to read off
// the hub goroutine. Used by diagnostics and tests.
type ClientSnapshot struct {
	Handle           string
	ConnectTime      time.Time
	Metadata         map[string]any
	HeartbeatPending bool
	BeatID           string
	MissedBeats      int
}

// Hub owns the connection registry and processes every mutation on a
// single goroutine fed by a command channel.
type Hub struct {
	cmdCh     chan hubCmd
	clock     clockwork.Clock
	opts      Options
	transport Transport
	registry  *registry

	heartbeatTimers map[string]*scheduledTask
	typingTimers    map[string]map[string]*scheduledTask

	done chan struct{}
}

// New creates a hub and starts its processing goroutine.
func New(opts Options, transport Transport, clock clockwork.Clock) *Hub {
	h := &Hub{
		cmdCh:           make(chan hubCmd, commandBufferSize),
		clock:           clock,
		opts:            opts,
		transport:       transport,
		registry:        newRegistry(),
		heartbeatTimers: make(map[string]*scheduledTask),
		typingTimers:    make(map[string]map[string]*scheduledTask),
		done:            make(chan struct{}),
	}
	go h.run()
	return h
}

// Connect registers a new connection handle. It blocks until the hub has
// processed the registration so the caller knows the handle is live.
func (h *Hub) Connect(handle string) error {
	errCh := make(chan error, 1)
	h.post(connectCmd{handle: handle, errorChannel: errCh})

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("connect command timed out after %v", commandTimeout)
	case <-h.done:
		return fmt.Errorf("hub is stopped")
	}
}

// Disconnect removes a connection handle. Fire-and-forget.
func (h *Hub) Disconnect(handle, reason string) {
	h.post(disconnectCmd{handle: handle, reason: reason})
}

// HandleEvent feeds one inbound client event into the hub. Fire-and-forget;
// any resulting error is emitted back to the sender as an event.
func (h *Hub) HandleEvent(handle, event string, data json.RawMessage) {
	h.post(clientEventCmd{handle: handle, event: event, data: data})
}

// ClientCount returns the number of registered connections, or -1 if the
// command times out.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	h.post(clientCountCmd{replyChannel: replyCh})

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	case <-h.done:
		return 0
	}
}

// Snapshot returns a copy of the record for handle, if present.
func (h *Hub) Snapshot(handle string) (ClientSnapshot, bool) {
	replyCh := make(chan *ClientSnapshot, 1)
	h.post(snapshotCmd{handle: handle, replyChannel: replyCh})

	select {
	case snap := <-replyCh:
		if snap == nil {
			return ClientSnapshot{}, false
		}
		return *snap, true
	case <-h.done:
		return ClientSnapshot{}, false
	}
}

// NotifyCertificateRefresh emits a best-effort certificateRefresh notice
// to every connected client. Called by the certificate reload coordinator.
func (h *Hub) NotifyCertificateRefresh() {
	h.post(certificateRefreshCmd{})
}

// Stop shuts the hub down, force-closing all connections. Blocks until the
// hub goroutine has exited or the stop timeout is reached.
func (h *Hub) Stop() {
	h.post(stopCmd{})

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded", "timeout", stopTimeout)
	}
}

// post enqueues a command unless the hub has already shut down.
func (h *Hub) post(cmd hubCmd) {
	select {
	case h.cmdCh <- cmd:
	case <-h.done:
	}
}

func (h *Hub) run() {
	defer close(h.done)

	var beats <-chan time.Time
	if h.opts.HeartbeatEnabled {
		ticker := h.clock.NewTicker(h.opts.HeartbeatInterval)
		defer ticker.Stop()
		beats = ticker.Chan()
	}

	for {
		select {
		case cmd := <-h.cmdCh:
			if stop := h.dispatch(cmd); stop {
				return
			}
		case <-beats:
			h.handleHeartbeatTick()
		}
	}
}

// dispatch runs one command with panic containment: a defective handler
// must never take down the serving loop.
func (h *Hub) dispatch(cmd hubCmd) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub command panicked", "command_type", fmt.Sprintf("%T", cmd), "panic", r)
			metrics.HubPanicsTotal.Inc()
		}
	}()

	switch c := cmd.(type) {
	case connectCmd:
		h.handleConnect(c)
	case disconnectCmd:
		h.handleDisconnect(c)
	case clientEventCmd:
		h.handleClientEvent(c)
	case heartbeatDeadlineCmd:
		h.handleHeartbeatDeadline(c)
	case typingExpiredCmd:
		h.handleTypingExpired(c)
	case deliverNotificationCmd:
		h.handleDeliverNotification(c)
	case certificateRefreshCmd:
		h.handleCertificateRefresh()
	case clientCountCmd:
		c.replyChannel <- h.registry.len()
	case snapshotCmd:
		c.replyChannel <- h.snapshotRecord(c.handle)
	case stopCmd:
		h.handleStop()
		return true
	default:
		slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
	}
	return false
}

func (h *Hub) handleConnect(c connectCmd) {
	record, err := h.registry.add(c.handle, h.clock.Now())
	if err != nil {
		// Transport handed us a duplicate handle. Programming defect;
		// log and refuse rather than clobber the existing record.
		slog.Error("Rejecting duplicate handle", "handle", c.handle, "error", err)
		metrics.HubRegistryViolationsTotal.Inc()
		c.errorChannel <- err
		return
	}

	metrics.HubConnectedClients.Set(float64(h.registry.len()))
	slog.Debug("Client connected", "handle", record.Handle, "total_clients", h.registry.len())

	h.transport.Emit(c.handle, EventConnect, map[string]any{})
	c.errorChannel <- nil
}

func (h *Hub) handleDisconnect(c disconnectCmd) {
	if h.removeClient(c.handle) {
		slog.Debug("Client disconnected", "handle", c.handle, "reason", c.reason)
	}
}

// removeClient is the single removal path shared by disconnect, heartbeat
// timeout, and shutdown. It cancels every timer keyed to the handle before
// deleting the record.
func (h *Hub) removeClient(handle string) bool {
	if task, ok := h.heartbeatTimers[handle]; ok {
		task.cancel()
		delete(h.heartbeatTimers, handle)
	}
	if timers, ok := h.typingTimers[handle]; ok {
		for _, task := range timers {
			task.cancel()
		}
		delete(h.typingTimers, handle)
	}

	if !h.registry.remove(handle) {
		return false
	}

	metrics.HubConnectedClients.Set(float64(h.registry.len()))
	return true
}

func (h *Hub) handleCertificateRefresh() {
	payload := map[string]any{"timestamp": h.clock.Now().UnixMilli()}
	for _, record := range h.registry.all() {
		h.transport.Emit(record.Handle, EventCertificateRefresh, payload)
	}
	slog.Info("Certificate refresh notice sent", "clients", h.registry.len())
}

func (h *Hub) snapshotRecord(handle string) *ClientSnapshot {
	record := h.registry.get(handle)
	if record == nil {
		return nil
	}

	meta := make(map[string]any, len(record.Metadata))
	for key, value := range record.Metadata {
		meta[key] = value
	}

	return &ClientSnapshot{
		Handle:           record.Handle,
		ConnectTime:      record.ConnectTime,
		Metadata:         meta,
		HeartbeatPending: record.heartbeatPending,
		BeatID:           record.heartbeatBeatID,
		MissedBeats:      record.missedBeats,
	}
}

func (h *Hub) handleStop() {
	total := h.registry.len()
	slog.Info("Hub shutting down", "clients", total)

	for _, record := range h.registry.all() {
		h.transport.Close(record.Handle, "Server shutting down")
		h.removeClient(record.Handle)
	}

	metrics.HubConnectedClients.Set(0)
	slog.Info("Hub shutdown complete", "disconnected_clients", total)
}
