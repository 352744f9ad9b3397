package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// envelope is the wire frame: every message in either direction is a JSON
// object carrying the event name and its payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WebSocketTransport implements hub.Transport over gorilla websocket
// connections. It maps connection handles to per-connection writers; the
// hub stays ignorant of sockets.
type WebSocketTransport struct {
	mu      sync.RWMutex
	writers map[string]*clientWriter
	clock   clockwork.Clock
}

// NewWebSocketTransport creates an empty transport.
func NewWebSocketTransport(clock clockwork.Clock) *WebSocketTransport {
	return &WebSocketTransport{
		writers: make(map[string]*clientWriter),
		clock:   clock,
	}
}

// add attaches a writer for a freshly upgraded connection.
func (t *WebSocketTransport) add(handle string, conn *websocket.Conn) *clientWriter {
	cw := newClientWriter(conn, t.clock)
	t.mu.Lock()
	t.writers[handle] = cw
	t.mu.Unlock()
	return cw
}

// remove detaches the writer for handle without closing it; the caller
// owns the connection teardown.
func (t *WebSocketTransport) remove(handle string) {
	t.mu.Lock()
	delete(t.writers, handle)
	t.mu.Unlock()
}

// Emit delivers one event to handle, best-effort. Unknown handles and
// slow clients are silently dropped; the hub never blocks on delivery.
func (t *WebSocketTransport) Emit(handle string, event string, payload any) {
	t.mu.RLock()
	cw, ok := t.writers[handle]
	t.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal event payload", "event", event, "error", err)
		return
	}
	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		slog.Error("Failed to marshal event envelope", "event", event, "error", err)
		return
	}

	if !cw.trySend(frame) {
		slog.Warn("Dropping event for slow client", "handle", handle, "event", event)
	}
}

// Close force-closes the connection for handle with a close frame.
func (t *WebSocketTransport) Close(handle string, reason string) {
	t.mu.Lock()
	cw, ok := t.writers[handle]
	delete(t.writers, handle)
	t.mu.Unlock()
	if !ok {
		return
	}

	// stopGraceful waits for the writer goroutine; keep that off the
	// hub's goroutine.
	go cw.stopGraceful(reason)
}

// count returns the number of attached writers.
func (t *WebSocketTransport) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.writers)
}
