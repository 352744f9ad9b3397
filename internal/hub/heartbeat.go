package hub

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/chatwire/hub/internal/metrics"
)

/// The heartbeat protocol is the application-level liveness check: the
// transport does not promptly surface half-open connections, so the hub
// challenges every client on a fixed cadence and removes clients that
// miss too many challenges in a row.
//
/// Per client the state machine is: idle -> beat sent (pending, fresh beat
// id, deadline armed) -> ack matching the pending id resets missedBeats
// and returns to idle; deadline expiry while pending increments
// missedBeats and returns to idle until the threshold removes the client.

// handleHeartbeatTick sends a fresh beat to every client that is not
// already awaiting an acknowledgment.
func (h *Hub) handleHeartbeatTick() {
	now := h.clock.Now().UnixMilli()

	for _, record := range h.registry.all() {
		if record.heartbeatPending {
			// Still awaiting an ack; the deadline timer owns this one.
			continue
		}

		beatID := uuid.NewString()
		record.heartbeatPending = true
		record.heartbeatBeatID = beatID

		// Deadline is armed before the beat goes out so an instant answer
		// can never race an unarmed timer.
		h.heartbeatTimers[record.Handle] = h.schedule(
			h.opts.HeartbeatTimeout,
			heartbeatDeadlineCmd{handle: record.Handle, beatID: beatID},
		)

		h.transport.Emit(record.Handle, EventHeartbeat, map[string]any{
			"beatId":    beatID,
			"timestamp": now,
		})
		metrics.HubHeartbeatsSentTotal.Inc()
	}
}

// handleHeartbeatAck processes a client's answer to a beat. Acks for a
// beat id that is not the currently pending one are stale duplicates and
// are ignored without error.
func (h *Hub) handleHeartbeatAck(record *ClientRecord, data json.RawMessage) {
	var ack struct {
		BeatID string `json:"beatId"`
	}
	if err := json.Unmarshal(data, &ack); err != nil {
		return
	}

	if !record.heartbeatPending || ack.BeatID != record.heartbeatBeatID {
		return
	}

	record.heartbeatPending = false
	record.heartbeatBeatID = ""
	record.missedBeats = 0

	if task, ok := h.heartbeatTimers[record.Handle]; ok {
		task.cancel()
		delete(h.heartbeatTimers, record.Handle)
	}
}

// handleHeartbeatDeadline fires when a beat went unanswered. The record
// may have disconnected or answered in the meantime, so presence and beat
// id are re-checked before anything happens.
func (h *Hub) handleHeartbeatDeadline(c heartbeatDeadlineCmd) {
	record := h.registry.get(c.handle)
	if record == nil {
		return
	}
	if !record.heartbeatPending || record.heartbeatBeatID != c.beatID {
		return
	}

	delete(h.heartbeatTimers, c.handle)
	record.heartbeatPending = false
	record.heartbeatBeatID = ""
	record.missedBeats++
	metrics.HubHeartbeatsMissedTotal.Inc()

	if record.missedBeats < h.opts.HeartbeatMaxMissed {
		h.transport.Emit(c.handle, EventHeartbeatWarning, map[string]any{
			"missed":    record.missedBeats,
			"maxMissed": h.opts.HeartbeatMaxMissed,
		})
		return
	}

	// Fatal for this connection only. The client is already unreachable,
	// so nothing is emitted to it beyond the close frame.
	slog.Info("Removing unresponsive client",
		"handle", c.handle,
		"missed_beats", record.missedBeats,
	)
	metrics.HubHeartbeatTimeoutsTotal.Inc()

	h.transport.Close(c.handle, "heartbeat timeout")
	h.removeClient(c.handle)
}
