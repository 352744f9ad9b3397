package hub

import (
	"encoding/json"
	"log/slog"

	"github.com/chatwire/hub/internal/metrics"
)

// handleClientEvent is the router entry point. Every family shares the
/// same shape: validate, resolve sender identity, resolve recipients,
// enrich, deliver, acknowledge. Errors surface to the sender only.
func (h *Hub) handleClientEvent(c clientEventCmd) {
	record := h.registry.get(c.handle)
	if record == nil {
		// Raced with removal; the transport will drop the connection.
		slog.Debug("Event from unknown handle", "handle", c.handle, "event", c.event)
		return
	}

	metrics.HubMessagesTotal.WithLabelValues(c.event).Inc()

	var hubErr *Error
	switch c.event {
	case EventHeartbeatAck:
		h.handleHeartbeatAck(record, c.data)
	case EventClientPing:
		h.handleClientPing(record, c.data)
	case EventClients:
		h.handleClientsRequest(record)
	case EventSetData:
		h.handleSetData(record, c.data)
	case EventGeneral:
		hubErr = h.handleGeneral(record, c.data)
	case EventDirect:
		hubErr = h.handleDirect(record, c.data)
	case EventNotification:
		hubErr = h.handleNotification(record, c.data)
	case EventTypingStart:
		hubErr = h.handleTyping(record, c.data, true)
	case EventTypingStop:
		hubErr = h.handleTyping(record, c.data, false)
	default:
		hubErr = invalidFormat("unknown event " + c.event)
	}

	if hubErr != nil {
		metrics.HubErrorsTotal.WithLabelValues(string(hubErr.Code)).Inc()
		h.transport.Emit(c.handle, EventError, hubErr.Payload())
	}
}

// decodeObject parses an event payload that must be a JSON object.
func decodeObject(data json.RawMessage) (map[string]any, *Error) {
	var payload map[string]any
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload == nil {
		return nil, invalidFormat("payload must be a JSON object")
	}
	return payload, nil
}

func requireString(payload map[string]any, field string) (string, *Error) {
	value, ok := payload[field].(string)
	if !ok || value == "" {
		return "", invalidFormat("missing required field " + field)
	}
	return value, nil
}

// enrich returns a copy of payload with the sender block and timestamp
// merged in. The original payload is left untouched for acks.
func (h *Hub) enrich(payload map[string]any, sender *ClientRecord) map[string]any {
	enriched := make(map[string]any, len(payload)+2)
	for key, value := range payload {
		enriched[key] = value
	}
	enriched["sender"] = map[string]any{
		"id":       sender.Handle,
		"username": sender.Username(),
		"profile":  sender.Profile(),
	}
	enriched["timestamp"] = h.clock.Now().UnixMilli()
	return enriched
}

// handleGeneral broadcasts to every other connected client and acks the
// sender with the original message.
func (h *Hub) handleGeneral(sender *ClientRecord, data json.RawMessage) *Error {
	payload, hubErr := decodeObject(data)
	if hubErr != nil {
		return hubErr
	}
	if _, hubErr = requireString(payload, "type"); hubErr != nil {
		return hubErr
	}
	if sender.Username() == "" {
		return noUsername()
	}

	enriched := h.enrich(payload, sender)
	delivered := 0
	for _, record := range h.registry.all() {
		if record.Handle == sender.Handle {
			continue
		}
		h.transport.Emit(record.Handle, EventGeneral, enriched)
		delivered++
	}
	metrics.HubDeliveriesTotal.WithLabelValues("broadcast").Add(float64(delivered))

	h.transport.Emit(sender.Handle, EventGeneralSent, map[string]any{
		"success":         true,
		"originalMessage": payload,
	})
	return nil
}

// handleDirect delivers to the first connection matching the target
// username. An unknown target is a negative ack, not an error event, and
// causes no side effect anywhere.
func (h *Hub) handleDirect(sender *ClientRecord, data json.RawMessage) *Error {
	payload, hubErr := decodeObject(data)
	if hubErr != nil {
		return hubErr
	}
	target, hubErr := requireString(payload, "target")
	if hubErr != nil {
		return hubErr
	}
	if _, hubErr = requireString(payload, "type"); hubErr != nil {
		return hubErr
	}
	if sender.Username() == "" {
		return noUsername()
	}

	recipient := h.registry.findByUsername(target)
	if recipient == nil {
		h.transport.Emit(sender.Handle, EventDirectSent, map[string]any{
			"success": false,
			"target":  target,
			"reason":  string(CodeTargetNotFound),
		})
		return nil
	}

	h.transport.Emit(recipient.Handle, EventDirect, h.enrich(payload, sender))
	metrics.HubDeliveriesTotal.WithLabelValues("direct").Inc()

	h.transport.Emit(sender.Handle, EventDirectSent, map[string]any{
		"success": true,
		"target":  target,
	})
	return nil
}

// handleTyping forwards typing presence to the target and manages the
// per-(sender,target) auto-stop timer. An offline target is a silent
// no-op, unlike Direct; the asymmetry is part of the protocol.
func (h *Hub) handleTyping(sender *ClientRecord, data json.RawMessage, isTyping bool) *Error {
	payload, hubErr := decodeObject(data)
	if hubErr != nil {
		return hubErr
	}
	target, hubErr := requireString(payload, "target")
	if hubErr != nil {
		return hubErr
	}
	if sender.Username() == "" {
		return noUsername()
	}

	// A repeated start re-arms; an explicit stop cancels.
	h.cancelTypingTimer(sender.Handle, target)

	recipient := h.registry.findByUsername(target)
	if recipient == nil {
		return nil
	}

	if isTyping {
		timers, ok := h.typingTimers[sender.Handle]
		if !ok {
			timers = make(map[string]*scheduledTask)
			h.typingTimers[sender.Handle] = timers
		}
		timers[target] = h.schedule(
			h.opts.TypingTimeout,
			typingExpiredCmd{handle: sender.Handle, target: target},
		)
	}

	h.transport.Emit(recipient.Handle, EventTypingUpdate, map[string]any{
		"username":  sender.Username(),
		"isTyping":  isTyping,
		"timestamp": h.clock.Now().UnixMilli(),
	})
	return nil
}

func (h *Hub) cancelTypingTimer(handle, target string) {
	timers, ok := h.typingTimers[handle]
	if !ok {
		return
	}
	if task, ok := timers[target]; ok {
		task.cancel()
		delete(timers, target)
	}
	if len(timers) == 0 {
		delete(h.typingTimers, handle)
	}
}

// handleTypingExpired synthesizes the auto-stop after the typing timeout
// elapsed without an explicit stop. Sender and target presence are both
// re-checked; a canceled timer that fired anyway no-ops here.
func (h *Hub) handleTypingExpired(c typingExpiredCmd) {
	timers, ok := h.typingTimers[c.handle]
	if !ok {
		return
	}
	if _, ok := timers[c.target]; !ok {
		return
	}
	h.cancelTypingTimer(c.handle, c.target)

	sender := h.registry.get(c.handle)
	if sender == nil {
		return
	}
	recipient := h.registry.findByUsername(c.target)
	if recipient == nil {
		return
	}

	h.transport.Emit(recipient.Handle, EventTypingUpdate, map[string]any{
		"username":  sender.Username(),
		"isTyping":  false,
		"timestamp": h.clock.Now().UnixMilli(),
	})
}

// handleClientPing answers a client-initiated probe immediately. No
// identity requirement; useful before setData.
func (h *Hub) handleClientPing(record *ClientRecord, data json.RawMessage) {
	payload, hubErr := decodeObject(data)
	if hubErr != nil {
		payload = map[string]any{}
	}
	payload["timestamp"] = h.clock.Now().UnixMilli()
	h.transport.Emit(record.Handle, EventClientPong, payload)
}

// handleClientsRequest replies with the current roster.
func (h *Hub) handleClientsRequest(record *ClientRecord) {
	records := h.registry.all()
	sortRecords(records)

	clients := make([]map[string]any, 0, len(records))
	for _, r := range records {
		clients = append(clients, map[string]any{
			"id":       r.Handle,
			"username": r.Username(),
		})
	}

	h.transport.Emit(record.Handle, EventClients, map[string]any{
		"clients": clients,
		"count":   len(clients),
	})
}
