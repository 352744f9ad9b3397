package hub

import (
	"encoding/json"

	"github.com/chatwire/hub/internal/metrics"
)

// Fan-out threshold below which throttling is never applied, regardless
// of configuration.
const throttleMinRecipients = 10

// handleNotification fans a notification out to the sender's current
// followers. The follower set is recomputed from the registry on every
// call and never cached. Delivery is fire-and-forget and explicitly not
// atomic across recipients: the ack goes back as soon as the deliveries
// are scheduled.
func (h *Hub) handleNotification(sender *ClientRecord, data json.RawMessage) *Error {
	payload, hubErr := decodeObject(data)
	if hubErr != nil {
		return hubErr
	}
	if _, hubErr = requireString(payload, "type"); hubErr != nil {
		return hubErr
	}
	content, ok := payload["content"]
	if !ok {
		return invalidFormat("missing required field content")
	}

	// Size guard before any delivery or mutation.
	encoded, err := json.Marshal(content)
	if err != nil {
		return invalidFormat("content is not serializable")
	}
	if len(encoded) > h.opts.MaxContentSize {
		return contentTooLarge(len(encoded), h.opts.MaxContentSize)
	}

	if sender.Username() == "" {
		return noUsername()
	}

	recipients := h.followers(sender.Username())
	if len(recipients) > h.opts.MaxFollowerNotifications {
		metrics.HubFanoutTruncationsTotal.Inc()
		recipients = recipients[:h.opts.MaxFollowerNotifications]
	}

	enriched := h.enrich(payload, sender)

	if len(recipients) > throttleMinRecipients && h.opts.NotificationThrottle > 0 {
		h.deliverThrottled(recipients, enriched)
	} else {
		for _, handle := range recipients {
			h.transport.Emit(handle, EventNotification, enriched)
		}
		metrics.HubDeliveriesTotal.WithLabelValues("notification").Add(float64(len(recipients)))
	}

	h.transport.Emit(sender.Handle, EventNotificationSent, map[string]any{
		"success":        true,
		"recipientCount": len(recipients),
	})
	return nil
}

// followers scans the registry for clients whose following list contains
// username, ordered by connect time then handle so truncation under the
// cap is deterministic.
func (h *Hub) followers(username string) []string {
	var records []*ClientRecord
	for _, record := range h.registry.all() {
		if record.follows(username) {
			records = append(records, record)
		}
	}
	sortRecords(records)

	handles := make([]string, 0, len(records))
	for _, record := range records {
		handles = append(handles, record.Handle)
	}
	return handles
}

// deliverThrottled spreads deliveries on a timed cadence without blocking
// the hub goroutine. Each delivery is posted back as a command so recipient
// presence is re-checked at send time; the cadence dies with the hub.
func (h *Hub) deliverThrottled(handles []string, payload map[string]any) {
	go func() {
		for i, handle := range handles {
			if i > 0 {
				timer := h.clock.NewTimer(h.opts.NotificationThrottle)
				select {
				case <-timer.Chan():
				case <-h.done:
					timer.Stop()
					return
				}
				timer.Stop()
			}
			h.post(deliverNotificationCmd{handle: handle, payload: payload})
		}
	}()
}

func (h *Hub) handleDeliverNotification(c deliverNotificationCmd) {
	if h.registry.get(c.handle) == nil {
		return
	}
	h.transport.Emit(c.handle, EventNotification, c.payload)
	metrics.HubDeliveriesTotal.WithLabelValues("notification").Inc()
}
