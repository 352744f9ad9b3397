package hub

import (
	"encoding/json"
	"sort"

	"github.com/chatwire/hub/internal/metrics"
)

// handleSetData applies a metadata patch to the sender's record: a shallow
// merge where patch keys overwrite same-named keys and everything else is
// preserved. The outcome, success or not, is reported via system:dataSet.
func (h *Hub) handleSetData(record *ClientRecord, data json.RawMessage) {
	if len(data) > h.opts.MaxMessageSize {
		h.emitDataSetError(record.Handle, payloadTooLarge(len(data), h.opts.MaxMessageSize))
		return
	}

	var patch map[string]any
	if err := json.Unmarshal(data, &patch); err != nil || patch == nil {
		h.emitDataSetError(record.Handle, invalidFormat("setData payload must be a JSON object"))
		return
	}

	previousFollowing := record.Following()

	updatedFields := make([]string, 0, len(patch))
	for key := range patch {
		updatedFields = append(updatedFields, key)
	}
	sort.Strings(updatedFields)

	h.registry.update(record.Handle, patch)
	record.Metadata[metaLastUpdated] = h.clock.Now().UnixMilli()

	h.transport.Emit(record.Handle, EventDataSet, map[string]any{
		"success":       true,
		"updatedFields": updatedFields,
	})
	metrics.HubMetadataUpdatesTotal.Inc()

	if _, ok := patch[metaFollowing]; ok {
		h.notifyNewlyFollowed(record, previousFollowing)
	}
}

func (h *Hub) emitDataSetError(handle string, hubErr *Error) {
	metrics.HubErrorsTotal.WithLabelValues(string(hubErr.Code)).Inc()
	h.transport.Emit(handle, EventDataSet, map[string]any{
		"success": false,
		"error":   hubErr.Payload(),
	})
}

// notifyNewlyFollowed sends a best-effort followed notice to every online
// user the sender just started following. Fire-and-forget: no ack, no
// retry, offline targets are skipped silently.
func (h *Hub) notifyNewlyFollowed(record *ClientRecord, previous []string) {
	current := record.Following()
	if current == nil {
		return
	}

	known := make(map[string]bool, len(previous))
	for _, name := range previous {
		known[name] = true
	}

	seen := make(map[string]bool, len(current))
	for _, name := range current {
		if known[name] || seen[name] {
			continue
		}
		seen[name] = true

		target := h.registry.findByUsername(name)
		if target == nil {
			continue
		}

		h.transport.Emit(target.Handle, EventFollowed, map[string]any{
			"username":  record.Username(),
			"timestamp": h.clock.Now().UnixMilli(),
		})
		metrics.HubFollowedNoticesTotal.Inc()
	}
}
