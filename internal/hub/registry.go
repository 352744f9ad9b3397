package hub

import (
	"fmt"
	"sort"
	"time"
)

// Recognized metadata keys. Everything else in the metadata map passes
// through opaquely and is never interpreted.
const (
	metaUsername    = "username"
	metaFollowing   = "following"
	metaProfile     = "profile"
	metaLastUpdated = "lastUpdated"
)

// ClientRecord is the authoritative state for one active connection. It is
// owned by the hub goroutine; nothing outside the hub may hold a reference
// past the command that produced it.
type ClientRecord struct {
	Handle      string
	ConnectTime time.Time
	Metadata    map[string]any

	heartbeatPending bool
	heartbeatBeatID  string
	missedBeats      int
}

// Username returns the record's username, or "" if none has been set.
func (r *ClientRecord) Username() string {
	if name, ok := r.Metadata[metaUsername].(string); ok {
		return name
	}
	return ""
}

// Following returns the list of usernames this client follows. Both
// []string (internal updates) and []any of strings (decoded JSON) are
// accepted; anything else yields nil.
func (r *ClientRecord) Following() []string {
	switch v := r.Metadata[metaFollowing].(type) {
	case []string:
		return v
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				return nil
			}
			names = append(names, name)
		}
		return names
	default:
		return nil
	}
}

// Profile returns the nested profile mapping, or nil if absent.
func (r *ClientRecord) Profile() map[string]any {
	if p, ok := r.Metadata[metaProfile].(map[string]any); ok {
		return p
	}
	return nil
}

func (r *ClientRecord) follows(username string) bool {
	for _, name := range r.Following() {
		if name == username {
			return true
		}
	}
	return false
}

// registry maps connection handles to client records. It is a plain map:
// exclusive access is guaranteed by the hub goroutine, not by locking.
type registry struct {
	records map[string]*ClientRecord
}

func newRegistry() *registry {
	return &registry{records: make(map[string]*ClientRecord)}
}

// add creates a record for handle. A duplicate handle is a programming
// defect on the transport side; it is reported as an error, never a panic.
func (reg *registry) add(handle string, now time.Time) (*ClientRecord, error) {
	if _, exists := reg.records[handle]; exists {
		return nil, fmt.Errorf("handle %q is already registered", handle)
	}
	record := &ClientRecord{
		Handle:      handle,
		ConnectTime: now,
		Metadata:    make(map[string]any),
	}
	reg.records[handle] = record
	return record, nil
}

// remove deletes the record for handle, reporting whether it existed.
// Records are never resurrected; a second remove is a no-op.
func (reg *registry) remove(handle string) bool {
	if _, exists := reg.records[handle]; !exists {
		return false
	}
	delete(reg.records, handle)
	return true
}

func (reg *registry) get(handle string) *ClientRecord {
	return reg.records[handle]
}

// update partially overwrites metadata keys on the record for handle.
func (reg *registry) update(handle string, fields map[string]any) bool {
	record, exists := reg.records[handle]
	if !exists {
		return false
	}
	for key, value := range fields {
		record.Metadata[key] = value
	}
	return true
}

func (reg *registry) all() []*ClientRecord {
	records := make([]*ClientRecord, 0, len(reg.records))
	for _, record := range reg.records {
		records = append(records, record)
	}
	return records
}

func (reg *registry) len() int {
	return len(reg.records)
}

// findByUsername returns the connected record with the given username.
// Usernames are not enforced unique; when duplicates exist the earliest
// connection wins, with the lexicographically smallest handle as the
// tie-break, so resolution is deterministic.
func (reg *registry) findByUsername(username string) *ClientRecord {
	var best *ClientRecord
	for _, record := range reg.records {
		if record.Username() != username {
			continue
		}
		if best == nil || earlier(record, best) {
			best = record
		}
	}
	return best
}

// earlier reports whether a sorts before b: by connect time, then handle.
func earlier(a, b *ClientRecord) bool {
	if !a.ConnectTime.Equal(b.ConnectTime) {
		return a.ConnectTime.Before(b.ConnectTime)
	}
	return a.Handle < b.Handle
}

// sortRecords orders records by connect time then handle, making fan-out
// truncation deterministic.
func sortRecords(records []*ClientRecord) {
	sort.Slice(records, func(i, j int) bool {
		return earlier(records[i], records[j])
	})
}
