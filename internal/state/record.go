package state

import (
	"encoding/json"
	"time"
)

// Hub-stamped keys. Devices can send them but the values are discarded.
const (
	KeyOnline     = "online"
	KeyLastUpdate = "lastUpdate"
	KeyLastSeen   = "lastSeen"
)

// Fields is the open-ended set of application values reported by a device.
// Values are decoded JSON: string, float64, bool, nil, []any or map[string]any.
type Fields map[string]any

// Clone returns a deep copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

// Reported returns a deep copy of f without the hub-stamped keys. A device
// never sets online, lastUpdate or lastSeen itself.
func (f Fields) Reported() Fields {
	out := f.Clone()
	delete(out, KeyOnline)
	delete(out, KeyLastUpdate)
	delete(out, KeyLastSeen)
	return out
}

// cloneValue deep-copies the container types produced by encoding/json.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case Fields:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}

// Record is the last-known state of one device.
type Record struct {
	Fields     Fields
	Online     bool
	LastUpdate time.Time // last merge
	LastSeen   time.Time // last well-formed frame or pong
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.Fields = r.Fields.Clone()
	return r
}

// Flatten returns the wire representation: application fields plus the
// hub-stamped keys, timestamps in Unix milliseconds.
func (r Record) Flatten() map[string]any {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = cloneValue(v)
	}
	out[KeyOnline] = r.Online
	out[KeyLastUpdate] = toMillis(r.LastUpdate)
	out[KeyLastSeen] = toMillis(r.LastSeen)
	return out
}

// MarshalJSON encodes the record flat, as dashboards and the HTTP API expect.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Flatten())
}

// toMillis converts t to Unix milliseconds; the zero time encodes as 0.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Snapshot is an independent copy of the whole store at one instant.
type Snapshot map[string]Record

// IDs returns the snapshot's device IDs in no particular order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}
