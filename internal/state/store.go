package state

import (
	"sort"
	"sync"
	"time"
)

// Store maps device IDs to their last-known Record.
//
// The zero value is not usable; create one with NewStore.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewStore creates an empty state store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
	}
}

// Merge creates the record for id if absent, otherwise shallow-merges fields
// into it. It then marks the record online and stamps lastUpdate and lastSeen
// with ts. The hub-stamped keys are stripped from fields before merging.
//
// The returned Record is a copy taken while the lock was held, so it reflects
// exactly this merge even if another merge follows immediately.
func (s *Store) Merge(id string, fields Fields, ts time.Time) Record {
	incoming := fields.Reported()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		rec = &Record{Fields: make(Fields, len(incoming))}
		s.records[id] = rec
	}
	for k, v := range incoming {
		rec.Fields[k] = v
	}
	rec.Online = true
	rec.LastUpdate = ts
	rec.LastSeen = ts

	return rec.Clone()
}

// MarkOffline sets online=false for id without touching any other field.
// It reports false if the device has never been seen.
func (s *Store) MarkOffline(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	rec.Online = false
	return rec.Clone(), true
}

// Touch refreshes lastSeen for a known device. It does not change online
// status or lastUpdate and is not a state change for broadcast purposes.
func (s *Store) Touch(id string, ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	if ts.After(rec.LastSeen) {
		rec.LastSeen = ts
	}
	return true
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns a deep copy of every record.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, len(s.records))
	for id, rec := range s.records {
		snap[id] = rec.Clone()
	}
	return snap
}

// IDs returns every known device ID, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of known devices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
