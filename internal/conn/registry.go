package conn

import (
	"sort"
	"sync"
)

// Registry maps device IDs to their live Channel.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]Channel),
	}
}

// Register associates ch with id, replacing any existing channel.
// The replaced channel, if any, is returned so the caller can close it.
func (r *Registry) Register(id string, ch Channel) (previous Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.channels[id]
	if previous == ch {
		previous = nil
	}
	r.channels[id] = ch
	return previous
}

// Lookup returns the channel registered for id.
func (r *Registry) Lookup(id string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[id]
	return ch, ok
}

// LookupOpen returns the channel for id only if it is still open.
func (r *Registry) LookupOpen(id string) (Channel, bool) {
	ch, ok := r.Lookup(id)
	if !ok || !ch.IsOpen() {
		return nil, false
	}
	return ch, true
}

// Unregister removes the mapping for id only if it still points at ch.
// It reports whether the mapping was removed.
func (r *Registry) Unregister(id string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.channels[id]; !ok || current != ch {
		return false
	}
	delete(r.channels, id)
	return true
}

// Entry pairs a device ID with its channel.
type Entry struct {
	DeviceID string
	Channel  Channel
}

// Entries returns a copy of every registration, sorted by device ID.
// Callers iterate the copy without holding the registry lock.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.channels))
	for id, ch := range r.channels {
		entries = append(entries, Entry{DeviceID: id, Channel: ch})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DeviceID < entries[j].DeviceID
	})
	return entries
}

// OpenIDs returns the sorted IDs of devices whose channel is open.
func (r *Registry) OpenIDs() []string {
	entries := r.Entries()
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Channel.IsOpen() {
			ids = append(ids, e.DeviceID)
		}
	}
	return ids
}

// Len returns the number of registrations, open or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
