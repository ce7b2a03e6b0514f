// Package dashboard maintains the set of observer connections and pushes
// full device snapshots to them.
//
// Dashboards are anonymous. Joining sends the joiner the current snapshot at
// once; every later state change sends the whole snapshot to every member.
// Broadcasts are serialized, so each dashboard sees snapshots in the order
// the store produced them and a joiner never misses a change that happened
// after its initial snapshot.
package dashboard

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/nerrad567/relayhub/internal/conn"
	"github.com/nerrad567/relayhub/internal/metrics"
	"github.com/nerrad567/relayhub/internal/state"
)

// MessageTypeDevices is the envelope type of a snapshot broadcast.
const MessageTypeDevices = "devices"

// Message is the frame sent to dashboards.
type Message struct {
	Type    string         `json:"type"`
	Devices state.Snapshot `json:"devices"`
}

// Logger is the logging interface used by the hub.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Hub is the dashboard broadcast set.
type Hub struct {
	store   *state.Store
	metrics *metrics.Metrics
	logger  Logger

	mu      sync.Mutex
	members map[conn.Channel]struct{}
}

// NewHub creates a hub that broadcasts snapshots of store.
func NewHub(store *state.Store, m *metrics.Metrics) *Hub {
	return &Hub{
		store:   store,
		metrics: m,
		logger:  noopLogger{},
		members: make(map[conn.Channel]struct{}),
	}
}

// SetLogger sets the logger for the hub.
func (h *Hub) SetLogger(logger Logger) {
	h.logger = logger
}

// Join adds ch to the set and sends it the current snapshot.
func (h *Hub) Join(ch conn.Channel) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := h.encode()
	if err != nil {
		return err
	}
	if err := ch.Send(data); err != nil {
		return err
	}

	h.members[ch] = struct{}{}
	h.metrics.SetDashboardsConnected(len(h.members))
	h.logger.Debug("dashboard joined", "channel", ch.ID(), "dashboards", len(h.members))
	return nil
}

// Leave removes ch from the set.
func (h *Hub) Leave(ch conn.Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.members[ch]; !ok {
		return
	}
	delete(h.members, ch)
	h.metrics.SetDashboardsConnected(len(h.members))
	h.logger.Debug("dashboard left", "channel", ch.ID(), "dashboards", len(h.members))
}

// Broadcast sends the current snapshot to every open member. Members found
// closed are removed. A member whose buffer is full misses this snapshot but
// stays in the set. It returns the number of channels the frame was queued on.
func (h *Hub) Broadcast() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.members) == 0 {
		return 0
	}

	data, err := h.encode()
	if err != nil {
		h.logger.Error("failed to marshal dashboard snapshot", "error", err)
		return 0
	}

	sent, pruned := 0, 0
	for ch := range h.members {
		if !ch.IsOpen() {
			delete(h.members, ch)
			pruned++
			continue
		}
		switch err := ch.Send(data); {
		case err == nil:
			sent++
		case errors.Is(err, conn.ErrChannelClosed):
			delete(h.members, ch)
			pruned++
		default:
			h.logger.Warn("dashboard send skipped", "channel", ch.ID(), "error", err)
		}
	}

	h.metrics.Broadcast(pruned)
	if pruned > 0 {
		h.metrics.SetDashboardsConnected(len(h.members))
		h.logger.Debug("pruned closed dashboards", "pruned", pruned, "dashboards", len(h.members))
	}
	return sent
}

// OnChange implements state.Observer.
func (h *Hub) OnChange(state.Change) {
	h.Broadcast()
}

// Count returns the number of dashboards in the set.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members)
}

// CloseAll closes and removes every member.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.members {
		//nolint:errcheck // Best-effort close during shutdown
		ch.Close()
		delete(h.members, ch)
	}
	h.metrics.SetDashboardsConnected(0)
}

// encode marshals the current snapshot. Callers hold h.mu.
func (h *Hub) encode() ([]byte, error) {
	return json.Marshal(Message{
		Type:    MessageTypeDevices,
		Devices: h.store.Snapshot(),
	})
}
