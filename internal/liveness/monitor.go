// Package liveness probes every registered device connection on a fixed
// period.
//
// Each tick sends a transport-level ping to every open channel. Probes are
// queued, never awaited, so a slow peer cannot delay the sweep. A channel
// that rejects the probe, or whose device has not been heard from within the
// stale threshold, is closed; the resulting transport close is what marks the
// device offline. The monitor never edits device state itself.
package liveness

import (
	"context"
	"time"

	"github.com/nerrad567/relayhub/internal/conn"
	"github.com/nerrad567/relayhub/internal/metrics"
	"github.com/nerrad567/relayhub/internal/state"
)

// Logger is the logging interface used by the monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Config controls the probe cadence.
type Config struct {
	// Interval between sweeps. Must be positive.
	Interval time.Duration

	// StaleAfter closes a connection whose device's lastSeen is older than
	// this. Zero disables the check.
	StaleAfter time.Duration
}

// Monitor periodically probes the connection registry.
type Monitor struct {
	cfg      Config
	registry *conn.Registry
	store    *state.Store
	metrics  *metrics.Metrics
	logger   Logger
	now      func() time.Time
}

// NewMonitor creates a monitor. store may be nil when StaleAfter is zero.
func NewMonitor(cfg Config, registry *conn.Registry, store *state.Store, m *metrics.Metrics) *Monitor {
	return &Monitor{
		cfg:      cfg,
		registry: registry,
		store:    store,
		metrics:  m,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	m.logger = logger
}

// Run sweeps every Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("liveness monitor started",
		"interval", m.cfg.Interval,
		"stale_after", m.cfg.StaleAfter,
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("liveness monitor stopped")
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Probed int
	Failed int
	Stale  int
}

// Sweep probes every open channel once.
func (m *Monitor) Sweep() SweepResult {
	var res SweepResult
	now := m.now()

	for _, e := range m.registry.Entries() {
		if !e.Channel.IsOpen() {
			continue
		}

		if m.isStale(e.DeviceID, now) {
			res.Stale++
			m.logger.Warn("closing stale device connection",
				"device_id", e.DeviceID,
				"channel", e.Channel.ID(),
				"stale_after", m.cfg.StaleAfter,
			)
			//nolint:errcheck // Best-effort close; the read loop reports the outcome
			e.Channel.Close()
			continue
		}

		if err := e.Channel.Ping(); err != nil {
			res.Failed++
			m.metrics.Probe(metrics.ProbeFailed)
			m.logger.Debug("liveness probe failed, closing connection",
				"device_id", e.DeviceID,
				"channel", e.Channel.ID(),
				"error", err,
			)
			//nolint:errcheck // Best-effort close; the read loop reports the outcome
			e.Channel.Close()
			continue
		}
		res.Probed++
		m.metrics.Probe(metrics.ProbeSent)
	}
	return res
}

// isStale reports whether the device has been silent longer than StaleAfter.
func (m *Monitor) isStale(deviceID string, now time.Time) bool {
	if m.cfg.StaleAfter <= 0 || m.store == nil {
		return false
	}
	rec, ok := m.store.Get(deviceID)
	if !ok || rec.LastSeen.IsZero() {
		return false
	}
	return now.Sub(rec.LastSeen) > m.cfg.StaleAfter
}
