package liveness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/relayhub/internal/conn"
	"github.com/nerrad567/relayhub/internal/conn/conntest"
	"github.com/nerrad567/relayhub/internal/state"
)

func TestMonitor_SweepProbesOpenChannels(t *testing.T) {
	reg := conn.NewRegistry()
	a, b, closed := conntest.New(), conntest.New(), conntest.New()
	closed.Close()
	reg.Register("a", a)
	reg.Register("b", b)
	reg.Register("c", closed)

	m := NewMonitor(Config{Interval: time.Second}, reg, nil, nil)
	res := m.Sweep()

	if res.Probed != 2 || res.Failed != 0 {
		t.Errorf("Sweep() = %+v, want 2 probed", res)
	}
	if a.Pings() != 1 || b.Pings() != 1 {
		t.Errorf("pings = %d/%d, want 1 each", a.Pings(), b.Pings())
	}
	if len(a.Frames()) != 0 {
		t.Error("probe sent a data frame")
	}
}

func TestMonitor_SweepClosesOnProbeFailure(t *testing.T) {
	reg := conn.NewRegistry()
	ch := conntest.New()
	ch.FailPings(errors.New("write: broken pipe"))
	reg.Register("dev1", ch)

	m := NewMonitor(Config{Interval: time.Second}, reg, nil, nil)
	res := m.Sweep()

	if res.Failed != 1 {
		t.Errorf("Sweep() = %+v, want 1 failed", res)
	}
	if ch.IsOpen() {
		t.Error("channel left open after failed probe")
	}
}

func TestMonitor_SweepDoesNotTouchState(t *testing.T) {
	reg := conn.NewRegistry()
	store := state.NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.Merge("dev1", state.Fields{"volume": float64(1)}, now)
	reg.Register("dev1", conntest.New())

	m := NewMonitor(Config{Interval: time.Second}, reg, store, nil)
	m.now = func() time.Time { return now.Add(time.Hour) }
	m.Sweep()

	rec, _ := store.Get("dev1")
	if !rec.Online {
		t.Error("monitor marked the device offline")
	}
}

func TestMonitor_SweepClosesStale(t *testing.T) {
	reg := conn.NewRegistry()
	store := state.NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh, stale := conntest.New(), conntest.New()

	store.Merge("fresh", nil, now.Add(-5*time.Second))
	store.Merge("stale", nil, now.Add(-time.Minute))
	reg.Register("fresh", fresh)
	reg.Register("stale", stale)

	m := NewMonitor(Config{Interval: time.Second, StaleAfter: 30 * time.Second}, reg, store, nil)
	m.now = func() time.Time { return now }
	res := m.Sweep()

	if res.Stale != 1 || res.Probed != 1 {
		t.Errorf("Sweep() = %+v, want 1 stale and 1 probed", res)
	}
	if stale.IsOpen() {
		t.Error("stale channel left open")
	}
	if !fresh.IsOpen() || fresh.Pings() != 1 {
		t.Error("fresh channel not probed")
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	reg := conn.NewRegistry()
	ch := conntest.New()
	reg.Register("dev1", ch)

	m := NewMonitor(Config{Interval: 10 * time.Millisecond}, reg, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for ch.Pings() == 0 {
		select {
		case <-deadline:
			t.Fatal("no probe sent within 2s")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
