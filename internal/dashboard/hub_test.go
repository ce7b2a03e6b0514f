package dashboard

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/relayhub/internal/conn"
	"github.com/nerrad567/relayhub/internal/conn/conntest"
	"github.com/nerrad567/relayhub/internal/state"
)

type frame struct {
	Type    string                    `json:"type"`
	Devices map[string]map[string]any `json:"devices"`
}

func lastFrame(t *testing.T, ch *conntest.Channel) frame {
	t.Helper()
	var f frame
	if !ch.Last(&f) {
		t.Fatal("channel received no frame")
	}
	return f
}

var ts = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHub_JoinSendsCurrentSnapshot(t *testing.T) {
	store := state.NewStore()
	store.Merge("dev1", state.Fields{"volume": float64(5)}, ts)
	hub := NewHub(store, nil)
	ch := conntest.New()

	if err := hub.Join(ch); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	f := lastFrame(t, ch)
	if f.Type != MessageTypeDevices {
		t.Errorf("type = %q, want %q", f.Type, MessageTypeDevices)
	}
	dev := f.Devices["dev1"]
	if dev["volume"] != float64(5) || dev["online"] != true {
		t.Errorf("dev1 = %v", dev)
	}
	if dev["lastUpdate"] != float64(ts.UnixMilli()) {
		t.Errorf("lastUpdate = %v, want %d", dev["lastUpdate"], ts.UnixMilli())
	}
	if hub.Count() != 1 {
		t.Errorf("Count() = %d, want 1", hub.Count())
	}
}

func TestHub_JoinEmptyStore(t *testing.T) {
	hub := NewHub(state.NewStore(), nil)
	ch := conntest.New()
	hub.Join(ch)

	var raw map[string]json.RawMessage
	if !ch.Last(&raw) {
		t.Fatal("no frame")
	}
	if string(raw["devices"]) != "{}" {
		t.Errorf("devices = %s, want {}", raw["devices"])
	}
}

func TestHub_JoinClosedChannel(t *testing.T) {
	hub := NewHub(state.NewStore(), nil)
	ch := conntest.New()
	ch.Close()

	if err := hub.Join(ch); !errors.Is(err, conn.ErrChannelClosed) {
		t.Errorf("Join() error = %v, want ErrChannelClosed", err)
	}
	if hub.Count() != 0 {
		t.Error("closed channel added to the set")
	}
}

func TestHub_BroadcastIdenticalPayload(t *testing.T) {
	store := state.NewStore()
	hub := NewHub(store, nil)
	a, b := conntest.New(), conntest.New()
	hub.Join(a)
	hub.Join(b)

	store.Merge("dev1", state.Fields{"status": "play"}, ts)
	if sent := hub.Broadcast(); sent != 2 {
		t.Errorf("Broadcast() sent = %d, want 2", sent)
	}

	fa, fb := a.Frames(), b.Frames()
	if len(fa) != 2 || len(fb) != 2 {
		t.Fatalf("frames = %d/%d, want 2 each", len(fa), len(fb))
	}
	if string(fa[1]) != string(fb[1]) {
		t.Error("dashboards received different payloads for one broadcast")
	}
	if f := lastFrame(t, a); f.Devices["dev1"]["status"] != "play" {
		t.Errorf("dev1 = %v", f.Devices["dev1"])
	}
}

func TestHub_BroadcastPrunesClosed(t *testing.T) {
	hub := NewHub(state.NewStore(), nil)
	open, closedBefore, closedOnSend := conntest.New(), conntest.New(), conntest.New()
	hub.Join(open)
	hub.Join(closedBefore)
	hub.Join(closedOnSend)

	closedBefore.Close()
	closedOnSend.FailSends(conn.ErrChannelClosed)

	if sent := hub.Broadcast(); sent != 1 {
		t.Errorf("Broadcast() sent = %d, want 1", sent)
	}
	if hub.Count() != 1 {
		t.Errorf("Count() = %d after prune, want 1", hub.Count())
	}
}

func TestHub_BroadcastKeepsSlowDashboard(t *testing.T) {
	hub := NewHub(state.NewStore(), nil)
	slow := conntest.New()
	hub.Join(slow)
	slow.FailSends(conn.ErrBufferFull)

	if sent := hub.Broadcast(); sent != 0 {
		t.Errorf("Broadcast() sent = %d, want 0", sent)
	}
	if hub.Count() != 1 {
		t.Error("slow dashboard was pruned")
	}
}

func TestHub_Leave(t *testing.T) {
	hub := NewHub(state.NewStore(), nil)
	ch := conntest.New()
	hub.Join(ch)

	hub.Leave(ch)
	hub.Leave(ch)

	if hub.Count() != 0 {
		t.Errorf("Count() = %d, want 0", hub.Count())
	}
	if sent := hub.Broadcast(); sent != 0 {
		t.Errorf("Broadcast() after leave sent = %d", sent)
	}
}

func TestHub_OnChangeBroadcasts(t *testing.T) {
	store := state.NewStore()
	hub := NewHub(store, nil)
	ch := conntest.New()
	hub.Join(ch)

	var obs state.Observer = hub
	rec := store.Merge("dev1", state.Fields{"volume": float64(2)}, ts)
	obs.OnChange(state.Change{DeviceID: "dev1", Kind: state.ChangeUpdate, Record: rec})

	if len(ch.Frames()) != 2 {
		t.Fatalf("frames = %d, want join + change", len(ch.Frames()))
	}
}

func TestHub_CloseAll(t *testing.T) {
	hub := NewHub(state.NewStore(), nil)
	a, b := conntest.New(), conntest.New()
	hub.Join(a)
	hub.Join(b)

	hub.CloseAll()

	if hub.Count() != 0 || a.IsOpen() || b.IsOpen() {
		t.Error("CloseAll() left members open")
	}
}
