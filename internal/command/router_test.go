package command

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/relayhub/internal/conn"
	"github.com/nerrad567/relayhub/internal/conn/conntest"
)

func TestRouter_RouteAccepted(t *testing.T) {
	reg := conn.NewRegistry()
	ch := conntest.New()
	reg.Register("dev1", ch)
	r := NewRouter(reg, nil)

	acc, err := r.Route("dev1", json.RawMessage(`{"action":"play","volume":3}`), OriginHTTP)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if acc.ID == "" || acc.DeviceID != "dev1" {
		t.Errorf("Accepted = %+v", acc)
	}

	var env struct {
		Type string         `json:"type"`
		Cmd  map[string]any `json:"cmd"`
	}
	if !ch.Last(&env) {
		t.Fatal("device received no frame")
	}
	if env.Type != "cmd" || env.Cmd["action"] != "play" || env.Cmd["volume"] != float64(3) {
		t.Errorf("envelope = %+v", env)
	}
}

func TestRouter_RouteNonObjectCommand(t *testing.T) {
	reg := conn.NewRegistry()
	ch := conntest.New()
	reg.Register("dev1", ch)
	r := NewRouter(reg, nil)

	if _, err := r.Route("dev1", json.RawMessage(`"reboot"`), OriginHTTP); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	frames := ch.Frames()
	if got := string(frames[len(frames)-1]); got != `{"type":"cmd","cmd":"reboot"}` {
		t.Errorf("frame = %s", got)
	}
}

func TestRouter_RouteErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(reg *conn.Registry) *conntest.Channel
		cmd     string
		wantErr error
	}{
		{
			name:    "unknown device",
			setup:   func(*conn.Registry) *conntest.Channel { return nil },
			cmd:     `{}`,
			wantErr: ErrDeviceOffline,
		},
		{
			name: "closed channel",
			setup: func(reg *conn.Registry) *conntest.Channel {
				ch := conntest.New()
				reg.Register("dev1", ch)
				ch.Close()
				return ch
			},
			cmd:     `{}`,
			wantErr: ErrDeviceOffline,
		},
		{
			name: "transport rejects write",
			setup: func(reg *conn.Registry) *conntest.Channel {
				ch := conntest.New()
				reg.Register("dev1", ch)
				ch.FailSends(conn.ErrBufferFull)
				return ch
			},
			cmd:     `{}`,
			wantErr: ErrSendFailed,
		},
		{
			name: "invalid JSON",
			setup: func(reg *conn.Registry) *conntest.Channel {
				ch := conntest.New()
				reg.Register("dev1", ch)
				return ch
			},
			cmd:     `{nope`,
			wantErr: ErrInvalidCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := conn.NewRegistry()
			ch := tt.setup(reg)
			r := NewRouter(reg, nil)

			_, err := r.Route("dev1", json.RawMessage(tt.cmd), OriginHTTP)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Route() error = %v, want %v", err, tt.wantErr)
			}
			if ch != nil && len(ch.Frames()) != 0 {
				t.Error("a failed route delivered a frame")
			}
		})
	}
}

func TestRouter_ReplacedChannelGetsNothing(t *testing.T) {
	reg := conn.NewRegistry()
	oldCh, newCh := conntest.New(), conntest.New()
	reg.Register("dev1", oldCh)
	reg.Register("dev1", newCh)
	r := NewRouter(reg, nil)

	if _, err := r.Route("dev1", json.RawMessage(`{"a":1}`), OriginHTTP); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(oldCh.Frames()) != 0 {
		t.Error("replaced channel received a routed command")
	}
	if len(newCh.Frames()) != 1 {
		t.Error("current channel did not receive the command")
	}
}
