package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/conn"
	"github.com/nerrad567/relayhub/internal/conn/conntest"
	"github.com/nerrad567/relayhub/internal/dashboard"
	"github.com/nerrad567/relayhub/internal/history"
	"github.com/nerrad567/relayhub/internal/infrastructure/config"
	"github.com/nerrad567/relayhub/internal/infrastructure/logging"
	"github.com/nerrad567/relayhub/internal/metrics"
	"github.com/nerrad567/relayhub/internal/session"
	"github.com/nerrad567/relayhub/internal/state"
)

// testHub bundles a server with the components behind it.
type testHub struct {
	srv        *Server
	store      *state.Store
	registry   *conn.Registry
	dashboards *dashboard.Hub
	metrics    *metrics.Metrics
}

type hubOption func(*Deps)

func withHistory(repo history.Repository) hubOption {
	return func(d *Deps) { d.History = repo }
}

func withNow(now func() time.Time) hubOption {
	return func(d *Deps) { d.Now = now }
}

// newTestHub wires the full relay stack the way main does, minus the
// optional integrations.
func newTestHub(t *testing.T, opts ...hubOption) *testHub {
	t.Helper()

	cfg := config.Default()
	log := logging.Discard()
	m := metrics.New()

	store := state.NewStore()
	registry := conn.NewRegistry()
	dashboards := dashboard.NewHub(store, m)

	var fanout state.Fanout
	fanout.Add(dashboards)

	sessions := session.NewHandler(session.Deps{
		Store:    store,
		Registry: registry,
		Observer: &fanout,
		Metrics:  m,
		Logger:   log,
	})

	deps := Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Liveness:   cfg.Liveness,
		Logger:     log,
		Store:      store,
		Registry:   registry,
		Sessions:   sessions,
		Dashboards: dashboards,
		Router:     command.NewRouter(registry, m),
		Metrics:    m,
		Version:    "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testHub{
		srv:        srv,
		store:      store,
		registry:   registry,
		dashboards: dashboards,
		metrics:    m,
	}
}

// do runs one request against the router and decodes a JSON object body.
func (h *testHub) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decoding %s %s response: %v (body %q)", method, path, err, w.Body.String())
		}
	}
	return w, out
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("New(Deps{}) error = nil, want missing logger")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Fatal("New without store error = nil")
	}
}

func TestRoot(t *testing.T) {
	h := newTestHub(t)
	w, body := h.do(t, http.MethodGet, "/", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body["ok"] != true || body["message"] != "relay hub running" {
		t.Errorf("body = %v", body)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHub(t)
	w, body := h.do(t, http.MethodGet, "/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
	if body["devices_connected"] != float64(0) || body["dashboards_connected"] != float64(0) {
		t.Errorf("connection counts = %v / %v, want 0 / 0", body["devices_connected"], body["dashboards_connected"])
	}
}

func TestRequestID_Generated(t *testing.T) {
	h := newTestHub(t)
	w, _ := h.do(t, http.MethodGet, "/health", "")

	if got := w.Header().Get("X-Request-ID"); len(got) != 2*requestIDBytes {
		t.Errorf("X-Request-ID = %q, want %d hex chars", got, 2*requestIDBytes)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	h := newTestHub(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-id-123")
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-id-123" {
		t.Errorf("X-Request-ID = %q, want client-id-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := newTestHub(t)
	req := httptest.NewRequest(http.MethodOptions, "/device/dev1/cmd", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://dashboard.local" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHub(t)
	h.do(t, http.MethodGet, "/health", "")

	w, _ := h.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `relayhub_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Errorf("metrics output missing /health request counter:\n%s", w.Body.String())
	}
}

func TestListDevices(t *testing.T) {
	h := newTestHub(t)
	now := time.Now()
	h.store.Merge("dev1", nil, now)
	h.store.Merge("dev2", nil, now)
	h.store.MarkOffline("dev2")
	h.registry.Register("dev1", conntest.New())

	w, body := h.do(t, http.MethodGet, "/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	tests := []struct {
		key  string
		want any
	}{
		{"online", []any{"dev1"}},
		{"devices", []any{"dev1"}},
		{"knownDevices", []any{"dev1", "dev2"}},
		{"count", float64(1)},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, _ := json.Marshal(body[tt.key])
			want, _ := json.Marshal(tt.want)
			if string(got) != string(want) {
				t.Errorf("%s = %s, want %s", tt.key, got, want)
			}
		})
	}
}

func TestState(t *testing.T) {
	h := newTestHub(t)
	h.store.Merge("dev1", state.Fields{"vol": float64(3)}, time.UnixMilli(1000))

	w, body := h.do(t, http.MethodGet, "/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	rec, ok := body["dev1"].(map[string]any)
	if !ok {
		t.Fatalf("state = %v, want dev1 record", body)
	}
	if rec["vol"] != float64(3) || rec["online"] != true || rec["lastUpdate"] != float64(1000) {
		t.Errorf("dev1 = %v", rec)
	}
}

func TestDeviceStatus(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	window := config.Default().Liveness.Window()

	tests := []struct {
		name          string
		elapsed       time.Duration
		offline       bool
		register      bool
		wantOnline    bool
		wantConnected bool
	}{
		{name: "fresh and connected", elapsed: time.Second, register: true, wantOnline: true, wantConnected: true},
		{name: "silent past window", elapsed: window + time.Second, register: true, wantOnline: false, wantConnected: true},
		{name: "marked offline", elapsed: time.Second, offline: true, wantOnline: false, wantConnected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHub(t, withNow(func() time.Time { return base.Add(tt.elapsed) }))
			h.store.Merge("dev1", state.Fields{"track": "a"}, base)
			if tt.offline {
				h.store.MarkOffline("dev1")
			}
			if tt.register {
				h.registry.Register("dev1", conntest.New())
			}

			w, body := h.do(t, http.MethodGet, "/device/dev1/status", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if body["online"] != tt.wantOnline {
				t.Errorf("online = %v, want %v", body["online"], tt.wantOnline)
			}
			if body["connected"] != tt.wantConnected {
				t.Errorf("connected = %v, want %v", body["connected"], tt.wantConnected)
			}
			if body["track"] != "a" {
				t.Errorf("track = %v, want a", body["track"])
			}
		})
	}
}

func TestDeviceStatus_NotFound(t *testing.T) {
	h := newTestHub(t)
	w, body := h.do(t, http.MethodGet, "/device/ghost/status", "")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if body["code"] != ErrCodeNotFound {
		t.Errorf("code = %v, want %s", body["code"], ErrCodeNotFound)
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		body      string
		register  bool
		failSend  bool
		wantCode  int
		wantOK    bool
		wantError string
	}{
		{name: "accepted", path: "/device/dev1/cmd", body: `{"play":true}`, register: true, wantCode: 200, wantOK: true},
		{name: "send alias", path: "/send/dev1", body: `{"play":true}`, register: true, wantCode: 200, wantOK: true},
		{name: "empty body", path: "/device/dev1/cmd", register: true, wantCode: 200, wantOK: true},
		{name: "offline", path: "/device/dev1/cmd", body: `{"play":true}`, wantCode: 200, wantError: "device offline"},
		{name: "alias offline", path: "/send/dev1", body: `{}`, wantCode: 200, wantError: "device offline"},
		{name: "send failed", path: "/device/dev1/cmd", body: `{"play":true}`, register: true, failSend: true, wantCode: 200, wantError: "send failed"},
		{name: "invalid json", path: "/device/dev1/cmd", body: `{"play":`, register: true, wantCode: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHub(t)
			ch := conntest.New()
			if tt.failSend {
				ch.FailSends(conn.ErrBufferFull)
			}
			if tt.register {
				h.registry.Register("dev1", ch)
			}

			w, body := h.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if body["ok"] != tt.wantOK {
				t.Errorf("ok = %v, want %v", body["ok"], tt.wantOK)
			}
			if tt.wantError != "" && body["error"] != tt.wantError {
				t.Errorf("error = %v, want %q", body["error"], tt.wantError)
			}
			if tt.wantOK {
				if id, _ := body["id"].(string); id == "" {
					t.Error("accepted command has no id")
				}
				if n := len(ch.Frames()); n != 1 {
					t.Errorf("device received %d frames, want 1", n)
				}
			}
		})
	}
}

func TestCommand_EnvelopeOnWire(t *testing.T) {
	h := newTestHub(t)
	ch := conntest.New()
	h.registry.Register("dev1", ch)

	h.do(t, http.MethodPost, "/device/dev1/cmd", `{"seek":42}`)

	var env struct {
		Type string         `json:"type"`
		Cmd  map[string]any `json:"cmd"`
	}
	if !ch.Last(&env) {
		t.Fatal("device received nothing")
	}
	if env.Type != "cmd" || env.Cmd["seek"] != float64(42) {
		t.Errorf("envelope = %+v, want type cmd with seek 42", env)
	}
}

// fakeHistory is an in-memory history.Repository.
type fakeHistory struct {
	mu        sync.Mutex
	entries   []history.Entry
	lastLimit int
}

func (f *fakeHistory) Record(context.Context, state.Change) error { return nil }

func (f *fakeHistory) GetHistory(_ context.Context, deviceID string, limit int) ([]history.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit

	var out []history.Entry
	for _, e := range f.entries {
		if e.DeviceID == deviceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeHistory) Prune(context.Context, time.Duration) (int64, error) { return 0, nil }

func TestDeviceHistory(t *testing.T) {
	repo := &fakeHistory{entries: []history.Entry{
		{ID: 2, DeviceID: "dev1", State: map[string]any{"vol": float64(4)}, Source: history.SourceDevice},
		{ID: 1, DeviceID: "dev1", State: map[string]any{"vol": float64(3)}, Source: history.SourceDevice},
		{ID: 3, DeviceID: "dev2", Source: history.SourceDevice},
	}}
	h := newTestHub(t, withHistory(repo))

	w, body := h.do(t, http.MethodGet, "/device/dev1/history?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}
	if body["device_id"] != "dev1" {
		t.Errorf("device_id = %v, want dev1", body["device_id"])
	}
	if repo.lastLimit != 10 {
		t.Errorf("limit passed = %d, want 10", repo.lastLimit)
	}
}

func TestDeviceHistory_Errors(t *testing.T) {
	tests := []struct {
		name     string
		withRepo bool
		path     string
		wantCode int
	}{
		{name: "disabled", path: "/device/dev1/history", wantCode: http.StatusNotFound},
		{name: "bad limit", withRepo: true, path: "/device/dev1/history?limit=abc", wantCode: http.StatusBadRequest},
		{name: "negative limit", withRepo: true, path: "/device/dev1/history?limit=-1", wantCode: http.StatusBadRequest},
		{name: "unknown device is empty", withRepo: true, path: "/device/ghost/history", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []hubOption
			if tt.withRepo {
				opts = append(opts, withHistory(&fakeHistory{}))
			}
			h := newTestHub(t, opts...)

			w, _ := h.do(t, http.MethodGet, tt.path, "")
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestStartAndClose(t *testing.T) {
	h := newTestHub(t)
	h.srv.cfg.Host = "127.0.0.1"
	h.srv.cfg.Port = 0

	if err := h.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start = nil, want error")
	}
	if err := h.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck after Start: %v", err)
	}

	resp, err := http.Get("http://" + h.srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := h.srv.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestJoinOrDefault(t *testing.T) {
	if got := joinOrDefault(nil, "GET"); got != "GET" {
		t.Errorf("joinOrDefault(nil) = %q, want GET", got)
	}
	if got := joinOrDefault([]string{"GET", "POST"}, "x"); got != "GET, POST" {
		t.Errorf("joinOrDefault = %q, want %q", got, "GET, POST")
	}
}
