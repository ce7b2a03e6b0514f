package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/relayhub/internal/conn"
	"github.com/nerrad567/relayhub/internal/metrics"
	"github.com/nerrad567/relayhub/internal/state"
)

// Handshake keys.
const (
	keyDeviceID = "deviceId"
	keyPayload  = "payload"
)

// State is the lifecycle state of a device session.
type State int

const (
	// Unidentified is the state of a fresh connection with no device ID.
	Unidentified State = iota

	// Identified means the connection is registered under a device ID.
	Identified

	// Closed is entered once HandleClose has run.
	Closed
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case Unidentified:
		return "unidentified"
	case Identified:
		return "identified"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Logger is the logging interface used by the handler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps holds the collaborators shared by every session.
type Deps struct {
	Store    *state.Store
	Registry *conn.Registry
	Observer state.Observer // notified after every merge and disconnect
	Metrics  *metrics.Metrics
	Logger   Logger
	Now      func() time.Time // defaults to time.Now
}

// Handler opens sessions against a shared store and registry.
type Handler struct {
	store    *state.Store
	registry *conn.Registry
	observer state.Observer
	metrics  *metrics.Metrics
	logger   Logger
	now      func() time.Time

	// bindMu serializes binding and unbinding a channel to a device ID, so
	// the ownership check and the online flag change together.
	bindMu sync.Mutex
}

// NewHandler creates a session handler. Store and Registry are required.
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		store:    deps.Store,
		registry: deps.Registry,
		observer: deps.Observer,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if h.observer == nil {
		h.observer = state.ObserverFunc(func(state.Change) {})
	}
	if h.logger == nil {
		h.logger = noopLogger{}
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Session is the protocol state of one device connection.
type Session struct {
	h        *Handler
	id       string
	ch       conn.Channel
	deviceID string
	state    State
}

// Open starts a session for ch. A non-empty deviceID identifies the device
// immediately, as when the ID was passed on the upgrade request.
func (h *Handler) Open(ch conn.Channel, deviceID string) *Session {
	s := &Session{
		h:     h,
		id:    uuid.NewString(),
		ch:    ch,
		state: Unidentified,
	}

	h.logger.Debug("device connection accepted",
		"session_id", s.id,
		"remote_addr", ch.RemoteAddr(),
	)

	if deviceID != "" {
		s.identify(deviceID, nil)
	}
	return s
}

// ID returns the session's unique ID.
func (s *Session) ID() string { return s.id }

// DeviceID returns the bound device ID, or "" while unidentified.
func (s *Session) DeviceID() string { return s.deviceID }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// HandleMessage processes one inbound text frame.
//
// The returned error is informational; the frame has already been dropped and
// logged. It wraps ErrMalformedMessage or ErrUnidentifiedSender.
func (s *Session) HandleMessage(data []byte) error {
	if s.state == Closed {
		return nil
	}

	fields, err := decodeObject(data)
	if err != nil {
		s.h.metrics.DeviceMessage(metrics.MessageMalformed)
		s.h.logger.Warn("dropping malformed device message",
			"session_id", s.id,
			"device_id", s.deviceID,
			"remote_addr", s.ch.RemoteAddr(),
			"error", err,
		)
		return err
	}

	if s.state == Unidentified {
		deviceID, ok := fields[keyDeviceID].(string)
		if !ok || deviceID == "" {
			s.h.metrics.DeviceMessage(metrics.MessageUnidentified)
			s.h.logger.Warn("dropping message from unidentified device",
				"session_id", s.id,
				"remote_addr", s.ch.RemoteAddr(),
			)
			return fmt.Errorf("%w: first message has no %s", ErrUnidentifiedSender, keyDeviceID)
		}
		s.identify(deviceID, handshakeFields(fields))
		s.h.metrics.DeviceMessage(metrics.MessageMerged)
		return nil
	}

	s.merge(fields)
	s.h.metrics.DeviceMessage(metrics.MessageMerged)
	return nil
}

// HandlePong records a keepalive reply. It refreshes lastSeen only.
func (s *Session) HandlePong() {
	if s.state != Identified {
		return
	}
	s.h.store.Touch(s.deviceID, s.h.now())
}

// HandleError logs a transport error and closes the session.
func (s *Session) HandleError(err error) {
	s.h.logger.Warn("device connection error",
		"session_id", s.id,
		"device_id", s.deviceID,
		"remote_addr", s.ch.RemoteAddr(),
		"error", err,
	)
	s.HandleClose()
}

// HandleClose ends the session. If the connection still owns its device's
// registration, the record is marked offline and the change is published.
// A connection that was replaced by a newer one for the same ID leaves the
// record alone. Calling HandleClose more than once has no further effect.
func (s *Session) HandleClose() {
	if s.state == Closed {
		return
	}
	wasIdentified := s.state == Identified
	s.state = Closed

	if !wasIdentified {
		s.h.logger.Debug("unidentified device connection closed",
			"session_id", s.id,
			"remote_addr", s.ch.RemoteAddr(),
		)
		return
	}

	s.h.bindMu.Lock()
	defer s.h.bindMu.Unlock()

	if !s.h.registry.Unregister(s.deviceID, s.ch) {
		s.h.logger.Debug("replaced device connection closed",
			"session_id", s.id,
			"device_id", s.deviceID,
		)
		return
	}
	s.h.metrics.SetDevicesConnected(s.h.registry.Len())

	rec, ok := s.h.store.MarkOffline(s.deviceID)
	if !ok {
		return
	}

	s.h.logger.Info("device disconnected",
		"session_id", s.id,
		"device_id", s.deviceID,
		"remote_addr", s.ch.RemoteAddr(),
	)
	s.h.observer.OnChange(state.Change{
		DeviceID: s.deviceID,
		Kind:     state.ChangeOffline,
		Record:   rec,
		At:       s.h.now(),
	})
}

// identify binds the session to deviceID, registers the channel and merges
// any handshake fields. A replaced channel is closed after the binding is
// published.
func (s *Session) identify(deviceID string, fields state.Fields) {
	s.deviceID = deviceID
	s.state = Identified

	previous := s.bind(fields)
	if previous == nil {
		return
	}

	s.h.logger.Info("device re-registered, closing previous connection",
		"session_id", s.id,
		"device_id", deviceID,
		"previous_channel", previous.ID(),
	)
	//nolint:errcheck // Best-effort close of the orphaned connection
	previous.Close()
}

// bind registers the channel and merges fields as one step with respect to
// HandleClose. It returns the channel it replaced, if any.
func (s *Session) bind(fields state.Fields) conn.Channel {
	s.h.bindMu.Lock()
	defer s.h.bindMu.Unlock()

	previous := s.h.registry.Register(s.deviceID, s.ch)
	s.h.metrics.SetDevicesConnected(s.h.registry.Len())

	s.h.logger.Info("device identified",
		"session_id", s.id,
		"device_id", s.deviceID,
		"remote_addr", s.ch.RemoteAddr(),
	)
	s.merge(fields)
	return previous
}

// merge writes fields into the store and publishes the change.
func (s *Session) merge(fields state.Fields) {
	now := s.h.now()
	delta := fields.Reported()
	rec := s.h.store.Merge(s.deviceID, delta, now)

	s.h.observer.OnChange(state.Change{
		DeviceID: s.deviceID,
		Kind:     state.ChangeUpdate,
		Delta:    delta,
		Record:   rec,
		At:       now,
	})
}

// decodeObject parses a frame that must be a JSON object.
func decodeObject(data []byte) (state.Fields, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedMessage)
	}

	var fields state.Fields
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return fields, nil
}

// handshakeFields extracts the state carried by an identifying message: every
// top-level key except deviceId, with a "payload" object flattened in.
func handshakeFields(msg state.Fields) state.Fields {
	out := make(state.Fields, len(msg))
	for k, v := range msg {
		if k == keyDeviceID || k == keyPayload {
			continue
		}
		out[k] = v
	}

	switch payload := msg[keyPayload].(type) {
	case map[string]any:
		for k, v := range payload {
			out[k] = v
		}
	case nil:
	default:
		out[keyPayload] = payload
	}
	return out
}
