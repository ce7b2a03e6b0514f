// Package command routes externally submitted commands to a device's live
// connection.
//
// Delivery is fire-and-forget. Route returns as soon as the envelope has been
// queued on the device's channel; nothing waits for the device to act on it.
package command

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/relayhub/internal/conn"
	"github.com/nerrad567/relayhub/internal/metrics"
)

// MessageTypeCommand is the envelope type of a routed command.
const MessageTypeCommand = "cmd"

// Origins label where a command entered the hub.
const (
	OriginHTTP = "http"
	OriginMQTT = "mqtt"
)

// Envelope is the frame written to the device.
type Envelope struct {
	Type string          `json:"type"`
	Cmd  json.RawMessage `json:"cmd"`
}

// Accepted describes a command that was queued for delivery.
type Accepted struct {
	ID       string          `json:"id"`
	DeviceID string          `json:"device_id"`
	Cmd      json.RawMessage `json:"cmd"`
}

// Logger is the logging interface used by the router.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Router forwards commands through the connection registry.
type Router struct {
	registry *conn.Registry
	metrics  *metrics.Metrics
	logger   Logger
}

// NewRouter creates a router over registry.
func NewRouter(registry *conn.Registry, m *metrics.Metrics) *Router {
	return &Router{
		registry: registry,
		metrics:  m,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// Route sends cmd to deviceID wrapped in a {"type":"cmd"} envelope.
//
// It returns ErrDeviceOffline without sending anything if the device has no
// open channel, and ErrSendFailed if the channel rejected the frame.
func (r *Router) Route(deviceID string, cmd json.RawMessage, origin string) (Accepted, error) {
	if len(cmd) == 0 || !json.Valid(cmd) {
		return Accepted{}, ErrInvalidCommand
	}

	ch, ok := r.registry.LookupOpen(deviceID)
	if !ok {
		r.metrics.Command(metrics.CommandOffline, origin)
		r.logger.Debug("command target offline", "device_id", deviceID, "origin", origin)
		return Accepted{}, ErrDeviceOffline
	}

	data, err := json.Marshal(Envelope{Type: MessageTypeCommand, Cmd: cmd})
	if err != nil {
		return Accepted{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	if err := ch.Send(data); err != nil {
		r.metrics.Command(metrics.CommandSendFailed, origin)
		r.logger.Warn("command send failed",
			"device_id", deviceID,
			"channel", ch.ID(),
			"origin", origin,
			"error", err,
		)
		return Accepted{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	accepted := Accepted{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		Cmd:      cmd,
	}
	r.metrics.Command(metrics.CommandAccepted, origin)
	r.logger.Debug("command routed",
		"command_id", accepted.ID,
		"device_id", deviceID,
		"origin", origin,
	)
	return accepted, nil
}
