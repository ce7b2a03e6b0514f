// Package mqttbridge mirrors device state onto an MQTT broker and accepts
// commands from it.
//
// Each change publishes the device's full record, retained, to
// <prefix>/state/<id>. Payloads published to <prefix>/command/<id> are routed
// exactly like HTTP commands, and the outcome is published to
// <prefix>/ack/<id>.
package mqttbridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/infrastructure/mqtt"
	"github.com/nerrad567/relayhub/internal/state"
)

// Broker is the subset of the MQTT client the bridge uses.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Router routes a command to a device.
type Router interface {
	Route(deviceID string, cmd json.RawMessage, origin string) (command.Accepted, error)
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Ack is published after every command received from the broker.
type Ack struct {
	OK        bool   `json:"ok"`
	CommandID string `json:"command_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Bridge connects the state fan-out and the command router to a broker.
type Bridge struct {
	broker Broker
	router Router
	topics mqtt.Topics
	qos    byte
	logger Logger
}

// New creates a bridge. Call Start to subscribe to command topics.
func New(broker Broker, router Router, topics mqtt.Topics, qos byte, logger Logger) *Bridge {
	return &Bridge{
		broker: broker,
		router: router,
		topics: topics,
		qos:    qos,
		logger: logger,
	}
}

// Start subscribes to every device command topic.
func (b *Bridge) Start() error {
	if err := b.broker.Subscribe(b.topics.AllDeviceCommands(), b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	return nil
}

// OnChange implements state.Observer. It blocks on the broker and must be
// wrapped in a state.Queue.
func (b *Bridge) OnChange(c state.Change) {
	payload, err := json.Marshal(c.Record)
	if err != nil {
		b.logger.Warn("failed to marshal device record", "device_id", c.DeviceID, "error", err)
		return
	}
	if err := b.broker.Publish(b.topics.DeviceState(c.DeviceID), payload, b.qos, true); err != nil {
		b.logger.Warn("mqtt state publish failed", "device_id", c.DeviceID, "error", err)
	}
}

// handleCommand routes one command message and publishes the ack.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID, ok := b.topics.DeviceIDFromCommand(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}
	if !json.Valid(payload) {
		b.logger.Warn("dropping non-JSON mqtt command", "device_id", deviceID, "topic", topic)
		return nil
	}

	accepted, err := b.router.Route(deviceID, json.RawMessage(payload), command.OriginMQTT)
	ack := Ack{OK: err == nil, CommandID: accepted.ID}
	if err != nil {
		ack.Error = ackError(err)
	}
	b.logger.Debug("mqtt command routed", "device_id", deviceID, "ok", ack.OK, "error", ack.Error)

	data, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("marshalling ack: %w", err)
	}
	return b.broker.Publish(b.topics.DeviceAck(deviceID), data, b.qos, false)
}

// ackError maps routing errors to the same strings the HTTP API uses.
func ackError(err error) string {
	switch {
	case errors.Is(err, command.ErrDeviceOffline):
		return command.ErrDeviceOffline.Error()
	case errors.Is(err, command.ErrSendFailed):
		return command.ErrSendFailed.Error()
	case errors.Is(err, command.ErrInvalidCommand):
		return command.ErrInvalidCommand.Error()
	default:
		return err.Error()
	}
}
