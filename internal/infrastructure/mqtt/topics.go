package mqtt

import "strings"

// Topics builds topic names under a common prefix.
type Topics struct {
	Prefix string
}

// DeviceState is where a device's record is published, retained.
func (t Topics) DeviceState(deviceID string) string {
	return t.join("state", deviceID)
}

// DeviceCommand is where external systems publish commands for a device.
func (t Topics) DeviceCommand(deviceID string) string {
	return t.join("command", deviceID)
}

// AllDeviceCommands matches every DeviceCommand topic.
func (t Topics) AllDeviceCommands() string {
	return t.join("command", "+")
}

// DeviceAck is where the routing result of a command is published.
func (t Topics) DeviceAck(deviceID string) string {
	return t.join("ack", deviceID)
}

// SystemStatus carries the hub's own online/offline status.
func (t Topics) SystemStatus() string {
	return t.join("system", "status")
}

// DeviceIDFromCommand extracts the device ID from a DeviceCommand topic.
// It reports false for any other topic.
func (t Topics) DeviceIDFromCommand(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.join("command")+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func (t Topics) join(parts ...string) string {
	prefix := strings.TrimSuffix(t.Prefix, "/")
	if prefix == "" {
		return strings.Join(parts, "/")
	}
	return prefix + "/" + strings.Join(parts, "/")
}
