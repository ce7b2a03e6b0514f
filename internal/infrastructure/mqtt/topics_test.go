package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "relayhub"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DeviceState", topics.DeviceState("dev1"), "relayhub/state/dev1"},
		{"DeviceCommand", topics.DeviceCommand("dev1"), "relayhub/command/dev1"},
		{"AllDeviceCommands", topics.AllDeviceCommands(), "relayhub/command/+"},
		{"DeviceAck", topics.DeviceAck("dev1"), "relayhub/ack/dev1"},
		{"SystemStatus", topics.SystemStatus(), "relayhub/system/status"},
		{"trailing slash", Topics{Prefix: "site/a/"}.DeviceState("x"), "site/a/state/x"},
		{"empty prefix", Topics{}.SystemStatus(), "system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_DeviceIDFromCommand(t *testing.T) {
	topics := Topics{Prefix: "relayhub"}

	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"relayhub/command/dev1", "dev1", true},
		{"relayhub/command/", "", false},
		{"relayhub/command/a/b", "", false},
		{"relayhub/state/dev1", "", false},
		{"other/command/dev1", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, ok := topics.DeviceIDFromCommand(tt.topic)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("DeviceIDFromCommand(%q) = %q, %v; want %q, %v", tt.topic, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
