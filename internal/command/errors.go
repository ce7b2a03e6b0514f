package command

import "errors"

// Domain errors for command routing. Neither is fatal; both are reported to
// the caller as {ok:false}.
var (
	// ErrDeviceOffline is returned when the target has no open channel.
	ErrDeviceOffline = errors.New("device offline")

	// ErrSendFailed is returned when the transport rejected the write.
	ErrSendFailed = errors.New("send failed")

	// ErrInvalidCommand is returned when the command body is not valid JSON.
	ErrInvalidCommand = errors.New("invalid command")
)
