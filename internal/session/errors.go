package session

import "errors"

// Domain errors for inbound device messages. Both are non-fatal: the message
// is dropped and the connection stays open.
var (
	// ErrMalformedMessage is returned when a frame is not a JSON object.
	ErrMalformedMessage = errors.New("session: malformed message")

	// ErrUnidentifiedSender is returned when a frame arrives before the device
	// has identified itself and carries no usable deviceId.
	ErrUnidentifiedSender = errors.New("session: unidentified sender")
)
