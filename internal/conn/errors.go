package conn

import "errors"

// Domain errors for channel delivery.
var (
	// ErrChannelClosed is returned by Send or Ping after the channel has closed.
	ErrChannelClosed = errors.New("conn: channel closed")

	// ErrBufferFull is returned by Send when the outbound buffer cannot take
	// another frame without blocking.
	ErrBufferFull = errors.New("conn: send buffer full")
)
