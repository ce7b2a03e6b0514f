package conn

// Channel is an outbound handle on one transport connection.
//
// Send and Ping never block the caller on the network: either the frame is
// queued for the connection's writer or an error is returned. Once IsOpen
// reports false it never reports true again.
type Channel interface {
	// ID is unique for the lifetime of the process.
	ID() string

	// RemoteAddr is the peer address, used for logging only.
	RemoteAddr() string

	// Send queues a text frame. It returns ErrChannelClosed or ErrBufferFull
	// instead of panicking or blocking.
	Send(data []byte) error

	// Ping sends a transport-level keepalive probe.
	Ping() error

	// IsOpen reports whether the channel can still deliver frames.
	IsOpen() bool

	// Close tears the connection down. It is safe to call more than once.
	Close() error
}
