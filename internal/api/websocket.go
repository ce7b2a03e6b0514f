package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/relayhub/internal/conn"
	"github.com/nerrad567/relayhub/internal/infrastructure/logging"
	"github.com/nerrad567/relayhub/internal/session"
)

// Roles accepted by the generic /ws endpoint.
const (
	roleDevice    = "device"
	roleDashboard = "dashboard"
)

// closeGracePeriod bounds the close frame write on shutdown.
const closeGracePeriod = time.Second

// wsChannel adapts a gorilla connection to conn.Channel.
//
// Every data frame and ping goes through a buffered queue drained by
// writePump, so Send and Ping never block the caller. Close may be called
// from any goroutine and never calls back into the hub or the registry.
type wsChannel struct {
	id           string
	conn         *websocket.Conn
	remoteAddr   string
	writeTimeout time.Duration
	keepalive    time.Duration // self-driven ping period; zero when the liveness monitor pings
	logger       *logging.Logger

	send chan []byte
	ping chan struct{}
	done chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

func newWSChannel(c *websocket.Conn, buffer int, writeTimeout, keepalive time.Duration, logger *logging.Logger) *wsChannel {
	return &wsChannel{
		id:           uuid.NewString(),
		conn:         c,
		remoteAddr:   c.RemoteAddr().String(),
		writeTimeout: writeTimeout,
		keepalive:    keepalive,
		logger:       logger,
		send:         make(chan []byte, buffer),
		ping:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// ID implements conn.Channel.
func (c *wsChannel) ID() string { return c.id }

// RemoteAddr implements conn.Channel.
func (c *wsChannel) RemoteAddr() string { return c.remoteAddr }

// IsOpen implements conn.Channel.
func (c *wsChannel) IsOpen() bool { return !c.closed.Load() }

// Send queues a text frame. It fails with conn.ErrBufferFull when the peer
// is not keeping up.
func (c *wsChannel) Send(data []byte) error {
	if c.closed.Load() {
		return conn.ErrChannelClosed
	}
	select {
	case <-c.done:
		return conn.ErrChannelClosed
	case c.send <- data:
		return nil
	default:
		return conn.ErrBufferFull
	}
}

// Ping queues a ping control frame. A ping already pending counts as sent.
func (c *wsChannel) Ping() error {
	if c.closed.Load() {
		return conn.ErrChannelClosed
	}
	select {
	case c.ping <- struct{}{}:
	default:
	}
	return nil
}

// Close sends a close frame and tears down the connection. The read loop
// sees the resulting error and runs the session or hub cleanup.
func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		//nolint:errcheck // Best-effort close frame; the peer may already be gone
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		err = c.conn.Close()
	})
	return err
}

// writePump is the only writer of data frames on the connection.
func (c *wsChannel) writePump() {
	var tick <-chan time.Time
	if c.keepalive > 0 {
		ticker := time.NewTicker(c.keepalive)
		defer ticker.Stop()
		tick = ticker.C
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic recovered in websocket writer", "channel", c.id, "error", r)
		}
		//nolint:errcheck // Closing after a write failure or shutdown
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write failed", "channel", c.id, "error", err)
				return
			}
		case <-c.ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("websocket ping failed", "channel", c.id, "error", err)
				return
			}
		case <-tick:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// write sends one frame. A zero write timeout clears any deadline left on
// the connection by the HTTP server.
func (c *wsChannel) write(messageType int, data []byte) error {
	var deadline time.Time
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	//nolint:errcheck // Best-effort deadline; write error caught below
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(messageType, data)
}

// extendDeadline pushes the read deadline out by d.
func (c *wsChannel) extendDeadline(d time.Duration) {
	if d <= 0 {
		return
	}
	//nolint:errcheck // Best-effort deadline reset
	c.conn.SetReadDeadline(time.Now().Add(d))
}

// newUpgrader builds the upgrader. Origins are checked against the CORS
// allowlist; requests without an Origin header (device agents) pass.
func (s *Server) newUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}
}

// handleDeviceWS serves the device WebSocket path.
func (s *Server) handleDeviceWS(w http.ResponseWriter, r *http.Request) {
	s.serveDevice(w, r)
}

// handleDashboardWS serves the dashboard WebSocket path.
func (s *Server) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
	s.serveDashboard(w, r)
}

// handleRoleWS serves /ws?role=device|dashboard.
func (s *Server) handleRoleWS(w http.ResponseWriter, r *http.Request) {
	switch role := r.URL.Query().Get("role"); role {
	case roleDevice:
		s.serveDevice(w, r)
	case roleDashboard:
		s.serveDashboard(w, r)
	case "":
		s.reject(w, r, http.StatusBadRequest, "missing role query parameter")
	default:
		s.reject(w, r, http.StatusBadRequest, fmt.Sprintf("unknown role %q", role))
	}
}

// handleUnknownWS rejects any other path under /ws.
func (s *Server) handleUnknownWS(w http.ResponseWriter, r *http.Request) {
	s.reject(w, r, http.StatusNotFound, "unknown websocket path")
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.logger.Debug("websocket upgrade rejected",
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
		"reason", message,
	)
	writeRejected(w, status, message)
}

// upgrade switches the request to a WebSocket and wraps it. It returns nil
// after writing an error response.
func (s *Server) upgrade(w http.ResponseWriter, r *http.Request, keepalive time.Duration) *wsChannel {
	if !websocket.IsWebSocketUpgrade(r) {
		s.reject(w, r, http.StatusBadRequest, "websocket upgrade required")
		return nil
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "path", r.URL.Path, "error", err)
		return nil
	}
	if s.wsCfg.MaxMessageSize > 0 {
		ws.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}

	writeTimeout := time.Duration(s.wsCfg.WriteTimeout) * time.Second
	return newWSChannel(ws, s.wsCfg.SendBuffer, writeTimeout, keepalive, s.logger)
}

// serveDevice upgrades a device connection and starts its session. The
// device ID may be passed as ?id= or ?deviceId=; without one the session
// waits for a handshake message.
func (s *Server) serveDevice(w http.ResponseWriter, r *http.Request) {
	ch := s.upgrade(w, r, 0)
	if ch == nil {
		return
	}

	deviceID := deviceIDFromQuery(r)
	ch.extendDeadline(s.liveness.ReadDeadline())
	sess := s.sessions.Open(ch, deviceID)

	go ch.writePump()
	go s.readDevice(ch, sess)
}

// readDevice is the only reader of a device connection. All session calls
// happen on this goroutine, including the pong handler.
func (s *Server) readDevice(ch *wsChannel, sess *session.Session) {
	deadline := s.liveness.ReadDeadline()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic recovered in device reader",
				"session_id", sess.ID(),
				"device_id", sess.DeviceID(),
				"error", r,
			)
		}
		//nolint:errcheck // Connection is finished either way
		ch.Close()
		sess.HandleClose()
	}()

	ch.conn.SetPongHandler(func(string) error {
		ch.extendDeadline(deadline)
		sess.HandlePong()
		return nil
	})

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			if isUnexpectedClose(err) {
				sess.HandleError(err)
			}
			return
		}
		ch.extendDeadline(deadline)
		//nolint:errcheck // Dropped frames are logged by the session
		sess.HandleMessage(data)
	}
}

// serveDashboard upgrades an observer connection and joins it to the hub.
// Dashboards are pinged by their own writer on the liveness interval.
func (s *Server) serveDashboard(w http.ResponseWriter, r *http.Request) {
	ch := s.upgrade(w, r, s.liveness.ProbeInterval())
	if ch == nil {
		return
	}

	go ch.writePump()

	if err := s.dashboards.Join(ch); err != nil {
		s.logger.Warn("dashboard join failed", "channel", ch.ID(), "error", err)
		//nolint:errcheck // Connection is unusable
		ch.Close()
		return
	}

	go s.readDashboard(ch)
}

// readDashboard discards inbound frames; it exists to process control
// frames and notice the close.
func (s *Server) readDashboard(ch *wsChannel) {
	deadline := s.liveness.ReadDeadline()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic recovered in dashboard reader", "channel", ch.ID(), "error", r)
		}
		s.dashboards.Leave(ch)
		//nolint:errcheck // Connection is finished either way
		ch.Close()
	}()

	ch.extendDeadline(deadline)
	ch.conn.SetPongHandler(func(string) error {
		ch.extendDeadline(deadline)
		return nil
	})

	for {
		if _, _, err := ch.conn.ReadMessage(); err != nil {
			if isUnexpectedClose(err) {
				s.logger.Debug("dashboard read error", "channel", ch.ID(), "error", err)
			}
			return
		}
		ch.extendDeadline(deadline)
	}
}

// deviceIDFromQuery returns ?id= or, failing that, ?deviceId=.
func deviceIDFromQuery(r *http.Request) string {
	q := r.URL.Query()
	if id := q.Get("id"); id != "" {
		return id
	}
	return q.Get("deviceId")
}

// isUnexpectedClose reports whether err is worth logging as an error. Normal
// closes and closes we initiated are not.
func isUnexpectedClose(err error) bool {
	if errors.Is(err, websocket.ErrCloseSent) {
		return false
	}
	return websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseNormalClosure,
		websocket.CloseNoStatusReceived,
	)
}
