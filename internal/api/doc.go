// Package api implements the HTTP and WebSocket surface of the relay hub.
//
// This package provides:
//   - WebSocket endpoints for device agents and dashboard observers
//   - REST endpoints for state reads and one-shot device commands
//   - Optional state history reads when a history repository is wired
//   - Middleware stack (request ID, logging, metrics, recovery, CORS)
//   - TLS support for deployments that terminate TLS in-process
//
// # Architecture
//
// The server is a thin adapter. WebSocket connections are wrapped as
// conn.Channel values and handed to the session handler (devices) or the
// dashboard hub (observers). HTTP commands go through the command router,
// which writes to the device's live channel. The server owns no state of
// its own.
//
// # Error Surface
//
// Routing failures are reported as 200 {"ok":false,"error":...}; they are
// outcomes, not server faults. Malformed requests and rejected upgrades use
// the structured Error envelope.
package api
