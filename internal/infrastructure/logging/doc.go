// Package logging provides structured logging for the relay hub.
//
// This package wraps Go's standard log/slog package so every component logs
// through one configured handler with the same default fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("device identified", "device_id", id)
//	logger.Warn("dropping malformed message", "error", err)
//
// Command payloads and device state are application data; log their size or
// keys rather than the full body at info level.
package logging
