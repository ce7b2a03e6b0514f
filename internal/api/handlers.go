package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/history"
	"github.com/nerrad567/relayhub/internal/state"
)

// emptyCommand is routed when a command request has no body.
var emptyCommand = json.RawMessage(`{}`)

// handleRoot returns a static banner.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "relay hub running",
	})
}

// handleHealth reports process liveness. It does not depend on any device.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"version":              s.version,
		"devices_connected":    len(s.registry.OpenIDs()),
		"dashboards_connected": s.dashboards.Count(),
	})
}

// handleMetrics serves the Prometheus exposition.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.Handler().ServeHTTP(w, r)
}

// handleListDevices returns connected and known device IDs. Both response
// shapes are filled: devices mirrors online and count is its length.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	online := s.registry.OpenIDs()
	writeJSON(w, http.StatusOK, map[string]any{
		"online":       online,
		"knownDevices": s.store.IDs(),
		"count":        len(online),
		"devices":      online,
	})
}

// handleState returns the full state snapshot.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

// handleDeviceStatus returns one record with online recomputed from lastSeen
// and whether a live channel is registered.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, ok := s.store.Get(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	_, connected := s.registry.LookupOpen(id)
	body := rec.Flatten()
	body[state.KeyOnline] = s.isOnline(rec)
	body["connected"] = connected
	writeJSON(w, http.StatusOK, body)
}

// isOnline reports whether rec is online and was heard from inside the
// configured window.
func (s *Server) isOnline(rec state.Record) bool {
	if !rec.Online {
		return false
	}
	return s.now().Sub(rec.LastSeen) < s.liveness.Window()
}

// handleCommand routes the request body to the device's live connection.
// Routing failures are outcomes and come back as 200 {"ok":false}.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	cmd := json.RawMessage(bytes.TrimSpace(body))
	if len(cmd) == 0 {
		cmd = emptyCommand
	}
	if !json.Valid(cmd) {
		writeBadRequest(w, "request body must be valid JSON")
		return
	}

	accepted, err := s.router.Route(id, cmd, command.OriginHTTP)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":   true,
			"id":   accepted.ID,
			"sent": accepted.Cmd,
		})
	case errors.Is(err, command.ErrDeviceOffline):
		writeFailure(w, command.ErrDeviceOffline.Error())
	case errors.Is(err, command.ErrSendFailed):
		writeFailure(w, command.ErrSendFailed.Error())
	case errors.Is(err, command.ErrInvalidCommand):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error("command routing failed", "device_id", id, "error", err)
		writeFailure(w, command.ErrSendFailed.Error())
	}
}

// handleDeviceHistory returns stored state changes for one device, newest
// first.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "history disabled")
		return
	}

	id := chi.URLParam(r, "id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.GetHistory(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, history.ErrDeviceIDRequired) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("failed to read state history", "device_id", id, "error", err)
		writeInternalError(w, "failed to read state history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"entries":   entries,
		"count":     len(entries),
	})
}
