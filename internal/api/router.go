package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// wsRoot is the generic WebSocket endpoint that selects the role by query.
const wsRoot = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	// State reads
	r.Get("/devices", s.handleListDevices)
	r.Get("/state", s.handleState)

	r.Route("/device/{id}", func(r chi.Router) {
		r.Get("/status", s.handleDeviceStatus)
		r.Post("/cmd", s.handleCommand)
		r.Get("/history", s.handleDeviceHistory)
	})
	r.Post("/send/{id}", s.handleCommand)

	// WebSocket endpoints. Explicit paths win over the /ws/* catch-all.
	r.Get(s.wsCfg.DevicePath, s.handleDeviceWS)
	r.Get(s.wsCfg.DashboardPath, s.handleDashboardWS)
	if s.wsCfg.DevicePath != wsRoot && s.wsCfg.DashboardPath != wsRoot {
		r.Get(wsRoot, s.handleRoleWS)
	}
	r.Get(wsRoot+"/*", s.handleUnknownWS)

	return r
}
