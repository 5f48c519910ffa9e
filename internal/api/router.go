package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", s.handleHealth)

		// System endpoints
		r.Get("/metrics", s.handleMetrics)
		r.Route("/system", func(r chi.Router) {
			r.Get("/info", s.handleSystemInfo)
			r.Post("/reload", s.handleSystemReload)
		})

		// App endpoints
		r.Route("/apps", func(r chi.Router) {
			r.Get("/", s.handleListApps)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetApp)
				r.Post("/start", s.handleStartApp)
				r.Post("/stop", s.handleStopApp)
				r.Post("/restart", s.handleRestartApp)
				r.Get("/logs", s.handleAppLogs)
				r.Get("/health", s.handleAppHealth)
				r.Post("/activity", s.handleRecordActivity)
				r.Get("/url", s.handleAppURL)
			})
		})

		// Idle scheduler
		r.Get("/scheduler/status", s.handleSchedulerStatus)

		// Event journal
		r.Get("/events", s.handleListEvents)

		// WebSocket event feed
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
