package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/warden/internal/history"
)

// handleSystemInfo reports what this warden instance is managing: app
// counts by state and where the registry was loaded from.
func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	total := s.registry.Count()

	running := 0
	if statuses, err := s.supervisor.RunningStatuses(r.Context()); err == nil {
		running = len(statuses)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":           "warden",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"apps": map[string]int{
			"total":   total,
			"running": running,
			"stopped": total - running,
		},
		"registry": map[string]any{
			"path":      s.registry.Path(),
			"loaded_at": s.registry.LoadedAt(),
		},
		"scheduler_enabled": s.tracker != nil,
	})
}

// handleSystemReload re-reads the app registry from disk and journals
// the result. A registry file that fails validation leaves the previous
// registry in place.
func (s *Server) handleSystemReload(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Load(); err != nil {
		s.record(r.Context(), &history.Event{
			Action:  history.ActionReload,
			Outcome: history.OutcomeFailed,
			Detail:  err.Error(),
		})
		writeError(w, http.StatusUnprocessableEntity, ErrCodeConfiguration,
			fmt.Sprintf("reloading app registry: %v", err))
		return
	}

	s.seedTrackerTimeouts()

	s.record(r.Context(), &history.Event{
		Action:  history.ActionReload,
		Outcome: history.OutcomeOK,
		Detail:  fmt.Sprintf("%d apps", s.registry.Count()),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"apps":      s.registry.Count(),
		"loaded_at": s.registry.LoadedAt(),
	})
}

// seedTrackerTimeouts pushes per-app idle timeouts from the registry
// into the tracker. Called after a registry reload so descriptor edits
// take effect without a restart. A zero minute count clears the
// override so the app falls back to the scheduler default.
func (s *Server) seedTrackerTimeouts() {
	if s.tracker == nil {
		return
	}
	for _, desc := range s.registry.List() {
		s.tracker.SetTimeout(desc.ID, time.Duration(desc.IdleTimeoutMinutes)*time.Minute)
	}
}
