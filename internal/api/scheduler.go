package api

import (
	"net/http"

	"github.com/nerrad567/warden/internal/activity"
)

// schedulerStatus is the idle scheduler status response. The snapshot
// fields are flattened alongside the enabled flag.
type schedulerStatus struct {
	Enabled bool `json:"enabled"`
	activity.Snapshot
}

// handleSchedulerStatus reports whether the idle scheduler is running
// and, per tracked app, how long until its idle shutdown.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	if s.tracker == nil {
		writeJSON(w, http.StatusOK, schedulerStatus{Enabled: false})
		return
	}

	writeJSON(w, http.StatusOK, schedulerStatus{
		Enabled:  true,
		Snapshot: s.tracker.Status(),
	})
}
