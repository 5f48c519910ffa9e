package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nerrad567/warden/internal/history"
	"github.com/nerrad567/warden/internal/registry"
	"github.com/nerrad567/warden/internal/supervisor"
)

// appView is one app in list/detail responses: the registry descriptor
// flattened alongside live status and the reachable URL.
type appView struct {
	registry.AppDescriptor
	Status supervisor.Status `json:"status"`
	URL    string            `json:"url"`
}

// handleListApps returns every registered app with its descriptor and
// live status.
func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.supervisor.Statuses(r.Context())
	if err != nil {
		writeSupervisorError(w, err)
		return
	}

	apps := make([]appView, 0, len(statuses))
	for _, st := range statuses {
		desc, ok := s.registry.Get(st.ID)
		if !ok {
			continue
		}
		apps = append(apps, s.buildAppView(desc, st))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"apps":  apps,
		"count": len(apps),
	})
}

// handleGetApp returns a single app's descriptor and status.
func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	desc, ok := s.registry.Get(id)
	if !ok {
		writeNotFound(w, "app not found: "+id)
		return
	}

	st, err := s.supervisor.Status(id)
	if err != nil {
		writeSupervisorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.buildAppView(desc, st))
}

// handleStartApp starts an app and journals the outcome. Starting an
// already-running app is a success with the already_running flag set.
func (s *Server) handleStartApp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.supervisor.Start(r.Context(), id)
	if err != nil {
		s.recordFailure(r.Context(), id, history.ActionStart, err)
		writeSupervisorError(w, err)
		return
	}

	s.recordAppActivity(id)

	detail := ""
	if result.AlreadyRunning {
		detail = "already running"
	}
	s.record(r.Context(), &history.Event{
		AppID:   id,
		Action:  history.ActionStart,
		Outcome: history.OutcomeOK,
		PID:     result.PID,
		Detail:  detail,
	})

	writeJSON(w, http.StatusOK, result)
}

// handleStopApp stops an app and journals the outcome. Stopping an
// already-stopped app is a success with the already_stopped flag set.
func (s *Server) handleStopApp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.supervisor.Stop(r.Context(), id)
	if err != nil {
		s.recordFailure(r.Context(), id, history.ActionStop, err)
		writeSupervisorError(w, err)
		return
	}

	detail := ""
	switch {
	case result.AlreadyStopped:
		detail = "already stopped"
	case result.Forced:
		detail = "killed after grace period"
	}
	s.record(r.Context(), &history.Event{
		AppID:   id,
		Action:  history.ActionStop,
		Outcome: history.OutcomeOK,
		PID:     result.PID,
		Detail:  detail,
	})

	writeJSON(w, http.StatusOK, result)
}

// handleRestartApp stops then starts an app and journals the outcome.
func (s *Server) handleRestartApp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.supervisor.Restart(r.Context(), id)
	if err != nil {
		s.recordFailure(r.Context(), id, history.ActionRestart, err)
		writeSupervisorError(w, err)
		return
	}

	s.recordAppActivity(id)

	s.record(r.Context(), &history.Event{
		AppID:   id,
		Action:  history.ActionRestart,
		Outcome: history.OutcomeOK,
		PID:     result.PID,
	})

	writeJSON(w, http.StatusOK, result)
}

// handleAppLogs returns a bounded tail of an app's stdout or stderr log.
func (s *Server) handleAppLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stream := r.URL.Query().Get("stream")

	lines := 0
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "lines must be an integer")
			return
		}
		lines = n
	}

	result, err := s.supervisor.Logs(id, stream, lines)
	if err != nil {
		writeSupervisorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleAppHealth probes an app's HTTP health endpoint and reports the
// result. A failing probe is a 200 response describing the failure, not
// an API error.
func (s *Server) handleAppHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.supervisor.HealthCheck(r.Context(), id)
	if err != nil {
		writeSupervisorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleRecordActivity resets an app's idle timer. Reverse proxies call
// this when they forward traffic to an app so the idle scheduler sees
// real usage.
func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, ok := s.registry.Get(id); !ok {
		writeNotFound(w, "app not found: "+id)
		return
	}

	s.recordAppActivity(id)
	s.record(r.Context(), &history.Event{
		AppID:   id,
		Action:  history.ActionActivity,
		Outcome: history.OutcomeOK,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"recorded": s.tracker != nil,
	})
}

// handleAppURL returns the URL a browser can reach the app on. Fetching
// the URL counts as activity: callers ask for it right before opening
// the app.
func (s *Server) handleAppURL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	url, err := s.supervisor.URL(id)
	if err != nil {
		writeSupervisorError(w, err)
		return
	}

	s.recordAppActivity(id)

	writeJSON(w, http.StatusOK, map[string]any{
		"id":  id,
		"url": url,
	})
}

// buildAppView combines a descriptor and status into a response view.
func (s *Server) buildAppView(desc registry.AppDescriptor, st supervisor.Status) appView {
	view := appView{AppDescriptor: desc, Status: st}
	if url, err := s.supervisor.URL(desc.ID); err == nil {
		view.URL = url
	}
	return view
}

// recordAppActivity bumps the idle timer when the scheduler is enabled.
func (s *Server) recordAppActivity(id string) {
	if s.tracker != nil {
		s.tracker.Record(id)
	}
}

// recordFailure journals a failed lifecycle action. Unknown-app errors
// are not journaled: there is no app for the event to belong to.
func (s *Server) recordFailure(ctx context.Context, id, action string, err error) {
	if errors.Is(err, supervisor.ErrNotFound) {
		return
	}
	s.record(ctx, &history.Event{
		AppID:   id,
		Action:  action,
		Outcome: history.OutcomeFailed,
		Detail:  err.Error(),
	})
}
