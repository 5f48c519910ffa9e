package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/warden/internal/supervisor"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeInternal      = "internal_error"
	ErrCodeValidation    = "validation_error"
	ErrCodeConfiguration = "configuration_error"
	ErrCodeStartFailure  = "start_failure"
	ErrCodePermission    = "permission_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeSupervisorError maps supervisor sentinel errors onto HTTP
// responses. Start failures carry the exit code and stderr tail in the
// message so callers see why the app died without reading log files.
func writeSupervisorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, supervisor.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, supervisor.ErrValidation):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, supervisor.ErrConfiguration):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeConfiguration, err.Error())
	case errors.Is(err, supervisor.ErrStartFailure):
		writeError(w, http.StatusBadGateway, ErrCodeStartFailure, startFailureMessage(err))
	case errors.Is(err, supervisor.ErrPermission):
		writeError(w, http.StatusInternalServerError, ErrCodePermission, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

// startFailureMessage flattens a StartError into a single line with the
// exit code and stderr tail when available.
func startFailureMessage(err error) string {
	var startErr *supervisor.StartError
	if !errors.As(err, &startErr) {
		return err.Error()
	}
	msg := startErr.Error()
	if len(startErr.Stderr) == 0 {
		msg += " (no stderr output captured)"
	}
	return strings.TrimSpace(msg)
}
