package supervisor

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by supervisor operations.
// Callers should match with errors.Is.
var (
	// ErrNotFound indicates the app ID is not in the registry.
	ErrNotFound = errors.New("supervisor: app not found")

	// ErrValidation indicates a malformed request (bad stream name,
	// out-of-range line count).
	ErrValidation = errors.New("supervisor: invalid request")

	// ErrConfiguration indicates the app's descriptor points at files
	// that do not exist on disk.
	ErrConfiguration = errors.New("supervisor: app configuration invalid")

	// ErrStartFailure indicates the app process exited or could not be
	// spawned during startup.
	ErrStartFailure = errors.New("supervisor: app failed to start")

	// ErrPermission indicates the supervisor may not signal the target
	// process (owned by another user).
	ErrPermission = errors.New("supervisor: not permitted to signal process")
)

// StartError carries startup diagnostics: the exit code and the tail of
// the app's stderr log, so callers can surface why a start failed
// without digging through log files.
type StartError struct {
	AppID    string
	ExitCode int // -1 when the process never ran or the code is unknown
	Stderr   []string
	Err      error
}

func (e *StartError) Error() string {
	msg := fmt.Sprintf("app %s failed to start (exit code %d)", e.AppID, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Stderr) > 0 {
		msg += "; stderr: " + strings.Join(e.Stderr, " | ")
	}
	return msg
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStartFailure) match any StartError.
func (e *StartError) Is(target error) bool {
	return target == ErrStartFailure
}
