package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PID record file constants.
const (
	// pidFileMode keeps records private to the warden user.
	pidFileMode = 0600

	// pidFileSuffix is appended to the app ID to form the record name.
	pidFileSuffix = ".pid"
)

// PIDRecord is the durable marker written after a successful spawn.
//
// Records are advisory, never authoritative: the kernel is always asked
// whether the recorded PID is still alive before the record is trusted.
// A record whose process has died (or whose PID now belongs to someone
// else) is deleted on sight.
type PIDRecord struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StdoutLog string    `json:"stdout_log,omitempty"`
	StderrLog string    `json:"stderr_log,omitempty"`
}

// writePIDRecord persists a record atomically: the JSON is written to a
// temp file in the same directory and renamed into place, so readers
// never observe a half-written record.
func writePIDRecord(path string, rec PIDRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding pid record: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, pidFileMode); err != nil {
		return fmt.Errorf("writing pid record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("replacing pid record: %w", err)
	}
	return nil
}

// readPIDRecord loads a record from disk.
//
// Records written by older releases held just the PID as a bare
// integer; those are still accepted, with the remaining fields left
// zero.
func readPIDRecord(path string) (*PIDRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rec PIDRecord
	if jsonErr := json.Unmarshal(data, &rec); jsonErr == nil {
		if rec.PID <= 0 {
			return nil, fmt.Errorf("pid record %s: invalid pid %d", path, rec.PID)
		}
		return &rec, nil
	}

	pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if convErr != nil || pid <= 0 {
		return nil, fmt.Errorf("pid record %s: unrecognised content", path)
	}
	return &PIDRecord{PID: pid}, nil
}

// removePIDRecord deletes a record, tolerating its absence.
func removePIDRecord(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
