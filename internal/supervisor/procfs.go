package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Process accounting constants.
const (
	// clockTicksPerSecond is the kernel USER_HZ constant used for the
	// utime/stime/starttime fields of /proc/<pid>/stat. Fixed at 100 on
	// Linux regardless of the scheduler tick.
	clockTicksPerSecond = 100

	// taskCommLen is the kernel's TASK_COMM_LEN minus the trailing NUL.
	// /proc/<pid>/comm truncates names to this length.
	taskCommLen = 15
)

// procStats holds a point-in-time snapshot of a process read from /proc.
type procStats struct {
	State      string
	StartedAt  time.Time
	CPUPercent float64 // average over the process lifetime
	RSSBytes   int64
}

// processAlive reports whether a process with the given PID exists and
// can be signalled. Signal 0 performs the permission and existence
// checks without delivering anything.
func processAlive(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	// On Unix, FindProcess always succeeds - send signal 0 to check if alive
	return proc.Signal(syscall.Signal(0))
}

// processComm returns the command name of a process from /proc/<pid>/comm.
func processComm(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// processState returns the single-letter scheduler state of a process
// from /proc/<pid>/stat (R, S, D, Z, T, X and friends).
func processState(pid int) (string, error) {
	fields, err := readStatFields(pid)
	if err != nil {
		return "", err
	}
	return fields[0], nil
}

// readStatFields reads /proc/<pid>/stat and returns the fields after
// the comm column. fields[0] is the process state (stat field 3).
//
// The comm column is parenthesised and may itself contain spaces and
// parentheses, so parsing starts after the last closing paren.
func readStatFields(pid int) ([]string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, err
	}

	statStr := string(data)
	closeParenIdx := strings.LastIndex(statStr, ")")
	if closeParenIdx == -1 || closeParenIdx+2 >= len(statStr) {
		return nil, fmt.Errorf("invalid /proc/%d/stat format", pid)
	}

	fields := strings.Fields(statStr[closeParenIdx+2:])
	if len(fields) < 1 {
		return nil, fmt.Errorf("invalid /proc/%d/stat format: no state field", pid)
	}
	return fields, nil
}

// readProcStats reads scheduler state, start time, lifetime CPU usage,
// and resident memory for a process.
//
// CPUPercent is the average over the whole process lifetime, not an
// instantaneous figure: computing the latter needs two samples spaced
// apart, which a status call should not block for.
func readProcStats(pid int) (procStats, error) {
	fields, err := readStatFields(pid)
	if err != nil {
		return procStats{}, err
	}

	// Fields are indexed from the state column: state is stat field 3,
	// so stat field N lives at fields[N-3].
	const (
		utimeIdx     = 14 - 3
		stimeIdx     = 15 - 3
		starttimeIdx = 22 - 3
		rssIdx       = 24 - 3
	)
	if len(fields) <= rssIdx {
		return procStats{}, fmt.Errorf("invalid /proc/%d/stat format: %d fields", pid, len(fields))
	}

	stats := procStats{State: fields[0]}

	utime, _ := strconv.ParseUint(fields[utimeIdx], 10, 64)
	stime, _ := strconv.ParseUint(fields[stimeIdx], 10, 64)
	starttime, _ := strconv.ParseUint(fields[starttimeIdx], 10, 64)
	rssPages, _ := strconv.ParseInt(fields[rssIdx], 10, 64)

	stats.RSSBytes = rssPages * int64(os.Getpagesize())

	bootTime, err := readBootTime()
	if err != nil {
		return stats, nil // state and memory are still useful
	}

	// Split ticks into whole seconds plus remainder to avoid overflowing
	// a Duration on hosts with long uptimes.
	startSecs := starttime / clockTicksPerSecond
	remTicks := starttime % clockTicksPerSecond
	stats.StartedAt = bootTime.Add(
		time.Duration(startSecs)*time.Second +
			time.Duration(remTicks)*(time.Second/clockTicksPerSecond),
	)

	elapsed := time.Since(stats.StartedAt).Seconds()
	if elapsed >= 1 {
		cpuSeconds := float64(utime+stime) / clockTicksPerSecond
		stats.CPUPercent = cpuSeconds / elapsed * 100
	}

	return stats, nil
}

// readBootTime returns the system boot time from the btime line of
// /proc/stat.
func readBootTime() (time.Time, error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return time.Time{}, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "btime ") {
			continue
		}
		secs, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "btime ")), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing btime: %w", err)
		}
		return time.Unix(secs, 0), nil
	}
	return time.Time{}, fmt.Errorf("no btime line in /proc/stat")
}

// truncateComm shortens an expected command name the way the kernel
// does when writing /proc/<pid>/comm.
func truncateComm(name string) string {
	if len(name) > taskCommLen {
		return name[:taskCommLen]
	}
	return name
}

// verifyProcess checks that a PID refers to a live, healthy process
// that still looks like one of ours.
//
// It returns nil when the process is alive and plausibly the app the
// PID record was written for. A non-nil return means the record is
// stale: the process is gone, a zombie, or the PID has been recycled
// by an unrelated program.
func verifyProcess(pid int, expectedComm string) error {
	if err := processAlive(pid); err != nil {
		return fmt.Errorf("process %d not running: %w", pid, err)
	}

	state, err := processState(pid)
	if err != nil {
		return fmt.Errorf("process %d state unreadable: %w", pid, err)
	}
	switch state {
	case "Z":
		return fmt.Errorf("process %d is a zombie", pid)
	case "X", "x":
		return fmt.Errorf("process %d is dead", pid)
	}

	if expectedComm != "" {
		comm, err := processComm(pid)
		if err != nil {
			return fmt.Errorf("process %d identity unreadable: %w", pid, err)
		}
		if comm != truncateComm(expectedComm) {
			return fmt.Errorf("process %d is %q, expected %q", pid, comm, expectedComm)
		}
	}

	return nil
}

// processGone reports whether a PID no longer refers to a runnable
// process. Zombies count as gone: they have exited and only await
// reaping by their parent.
func processGone(pid int) bool {
	if err := processAlive(pid); err != nil {
		return true
	}
	state, err := processState(pid)
	if err != nil {
		return true
	}
	return state == "Z" || state == "X" || state == "x"
}
