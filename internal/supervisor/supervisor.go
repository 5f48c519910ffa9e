package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/warden/internal/registry"
)

// Lifecycle timing constants.
const (
	// startGracePeriod is how long a freshly spawned process must
	// survive before the start is considered successful. Crashes inside
	// this window (bad imports, port already bound) are reported with
	// diagnostics instead of being discovered minutes later.
	startGracePeriod = 2 * time.Second

	// stopPollInterval is how often to re-check a signalled process
	// while waiting for it to exit.
	stopPollInterval = 500 * time.Millisecond

	// killSettleWait is the pause after SIGKILL before giving up on
	// observing the exit.
	killSettleWait = 500 * time.Millisecond

	// restartPause separates the stop and start halves of a restart so
	// the old process can release its port.
	restartPause = 1 * time.Second

	// healthProbeTimeout bounds the HTTP health probe of an app.
	healthProbeTimeout = 5 * time.Second

	// stderrTailLines is how much stderr context a failed start carries.
	stderrTailLines = 20

	// Log tail request bounds.
	defaultLogLines = 100
	minLogLines     = 1
	maxLogLines     = 10000

	// dirMode is the permission mode for state and log directories.
	dirMode = 0750
)

// strippedEnv lists inherited environment variables that are scrubbed
// before spawning an app. Stale Flask/Werkzeug control variables make a
// child Flask app believe it is a reloader subprocess or try to adopt a
// server socket that does not exist.
var strippedEnv = map[string]bool{
	"WERKZEUG_RUN_MAIN":  true,
	"WERKZEUG_SERVER_FD": true,
	"FLASK_ENV":          true,
	"FLASK_DEBUG":        true,
}

// Logger defines the logging interface used by the Supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Liveness classifies what the supervisor can prove about an app.
type Liveness string

// Liveness values.
const (
	// LivenessAlive: a PID record exists and the kernel confirms that
	// process is running and still looks like ours.
	LivenessAlive Liveness = "alive"

	// LivenessDead: no live recorded process and nothing accepting
	// connections on the app's port.
	LivenessDead Liveness = "dead"

	// LivenessAmbiguous: no live recorded process, but something is
	// accepting connections on the app's port. Possibly an app started
	// outside warden, possibly an unrelated program squatting the port.
	LivenessAmbiguous Liveness = "ambiguous"
)

// Status is a point-in-time view of one app.
type Status struct {
	ID         string     `json:"id"`
	Liveness   Liveness   `json:"liveness"`
	Running    bool       `json:"running"`
	PID        int        `json:"pid,omitempty"`
	PortOpen   bool       `json:"port_open"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	CPUPercent float64    `json:"cpu_percent,omitempty"`
	MemoryRSS  int64      `json:"memory_rss_bytes,omitempty"`
}

// StartResult reports the outcome of a start operation.
type StartResult struct {
	ID             string `json:"id"`
	PID            int    `json:"pid,omitempty"`
	AlreadyRunning bool   `json:"already_running"`
	URL            string `json:"url"`
	StdoutLog      string `json:"stdout_log,omitempty"`
	StderrLog      string `json:"stderr_log,omitempty"`
	PortConfirmed  bool   `json:"port_confirmed"`
}

// StopResult reports the outcome of a stop operation.
type StopResult struct {
	ID             string `json:"id"`
	PID            int    `json:"pid,omitempty"`
	AlreadyStopped bool   `json:"already_stopped"`
	Forced         bool   `json:"forced"`
}

// RestartResult reports the outcome of a restart operation.
type RestartResult struct {
	ID          string `json:"id"`
	PID         int    `json:"pid,omitempty"`
	PreviousPID int    `json:"previous_pid,omitempty"`
	WasRunning  bool   `json:"was_running"`
	URL         string `json:"url"`
}

// HealthResult reports an HTTP health probe of an app.
type HealthResult struct {
	ID         string `json:"id"`
	Running    bool   `json:"running"`
	Healthy    bool   `json:"healthy"`
	StatusCode int    `json:"status_code,omitempty"`
	CheckedURL string `json:"checked_url,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// LogsResult carries the tail of an app log.
type LogsResult struct {
	ID     string   `json:"id"`
	Stream string   `json:"stream"`
	Path   string   `json:"path,omitempty"`
	Exists bool     `json:"exists"`
	Lines  []string `json:"lines"`
}

// Config contains supervisor settings.
type Config struct {
	// StateDir is where PID records are kept.
	StateDir string

	// LogDir is where app stdout/stderr logs are written.
	LogDir string

	// Runtime is the fallback interpreter for apps without their own
	// virtualenv. Default: "python3"
	Runtime string

	// PublicHost is substituted for wildcard bind addresses when
	// composing app URLs. Default: "127.0.0.1"
	PublicHost string

	// StopGrace is how long a SIGTERMed process gets to exit before
	// SIGKILL. Default: 5s
	StopGrace time.Duration
}

// Supervisor starts, stops, and inspects the processes described by the
// registry.
//
// Lifecycle operations on the same app are serialised by a per-app
// mutex, so concurrent starts cannot double-spawn and a stop cannot
// interleave with a restart. Operations on different apps proceed in
// parallel.
type Supervisor struct {
	cfg        Config
	registry   *registry.Registry
	logger     Logger
	httpClient *http.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Supervisor and ensures its state and log directories
// exist.
//
// Parameters:
//   - cfg: Supervisor settings (StateDir and LogDir are required)
//   - reg: Registry of app descriptors
//
// Returns:
//   - *Supervisor: Ready supervisor
//   - error: If required settings are missing or directories cannot be created
func New(cfg Config, reg *registry.Registry) (*Supervisor, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.StateDir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if cfg.LogDir == "" {
		return nil, fmt.Errorf("log directory is required")
	}
	if cfg.Runtime == "" {
		cfg.Runtime = "python3"
	}
	if cfg.PublicHost == "" {
		cfg.PublicHost = "127.0.0.1"
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}

	if err := os.MkdirAll(cfg.StateDir, dirMode); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, dirMode); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	return &Supervisor{
		cfg:      cfg,
		registry: reg,
		logger:   noopLogger{},
		httpClient: &http.Client{
			Timeout: healthProbeTimeout,
			// The first response answers the probe; never follow it away
			// from the app being checked.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// appLock returns the mutex serialising operations on one app,
// creating it on first use.
func (s *Supervisor) appLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// recordPath returns the PID record path for an app.
func (s *Supervisor) recordPath(id string) string {
	return filepath.Join(s.cfg.StateDir, id+pidFileSuffix)
}

// ─── Status ───────────────────────────────────────────────────────────────

// Status reports the current state of one app.
//
// As a side effect, a PID record whose process has died is removed: the
// next status call after a crash sees a clean slate rather than the
// same stale record forever.
func (s *Supervisor) Status(id string) (Status, error) {
	desc, ok := s.registry.Get(id)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	lock := s.appLock(id)
	lock.Lock()
	defer lock.Unlock()

	return s.statusLocked(desc), nil
}

// Statuses reports the current state of every registered app, in
// registry order.
func (s *Supervisor) Statuses(ctx context.Context) ([]Status, error) {
	apps := s.registry.List()
	statuses := make([]Status, 0, len(apps))

	for _, desc := range apps {
		select {
		case <-ctx.Done():
			return statuses, ctx.Err()
		default:
		}

		lock := s.appLock(desc.ID)
		lock.Lock()
		statuses = append(statuses, s.statusLocked(desc))
		lock.Unlock()
	}
	return statuses, nil
}

// RunningStatuses reports only the apps currently considered running.
func (s *Supervisor) RunningStatuses(ctx context.Context) ([]Status, error) {
	all, err := s.Statuses(ctx)
	if err != nil {
		return nil, err
	}

	running := make([]Status, 0, len(all))
	for _, st := range all {
		if st.Running {
			running = append(running, st)
		}
	}
	return running, nil
}

// statusLocked computes an app's status. Caller must hold the app lock.
func (s *Supervisor) statusLocked(desc registry.AppDescriptor) Status {
	st := Status{ID: desc.ID, Liveness: LivenessDead}

	recPath := s.recordPath(desc.ID)
	rec, err := readPIDRecord(recPath)
	switch {
	case err == nil:
		expected := filepath.Base(s.resolveRuntime(desc))
		if verr := verifyProcess(rec.PID, expected); verr == nil {
			st.PID = rec.PID
			st.Liveness = LivenessAlive
			if !rec.StartedAt.IsZero() {
				t := rec.StartedAt
				st.StartedAt = &t
			}
			if stats, serr := readProcStats(rec.PID); serr == nil {
				st.CPUPercent = stats.CPUPercent
				st.MemoryRSS = stats.RSSBytes
				if st.StartedAt == nil && !stats.StartedAt.IsZero() {
					t := stats.StartedAt
					st.StartedAt = &t
				}
			}
		} else {
			// Stale record: the process died behind our back or the PID
			// now belongs to someone else. Heal silently.
			s.logger.Info("removing stale pid record",
				"app", desc.ID,
				"pid", rec.PID,
				"reason", verr.Error(),
			)
			if rerr := removePIDRecord(recPath); rerr != nil {
				s.logger.Warn("failed to remove stale pid record", "app", desc.ID, "error", rerr)
			}
		}

	case os.IsNotExist(err):
		// No record, nothing to verify

	default:
		s.logger.Warn("unreadable pid record, removing", "app", desc.ID, "error", err)
		if rerr := removePIDRecord(recPath); rerr != nil {
			s.logger.Warn("failed to remove unreadable pid record", "app", desc.ID, "error", rerr)
		}
	}

	st.PortOpen = portOpen(desc.ProbeHost(), desc.Port)

	if st.Liveness != LivenessAlive && st.PortOpen {
		st.Liveness = LivenessAmbiguous
	}
	st.Running = st.Liveness != LivenessDead

	return st
}

// ─── Start ────────────────────────────────────────────────────────────────

// Start launches an app if it is not already running.
//
// Starting an app that is already running is not an error: the existing
// process is reported instead. A process that exits within the grace
// period produces a StartError carrying its exit code and the tail of
// its stderr log.
//
// The spawned process is placed in its own session so it survives a
// warden restart; stopping warden does not stop its apps.
func (s *Supervisor) Start(ctx context.Context, id string) (*StartResult, error) {
	desc, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	lock := s.appLock(id)
	lock.Lock()
	defer lock.Unlock()

	return s.startLocked(ctx, desc)
}

// startLocked implements Start. Caller must hold the app lock.
func (s *Supervisor) startLocked(ctx context.Context, desc registry.AppDescriptor) (*StartResult, error) {
	stdoutPath, stderrPath := logPaths(s.cfg.LogDir, desc.ID)

	st := s.statusLocked(desc)
	if st.Running {
		s.logger.Info("start requested but app is already running",
			"app", desc.ID,
			"pid", st.PID,
			"liveness", st.Liveness,
		)
		return &StartResult{
			ID:             desc.ID,
			PID:            st.PID,
			AlreadyRunning: true,
			URL:            s.appURL(desc),
			StdoutLog:      stdoutPath,
			StderrLog:      stderrPath,
			PortConfirmed:  st.PortOpen,
		}, nil
	}

	if err := s.validateAppFiles(desc); err != nil {
		return nil, err
	}

	runtime := s.resolveRuntime(desc)

	stdout, err := openAppLog(stdoutPath, time.Now())
	if err != nil {
		return nil, fmt.Errorf("opening stdout log: %w", err)
	}
	defer stdout.Close() //nolint:errcheck // Child holds its own descriptor

	stderr, err := openAppLog(stderrPath, time.Now())
	if err != nil {
		return nil, fmt.Errorf("opening stderr log: %w", err)
	}
	defer stderr.Close() //nolint:errcheck // Child holds its own descriptor

	// Deliberately not CommandContext: the app must outlive both this
	// request and the supervisor itself.
	cmd := exec.Command(runtime, desc.EntryPath(),
		"--host", desc.Host,
		"--port", strconv.Itoa(desc.Port),
	)
	cmd.Dir = desc.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = sanitizedEnv(desc.Dir)
	// New session: detaches from warden's controlling terminal and
	// makes the app its own process group leader, so a later stop can
	// signal the whole group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	s.logger.Info("starting app",
		"app", desc.ID,
		"runtime", runtime,
		"entry", desc.Entry,
		"port", desc.Port,
	)

	if err := cmd.Start(); err != nil {
		return nil, &StartError{AppID: desc.ID, ExitCode: -1, Err: err}
	}

	pid := cmd.Process.Pid
	rec := PIDRecord{
		PID:       pid,
		StartedAt: time.Now().UTC(),
		StdoutLog: stdoutPath,
		StderrLog: stderrPath,
	}
	if err := writePIDRecord(s.recordPath(desc.ID), rec); err != nil {
		// The process is up; a missing record degrades liveness
		// detection but is not worth killing the app over.
		s.logger.Error("failed to persist pid record", "app", desc.ID, "pid", pid, "error", err)
	}

	// Reap the child on exit so it never lingers as a zombie while
	// warden is the parent.
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-time.After(startGracePeriod):
		// Survived the grace period

	case waitErr := <-done:
		if rerr := removePIDRecord(s.recordPath(desc.ID)); rerr != nil {
			s.logger.Warn("failed to remove pid record after failed start", "app", desc.ID, "error", rerr)
		}
		tail, terr := tailFile(stderrPath, stderrTailLines)
		if terr != nil {
			tail = nil
		}
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		s.logger.Error("app exited during startup",
			"app", desc.ID,
			"pid", pid,
			"exit_code", exitCode,
		)
		return nil, &StartError{AppID: desc.ID, ExitCode: exitCode, Stderr: tail, Err: waitErr}
	}

	confirmed := s.confirmPort(ctx, desc)
	if !confirmed {
		s.logger.Warn("app has not opened its port yet",
			"app", desc.ID,
			"port", desc.Port,
			"waited", portConfirmAttempts*portConfirmInterval,
		)
	}

	s.logger.Info("app started", "app", desc.ID, "pid", pid, "port", desc.Port)

	return &StartResult{
		ID:            desc.ID,
		PID:           pid,
		URL:           s.appURL(desc),
		StdoutLog:     stdoutPath,
		StderrLog:     stderrPath,
		PortConfirmed: confirmed,
	}, nil
}

// confirmPort polls until the app's port accepts connections or the
// attempt budget runs out. Advisory: slow starters are reported, not
// failed.
func (s *Supervisor) confirmPort(ctx context.Context, desc registry.AppDescriptor) bool {
	for attempt := 0; attempt < portConfirmAttempts; attempt++ {
		if portOpen(desc.ProbeHost(), desc.Port) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(portConfirmInterval):
		}
	}
	return portOpen(desc.ProbeHost(), desc.Port)
}

// validateAppFiles checks that the descriptor's directory and entry
// point exist on disk.
func (s *Supervisor) validateAppFiles(desc registry.AppDescriptor) error {
	info, err := os.Stat(desc.Dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: app directory %s does not exist", ErrConfiguration, desc.Dir)
	}
	if _, err := os.Stat(desc.EntryPath()); err != nil {
		return fmt.Errorf("%w: entry point %s does not exist", ErrConfiguration, desc.EntryPath())
	}
	return nil
}

// resolveRuntime picks the interpreter for an app: an app-local
// virtualenv if present, otherwise the configured system runtime.
func (s *Supervisor) resolveRuntime(desc registry.AppDescriptor) string {
	candidates := []string{
		filepath.Join(desc.Dir, ".venv", "bin", "python3"),
		filepath.Join(desc.Dir, ".venv", "bin", "python"),
		filepath.Join(desc.Dir, "venv", "bin", "python3"),
		filepath.Join(desc.Dir, "venv", "bin", "python"),
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return c
		}
	}
	return s.cfg.Runtime
}

// sanitizedEnv builds the child environment: the inherited environment
// minus web-runtime control variables, with PYTHONPATH pointed at the
// app directory.
func sanitizedEnv(appDir string) []string {
	inherited := os.Environ()
	env := make([]string, 0, len(inherited)+1)
	for _, kv := range inherited {
		name, _, _ := strings.Cut(kv, "=")
		if strippedEnv[name] || name == "PYTHONPATH" {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "PYTHONPATH="+appDir)
}

// ─── Stop ─────────────────────────────────────────────────────────────────

// Stop terminates an app's process.
//
// Stopping an app that is not running is not an error. The process
// group first gets SIGTERM; if it has not exited within the configured
// grace period it gets SIGKILL. A process that disappeared between
// signals counts as stopped.
func (s *Supervisor) Stop(ctx context.Context, id string) (*StopResult, error) {
	desc, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	lock := s.appLock(id)
	lock.Lock()
	defer lock.Unlock()

	return s.stopLocked(ctx, desc)
}

// stopLocked implements Stop. Caller must hold the app lock.
func (s *Supervisor) stopLocked(_ context.Context, desc registry.AppDescriptor) (*StopResult, error) {
	st := s.statusLocked(desc)
	if !st.Running {
		s.logger.Info("stop requested but app is not running", "app", desc.ID)
		return &StopResult{ID: desc.ID, AlreadyStopped: true}, nil
	}

	if st.PID == 0 {
		// Port is open but the process holding it is not one we
		// started. Not ours to kill.
		s.logger.Warn("stop requested but port is held by an unmanaged process",
			"app", desc.ID,
			"port", desc.Port,
		)
		return &StopResult{ID: desc.ID, AlreadyStopped: true}, nil
	}

	pid := st.PID
	s.logger.Info("stopping app", "app", desc.ID, "pid", pid)

	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.EPERM) {
			return nil, fmt.Errorf("%w: pid %d: %v", ErrPermission, pid, err)
		}
		// ESRCH: already gone, fall through to cleanup
	}

	forced := false
	if !s.waitForExit(pid) {
		s.logger.Warn("app ignored SIGTERM, escalating to SIGKILL", "app", desc.ID, "pid", pid)
		if err := signalProcess(pid, syscall.SIGKILL); err != nil && errors.Is(err, syscall.EPERM) {
			return nil, fmt.Errorf("%w: pid %d: %v", ErrPermission, pid, err)
		}
		forced = true
		time.Sleep(killSettleWait)
	}

	if err := removePIDRecord(s.recordPath(desc.ID)); err != nil {
		s.logger.Warn("failed to remove pid record after stop", "app", desc.ID, "error", err)
	}

	s.logger.Info("app stopped", "app", desc.ID, "pid", pid, "forced", forced)
	return &StopResult{ID: desc.ID, PID: pid, Forced: forced}, nil
}

// signalProcess delivers a signal to a process group, falling back to
// the bare PID if the group is gone.
//
// Returns nil when the signal was delivered, ESRCH when the target no
// longer exists, and other errors (notably EPERM) as-is.
func signalProcess(pid int, sig syscall.Signal) error {
	// Setsid at spawn made the app a process group leader, so -pid
	// reaches the app and any workers it forked.
	err := syscall.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(pid, sig)
	}
	return err
}

// waitForExit polls a signalled process until it exits or the stop
// grace period elapses. Returns true if the process is gone.
func (s *Supervisor) waitForExit(pid int) bool {
	deadline := time.Now().Add(s.cfg.StopGrace)
	for {
		if processGone(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(stopPollInterval)
	}
}

// ─── Restart ──────────────────────────────────────────────────────────────

// Restart stops an app (tolerating that it may not be running), pauses
// briefly so the port can be released, and starts it again. The whole
// sequence holds the app lock, so no other lifecycle operation can
// slip between the halves.
func (s *Supervisor) Restart(ctx context.Context, id string) (*RestartResult, error) {
	desc, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	lock := s.appLock(id)
	lock.Lock()
	defer lock.Unlock()

	stopRes, err := s.stopLocked(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("restart: %w", err)
	}

	time.Sleep(restartPause)

	startRes, err := s.startLocked(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("restart: %w", err)
	}

	return &RestartResult{
		ID:          id,
		PID:         startRes.PID,
		PreviousPID: stopRes.PID,
		WasRunning:  !stopRes.AlreadyStopped,
		URL:         startRes.URL,
	}, nil
}

// ─── Health ───────────────────────────────────────────────────────────────

// HealthCheck probes an app's HTTP endpoint.
//
// Any HTTP response, including errors like 404 or 500, proves the app
// is serving and counts as healthy. Only a connection failure or
// timeout is unhealthy. Apps that are not running are reported as such
// without probing.
func (s *Supervisor) HealthCheck(ctx context.Context, id string) (*HealthResult, error) {
	desc, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	st, err := s.Status(id)
	if err != nil {
		return nil, err
	}

	res := &HealthResult{ID: id, Running: st.Running}
	if !st.Running {
		res.Reason = "app is not running"
		return res, nil
	}

	probeURL := fmt.Sprintf("http://%s%s",
		net.JoinHostPort(desc.ProbeHost(), strconv.Itoa(desc.Port)),
		desc.HealthPath,
	)
	res.CheckedURL = probeURL

	reqCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, probeURL, nil)
	if err != nil {
		res.Reason = fmt.Sprintf("building probe request: %v", err)
		return res, nil
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		res.Reason = fmt.Sprintf("no HTTP response: %v", err)
		s.logger.Debug("health probe failed", "app", id, "url", probeURL, "error", err)
		return res, nil
	}
	resp.Body.Close() //nolint:errcheck // HEAD response has no body to drain

	res.Healthy = true
	res.StatusCode = resp.StatusCode
	return res, nil
}

// ─── Logs and URLs ────────────────────────────────────────────────────────

// Logs returns the trailing lines of an app's stdout or stderr log.
//
// stream must be "stdout" or "stderr" (empty defaults to stdout).
// lines of 0 means the default; otherwise it must be within sane
// bounds. A log file that does not exist yet yields a placeholder
// line, not an error.
func (s *Supervisor) Logs(id, stream string, lines int) (*LogsResult, error) {
	_, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if stream == "" {
		stream = "stdout"
	}
	if stream != "stdout" && stream != "stderr" {
		return nil, fmt.Errorf("%w: stream must be stdout or stderr, got %q", ErrValidation, stream)
	}

	if lines == 0 {
		lines = defaultLogLines
	}
	if lines < minLogLines || lines > maxLogLines {
		return nil, fmt.Errorf("%w: lines must be between %d and %d", ErrValidation, minLogLines, maxLogLines)
	}

	stdoutPath, stderrPath := logPaths(s.cfg.LogDir, id)
	path := stdoutPath
	if stream == "stderr" {
		path = stderrPath
	}

	tail, err := tailFile(path, lines)
	if err != nil {
		if os.IsNotExist(err) {
			return &LogsResult{
				ID:     id,
				Stream: stream,
				Path:   path,
				Exists: false,
				Lines:  []string{fmt.Sprintf("no %s log for %s yet; the app has not been started", stream, id)},
			}, nil
		}
		return nil, fmt.Errorf("reading log: %w", err)
	}

	return &LogsResult{ID: id, Stream: stream, Path: path, Exists: true, Lines: tail}, nil
}

// URL returns the browser-facing URL for an app, substituting the
// configured public host for wildcard bind addresses.
func (s *Supervisor) URL(id string) (string, error) {
	desc, ok := s.registry.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.appURL(desc), nil
}

// appURL composes the URL clients should use to reach an app.
func (s *Supervisor) appURL(desc registry.AppDescriptor) string {
	host := desc.Host
	if host == "0.0.0.0" || host == "::" {
		host = s.cfg.PublicHost
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(desc.Port)))
}
