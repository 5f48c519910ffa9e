package activity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/warden/internal/supervisor"
)

// Default tracker settings.
const (
	defaultCheckInterval = 60 * time.Second
	defaultIdleTimeout   = 30 * time.Minute
	defaultJoinTimeout   = 5 * time.Second
)

// Logger defines the logging interface used by the Tracker.
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

// AppController is the slice of the supervisor the tracker needs:
// which apps are running, and the ability to stop one.
type AppController interface {
	RunningStatuses(ctx context.Context) ([]supervisor.Status, error)
	Stop(ctx context.Context, id string) (*supervisor.StopResult, error)
}

// IdleStop describes one automatic shutdown performed by the tracker.
type IdleStop struct {
	AppID  string
	PID    int
	Forced bool
	Idle   time.Duration
}

// Config contains activity tracker settings.
type Config struct {
	// CheckInterval is how often the sweep loop inspects running apps.
	// Default: 60s
	CheckInterval time.Duration

	// DefaultTimeout is the idle duration after which an app without a
	// per-app override is shut down. Default: 30m
	DefaultTimeout time.Duration

	// JoinTimeout bounds how long Close waits for the sweep loop to
	// exit. Default: 5s
	JoinTimeout time.Duration
}

// AppActivity is one app's entry in a tracker snapshot.
type AppActivity struct {
	AppID            string    `json:"app_id"`
	LastActivity     time.Time `json:"last_activity"`
	IdleSeconds      int64     `json:"idle_seconds"`
	TimeoutSeconds   int64     `json:"timeout_seconds"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// Snapshot is a point-in-time view of the tracker.
type Snapshot struct {
	Running               bool          `json:"running"`
	CheckIntervalSeconds  int64         `json:"check_interval_seconds"`
	DefaultTimeoutSeconds int64         `json:"default_timeout_seconds"`
	Apps                  []AppActivity `json:"apps"`
}

// Tracker watches per-app activity timestamps and shuts down apps that
// have been idle past their timeout.
//
// Activity is whatever callers say it is: API requests record it, app
// starts record it. The tracker itself seeds a timestamp the first time
// it observes an app running, so an app started outside warden still
// gets the full timeout before being considered idle.
type Tracker struct {
	cfg    Config
	ctl    AppController
	logger Logger

	mu         sync.Mutex
	seen       map[string]time.Time
	timeouts   map[string]time.Duration
	onIdleStop func(IdleStop)
	sampler    func(st supervisor.Status, idle time.Duration)

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Tracker.
//
// Parameters:
//   - cfg: Tracker settings (zero values take defaults)
//   - ctl: Controller used to list running apps and stop idle ones
//
// Returns:
//   - *Tracker: Ready tracker (not yet sweeping; call Start)
//   - error: If ctl is nil
func New(cfg Config, ctl AppController) (*Tracker, error) {
	if ctl == nil {
		return nil, fmt.Errorf("app controller is required")
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultIdleTimeout
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}

	return &Tracker{
		cfg:      cfg,
		ctl:      ctl,
		logger:   noopLogger{},
		seen:     make(map[string]time.Time),
		timeouts: make(map[string]time.Duration),
	}, nil
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// SetIdleStopCallback registers a function invoked after each
// successful idle shutdown. Set before Start.
func (t *Tracker) SetIdleStopCallback(fn func(IdleStop)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onIdleStop = fn
}

// SetSampler registers a function invoked once per sweep for every
// running app, carrying its status and current idle duration. Set
// before Start.
func (t *Tracker) SetSampler(fn func(st supervisor.Status, idle time.Duration)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sampler = fn
}

// Record marks an app as active now, resetting its idle clock.
func (t *Tracker) Record(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[id] = time.Now()
}

// SetTimeout overrides the idle timeout for one app. A non-positive
// duration removes the override, returning the app to the default.
func (t *Tracker) SetTimeout(id string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d <= 0 {
		delete(t.timeouts, id)
		return
	}
	t.timeouts[id] = d
}

// IdleTime reports how long an app has been idle. The second return is
// false when the app has never been observed.
func (t *Tracker) IdleTime(id string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.seen[id]
	if !ok {
		return 0, false
	}
	return time.Since(last), true
}

// effectiveTimeout returns the idle timeout in force for an app.
// Caller must hold t.mu.
func (t *Tracker) effectiveTimeout(id string) time.Duration {
	if d, ok := t.timeouts[id]; ok {
		return d
	}
	return t.cfg.DefaultTimeout
}

// Status returns a snapshot of tracked apps and loop settings, apps
// sorted by ID.
func (t *Tracker) Status() Snapshot {
	t.runMu.Lock()
	running := t.running
	t.runMu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	apps := make([]AppActivity, 0, len(t.seen))
	for id, last := range t.seen {
		timeout := t.effectiveTimeout(id)
		idle := now.Sub(last)
		remaining := timeout - idle
		if remaining < 0 {
			remaining = 0
		}
		apps = append(apps, AppActivity{
			AppID:            id,
			LastActivity:     last,
			IdleSeconds:      int64(idle.Seconds()),
			TimeoutSeconds:   int64(timeout.Seconds()),
			RemainingSeconds: int64(remaining.Seconds()),
		})
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].AppID < apps[j].AppID })

	return Snapshot{
		Running:               running,
		CheckIntervalSeconds:  int64(t.cfg.CheckInterval.Seconds()),
		DefaultTimeoutSeconds: int64(t.cfg.DefaultTimeout.Seconds()),
		Apps:                  apps,
	}
}

// ─── Sweep Loop ───────────────────────────────────────────────────────────

// Start launches the background sweep loop. At most one loop runs;
// starting a running tracker is an error.
func (t *Tracker) Start(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.running {
		return fmt.Errorf("activity tracker already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true

	go t.loop(loopCtx)

	t.logger.Info("activity tracker started",
		"check_interval", t.cfg.CheckInterval,
		"default_timeout", t.cfg.DefaultTimeout,
	)
	return nil
}

// Close stops the sweep loop and waits for it to exit, bounded by the
// join timeout. Closing a stopped tracker is a no-op.
func (t *Tracker) Close() error {
	t.runMu.Lock()
	if !t.running {
		t.runMu.Unlock()
		return nil
	}
	t.cancel()
	done := t.done
	t.running = false
	t.runMu.Unlock()

	select {
	case <-done:
		t.logger.Info("activity tracker stopped")
		return nil
	case <-time.After(t.cfg.JoinTimeout):
		return fmt.Errorf("activity tracker did not stop within %s", t.cfg.JoinTimeout)
	}
}

// loop sweeps on every tick until the context is cancelled.
func (t *Tracker) loop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// sweep inspects every running app once: seeds activity for apps seen
// for the first time, stops apps idle past their timeout, and drops
// records of apps that are no longer running.
func (t *Tracker) sweep(ctx context.Context) {
	statuses, err := t.ctl.RunningStatuses(ctx)
	if err != nil {
		t.logger.Warn("idle sweep could not list running apps", "error", err)
		return
	}

	now := time.Now()
	running := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		running[st.ID] = true
		t.checkApp(ctx, st, now)
	}

	t.mu.Lock()
	for id := range t.seen {
		if !running[id] {
			delete(t.seen, id)
			t.logger.Debug("dropping activity record for stopped app", "app", id)
		}
	}
	t.mu.Unlock()
}

// checkApp evaluates one running app. Panics are contained here so a
// misbehaving callback cannot take down the sweep loop for every app.
func (t *Tracker) checkApp(ctx context.Context, st supervisor.Status, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("idle check panicked", "app", st.ID, "panic", r)
		}
	}()

	t.mu.Lock()
	last, seen := t.seen[st.ID]
	if !seen {
		t.seen[st.ID] = now
	}
	timeout := t.effectiveTimeout(st.ID)
	sampler := t.sampler
	onIdleStop := t.onIdleStop
	t.mu.Unlock()

	var idle time.Duration
	if seen {
		idle = now.Sub(last)
	}
	if sampler != nil {
		sampler(st, idle)
	}

	if !seen {
		t.logger.Debug("tracking newly observed app", "app", st.ID, "timeout", timeout)
		return
	}
	if idle < timeout {
		return
	}

	t.logger.Info("app idle past timeout, shutting down",
		"app", st.ID,
		"idle", idle.Round(time.Second),
		"timeout", timeout,
	)

	res, err := t.ctl.Stop(ctx, st.ID)
	if err != nil {
		// Keep the record: the next sweep retries the shutdown.
		t.logger.Error("idle shutdown failed", "app", st.ID, "error", err)
		return
	}

	t.mu.Lock()
	delete(t.seen, st.ID)
	t.mu.Unlock()

	t.logger.Info("app stopped after idle timeout",
		"app", st.ID,
		"pid", res.PID,
		"forced", res.Forced,
	)

	if onIdleStop != nil {
		onIdleStop(IdleStop{
			AppID:  st.ID,
			PID:    res.PID,
			Forced: res.Forced,
			Idle:   idle,
		})
	}
}
