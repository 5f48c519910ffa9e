package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/warden/internal/activity"
	"github.com/nerrad567/warden/internal/history"
	"github.com/nerrad567/warden/internal/infrastructure/config"
	"github.com/nerrad567/warden/internal/infrastructure/logging"
	"github.com/nerrad567/warden/internal/registry"
	"github.com/nerrad567/warden/internal/supervisor"
)

// ─── Test Fixtures ─────────────────────────────────────────────────

// writeAppsFile writes a two-app registry file into a temp dir and
// returns its path. App dirs are real so descriptor paths stay valid.
func writeAppsFile(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	dashDir := filepath.Join(dir, "dashboard")
	repDir := filepath.Join(dir, "reports")
	for _, d := range []string{dashDir, repDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}

	content := fmt.Sprintf(`apps:
  - id: dashboard
    name: Dashboard
    dir: %s
    entry: app.py
    port: 8100
    idle_timeout_minutes: 15
  - id: reports
    name: Reports
    dir: %s
    entry: main.py
    port: 8200
`, dashDir, repDir)

	path := filepath.Join(dir, "apps.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write apps file: %v", err)
	}
	return path
}

// mockManager is an AppManager with in-memory state and error injection.
type mockManager struct {
	mu       sync.Mutex
	order    []string
	statuses map[string]supervisor.Status
	urls     map[string]string

	startErr   error
	stopErr    error
	restartErr error
	healthErr  error
	logsErr    error

	healthResult *supervisor.HealthResult
	logsResult   *supervisor.LogsResult

	stopCalls []string
}

func newMockManager() *mockManager {
	return &mockManager{
		statuses: make(map[string]supervisor.Status),
		urls:     make(map[string]string),
	}
}

func (m *mockManager) addApp(id, url string, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := supervisor.Status{ID: id, Liveness: supervisor.LivenessDead}
	if running {
		st.Liveness = supervisor.LivenessAlive
		st.Running = true
		st.PID = 4000 + len(m.order)
		st.PortOpen = true
	}
	m.order = append(m.order, id)
	m.statuses[id] = st
	m.urls[id] = url
}

func (m *mockManager) Status(id string) (supervisor.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.statuses[id]
	if !ok {
		return supervisor.Status{}, fmt.Errorf("%w: %s", supervisor.ErrNotFound, id)
	}
	return st, nil
}

func (m *mockManager) Statuses(_ context.Context) ([]supervisor.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]supervisor.Status, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.statuses[id])
	}
	return out, nil
}

func (m *mockManager) RunningStatuses(_ context.Context) ([]supervisor.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []supervisor.Status
	for _, id := range m.order {
		if st := m.statuses[id]; st.Running {
			out = append(out, st)
		}
	}
	return out, nil
}

func (m *mockManager) Start(_ context.Context, id string) (*supervisor.StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return nil, m.startErr
	}
	st, ok := m.statuses[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", supervisor.ErrNotFound, id)
	}
	if st.Running {
		return &supervisor.StartResult{
			ID: id, PID: st.PID, AlreadyRunning: true, URL: m.urls[id], PortConfirmed: true,
		}, nil
	}

	st.Running = true
	st.Liveness = supervisor.LivenessAlive
	st.PID = 4242
	st.PortOpen = true
	m.statuses[id] = st
	return &supervisor.StartResult{ID: id, PID: 4242, URL: m.urls[id], PortConfirmed: true}, nil
}

func (m *mockManager) Stop(_ context.Context, id string) (*supervisor.StopResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopCalls = append(m.stopCalls, id)
	if m.stopErr != nil {
		return nil, m.stopErr
	}
	st, ok := m.statuses[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", supervisor.ErrNotFound, id)
	}
	if !st.Running {
		return &supervisor.StopResult{ID: id, AlreadyStopped: true}, nil
	}

	pid := st.PID
	st.Running = false
	st.Liveness = supervisor.LivenessDead
	st.PID = 0
	st.PortOpen = false
	m.statuses[id] = st
	return &supervisor.StopResult{ID: id, PID: pid}, nil
}

func (m *mockManager) Restart(_ context.Context, id string) (*supervisor.RestartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.restartErr != nil {
		return nil, m.restartErr
	}
	st, ok := m.statuses[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", supervisor.ErrNotFound, id)
	}

	prevPID := st.PID
	wasRunning := st.Running
	st.Running = true
	st.Liveness = supervisor.LivenessAlive
	st.PID = 4343
	st.PortOpen = true
	m.statuses[id] = st
	return &supervisor.RestartResult{
		ID: id, PID: 4343, PreviousPID: prevPID, WasRunning: wasRunning, URL: m.urls[id],
	}, nil
}

func (m *mockManager) HealthCheck(_ context.Context, id string) (*supervisor.HealthResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.healthErr != nil {
		return nil, m.healthErr
	}
	if m.healthResult != nil {
		return m.healthResult, nil
	}
	st, ok := m.statuses[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", supervisor.ErrNotFound, id)
	}
	res := &supervisor.HealthResult{ID: id, Running: st.Running, Healthy: st.Running}
	if !st.Running {
		res.Reason = "not running"
	}
	return res, nil
}

func (m *mockManager) Logs(id, stream string, _ int) (*supervisor.LogsResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.logsErr != nil {
		return nil, m.logsErr
	}
	if _, ok := m.statuses[id]; !ok {
		return nil, fmt.Errorf("%w: %s", supervisor.ErrNotFound, id)
	}
	if stream == "" {
		stream = "stdout"
	}
	if stream != "stdout" && stream != "stderr" {
		return nil, fmt.Errorf("%w: stream must be stdout or stderr", supervisor.ErrValidation)
	}
	if m.logsResult != nil {
		return m.logsResult, nil
	}
	return &supervisor.LogsResult{
		ID: id, Stream: stream, Exists: true, Lines: []string{"line one", "line two"},
	}, nil
}

func (m *mockManager) URL(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	url, ok := m.urls[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", supervisor.ErrNotFound, id)
	}
	return url, nil
}

// mockJournal is an in-memory history.Repository with error injection.
type mockJournal struct {
	mu        sync.Mutex
	events    []history.Event
	appendErr error
	listErr   error
}

func (j *mockJournal) Append(_ context.Context, event *history.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.appendErr != nil {
		return j.appendErr
	}
	if event.ID == "" {
		event.ID = fmt.Sprintf("evt-%04d", len(j.events)+1)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	j.events = append(j.events, *event)
	return nil
}

func (j *mockJournal) List(_ context.Context, filter history.Filter) (*history.ListResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.listErr != nil {
		return nil, j.listErr
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	// Newest first.
	var matched []history.Event
	for i := len(j.events) - 1; i >= 0; i-- {
		e := j.events[i]
		if filter.AppID != "" && e.AppID != filter.AppID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	if filter.Offset >= len(matched) {
		matched = nil
	} else {
		matched = matched[filter.Offset:]
	}
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return &history.ListResult{Events: matched, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (j *mockJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

func (j *mockJournal) last() (history.Event, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.events) == 0 {
		return history.Event{}, false
	}
	return j.events[len(j.events)-1], true
}

// testServer creates a Server with a real registry file, a mock
// supervisor, an unstarted tracker, and an in-memory journal.
func testServer(t *testing.T) (*Server, *mockManager, *mockJournal) {
	t.Helper()
	return buildTestServer(t, true)
}

// testServerNoTracker creates a Server with the idle scheduler disabled.
func testServerNoTracker(t *testing.T) (*Server, *mockManager, *mockJournal) {
	t.Helper()
	return buildTestServer(t, false)
}

func buildTestServer(t *testing.T, withTracker bool) (*Server, *mockManager, *mockJournal) {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	reg := registry.New(writeAppsFile(t))
	if err := reg.Load(); err != nil {
		t.Fatalf("registry.Load: %v", err)
	}

	mgr := newMockManager()
	mgr.addApp("dashboard", "http://127.0.0.1:8100", false)
	mgr.addApp("reports", "http://127.0.0.1:8200", false)

	journal := &mockJournal{}

	var tracker *activity.Tracker
	if withTracker {
		var err error
		tracker, err = activity.New(activity.Config{
			CheckInterval:  time.Minute,
			DefaultTimeout: 30 * time.Minute,
		}, mgr)
		if err != nil {
			t.Fatalf("activity.New: %v", err)
		}
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:     log,
		Registry:   reg,
		Supervisor: mgr,
		Tracker:    tracker,
		Journal:    journal,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Initialise hub for tests that exercise broadcast paths
	srv.hub = NewHub(srv.wsCfg, log)
	go srv.hub.Run(context.Background())

	return srv, mgr, journal
}

// doRequest runs a request through the server's router and decodes the
// JSON response body into a map.
func doRequest(t *testing.T, srv *Server, method, path string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	var body map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal %s %s response: %v (body %q)", method, path, err, w.Body.String())
		}
	}
	return w.Code, body
}

// ─── Server Lifecycle Tests ────────────────────────────────────────

func TestNewRequiresDependencies(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	reg := registry.New(writeAppsFile(t))
	if err := reg.Load(); err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	mgr := newMockManager()
	journal := &mockJournal{}

	valid := func() Deps {
		return Deps{Logger: log, Registry: reg, Supervisor: mgr, Journal: journal}
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
		want   string
	}{
		{"missing logger", func(d *Deps) { d.Logger = nil }, "logger"},
		{"missing registry", func(d *Deps) { d.Registry = nil }, "registry"},
		{"missing supervisor", func(d *Deps) { d.Supervisor = nil }, "supervisor"},
		{"missing journal", func(d *Deps) { d.Journal = nil }, "journal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := valid()
			tt.mutate(&deps)
			_, err := New(deps)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want mention of %q", err, tt.want)
			}
		})
	}

	// All present: no error, tracker and recorder stay optional.
	if _, err := New(valid()); err != nil {
		t.Errorf("New() with valid deps: %v", err)
	}
}

func TestHealthCheckBeforeStart(t *testing.T) {
	srv, _, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("expected error before Start, got nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context error = %v, want context.Canceled", err)
	}
}

func TestCloseWithoutStart(t *testing.T) {
	srv, _, _ := testServer(t)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start = %v, want nil", err)
	}
}

// ─── Health & System Endpoint Tests ────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/health")
	if code != http.StatusOK {
		t.Errorf("health status = %d, want %d", code, http.StatusOK)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if _, ok := resp["uptime_seconds"]; !ok {
		t.Error("response missing uptime_seconds")
	}
}

func TestSystemInfo(t *testing.T) {
	srv, mgr, _ := testServer(t)

	// One running app out of two.
	if _, err := mgr.Start(context.Background(), "dashboard"); err != nil {
		t.Fatalf("mock start: %v", err)
	}

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/system/info")
	if code != http.StatusOK {
		t.Fatalf("system info status = %d, want %d", code, http.StatusOK)
	}
	if resp["name"] != "warden" {
		t.Errorf("name = %v, want warden", resp["name"])
	}

	apps, ok := resp["apps"].(map[string]any)
	if !ok {
		t.Fatalf("apps is not an object: %T", resp["apps"])
	}
	if apps["total"] != float64(2) {
		t.Errorf("apps.total = %v, want 2", apps["total"])
	}
	if apps["running"] != float64(1) {
		t.Errorf("apps.running = %v, want 1", apps["running"])
	}
	if apps["stopped"] != float64(1) {
		t.Errorf("apps.stopped = %v, want 1", apps["stopped"])
	}

	if resp["scheduler_enabled"] != true {
		t.Errorf("scheduler_enabled = %v, want true", resp["scheduler_enabled"])
	}
}

func TestMetrics(t *testing.T) {
	srv, _, _ := testServer(t)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", code, http.StatusOK)
	}

	rt, ok := resp["runtime"].(map[string]any)
	if !ok {
		t.Fatalf("runtime is not an object: %T", resp["runtime"])
	}
	if goroutines, _ := rt["goroutines"].(float64); goroutines <= 0 {
		t.Errorf("goroutines = %v, want > 0", rt["goroutines"])
	}

	apps, ok := resp["apps"].(map[string]any)
	if !ok {
		t.Fatalf("apps is not an object: %T", resp["apps"])
	}
	if apps["total"] != float64(2) {
		t.Errorf("apps.total = %v, want 2", apps["total"])
	}

	sched, ok := resp["scheduler"].(map[string]any)
	if !ok {
		t.Fatalf("scheduler is not an object: %T", resp["scheduler"])
	}
	if sched["enabled"] != true {
		t.Errorf("scheduler.enabled = %v, want true", sched["enabled"])
	}

	if _, ok := resp["database"]; !ok {
		t.Error("response missing database section")
	}
}

func TestSystemReload(t *testing.T) {
	srv, _, journal := testServer(t)

	code, resp := doRequest(t, srv, http.MethodPost, "/api/v1/system/reload")
	if code != http.StatusOK {
		t.Fatalf("reload status = %d, want %d", code, http.StatusOK)
	}
	if resp["apps"] != float64(2) {
		t.Errorf("apps = %v, want 2", resp["apps"])
	}

	evt, ok := journal.last()
	if !ok {
		t.Fatal("no journal event recorded")
	}
	if evt.Action != history.ActionReload || evt.Outcome != history.OutcomeOK {
		t.Errorf("event = %s/%s, want reload/ok", evt.Action, evt.Outcome)
	}
}

func TestSystemReloadFailureKeepsOldRegistry(t *testing.T) {
	srv, _, journal := testServer(t)

	// Corrupt the apps file, then reload.
	if err := os.WriteFile(srv.registry.Path(), []byte("apps: ["), 0o644); err != nil {
		t.Fatalf("corrupt apps file: %v", err)
	}

	code, resp := doRequest(t, srv, http.MethodPost, "/api/v1/system/reload")
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("reload status = %d, want %d", code, http.StatusUnprocessableEntity)
	}
	if resp["code"] != ErrCodeConfiguration {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeConfiguration)
	}

	evt, ok := journal.last()
	if !ok {
		t.Fatal("no journal event recorded")
	}
	if evt.Action != history.ActionReload || evt.Outcome != history.OutcomeFailed {
		t.Errorf("event = %s/%s, want reload/failed", evt.Action, evt.Outcome)
	}

	// Previous registry still serves.
	code, resp = doRequest(t, srv, http.MethodGet, "/api/v1/apps")
	if code != http.StatusOK {
		t.Fatalf("apps status after failed reload = %d, want %d", code, http.StatusOK)
	}
	if resp["count"] != float64(2) {
		t.Errorf("count = %v, want 2", resp["count"])
	}
}

// ─── App Endpoint Tests ────────────────────────────────────────────

func TestListApps(t *testing.T) {
	srv, mgr, _ := testServer(t)

	if _, err := mgr.Start(context.Background(), "dashboard"); err != nil {
		t.Fatalf("mock start: %v", err)
	}

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/apps")
	if code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", code, http.StatusOK)
	}
	if resp["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", resp["count"])
	}

	apps, ok := resp["apps"].([]any)
	if !ok || len(apps) != 2 {
		t.Fatalf("apps = %v, want slice of 2", resp["apps"])
	}

	first, ok := apps[0].(map[string]any)
	if !ok {
		t.Fatalf("apps[0] is not an object: %T", apps[0])
	}
	if first["id"] != "dashboard" {
		t.Errorf("apps[0].id = %v, want dashboard", first["id"])
	}
	if first["url"] != "http://127.0.0.1:8100" {
		t.Errorf("apps[0].url = %v, want http://127.0.0.1:8100", first["url"])
	}

	status, ok := first["status"].(map[string]any)
	if !ok {
		t.Fatalf("apps[0].status is not an object: %T", first["status"])
	}
	if status["running"] != true {
		t.Errorf("apps[0].status.running = %v, want true", status["running"])
	}
	if status["liveness"] != "alive" {
		t.Errorf("apps[0].status.liveness = %v, want alive", status["liveness"])
	}
}

func TestGetApp(t *testing.T) {
	srv, _, _ := testServer(t)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/apps/dashboard")
	if code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", code, http.StatusOK)
	}
	if resp["id"] != "dashboard" {
		t.Errorf("id = %v, want dashboard", resp["id"])
	}
	if resp["name"] != "Dashboard" {
		t.Errorf("name = %v, want Dashboard", resp["name"])
	}
	if resp["port"] != float64(8100) {
		t.Errorf("port = %v, want 8100", resp["port"])
	}

	status, ok := resp["status"].(map[string]any)
	if !ok {
		t.Fatalf("status is not an object: %T", resp["status"])
	}
	if status["liveness"] != "dead" {
		t.Errorf("status.liveness = %v, want dead", status["liveness"])
	}
}

func TestGetAppNotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/apps/nope")
	if code != http.StatusNotFound {
		t.Fatalf("get status = %d, want %d", code, http.StatusNotFound)
	}
	if resp["code"] != ErrCodeNotFound {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeNotFound)
	}
}

func TestStartApp(t *testing.T) {
	srv, _, journal := testServer(t)

	code, resp := doRequest(t, srv, http.MethodPost, "/api/v1/apps/dashboard/start")
	if code != http.StatusOK {
		t.Fatalf("start status = %d, want %d", code, http.StatusOK)
	}
	if resp["pid"] != float64(4242) {
		t.Errorf("pid = %v, want 4242", resp["pid"])
	}
	if resp["already_running"] != false {
		t.Errorf("already_running = %v, want false", resp["already_running"])
	}
	if resp["url"] != "http://127.0.0.1:8100" {
		t.Errorf("url = %v, want http://127.0.0.1:8100", resp["url"])
	}

	evt, ok := journal.last()
	if !ok {
		t.Fatal("no journal event recorded")
	}
	if evt.Action != history.ActionStart || evt.Outcome != history.OutcomeOK {
		t.Errorf("event = %s/%s, want start/ok", evt.Action, evt.Outcome)
	}
	if evt.PID != 4242 {
		t.Errorf("event pid = %d, want 4242", evt.PID)
	}

	// Activity is recorded on start so the idle clock begins now.
	if _, ok := srv.tracker.IdleTime("dashboard"); !ok {
		t.Error("start did not record activity for dashboard")
	}
}

func TestStartAppAlreadyRunning(t *testing.T) {
	srv, mgr, journal := testServer(t)

	if _, err := mgr.Start(context.Background(), "dashboard"); err != nil {
		t.Fatalf("mock start: %v", err)
	}

	code, resp := doRequest(t, srv, http.MethodPost, "/api/v1/apps/dashboard/start")
	if code != http.StatusOK {
		t.Fatalf("start status = %d, want %d", code, http.StatusOK)
	}
	if resp["already_running"] != true {
		t.Errorf("already_running = %v, want true", resp["already_running"])
	}

	evt, ok := journal.last()
	if !ok {
		t.Fatal("no journal event recorded")
	}
	if evt.Detail != "already running" {
		t.Errorf("event detail = %q, want %q", evt.Detail, "already running")
	}
}

func TestStartAppFailure(t *testing.T) {
	srv, mgr, journal := testServer(t)
	mgr.startErr = &supervisor.StartError{
		AppID:    "dashboard",
		ExitCode: 3,
		Stderr:   []string{"Traceback (most recent call last):", "ModuleNotFoundError: No module named 'flask'"},
	}

	code, resp := doRequest(t, srv, http.MethodPost, "/api/v1/apps/dashboard/start")
	if code != http.StatusBadGateway {
		t.Fatalf("start status = %d, want %d", code, http.StatusBadGateway)
	}
	if resp["code"] != ErrCodeStartFailure {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeStartFailure)
	}
	msg, _ := resp["message"].(string)
	if !strings.Contains(msg, "exit code 3") {
		t.Errorf("message %q missing exit code", msg)
	}
	if !strings.Contains(msg, "ModuleNotFoundError") {
		t.Errorf("message %q missing stderr tail", msg)
	}

	evt, ok := journal.last()
	if !ok {
		t.Fatal("no journal event recorded")
	}
	if evt.Action != history.ActionStart || evt.Outcome != history.OutcomeFailed {
		t.Errorf("event = %s/%s, want start/failed", evt.Action, evt.Outcome)
	}
}

func TestStartAppConfigurationError(t *testing.T) {
	srv, mgr, _ := testServer(t)
	mgr.startErr = fmt.Errorf("%w: entry file missing", supervisor.ErrConfiguration)

	code, resp := doRequest(t, srv, http.MethodPost, "/api/v1/apps/dashboard/start")
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("start status = %d, want %d", code, http.StatusUnprocessableEntity)
	}
	if resp["code"] != ErrCodeConfiguration {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeConfiguration)
	}
}

func TestStartAppNotFoundNotJournaled(t *testing.T) {
	srv, _, journal := testServer(t)

	code, _ := doRequest(t, srv, http.MethodPost, "/api/v1/apps/nope/start")
	if code != http.StatusNotFound {
		t.Fatalf("start status = %d, want %d", code, http.StatusNotFound)
	}
	if journal.count() != 0 {
		t.Errorf("journal events = %d, want 0 for unknown app", journal.count())
	}
}

func TestStopApp(t *testing.T) {
	srv, mgr, journal := testServer(t)

	if _, err := mgr.Start(context.Background(), "dashboard"); err != nil {
		t.Fatalf("mock start: %v", err)
	}

	code, resp := doRequest(t, srv, http.MethodPost, "/api/v1/apps/dashboard/stop")
	if code != http.StatusOK {
		t.Fatalf("stop status = %d, want %d", code, http.StatusOK)
	}
	if resp["already_stopped"] != false {
		t.Errorf("already_stopped = %v, want false", resp["already_stopped"])
	}

	evt, ok := journal.last()
	if !ok {
		t.Fatal("no journal event recorded")
	}
	if evt.Action != history.ActionStop || evt.Outcome != history.OutcomeOK {
		t.Errorf("event = %s/%s, want stop/ok", evt.Action, evt.Outcome)
	}
}

func TestStopAppAlreadyStopped(t *testing.T) {
	srv, _, _ := testServer(t)

	code, resp := doRequest(t, srv, http.MethodPost, "/api/v1/apps/dashboard/stop")
	if code != http.StatusOK {
		t.Fatalf("stop status = %d, want %d", code, http.StatusOK)
	}
	if resp["already_stopped"] != true {
		t.Errorf("already_stopped = %v, want true", resp["already_stopped"])
	}
}

func TestStopAppPermissionError(t *testing.T) {
	srv, mgr, _ := testServer(t)
	mgr.stopErr = fmt.Errorf("%w: pid 123", supervisor.ErrPermission)

	code, resp := doRequest(t, srv, http.MethodPost, "/api/v1/apps/dashboard/stop")
	if code != http.StatusInternalServerError {
		t.Fatalf("stop status = %d, want %d", code, http.StatusInternalServerError)
	}
	if resp["code"] != ErrCodePermission {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodePermission)
	}
}

func TestRestartApp(t *testing.T) {
	srv, mgr, journal := testServer(t)

	if _, err := mgr.Start(context.Background(), "dashboard"); err != nil {
		t.Fatalf("mock start: %v", err)
	}

	code, resp := doRequest(t, srv, http.MethodPost, "/api/v1/apps/dashboard/restart")
	if code != http.StatusOK {
		t.Fatalf("restart status = %d, want %d", code, http.StatusOK)
	}
	if resp["pid"] != float64(4343) {
		t.Errorf("pid = %v, want 4343", resp["pid"])
	}
	if resp["was_running"] != true {
		t.Errorf("was_running = %v, want true", resp["was_running"])
	}
	if resp["previous_pid"] != float64(4242) {
		t.Errorf("previous_pid = %v, want 4242", resp["previous_pid"])
	}

	evt, ok := journal.last()
	if !ok {
		t.Fatal("no journal event recorded")
	}
	if evt.Action != history.ActionRestart || evt.Outcome != history.OutcomeOK {
		t.Errorf("event = %s/%s, want restart/ok", evt.Action, evt.Outcome)
	}
}

func TestAppLogs(t *testing.T) {
	srv, _, _ := testServer(t)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/apps/dashboard/logs")
	if code != http.StatusOK {
		t.Fatalf("logs status = %d, want %d", code, http.StatusOK)
	}
	if resp["stream"] != "stdout" {
		t.Errorf("stream = %v, want stdout", resp["stream"])
	}
	lines, ok := resp["lines"].([]any)
	if !ok || len(lines) != 2 {
		t.Errorf("lines = %v, want 2 entries", resp["lines"])
	}
}

func TestAppLogsStderr(t *testing.T) {
	srv, _, _ := testServer(t)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/apps/dashboard/logs?stream=stderr&lines=50")
	if code != http.StatusOK {
		t.Fatalf("logs status = %d, want %d", code, http.StatusOK)
	}
	if resp["stream"] != "stderr" {
		t.Errorf("stream = %v, want stderr", resp["stream"])
	}
}

func TestAppLogsBadLines(t *testing.T) {
	srv, _, _ := testServer(t)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/apps/dashboard/logs?lines=abc")
	if code != http.StatusBadRequest {
		t.Fatalf("logs status = %d, want %d", code, http.StatusBadRequest)
	}
	if resp["code"] != ErrCodeBadRequest {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeBadRequest)
	}
}

func TestAppLogsBadStream(t *testing.T) {
	srv, _, _ := testServer(t)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/apps/dashboard/logs?stream=syslog")
	if code != http.StatusBadRequest {
		t.Fatalf("logs status = %d, want %d", code, http.StatusBadRequest)
	}
	if resp["code"] != ErrCodeValidation {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeValidation)
	}
}

func TestAppHealth(t *testing.T) {
	srv, mgr, _ := testServer(t)

	if _, err := mgr.Start(context.Background(), "dashboard"); err != nil {
		t.Fatalf("mock start: %v", err)
	}

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/apps/dashboard/health")
	if code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", code, http.StatusOK)
	}
	if resp["healthy"] != true {
		t.Errorf("healthy = %v, want true", resp["healthy"])
	}
}

func TestAppHealthNotRunning(t *testing.T) {
	srv, _, _ := testServer(t)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/apps/dashboard/health")
	if code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", code, http.StatusOK)
	}
	if resp["healthy"] != false {
		t.Errorf("healthy = %v, want false", resp["healthy"])
	}
	if resp["reason"] != "not running" {
		t.Errorf("reason = %v, want %q", resp["reason"], "not running")
	}
}

func TestRecordActivity(t *testing.T) {
	srv, _, journal := testServer(t)

	code, resp := doRequest(t, srv, http.MethodPost, "/api/v1/apps/dashboard/activity")
	if code != http.StatusOK {
		t.Fatalf("activity status = %d, want %d", code, http.StatusOK)
	}
	if resp["recorded"] != true {
		t.Errorf("recorded = %v, want true", resp["recorded"])
	}

	if _, ok := srv.tracker.IdleTime("dashboard"); !ok {
		t.Error("tracker has no activity entry for dashboard")
	}

	evt, ok := journal.last()
	if !ok {
		t.Fatal("no journal event recorded")
	}
	if evt.Action != history.ActionActivity {
		t.Errorf("event action = %s, want activity", evt.Action)
	}
}

func TestRecordActivityUnknownApp(t *testing.T) {
	srv, _, journal := testServer(t)

	code, _ := doRequest(t, srv, http.MethodPost, "/api/v1/apps/nope/activity")
	if code != http.StatusNotFound {
		t.Fatalf("activity status = %d, want %d", code, http.StatusNotFound)
	}
	if journal.count() != 0 {
		t.Errorf("journal events = %d, want 0", journal.count())
	}
}

func TestAppURL(t *testing.T) {
	srv, _, _ := testServer(t)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/apps/reports/url")
	if code != http.StatusOK {
		t.Fatalf("url status = %d, want %d", code, http.StatusOK)
	}
	if resp["url"] != "http://127.0.0.1:8200" {
		t.Errorf("url = %v, want http://127.0.0.1:8200", resp["url"])
	}

	// Fetching the URL counts as activity.
	if _, ok := srv.tracker.IdleTime("reports"); !ok {
		t.Error("url fetch did not record activity for reports")
	}
}

func TestAppURLNotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	code, _ := doRequest(t, srv, http.MethodGet, "/api/v1/apps/nope/url")
	if code != http.StatusNotFound {
		t.Fatalf("url status = %d, want %d", code, http.StatusNotFound)
	}
}

// ─── Scheduler Endpoint Tests ──────────────────────────────────────

func TestSchedulerStatus(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.tracker.Record("dashboard")

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/scheduler/status")
	if code != http.StatusOK {
		t.Fatalf("scheduler status = %d, want %d", code, http.StatusOK)
	}
	if resp["enabled"] != true {
		t.Errorf("enabled = %v, want true", resp["enabled"])
	}
	if resp["running"] != false {
		t.Errorf("running = %v, want false (sweep loop not started)", resp["running"])
	}
	if resp["default_timeout_seconds"] != float64(1800) {
		t.Errorf("default_timeout_seconds = %v, want 1800", resp["default_timeout_seconds"])
	}

	apps, ok := resp["apps"].([]any)
	if !ok || len(apps) != 1 {
		t.Fatalf("apps = %v, want 1 tracked app", resp["apps"])
	}
	entry, _ := apps[0].(map[string]any)
	if entry["app_id"] != "dashboard" {
		t.Errorf("apps[0].app_id = %v, want dashboard", entry["app_id"])
	}
}

func TestSchedulerStatusDisabled(t *testing.T) {
	srv, _, _ := testServerNoTracker(t)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/scheduler/status")
	if code != http.StatusOK {
		t.Fatalf("scheduler status = %d, want %d", code, http.StatusOK)
	}
	if resp["enabled"] != false {
		t.Errorf("enabled = %v, want false", resp["enabled"])
	}
}

func TestActivityEndpointsWithSchedulerDisabled(t *testing.T) {
	srv, _, _ := testServerNoTracker(t)

	code, resp := doRequest(t, srv, http.MethodPost, "/api/v1/apps/dashboard/activity")
	if code != http.StatusOK {
		t.Fatalf("activity status = %d, want %d", code, http.StatusOK)
	}
	if resp["recorded"] != false {
		t.Errorf("recorded = %v, want false without tracker", resp["recorded"])
	}
}

// ─── Event Journal Endpoint Tests ──────────────────────────────────

func seedJournal(t *testing.T, journal *mockJournal) {
	t.Helper()

	events := []history.Event{
		{AppID: "dashboard", Action: history.ActionStart, Outcome: history.OutcomeOK, PID: 101},
		{AppID: "reports", Action: history.ActionStart, Outcome: history.OutcomeOK, PID: 102},
		{AppID: "dashboard", Action: history.ActionIdleStop, Outcome: history.OutcomeOK, PID: 101},
	}
	for i := range events {
		if err := journal.Append(context.Background(), &events[i]); err != nil {
			t.Fatalf("seed journal: %v", err)
		}
	}
}

func TestListEvents(t *testing.T) {
	srv, _, journal := testServer(t)
	seedJournal(t, journal)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/events")
	if code != http.StatusOK {
		t.Fatalf("events status = %d, want %d", code, http.StatusOK)
	}
	if resp["total"] != float64(3) {
		t.Errorf("total = %v, want 3", resp["total"])
	}

	events, ok := resp["events"].([]any)
	if !ok || len(events) != 3 {
		t.Fatalf("events = %v, want 3 entries", resp["events"])
	}

	// Newest first: the idle_stop seeded last comes back first.
	first, _ := events[0].(map[string]any)
	if first["action"] != history.ActionIdleStop {
		t.Errorf("events[0].action = %v, want idle_stop", first["action"])
	}
}

func TestListEventsFiltered(t *testing.T) {
	srv, _, journal := testServer(t)
	seedJournal(t, journal)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/events?app=dashboard")
	if code != http.StatusOK {
		t.Fatalf("events status = %d, want %d", code, http.StatusOK)
	}
	if resp["total"] != float64(2) {
		t.Errorf("total = %v, want 2 for app filter", resp["total"])
	}

	code, resp = doRequest(t, srv, http.MethodGet, "/api/v1/events?action=start")
	if code != http.StatusOK {
		t.Fatalf("events status = %d, want %d", code, http.StatusOK)
	}
	if resp["total"] != float64(2) {
		t.Errorf("total = %v, want 2 for action filter", resp["total"])
	}

	code, resp = doRequest(t, srv, http.MethodGet, "/api/v1/events?app=dashboard&action=start&limit=1")
	if code != http.StatusOK {
		t.Fatalf("events status = %d, want %d", code, http.StatusOK)
	}
	if resp["total"] != float64(1) {
		t.Errorf("total = %v, want 1 for combined filter", resp["total"])
	}
}

func TestListEventsBadLimit(t *testing.T) {
	srv, _, _ := testServer(t)

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/events?limit=abc")
	if code != http.StatusBadRequest {
		t.Fatalf("events status = %d, want %d", code, http.StatusBadRequest)
	}
	if resp["code"] != ErrCodeBadRequest {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeBadRequest)
	}
}

func TestListEventsJournalError(t *testing.T) {
	srv, _, journal := testServer(t)
	journal.listErr = errors.New("database is locked")

	code, resp := doRequest(t, srv, http.MethodGet, "/api/v1/events")
	if code != http.StatusInternalServerError {
		t.Fatalf("events status = %d, want %d", code, http.StatusInternalServerError)
	}
	if resp["code"] != ErrCodeInternal {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeInternal)
	}
}

// ─── Event Recording Tests ─────────────────────────────────────────

// captureRecorder collects events passed to Record.
type captureRecorder struct {
	mu     sync.Mutex
	events []history.Event
}

func (c *captureRecorder) Record(_ context.Context, event *history.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *event)
}

func (c *captureRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestRecorderReceivesEvents(t *testing.T) {
	srv, _, journal := testServer(t)
	rec := &captureRecorder{}
	srv.recorder = rec

	code, _ := doRequest(t, srv, http.MethodPost, "/api/v1/apps/dashboard/start")
	if code != http.StatusOK {
		t.Fatalf("start status = %d, want %d", code, http.StatusOK)
	}

	if rec.count() != 1 {
		t.Errorf("recorder events = %d, want 1", rec.count())
	}
	// With a recorder wired, handlers do not write the journal directly.
	if journal.count() != 0 {
		t.Errorf("journal events = %d, want 0 when recorder is set", journal.count())
	}
}

func TestJournalAppendFailureDoesNotFailRequest(t *testing.T) {
	srv, _, journal := testServer(t)
	journal.appendErr = errors.New("disk full")

	code, _ := doRequest(t, srv, http.MethodPost, "/api/v1/apps/dashboard/start")
	if code != http.StatusOK {
		t.Errorf("start status = %d, want %d despite journal failure", code, http.StatusOK)
	}
}

// ─── Error Mapping Tests ───────────────────────────────────────────

func TestWriteSupervisorError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", fmt.Errorf("status: %w", supervisor.ErrNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"validation", fmt.Errorf("logs: %w", supervisor.ErrValidation), http.StatusBadRequest, ErrCodeValidation},
		{"configuration", fmt.Errorf("start: %w", supervisor.ErrConfiguration), http.StatusUnprocessableEntity, ErrCodeConfiguration},
		{"start failure", &supervisor.StartError{AppID: "dashboard", ExitCode: 1, Stderr: []string{"boom"}}, http.StatusBadGateway, ErrCodeStartFailure},
		{"permission", fmt.Errorf("stop: %w", supervisor.ErrPermission), http.StatusInternalServerError, ErrCodePermission},
		{"unknown", errors.New("something odd"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeSupervisorError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			var e Error
			if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if e.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", e.Code, tt.wantCode)
			}
			if e.Status != tt.wantStatus {
				t.Errorf("body status = %d, want %d", e.Status, tt.wantStatus)
			}
		})
	}
}

func TestStartFailureMessageWithoutStderr(t *testing.T) {
	err := &supervisor.StartError{AppID: "dashboard", ExitCode: -1}
	msg := startFailureMessage(err)
	if !strings.Contains(msg, "no stderr output captured") {
		t.Errorf("message %q missing stderr note", msg)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestIDHeader(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	// Provided ID is echoed.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want abc123", got)
	}

	// Missing ID gets generated.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); len(got) != 16 {
		t.Errorf("generated X-Request-ID = %q, want 16 hex chars", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/apps", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q, want http://localhost:3000", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _, _ := testServer(t)

	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	})
	wrapped := srv.recoveryMiddleware(panicky)

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	var e Error
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Code != ErrCodeInternal {
		t.Errorf("code = %s, want %s", e.Code, ErrCodeInternal)
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

// fakeWSClient builds a hub client without a network connection.
func fakeWSClient(hub *Hub, channels ...string) *WSClient {
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 8),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range channels {
		client.subscriptions[ch] = struct{}{}
	}
	return client
}

func testHub(t *testing.T) *Hub {
	t.Helper()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	return NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)
}

func TestHubBroadcastReachesSubscribers(t *testing.T) {
	hub := testHub(t)

	subscribed := fakeWSClient(hub, ChannelAppEvents)
	unsubscribed := fakeWSClient(hub)
	hub.Register(subscribed)
	hub.Register(unsubscribed)

	hub.Broadcast(ChannelAppEvents, map[string]string{"app_id": "dashboard", "action": "start"})

	select {
	case data := <-subscribed.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if msg.Type != WSTypeEvent || msg.EventType != ChannelAppEvents {
			t.Errorf("message = %s/%s, want event/%s", msg.Type, msg.EventType, ChannelAppEvents)
		}
	default:
		t.Error("subscribed client received nothing")
	}

	select {
	case <-unsubscribed.send:
		t.Error("unsubscribed client received a broadcast")
	default:
	}
}

func TestHubPerAppChannel(t *testing.T) {
	hub := testHub(t)

	dashOnly := fakeWSClient(hub, AppEventChannel("dashboard"))
	hub.Register(dashOnly)

	hub.Broadcast(AppEventChannel("reports"), map[string]string{"app_id": "reports"})
	select {
	case <-dashOnly.send:
		t.Error("client got another app's event")
	default:
	}

	hub.Broadcast(AppEventChannel("dashboard"), map[string]string{"app_id": "dashboard"})
	select {
	case <-dashOnly.send:
	default:
		t.Error("client missed its app's event")
	}
}

func TestHubUnregisterTwice(t *testing.T) {
	hub := testHub(t)
	client := fakeWSClient(hub, ChannelAppEvents)

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client) // second call must not close the channel again

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", hub.ClientCount())
	}
}

func TestHubTrySendAfterClose(t *testing.T) {
	hub := testHub(t)
	client := fakeWSClient(hub, ChannelAppEvents)
	hub.Register(client)
	hub.Unregister(client) // closes send channel

	// Broadcast to a closed client must not panic.
	client.trySend([]byte("late"))
	hub.Broadcast(ChannelAppEvents, "payload")
}

func TestHubRunClosesClientsOnCancel(t *testing.T) {
	hub := testHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	hub.Register(fakeWSClient(hub, ChannelAppEvents))
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub.Run did not exit after cancel")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0 after shutdown", hub.ClientCount())
	}
}

// ─── Real Listener Tests ───────────────────────────────────────────

// testServerWithRealListener starts a server on a fixed port and waits
// for it to accept requests.
func testServerWithRealListener(t *testing.T, port int) (*Server, *mockManager, *mockJournal) {
	t.Helper()

	srv, mgr, journal := testServer(t)
	srv.cfg.Port = port

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return srv, mgr, journal
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server did not become ready on port %d", port)
	return nil, nil, nil
}

func TestServerStartAndClose(t *testing.T) {
	srv, _, _ := testServerWithRealListener(t, 19180)

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck after Start = %v, want nil", err)
	}
}

func TestWebSocketSubscribeAndReceive(t *testing.T) {
	srv, _, _ := testServerWithRealListener(t, 19181)

	conn, resp, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:19181/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{ChannelAppEvents}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	// First frame is the subscribe acknowledgement.
	var ack WSMessage
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %s/%s, want response/1", ack.Type, ack.ID)
	}

	// A broadcast on the subscribed channel arrives as an event frame.
	srv.hub.Broadcast(ChannelAppEvents, map[string]string{"app_id": "dashboard", "action": "start"})

	var evt WSMessage
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != WSTypeEvent || evt.EventType != ChannelAppEvents {
		t.Errorf("event = %s/%s, want event/%s", evt.Type, evt.EventType, ChannelAppEvents)
	}

	payload, ok := evt.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload is not an object: %T", evt.Payload)
	}
	if payload["app_id"] != "dashboard" {
		t.Errorf("payload.app_id = %v, want dashboard", payload["app_id"])
	}
}

func TestWebSocketPingPong(t *testing.T) {
	_, _, _ = testServerWithRealListener(t, 19182)

	conn, resp, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:19182/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "7"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	var pong WSMessage
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "7" {
		t.Errorf("pong = %s/%s, want pong/7", pong.Type, pong.ID)
	}
}

func TestWebSocketUnknownMessageType(t *testing.T) {
	_, _, _ = testServerWithRealListener(t, 19183)

	conn, resp, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:19183/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{Type: "teleport", ID: "9"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var errMsg WSMessage
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&errMsg); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if errMsg.Type != WSTypeError {
		t.Errorf("type = %s, want %s", errMsg.Type, WSTypeError)
	}
}
