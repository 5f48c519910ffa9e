// Warden - Process Supervisor for Auxiliary Web Apps
//
// This is the main entry point for the warden service. Warden manages
// small self-hosted web apps on a single machine:
//   - Start/stop/restart with durable PID records
//   - Idle detection and automatic shutdown
//   - Lifecycle event journal (SQLite)
//   - HTTP control API with WebSocket event streaming
//   - Optional MQTT command/event bus and InfluxDB telemetry
//
// For architecture details, see: docs/architecture/system-overview.md
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/nerrad567/warden/migrations"

	"github.com/nerrad567/warden/internal/activity"
	"github.com/nerrad567/warden/internal/api"
	"github.com/nerrad567/warden/internal/history"
	"github.com/nerrad567/warden/internal/infrastructure/config"
	"github.com/nerrad567/warden/internal/infrastructure/database"
	"github.com/nerrad567/warden/internal/infrastructure/logging"
	"github.com/nerrad567/warden/internal/infrastructure/mqtt"
	"github.com/nerrad567/warden/internal/infrastructure/telemetry"
	"github.com/nerrad567/warden/internal/registry"
	"github.com/nerrad567/warden/internal/supervisor"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/warden.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting warden",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Lifecycle event journal
	journal := history.NewSQLiteRepository(db.DB)

	// Load the app registry
	reg := registry.New(cfg.AppsFile)
	reg.SetLogger(log)
	if loadErr := reg.Load(); loadErr != nil {
		return fmt.Errorf("loading app registry: %w", loadErr)
	}
	log.Info("app registry loaded", "path", cfg.AppsFile, "apps", reg.Count())

	// Create the supervisor
	sup, err := supervisor.New(supervisor.Config{
		StateDir:   cfg.Supervisor.StateDir,
		LogDir:     cfg.Supervisor.LogDir,
		Runtime:    cfg.Supervisor.Runtime,
		PublicHost: cfg.Hub.PublicHost,
		StopGrace:  cfg.GetStopGrace(),
	}, reg)
	if err != nil {
		return fmt.Errorf("creating supervisor: %w", err)
	}
	sup.SetLogger(log)
	log.Info("supervisor initialised",
		"state_dir", cfg.Supervisor.StateDir,
		"log_dir", cfg.Supervisor.LogDir,
	)

	// Connect to MQTT broker (optional)
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	switch {
	case errors.Is(err, mqtt.ErrDisabled):
		log.Info("MQTT disabled")
		mqttClient = nil
	case err != nil:
		return fmt.Errorf("connecting to MQTT: %w", err)
	default:
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		// Set up MQTT logging callbacks
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	}

	// Connect to InfluxDB (optional)
	telemetryClient, err := telemetry.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, telemetry.ErrDisabled):
		log.Info("InfluxDB disabled")
		telemetryClient = nil
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := telemetryClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		// Set up InfluxDB error callback
		telemetryClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	}

	// WebSocket hub, shared between the API server and the event sink
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// Event sink: one Record call fans out to every consumer
	sink := &eventSink{
		journal:   journal,
		hub:       hub,
		mqtt:      mqttClient,
		telemetry: telemetryClient,
		log:       log,
	}

	// Start the idle scheduler (if enabled)
	var tracker *activity.Tracker
	if cfg.Scheduler.Enabled {
		tracker, err = startTracker(ctx, cfg, sup, reg, sink, telemetryClient, log)
		if err != nil {
			return fmt.Errorf("starting idle scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping idle scheduler")
			if closeErr := tracker.Close(); closeErr != nil {
				log.Error("error stopping idle scheduler", "error", closeErr)
			}
		}()
		log.Info("idle scheduler started",
			"check_interval_seconds", cfg.Scheduler.CheckInterval,
			"default_timeout_minutes", cfg.Scheduler.DefaultIdleTimeoutMinutes,
		)
	} else {
		log.Info("idle scheduler disabled")
	}

	// Accept lifecycle commands over MQTT (if connected)
	if mqttClient != nil {
		if subErr := subscribeCommands(ctx, mqttClient, sup, tracker, sink, log); subErr != nil {
			return fmt.Errorf("subscribing to command topics: %w", subErr)
		}
		log.Info("MQTT command dispatcher started", "topic", mqtt.Topics{}.AllAppCommands())
	}

	// Start the control API
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Registry:    reg,
		Supervisor:  sup,
		Tracker:     tracker,
		Journal:     journal,
		Recorder:    sink,
		DB:          db,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"tls", cfg.API.TLS.Enabled,
	)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, telemetryClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (stop accepting requests)
	// 2. Idle scheduler (if enabled)
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Database

	log.Info("warden stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses WARDEN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WARDEN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - telemetryClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, telemetryClient *telemetry.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT (if enabled)
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	// Check InfluxDB (if enabled)
	if telemetryClient != nil {
		if err := telemetryClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Supervisor health is per-app and exposed through the API; there is
	// nothing to probe until an app is started.

	return nil
}

// startTracker initialises and starts the idle-shutdown scheduler.
//
// Parameters:
//   - ctx: Context for the sweep loop
//   - cfg: Application configuration
//   - sup: Supervisor used to list and stop apps
//   - reg: App registry providing per-app timeout overrides
//   - sink: Event sink for journaling idle shutdowns
//   - telemetryClient: InfluxDB client for per-sweep samples (may be nil)
//   - log: Logger instance
//
// Returns:
//   - *activity.Tracker: Running tracker
//   - error: If the tracker fails to start
func startTracker(ctx context.Context, cfg *config.Config, sup *supervisor.Supervisor, reg *registry.Registry, sink *eventSink, telemetryClient *telemetry.Client, log *logging.Logger) (*activity.Tracker, error) {
	tracker, err := activity.New(activity.Config{
		CheckInterval:  cfg.GetCheckInterval(),
		DefaultTimeout: cfg.GetDefaultIdleTimeout(),
	}, sup)
	if err != nil {
		return nil, fmt.Errorf("creating tracker: %w", err)
	}
	tracker.SetLogger(log)

	// Seed per-app timeout overrides from the registry. A zero clears the
	// override so the app falls back to the default.
	for _, desc := range reg.List() {
		tracker.SetTimeout(desc.ID, time.Duration(desc.IdleTimeoutMinutes)*time.Minute)
	}

	// Journal idle shutdowns like any other lifecycle event
	tracker.SetIdleStopCallback(func(stop activity.IdleStop) {
		detail := fmt.Sprintf("idle for %s", stop.Idle.Round(time.Second))
		if stop.Forced {
			detail += ", killed after grace period"
		}
		sink.Record(ctx, &history.Event{
			AppID:   stop.AppID,
			Action:  history.ActionIdleStop,
			Outcome: history.OutcomeOK,
			PID:     stop.PID,
			Detail:  detail,
		})
	})

	// Feed per-sweep samples to InfluxDB
	if telemetryClient != nil {
		tracker.SetSampler(func(st supervisor.Status, idle time.Duration) {
			telemetryClient.WriteAppSample(telemetry.Sample{
				AppID:       st.ID,
				PID:         st.PID,
				CPUPercent:  st.CPUPercent,
				MemoryRSS:   st.MemoryRSS,
				PortOpen:    st.PortOpen,
				IdleSeconds: idle.Seconds(),
			})
		})
	}

	if err := tracker.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting tracker: %w", err)
	}

	return tracker, nil
}

// eventSink fans lifecycle events out to every configured consumer: the
// SQLite journal, the WebSocket hub, the MQTT event topics, and InfluxDB.
// Only the journal is authoritative; failures elsewhere are logged and
// dropped so a flaky broker never blocks an app operation.
type eventSink struct {
	journal   history.Repository
	hub       *api.Hub
	mqtt      *mqtt.Client
	telemetry *telemetry.Client
	log       *logging.Logger
	topics    mqtt.Topics
}

// Record implements api.EventRecorder.
//
// The journal write runs first so the event carries its assigned ID and
// timestamp when it reaches the broadcast consumers.
func (s *eventSink) Record(ctx context.Context, event *history.Event) {
	if err := s.journal.Append(ctx, event); err != nil {
		s.log.Error("journal append failed",
			"app_id", event.AppID,
			"action", event.Action,
			"error", err,
		)
	}

	// WebSocket: firehose channel plus the per-app channel
	s.hub.Broadcast(api.ChannelAppEvents, event)
	if event.AppID != "" {
		s.hub.Broadcast(api.AppEventChannel(event.AppID), event)
	}

	// MQTT event topic (per-app events only; reloads have no app topic)
	if s.mqtt != nil && event.AppID != "" {
		payload, err := json.Marshal(event)
		if err == nil {
			if pubErr := s.mqtt.PublishEvent(s.topics.AppEvent(event.AppID), payload); pubErr != nil {
				s.log.Warn("MQTT event publish failed",
					"app_id", event.AppID,
					"error", pubErr,
				)
			}
		}
	}

	// InfluxDB lifecycle measurement
	if s.telemetry != nil {
		s.telemetry.WriteLifecycleEvent(event.AppID, event.Action, event.Outcome)
	}
}

// commandMessage is the payload accepted on warden/command/<app_id>.
type commandMessage struct {
	Action string `json:"action"`
}

// subscribeCommands wires the MQTT command topics to the supervisor, so
// automations can start and stop apps without going through the HTTP API.
//
// Parameters:
//   - ctx: Context passed to supervisor operations
//   - client: Connected MQTT client
//   - sup: Supervisor executing the commands
//   - tracker: Activity tracker (may be nil if the scheduler is disabled)
//   - sink: Event sink for journaling outcomes
//   - log: Logger instance
//
// Returns:
//   - error: If the subscription cannot be established
func subscribeCommands(ctx context.Context, client *mqtt.Client, sup *supervisor.Supervisor, tracker *activity.Tracker, sink *eventSink, log *logging.Logger) error {
	topics := mqtt.Topics{}
	return client.Subscribe(topics.AllAppCommands(), byte(1), func(topic string, payload []byte) error {
		appID := appIDFromCommandTopic(topic)
		if appID == "" {
			return fmt.Errorf("command topic %q has no app id", topic)
		}

		var cmd commandMessage
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("parsing command for %s: %w", appID, err)
		}

		log.Info("MQTT command received", "app_id", appID, "action", cmd.Action)

		var (
			pid int
			err error
		)
		switch cmd.Action {
		case history.ActionStart:
			var res *supervisor.StartResult
			res, err = sup.Start(ctx, appID)
			if err == nil {
				pid = res.PID
				if tracker != nil {
					tracker.Record(appID)
				}
			}
		case history.ActionStop:
			var res *supervisor.StopResult
			res, err = sup.Stop(ctx, appID)
			if err == nil {
				pid = res.PID
			}
		case history.ActionRestart:
			var res *supervisor.RestartResult
			res, err = sup.Restart(ctx, appID)
			if err == nil {
				pid = res.PID
				if tracker != nil {
					tracker.Record(appID)
				}
			}
		default:
			return fmt.Errorf("unknown command action %q for %s", cmd.Action, appID)
		}

		if err != nil {
			// Unknown apps are not journaled; there is no app for the
			// event to belong to.
			if !errors.Is(err, supervisor.ErrNotFound) {
				sink.Record(ctx, &history.Event{
					AppID:   appID,
					Action:  cmd.Action,
					Outcome: history.OutcomeFailed,
					Detail:  err.Error(),
				})
			}
			return fmt.Errorf("%s %s: %w", cmd.Action, appID, err)
		}

		sink.Record(ctx, &history.Event{
			AppID:   appID,
			Action:  cmd.Action,
			Outcome: history.OutcomeOK,
			PID:     pid,
			Detail:  "via mqtt",
		})
		return nil
	})
}

// appIDFromCommandTopic extracts the app ID from warden/command/<app_id>.
func appIDFromCommandTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}
