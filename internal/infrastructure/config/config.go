package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for warden.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub        HubConfig        `yaml:"hub"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	AppsFile   string           `yaml:"apps_file"`
}

// HubConfig contains identity settings for this warden instance.
type HubConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// PublicHost is the hostname or IP used when composing app URLs for
	// clients. Apps bound to 0.0.0.0 are reachable on any interface, so a
	// concrete host is substituted when building links.
	// Default: "127.0.0.1"
	PublicHost string `yaml:"public_host"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
//
// MQTT is optional: when disabled, lifecycle events are only recorded in
// the local journal and broadcast over WebSocket.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for app telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SupervisorConfig contains settings for managing app processes.
type SupervisorConfig struct {
	// StateDir is where per-app PID records are kept. Records are advisory:
	// warden verifies the recorded process is alive before trusting them.
	// Default: "./data/state"
	StateDir string `yaml:"state_dir"`

	// LogDir is where per-app stdout/stderr log files are written.
	// Logs are opened in append mode so history survives restarts.
	// Default: "./data/logs"
	LogDir string `yaml:"log_dir"`

	// Runtime is the interpreter used to launch apps that do not carry
	// their own virtualenv. An app-local .venv or venv takes precedence.
	// Default: "python3"
	Runtime string `yaml:"runtime"`

	// StopGraceSeconds is how long to wait after SIGTERM before
	// escalating to SIGKILL (in seconds).
	// Default: 5
	StopGraceSeconds int `yaml:"stop_grace_seconds"`
}

// SchedulerConfig contains idle-shutdown scheduler settings.
type SchedulerConfig struct {
	// Enabled controls whether the idle scheduler runs at all.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// CheckInterval is how often to sweep running apps for idleness
	// (in seconds).
	// Default: 60
	CheckInterval int `yaml:"check_interval"`

	// DefaultIdleTimeoutMinutes applies to apps without their own
	// idle_timeout_minutes setting.
	// Default: 30
	DefaultIdleTimeoutMinutes int `yaml:"default_idle_timeout_minutes"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: WARDEN_SECTION_KEY
// For example: WARDEN_DATABASE_PATH, WARDEN_API_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			ID:         "warden-001",
			Name:       "Warden",
			PublicHost: "127.0.0.1",
		},
		Database: DatabaseConfig{
			Path:        "./data/warden.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "warden",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Supervisor: SupervisorConfig{
			StateDir:         "./data/state",
			LogDir:           "./data/logs",
			Runtime:          "python3",
			StopGraceSeconds: 5,
		},
		Scheduler: SchedulerConfig{
			Enabled:                   true,
			CheckInterval:             60,
			DefaultIdleTimeoutMinutes: 30,
		},
		AppsFile: "configs/apps.yaml",
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WARDEN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("WARDEN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("WARDEN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WARDEN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WARDEN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("WARDEN_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("WARDEN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Paths
	if v := os.Getenv("WARDEN_APPS_FILE"); v != "" {
		cfg.AppsFile = v
	}
	if v := os.Getenv("WARDEN_STATE_DIR"); v != "" {
		cfg.Supervisor.StateDir = v
	}
	if v := os.Getenv("WARDEN_LOG_DIR"); v != "" {
		cfg.Supervisor.LogDir = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Supervisor validation
	if c.Supervisor.StateDir == "" {
		errs = append(errs, "supervisor.state_dir is required")
	}
	if c.Supervisor.LogDir == "" {
		errs = append(errs, "supervisor.log_dir is required")
	}
	if c.Supervisor.Runtime == "" {
		errs = append(errs, "supervisor.runtime is required")
	}
	if c.Supervisor.StopGraceSeconds < 1 || c.Supervisor.StopGraceSeconds > 300 {
		errs = append(errs, "supervisor.stop_grace_seconds must be between 1 and 300")
	}

	// Scheduler validation
	if c.Scheduler.CheckInterval < 1 {
		errs = append(errs, "scheduler.check_interval must be at least 1 second")
	}
	if c.Scheduler.DefaultIdleTimeoutMinutes < 1 {
		errs = append(errs, "scheduler.default_idle_timeout_minutes must be at least 1")
	}

	// Apps file validation
	if c.AppsFile == "" {
		errs = append(errs, "apps_file is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetStopGrace returns the supervisor stop grace period as a Duration.
func (c *Config) GetStopGrace() time.Duration {
	return time.Duration(c.Supervisor.StopGraceSeconds) * time.Second
}

// GetCheckInterval returns the scheduler sweep interval as a Duration.
func (c *Config) GetCheckInterval() time.Duration {
	return time.Duration(c.Scheduler.CheckInterval) * time.Second
}

// GetDefaultIdleTimeout returns the scheduler default idle timeout as a Duration.
func (c *Config) GetDefaultIdleTimeout() time.Duration {
	return time.Duration(c.Scheduler.DefaultIdleTimeoutMinutes) * time.Minute
}
