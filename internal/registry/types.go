package registry

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Port range constants.
const (
	minPort = 1
	maxPort = 65535
)

// appIDPattern restricts app identifiers to characters that are safe in
// file names, URLs, and MQTT topics. PID records and log files are named
// after the ID, so anything resembling a path component is rejected.
var appIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// AppDescriptor describes one managed application.
//
// Descriptors are loaded from the apps YAML file and are immutable once
// loaded: a reload replaces the whole set rather than mutating entries
// in place.
type AppDescriptor struct {
	// ID uniquely identifies the app. Used in API routes, PID record
	// names, log file names, and MQTT topics.
	// Must match: ^[a-z0-9][a-z0-9_-]*$
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable display name.
	// Default: the ID
	Name string `yaml:"name" json:"name"`

	// Description is optional free text shown in listings.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Icon is an optional icon hint for dashboards.
	Icon string `yaml:"icon,omitempty" json:"icon,omitempty"`

	// Color is an optional accent colour hint for dashboards.
	Color string `yaml:"color,omitempty" json:"color,omitempty"`

	// Dir is the absolute path to the app's working directory.
	Dir string `yaml:"dir" json:"dir"`

	// Entry is the app's entry point script, relative to Dir.
	Entry string `yaml:"entry" json:"entry"`

	// Host is the interface the app binds to.
	// Default: "127.0.0.1"
	Host string `yaml:"host,omitempty" json:"host"`

	// Port is the TCP port the app serves on. Each app needs its own.
	Port int `yaml:"port" json:"port"`

	// IdleTimeoutMinutes overrides the scheduler's default idle timeout
	// for this app. 0 means use the default.
	IdleTimeoutMinutes int `yaml:"idle_timeout_minutes,omitempty" json:"idle_timeout_minutes,omitempty"`

	// HealthPath is the HTTP path probed by health checks.
	// Default: "/"
	HealthPath string `yaml:"health_path,omitempty" json:"health_path"`
}

// applyDefaults fills in optional descriptor fields.
func applyDefaults(d *AppDescriptor) {
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.Host == "" {
		d.Host = "127.0.0.1"
	}
	if d.HealthPath == "" {
		d.HealthPath = "/"
	}
}

// Validate checks a descriptor for structural problems.
//
// Existence of Dir and Entry on disk is deliberately not checked here:
// apps may be deployed after warden starts, so missing files only become
// an error when a start is actually attempted.
func (d *AppDescriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("app id is required")
	}
	if !appIDPattern.MatchString(d.ID) {
		return fmt.Errorf("app %q: id must match %s", d.ID, appIDPattern.String())
	}
	if d.Dir == "" {
		return fmt.Errorf("app %q: dir is required", d.ID)
	}
	if !filepath.IsAbs(d.Dir) {
		return fmt.Errorf("app %q: dir must be an absolute path", d.ID)
	}
	if d.Entry == "" {
		return fmt.Errorf("app %q: entry is required", d.ID)
	}
	if filepath.IsAbs(d.Entry) {
		return fmt.Errorf("app %q: entry must be relative to dir", d.ID)
	}
	if err := validateSafeRelPath(d.Entry); err != nil {
		return fmt.Errorf("app %q: entry: %w", d.ID, err)
	}
	if d.Port < minPort || d.Port > maxPort {
		return fmt.Errorf("app %q: port must be between %d and %d", d.ID, minPort, maxPort)
	}
	if d.IdleTimeoutMinutes < 0 {
		return fmt.Errorf("app %q: idle_timeout_minutes cannot be negative", d.ID)
	}
	if !strings.HasPrefix(d.HealthPath, "/") {
		return fmt.Errorf("app %q: health_path must start with /", d.ID)
	}
	return nil
}

// validateSafeRelPath rejects relative paths that escape their base
// directory or contain suspicious characters.
func validateSafeRelPath(p string) error {
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("contains null byte")
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("escapes the app directory")
	}
	return nil
}

// EntryPath returns the absolute path of the app's entry point.
func (d *AppDescriptor) EntryPath() string {
	return filepath.Join(d.Dir, d.Entry)
}

// ProbeHost returns the host to dial when checking the app's port.
// Apps bound to all interfaces are probed via loopback.
func (d *AppDescriptor) ProbeHost() string {
	if d.Host == "0.0.0.0" || d.Host == "::" {
		return "127.0.0.1"
	}
	return d.Host
}
