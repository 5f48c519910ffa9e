package registry

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
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

// appsFile is the YAML schema of the apps file.
type appsFile struct {
	Apps []AppDescriptor `yaml:"apps"`
}

// Registry holds the current set of app descriptors loaded from the
// apps YAML file.
//
// The set is replaced wholesale by Load(): readers always see either
// the previous complete set or the new complete set, never a mix. If a
// reload fails the previous set stays in effect.
//
// All public methods are thread-safe.
type Registry struct {
	path   string
	logger Logger

	mu       sync.RWMutex
	byID     map[string]AppDescriptor
	ordered  []string // IDs in file order
	loadedAt time.Time
}

// New creates a registry for the given apps file.
// No file access happens until Load() is called.
func New(path string) *Registry {
	return &Registry{
		path:   path,
		logger: noopLogger{},
		byID:   make(map[string]AppDescriptor),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Load reads, validates, and activates the apps file.
//
// On any error the currently active set is left untouched, so a bad
// edit to the file cannot take a running warden's config away.
//
// Returns:
//   - error: If the file cannot be read, parsed, or fails validation
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("reading apps file: %w", err)
	}

	var file appsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing apps file: %w", err)
	}

	byID := make(map[string]AppDescriptor, len(file.Apps))
	ordered := make([]string, 0, len(file.Apps))
	ports := make(map[int]string, len(file.Apps))

	var errs []string
	for i := range file.Apps {
		d := file.Apps[i]
		applyDefaults(&d)

		if err := d.Validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if prev, dup := byID[d.ID]; dup {
			errs = append(errs, fmt.Sprintf("app %q: duplicate id (both on port %d and %d)", d.ID, prev.Port, d.Port))
			continue
		}
		if owner, taken := ports[d.Port]; taken {
			errs = append(errs, fmt.Sprintf("app %q: port %d already used by %q", d.ID, d.Port, owner))
			continue
		}

		byID[d.ID] = d
		ordered = append(ordered, d.ID)
		ports[d.Port] = d.ID
	}

	if len(errs) > 0 {
		return fmt.Errorf("apps file errors: %s", strings.Join(errs, "; "))
	}

	r.mu.Lock()
	r.byID = byID
	r.ordered = ordered
	r.loadedAt = time.Now().UTC()
	r.mu.Unlock()

	r.logger.Info("apps loaded", "path", r.path, "count", len(ordered))
	return nil
}

// Get retrieves a descriptor by ID.
func (r *Registry) Get(id string) (AppDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byID[id]
	return d, ok
}

// List returns all descriptors in file order.
// The returned slice is a copy; callers can safely modify it.
func (r *Registry) List() []AppDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	apps := make([]AppDescriptor, 0, len(r.ordered))
	for _, id := range r.ordered {
		apps = append(apps, r.byID[id])
	}
	return apps
}

// IDs returns all app IDs in file order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.ordered))
	copy(ids, r.ordered)
	return ids
}

// Count returns the number of loaded apps.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.ordered)
}

// LoadedAt returns when the active set was loaded.
// The zero time means Load() has not succeeded yet.
func (r *Registry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.loadedAt
}

// Path returns the apps file path.
func (r *Registry) Path() string {
	return r.path
}
