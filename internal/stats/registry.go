package stats

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/tinytelemetry/windstat/internal/model"
	"github.com/tinytelemetry/windstat/internal/reservoir"
)

const maxNameLength = 128

var (
	ErrInvalidConfig  = reservoir.ErrInvalidConfig
	ErrUnknownMetric  = errors.New("stats: unknown metric")
	ErrTooManyMetrics = errors.New("stats: metric limit reached")
	ErrInvalidName    = errors.New("stats: invalid metric name")
)

// Registry holds one Monitor per metric name. Monitors are created on first
// use and live for the lifetime of the registry.
type Registry struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	monitors map[string]*Monitor
}

var (
	_ model.SnapshotReader = (*Registry)(nil)
	_ model.Recorder       = (*Registry)(nil)
)

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source. The default is the system clock.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry validates cfg and creates an empty registry.
func NewRegistry(cfg Config, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		cfg:      cfg,
		clock:    clock.New(),
		logger:   slog.Default(),
		monitors: make(map[string]*Monitor),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "stats")
	return r, nil
}

// Config returns the configuration monitors are built from.
func (r *Registry) Config() Config { return r.cfg }

// Monitor returns the monitor for name, creating it if needed.
func (r *Registry) Monitor(name string) (*Monitor, error) {
	r.mu.RLock()
	m, ok := r.monitors[name]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	if err := ValidateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.monitors[name]; ok {
		return m, nil
	}
	if len(r.monitors) >= r.cfg.MaxMetrics {
		return nil, fmt.Errorf("%w (%d): %q", ErrTooManyMetrics, r.cfg.MaxMetrics, name)
	}
	m, err := newMonitor(name, r.cfg, r.clock)
	if err != nil {
		return nil, err
	}
	r.monitors[name] = m
	r.logger.Debug("metric registered", "metric", name, "total", len(r.monitors))
	return m, nil
}

// Record records value for the named metric now.
func (r *Registry) Record(name string, value int64) error {
	m, err := r.Monitor(name)
	if err != nil {
		return err
	}
	m.Record(value)
	return nil
}

// ListMetrics returns the registered metric names in lexical order.
func (r *Registry) ListMetrics() ([]string, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.monitors))
	for name := range r.monitors {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

// MetricSnapshot reports every window of the named metric.
func (r *Registry) MetricSnapshot(name string) (model.MetricSnapshot, error) {
	r.mu.RLock()
	m, ok := r.monitors[name]
	r.mu.RUnlock()
	if !ok {
		return model.MetricSnapshot{}, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	return m.Snapshot(), nil
}

// Len returns the number of registered metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors)
}

// ValidateName accepts 1 to 128 characters from [A-Za-z0-9_.:/-].
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLength {
		return fmt.Errorf("%w: length must be 1..%d", ErrInvalidName, maxNameLength)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '.', c == ':', c == '/', c == '-':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, c)
		}
	}
	return nil
}
