package stats

import (
	"errors"
	"fmt"
	"time"

	"github.com/tinytelemetry/windstat/internal/model"
)

// MaxWindowBuckets bounds the internal buckets of one aggregated window,
// which fixes the ring memory kept per window per metric.
const MaxWindowBuckets = 3600

// Config describes the windows kept for every metric.
type Config struct {
	// RawWindow is the window of the raw sample reservoir.
	RawWindow time.Duration
	// BucketSize is the trimmer resolution used to fold raw samples into
	// the aggregated windows.
	BucketSize time.Duration
	// Windows are the aggregated windows, shortest first.
	Windows []WindowConfig
	// MaxMetrics bounds the number of distinct metric names.
	MaxMetrics int
}

// WindowConfig describes one aggregated window.
type WindowConfig struct {
	Name     string
	Duration time.Duration
	Buckets  int
}

// DefaultConfig returns a raw 1s window plus the default aggregated windows.
func DefaultConfig() Config {
	return Config{
		RawWindow:  model.DefaultRawWindow,
		BucketSize: model.DefaultBucketSize,
		Windows:    WindowsFromDurations(model.DefaultWindows, model.DefaultWindowBuckets),
		MaxMetrics: model.DefaultMaxMetrics,
	}
}

// WindowsFromDurations names each duration with WindowName.
func WindowsFromDurations(durations []time.Duration, buckets int) []WindowConfig {
	windows := make([]WindowConfig, 0, len(durations))
	for _, d := range durations {
		windows = append(windows, WindowConfig{Name: WindowName(d), Duration: d, Buckets: buckets})
	}
	return windows
}

// WindowName returns a compact label for d, such as "15s", "1h" or "10d".
func WindowName(d time.Duration) string {
	day := 24 * time.Hour
	switch {
	case d <= 0:
		return d.String()
	case d%day == 0:
		return fmt.Sprintf("%dd", d/day)
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	case d%time.Millisecond == 0:
		return fmt.Sprintf("%dms", d/time.Millisecond)
	case d%time.Microsecond == 0:
		return fmt.Sprintf("%dus", d/time.Microsecond)
	default:
		return d.String()
	}
}

// Validate checks durations, bucket counts and window names. The trimmer
// bucket must fit inside the raw window.
func (c Config) Validate() error {
	var errs []error
	if c.RawWindow <= 0 {
		errs = append(errs, fmt.Errorf("raw window must be positive, got %v", c.RawWindow))
	}
	if c.BucketSize <= 0 {
		errs = append(errs, fmt.Errorf("bucket size must be positive, got %v", c.BucketSize))
	} else if c.RawWindow > 0 && c.BucketSize > c.RawWindow {
		errs = append(errs, fmt.Errorf("bucket size %v exceeds raw window %v", c.BucketSize, c.RawWindow))
	}
	if c.MaxMetrics <= 0 {
		errs = append(errs, fmt.Errorf("max metrics must be positive, got %d", c.MaxMetrics))
	}

	names := map[string]bool{WindowName(c.RawWindow): true}
	for _, w := range c.Windows {
		if w.Duration <= 0 {
			errs = append(errs, fmt.Errorf("window %q: duration must be positive, got %v", w.Name, w.Duration))
		}
		if w.Buckets <= 0 || w.Buckets > MaxWindowBuckets {
			errs = append(errs, fmt.Errorf("window %q: buckets must be between 1 and %d, got %d", w.Name, MaxWindowBuckets, w.Buckets))
		}
		if w.Name == "" {
			errs = append(errs, fmt.Errorf("window of %v has no name", w.Duration))
		} else if names[w.Name] {
			errs = append(errs, fmt.Errorf("window %q defined twice", w.Name))
		}
		names[w.Name] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
