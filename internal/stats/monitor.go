// Package stats keeps multi-window latency statistics for named metrics.
package stats

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tinytelemetry/windstat/internal/model"
	"github.com/tinytelemetry/windstat/internal/reservoir"
)

type window struct {
	name     string
	duration time.Duration
	res      reservoir.TimeReservoir
}

// Monitor tracks one metric: a raw reservoir for the shortest window and an
// aggregated reservoir per configured window, all fed through one trimmer.
//
// Timestamps are nanoseconds elapsed since the monitor was created, read
// from the injected clock.
type Monitor struct {
	name    string
	clock   clock.Clock
	epoch   time.Time
	raw     *reservoir.SlidingWindowReservoir
	windows []window
}

func newMonitor(name string, cfg Config, clk clock.Clock) (*Monitor, error) {
	trimmer, err := reservoir.NewTrimmer(0, time.Nanosecond, cfg.BucketSize)
	if err != nil {
		return nil, err
	}
	raw, err := reservoir.NewSlidingWindowReservoir(cfg.RawWindow, 0, time.Nanosecond, trimmer)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		name:  name,
		clock: clk,
		epoch: clk.Now(),
		raw:   raw,
	}
	m.windows = append(m.windows, window{name: WindowName(cfg.RawWindow), duration: cfg.RawWindow, res: raw})

	for _, wc := range cfg.Windows {
		agg, err := reservoir.NewAggregatedSlidingWindowReservoir(wc.Duration, 0, time.Nanosecond, trimmer,
			reservoir.WithBuckets(wc.Buckets))
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", wc.Name, err)
		}
		m.windows = append(m.windows, window{name: wc.Name, duration: wc.Duration, res: agg})
	}
	return m, nil
}

// Name returns the metric name.
func (m *Monitor) Name() string { return m.name }

// Elapsed returns the time since the monitor was created.
func (m *Monitor) Elapsed() time.Duration {
	return m.clock.Since(m.epoch)
}

// Record records value now.
func (m *Monitor) Record(value int64) {
	m.RecordAt(value, m.Elapsed())
}

// RecordAt records value at elapsed time since the monitor was created.
func (m *Monitor) RecordAt(value int64, elapsed time.Duration) {
	m.raw.Update(value, int64(elapsed), time.Nanosecond)
}

// Snapshot reports every window as of now.
func (m *Monitor) Snapshot() model.MetricSnapshot {
	return m.SnapshotAt(m.Elapsed())
}

// SnapshotAt reports every window as of elapsed time since creation.
func (m *Monitor) SnapshotAt(elapsed time.Duration) model.MetricSnapshot {
	out := model.MetricSnapshot{
		Name:    m.name,
		TakenAt: m.epoch.Add(elapsed),
		Windows: make([]model.WindowSnapshot, 0, len(m.windows)),
	}
	for _, w := range m.windows {
		s := w.res.Snapshot(int64(elapsed), time.Nanosecond)
		out.Windows = append(out.Windows, model.WindowSnapshot{
			Window:   w.name,
			Duration: w.duration,
			Size:     s.Size(),
			Min:      s.Min(),
			Max:      s.Max(),
			Mean:     s.Mean(),
			Interval: time.Duration(s.TimeInterval(time.Nanosecond)),
		})
	}
	return out
}
