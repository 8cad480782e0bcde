// Package report periodically snapshots every metric, stores the result
// and logs a summary line per metric.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sourcegraph/conc/pool"

	"github.com/tinytelemetry/windstat/internal/model"
)

const defaultInterval = 10 * time.Second

// SnapshotWriter persists snapshots. The duckdb store implements it.
type SnapshotWriter interface {
	InsertSnapshots([]model.MetricSnapshot) error
}

// Config holds reporter settings. Zero values select defaults.
type Config struct {
	Interval    time.Duration
	Concurrency int
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Reporter snapshots all metrics on every tick.
type Reporter struct {
	reader      model.SnapshotReader
	writer      SnapshotWriter
	interval    time.Duration
	concurrency int
	clock       clock.Clock
	logger      *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a reporter. writer may be nil, in which case snapshots are
// only logged.
func New(reader model.SnapshotReader, writer SnapshotWriter, cfg Config) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reporter{
		reader:      reader,
		writer:      writer,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
		clock:       cfg.Clock,
		logger:      cfg.Logger.With("component", "report"),
		done:        make(chan struct{}),
	}
}

// Start begins reporting on every interval tick.
func (r *Reporter) Start() {
	r.startOnce.Do(func() {
		ticker := r.clock.Ticker(r.interval)
		r.wg.Add(1)
		go r.loop(ticker)
	})
}

func (r *Reporter) loop(ticker *clock.Ticker) {
	defer r.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.ReportOnce(); err != nil {
				r.logger.Warn("report failed", "error", err)
			}
		case <-r.done:
			return
		}
	}
}

// Stop ends the loop and writes one final report. It is idempotent.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		if _, err := r.ReportOnce(); err != nil {
			r.logger.Warn("final report failed", "error", err)
		}
	})
}

// ReportOnce snapshots every metric in parallel, writes the batch and
// returns it sorted by name.
func (r *Reporter) ReportOnce() ([]model.MetricSnapshot, error) {
	names, err := r.reader.ListMetrics()
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}

	p := pool.NewWithResults[model.MetricSnapshot]().WithErrors().WithMaxGoroutines(r.concurrency)
	for _, name := range names {
		p.Go(func() (model.MetricSnapshot, error) {
			return r.reader.MetricSnapshot(name)
		})
	}
	snaps, snapErr := p.Wait()
	if snapErr != nil {
		r.logger.Warn("some snapshots failed", "error", snapErr)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })

	if r.logger.Enabled(context.Background(), slog.LevelDebug) {
		for _, s := range snaps {
			r.logger.Debug("snapshot", summaryAttrs(s)...)
		}
	}

	if r.writer != nil {
		if err := r.writer.InsertSnapshots(snaps); err != nil {
			return snaps, fmt.Errorf("write snapshots: %w", err)
		}
	}
	return snaps, nil
}

// summaryAttrs renders one "window=size/mean" attribute per window.
func summaryAttrs(s model.MetricSnapshot) []any {
	attrs := make([]any, 0, 2+2*len(s.Windows))
	attrs = append(attrs, "metric", s.Name)
	for _, w := range s.Windows {
		attrs = append(attrs, w.Window, fmt.Sprintf("n=%d mean=%.1f max=%d", w.Size, w.Mean, w.Max))
	}
	return attrs
}
