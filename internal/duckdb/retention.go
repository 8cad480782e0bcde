package duckdb

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	defaultRetentionDays     = 7
	defaultRetentionInterval = time.Hour
)

// RetentionConfig controls how long snapshot history is kept.
type RetentionConfig struct {
	// Days of history to keep. Zero disables pruning.
	Days int
	// Interval between prune passes. Defaults to one hour.
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// RetentionCleaner prunes snapshot rows older than the retention period,
// once at start and then on every interval.
type RetentionCleaner struct {
	store   *Store
	keep    time.Duration
	clock   clock.Clock
	logger  *slog.Logger
	deleted atomic.Int64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// DefaultRetentionConfig keeps a week of history, pruned hourly.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{Days: defaultRetentionDays, Interval: defaultRetentionInterval}
}

// NewRetentionCleaner starts pruning store. It returns nil when cfg.Days
// is not positive.
func NewRetentionCleaner(store *Store, cfg RetentionConfig) *RetentionCleaner {
	if cfg.Days <= 0 {
		return nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultRetentionInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = store.logger
	}

	rc := &RetentionCleaner{
		store:  store,
		keep:   time.Duration(cfg.Days) * 24 * time.Hour,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("component", "retention"),
		done:   make(chan struct{}),
	}

	// Catch up on anything that expired while the process was down.
	rc.prune()

	ticker := cfg.Clock.Ticker(cfg.Interval)
	rc.wg.Add(1)
	go rc.loop(ticker)

	return rc
}

// Deleted returns the number of rows pruned so far.
func (rc *RetentionCleaner) Deleted() int64 {
	return rc.deleted.Load()
}

func (rc *RetentionCleaner) loop(ticker *clock.Ticker) {
	defer rc.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.prune()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) prune() {
	cutoff := rc.clock.Now().Add(-rc.keep)

	n, err := rc.store.DeleteBefore(cutoff)
	if err != nil {
		rc.logger.Error("pruning history failed", "cutoff", cutoff, "error", err)
		return
	}
	if n > 0 {
		rc.deleted.Add(n)
		rc.logger.Info("pruned history", "rows", n, "cutoff", cutoff)
	}
}

// Stop halts pruning and waits for an in-flight pass. Safe to call twice.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
