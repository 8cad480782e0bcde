package duckdb

import (
	"context"
	"fmt"
	"time"

	"github.com/tinytelemetry/windstat/internal/model"
)

// InsertSnapshots stores one row per window of every snapshot in a single
// transaction. If the batch fails, it is retried snapshot by snapshot so
// one bad row does not lose the rest.
func (s *Store) InsertSnapshots(snaps []model.MetricSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertBatchTx(ctx, snaps)
	if err == nil {
		return nil
	}

	var failed int
	for _, snap := range snaps {
		if rerr := s.insertBatchTx(ctx, []model.MetricSnapshot{snap}); rerr != nil {
			failed++
			s.logger.Warn("dropping snapshot", "metric", snap.Name, "error", rerr)
		}
	}
	if failed == len(snaps) {
		return fmt.Errorf("insert snapshots: %w", err)
	}
	if failed > 0 {
		s.logger.Warn("batch partially failed", "dropped", failed, "total", len(snaps))
	}
	return nil
}

func (s *Store) insertBatchTx(ctx context.Context, snaps []model.MetricSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO window_snapshots
		(taken_at, metric, window_name, duration_ns, size, min_value, max_value, mean_value, interval_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, snap := range snaps {
		takenAt := snap.TakenAt.UTC().Truncate(time.Microsecond)
		for _, w := range snap.Windows {
			if _, err := stmt.ExecContext(ctx,
				takenAt, snap.Name, w.Window, int64(w.Duration),
				w.Size, w.Min, w.Max, w.Mean, int64(w.Interval),
			); err != nil {
				return fmt.Errorf("window %s/%s: %w", snap.Name, w.Window, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
