package duckdb

import (
	"time"

	"github.com/tinytelemetry/windstat/internal/model"
)

var _ model.HistoryReader = (*Store)(nil)

// History returns stored snapshots of metric, newest first. An empty
// window selects every window; rows taken at the same instant are ordered
// by window duration.
func (s *Store) History(metric, window string, limit int) ([]model.HistoryPoint, error) {
	if limit <= 0 {
		limit = model.DefaultHistoryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT taken_at, window_name, duration_ns, size, min_value, max_value, mean_value, interval_ns
		FROM window_snapshots
		WHERE metric = ? AND (? = '' OR window_name = ?)
		ORDER BY taken_at DESC, duration_ns ASC
		LIMIT ?`, metric, window, window, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]model.HistoryPoint, 0, limit)
	for rows.Next() {
		var p model.HistoryPoint
		var duration, interval int64
		if err := rows.Scan(&p.TakenAt, &p.Window, &duration, &p.Size, &p.Min, &p.Max, &p.Mean, &interval); err != nil {
			return nil, err
		}
		p.TakenAt = p.TakenAt.UTC()
		p.Duration = time.Duration(duration)
		p.Interval = time.Duration(interval)
		points = append(points, p)
	}
	return points, rows.Err()
}

// StoredMetrics returns the distinct metric names with history.
func (s *Store) StoredMetrics() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT metric FROM window_snapshots ORDER BY metric`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SnapshotRowCount returns the number of stored window rows.
func (s *Store) SnapshotRowCount() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM window_snapshots`).Scan(&n)
	return n, err
}

// DeleteBefore removes rows taken before cutoff and returns how many.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM window_snapshots WHERE taken_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
