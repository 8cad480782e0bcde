// Package reservoir keeps time-windowed statistics over integer
// measurements.
//
// A SlidingWindowReservoir holds raw samples for a short window. A Trimmer
// cuts time into fixed buckets anchored at a shared start instant and, as
// buckets elapse, folds the raw samples of each sealed bucket into every
// AggregatedSlidingWindowReservoir registered with it. Aggregated
// reservoirs keep only per-interval summaries and can therefore cover days
// of traffic in constant memory.
//
// Timestamps are integers in a caller supplied unit (time.Nanosecond,
// time.Microsecond, ...). All reservoirs sharing a Trimmer must be
// anchored at the same start instant and fed from the same monotonic
// clock.
package reservoir

import (
	"errors"
	"time"
)

// ErrInvalidConfig is returned by constructors for non-positive durations,
// units or bucket counts and for reservoirs that do not agree with their
// trimmer.
var ErrInvalidConfig = errors.New("reservoir: invalid configuration")

// TimeReservoir records measurements and reports statistics over a
// trailing time window.
type TimeReservoir interface {
	// Update records one measurement taken at timestamp (in unit).
	Update(value, timestamp int64, unit time.Duration)
	// Snapshot reports the window ending at now (in unit).
	Snapshot(now int64, unit time.Duration) Snapshot
}

// BucketRecorder receives the summary of a sealed trimmer bucket. Each
// bucket index is delivered at most once.
type BucketRecorder interface {
	RecordBucket(b Bucket)
}

// toNanos converts a value expressed in unit to nanoseconds. A
// non-positive unit is read as nanoseconds.
func toNanos(v int64, unit time.Duration) int64 {
	if unit <= 0 {
		return v
	}
	return v * int64(unit)
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
