package reservoir

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// foldSource is the raw side of a trimmer: the sliding reservoir that owns
// the samples to be folded.
type foldSource interface {
	// foldBefore hands over every pending sample older than cutoff, grouped
	// by bucket. Indexes below floor are raised to floor.
	foldBefore(cutoff, floor int64) []Bucket
	// unfolded summarizes the pending samples not newer than now, grouped
	// the same way foldBefore would group them.
	unfolded(now, floor int64) []Bucket
}

// Trimmer cuts time into fixed buckets anchored at a start instant and
// folds the raw samples of each sealed bucket into its registered sinks.
//
// A Trimmer serves exactly one SlidingWindowReservoir and any number of
// AggregatedSlidingWindowReservoirs. Folding is lazy: it runs from the
// Update and Snapshot calls of those reservoirs once a bucket boundary has
// been crossed.
type Trimmer struct {
	start  int64
	bucket int64

	// next is the index of the first bucket not yet folded.
	next atomic.Int64

	mu     sync.RWMutex
	source foldSource
	sinks  []BucketRecorder
}

// NewTrimmer creates a trimmer whose buckets are bucket wide and start at
// start (in startUnit).
func NewTrimmer(start int64, startUnit time.Duration, bucket time.Duration) (*Trimmer, error) {
	if startUnit <= 0 {
		return nil, fmt.Errorf("%w: start unit must be positive, got %v", ErrInvalidConfig, startUnit)
	}
	if bucket <= 0 {
		return nil, fmt.Errorf("%w: bucket duration must be positive, got %v", ErrInvalidConfig, bucket)
	}
	return &Trimmer{
		start:  toNanos(start, startUnit),
		bucket: int64(bucket),
	}, nil
}

// BucketDuration returns the width of one bucket.
func (t *Trimmer) BucketDuration() time.Duration {
	return time.Duration(t.bucket)
}

// BucketIndex returns the bucket holding timestamp ts (in unit).
// Timestamps before the start fall into bucket 0.
func (t *Trimmer) BucketIndex(ts int64, unit time.Duration) int64 {
	return t.index(toNanos(ts, unit))
}

func (t *Trimmer) index(ns int64) int64 {
	if ns <= t.start {
		return 0
	}
	return (ns - t.start) / t.bucket
}

// bucketStart returns the first nanosecond of bucket idx.
func (t *Trimmer) bucketStart(idx int64) int64 {
	return t.start + idx*t.bucket
}

// MaybeFold seals every bucket that ended at or before now (in unit) and
// pushes the summaries of those not yet folded to the sinks. It is safe to
// call redundantly and concurrently.
func (t *Trimmer) MaybeFold(now int64, unit time.Duration) {
	t.fold(toNanos(now, unit))
}

func (t *Trimmer) fold(now int64) {
	target := t.index(now)
	if target <= t.next.Load() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	floor := t.next.Load()
	if target <= floor {
		return
	}
	if t.source != nil {
		for _, b := range t.source.foldBefore(t.bucketStart(target), floor) {
			for _, sink := range t.sinks {
				sink.RecordBucket(b)
			}
		}
	}
	t.next.Store(target)
}

// view folds up to now and calls fn with the summaries of data that is
// still pending in the source. Sinks observed inside fn are consistent
// with pending: every sample is in exactly one of them.
func (t *Trimmer) view(now int64, fn func(pending []Bucket)) {
	t.fold(now)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var pending []Bucket
	if t.source != nil {
		pending = t.source.unfolded(now, t.next.Load())
	}
	fn(pending)
}

func (t *Trimmer) attach(src foldSource, start int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if start != t.start {
		return fmt.Errorf("%w: reservoir start %dns differs from trimmer start %dns", ErrInvalidConfig, start, t.start)
	}
	if t.source != nil {
		return fmt.Errorf("%w: trimmer already feeds from a sliding window reservoir", ErrInvalidConfig)
	}
	t.source = src
	return nil
}

func (t *Trimmer) register(sink BucketRecorder, start int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if start != t.start {
		return fmt.Errorf("%w: reservoir start %dns differs from trimmer start %dns", ErrInvalidConfig, start, t.start)
	}
	t.sinks = append(t.sinks, sink)
	return nil
}
