package reservoir

import (
	"fmt"
	"sync"
	"time"
)

// DefaultAggregatedBuckets is the number of internal buckets an aggregated
// reservoir divides its window into.
const DefaultAggregatedBuckets = 60

// AggregatedSlidingWindowReservoir keeps per-interval summaries for a long
// window. It is fed by a Trimmer with the summaries of sealed raw buckets.
//
// The window is split into internal buckets whose width is window/n rounded
// up to a whole number of trimmer buckets, so every trimmer bucket lands in
// exactly one internal bucket. Internal buckets live in a ring sized to
// the window; memory does not depend on the sample rate.
//
// Liveness is decided per internal bucket, not per sample. A Snapshot at now
// counts a whole bucket once the bucket has started, so a reader whose now
// lags the writers also sees samples stamped after now that share that
// bucket. SlidingWindowReservoir filters individual samples and excludes
// them, so the two can differ for such a reader.
type AggregatedSlidingWindowReservoir struct {
	window  int64
	start   int64
	width   int64 // internal bucket width in nanoseconds
	ratio   int64 // trimmer buckets per internal bucket
	trimmer *Trimmer

	mu   sync.RWMutex
	ring []Bucket
}

var (
	_ TimeReservoir  = (*AggregatedSlidingWindowReservoir)(nil)
	_ BucketRecorder = (*AggregatedSlidingWindowReservoir)(nil)
)

type aggregatedOptions struct {
	buckets int
}

// AggregatedOption configures an AggregatedSlidingWindowReservoir.
type AggregatedOption func(*aggregatedOptions)

// WithBuckets sets how many internal buckets the window is divided into.
func WithBuckets(n int) AggregatedOption {
	return func(o *aggregatedOptions) { o.buckets = n }
}

// NewAggregatedSlidingWindowReservoir creates a reservoir covering window,
// anchored at start (in startUnit) and registered with trimmer.
func NewAggregatedSlidingWindowReservoir(window time.Duration, start int64, startUnit time.Duration, trimmer *Trimmer, opts ...AggregatedOption) (*AggregatedSlidingWindowReservoir, error) {
	o := aggregatedOptions{buckets: DefaultAggregatedBuckets}
	for _, opt := range opts {
		opt(&o)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, window)
	}
	if startUnit <= 0 {
		return nil, fmt.Errorf("%w: start unit must be positive, got %v", ErrInvalidConfig, startUnit)
	}
	if o.buckets <= 0 {
		return nil, fmt.Errorf("%w: bucket count must be positive, got %d", ErrInvalidConfig, o.buckets)
	}
	if trimmer == nil {
		return nil, fmt.Errorf("%w: aggregated reservoir requires a trimmer", ErrInvalidConfig)
	}

	ratio := max(1, ceilDiv(ceilDiv(int64(window), int64(o.buckets)), trimmer.bucket))
	width := ratio * trimmer.bucket

	r := &AggregatedSlidingWindowReservoir{
		window:  int64(window),
		start:   toNanos(start, startUnit),
		width:   width,
		ratio:   ratio,
		trimmer: trimmer,
		ring:    make([]Bucket, int64(window)/width+2),
	}
	if err := trimmer.register(r, r.start); err != nil {
		return nil, err
	}
	return r, nil
}

// BucketWidth returns the width of one internal bucket.
func (r *AggregatedSlidingWindowReservoir) BucketWidth() time.Duration {
	return time.Duration(r.width)
}

// RecordBucket merges the summary of trimmer bucket b into the internal
// bucket covering it.
func (r *AggregatedSlidingWindowReservoir) RecordBucket(b Bucket) {
	if b.Count == 0 {
		return
	}
	b.Index /= r.ratio

	r.mu.Lock()
	defer r.mu.Unlock()

	slot := &r.ring[b.Index%int64(len(r.ring))]
	switch {
	case slot.Count == 0 || slot.Index < b.Index:
		*slot = b
	case slot.Index == b.Index:
		slot.merge(b)
	}
	// Older than the slot's occupant: already out of the window.
}

// Update records a single measurement directly, without raw retention.
func (r *AggregatedSlidingWindowReservoir) Update(value, timestamp int64, unit time.Duration) {
	b := Bucket{Index: r.trimmer.index(toNanos(timestamp, unit))}
	b.add(value)
	r.RecordBucket(b)
}

// Snapshot reports every internal bucket overlapping [now-window, now],
// including data the trimmer has not folded yet.
func (r *AggregatedSlidingWindowReservoir) Snapshot(now int64, unit time.Duration) Snapshot {
	ns := toNanos(now, unit)

	var acc accumulator
	r.trimmer.view(ns, func(pending []Bucket) {
		r.mu.RLock()
		defer r.mu.RUnlock()

		for _, b := range r.ring {
			if b.Count > 0 && r.live(b.Index, ns) {
				acc.addBucket(b, r.bucketStart(b.Index))
			}
		}
		for _, b := range pending {
			idx := b.Index / r.ratio
			if r.live(idx, ns) {
				acc.addBucket(b, r.bucketStart(idx))
			}
		}
	})
	return acc.snapshot(ns)
}

func (r *AggregatedSlidingWindowReservoir) bucketStart(idx int64) int64 {
	return r.start + idx*r.width
}

func (r *AggregatedSlidingWindowReservoir) live(idx, now int64) bool {
	start := r.bucketStart(idx)
	return start+r.width > now-r.window && start <= now
}
