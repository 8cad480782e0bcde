package reservoir

import (
	"fmt"
	"sync"
	"time"
)

// minCompact is the smallest recent-sample count that triggers compaction.
const minCompact = 256

type sample struct {
	value int64
	ts    int64
}

// SlidingWindowReservoir keeps raw samples for a short window.
//
// Samples wait in pending until the trimmer folds their bucket, then move
// to recent, where they stay until they age out of the window. Without a
// trimmer every sample goes straight to recent.
type SlidingWindowReservoir struct {
	window  int64
	start   int64
	trimmer *Trimmer

	mu        sync.RWMutex
	pending   []sample
	recent    []sample
	latest    int64
	compactAt int
}

var _ TimeReservoir = (*SlidingWindowReservoir)(nil)

// NewSlidingWindowReservoir creates a reservoir covering window, anchored
// at start (in startUnit). trimmer may be nil.
func NewSlidingWindowReservoir(window time.Duration, start int64, startUnit time.Duration, trimmer *Trimmer) (*SlidingWindowReservoir, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, window)
	}
	if startUnit <= 0 {
		return nil, fmt.Errorf("%w: start unit must be positive, got %v", ErrInvalidConfig, startUnit)
	}

	r := &SlidingWindowReservoir{
		window:    int64(window),
		start:     toNanos(start, startUnit),
		trimmer:   trimmer,
		compactAt: minCompact,
	}
	r.latest = r.start
	if trimmer != nil {
		if err := trimmer.attach(r, r.start); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Update records value at timestamp. Timestamps before the reservoir start
// are clamped to the start.
func (r *SlidingWindowReservoir) Update(value, timestamp int64, unit time.Duration) {
	ts := max(toNanos(timestamp, unit), r.start)

	r.mu.Lock()
	s := sample{value: value, ts: ts}
	if r.trimmer != nil {
		r.pending = append(r.pending, s)
	} else {
		r.recent = append(r.recent, s)
	}
	r.latest = max(r.latest, ts)
	if len(r.recent) >= r.compactAt {
		r.compactLocked()
	}
	r.mu.Unlock()

	if r.trimmer != nil {
		r.trimmer.fold(ts)
	}
}

// Snapshot reports samples with now-window <= ts <= now.
func (r *SlidingWindowReservoir) Snapshot(now int64, unit time.Duration) Snapshot {
	ns := toNanos(now, unit)
	if r.trimmer != nil {
		r.trimmer.fold(ns)
	}
	lo := ns - r.window

	var acc accumulator
	r.mu.RLock()
	for _, list := range [][]sample{r.recent, r.pending} {
		for _, s := range list {
			if s.ts >= lo && s.ts <= ns {
				acc.addSample(s.value, s.ts)
			}
		}
	}
	r.mu.RUnlock()
	return acc.snapshot(ns)
}

// compactLocked drops recent samples that fell out of the window as of the
// newest timestamp seen.
func (r *SlidingWindowReservoir) compactLocked() {
	lo := r.latest - r.window
	kept := r.recent[:0]
	for _, s := range r.recent {
		if s.ts >= lo {
			kept = append(kept, s)
		}
	}
	clear(r.recent[len(kept):])
	r.recent = kept
	r.compactAt = max(minCompact, 2*len(kept))
}

func (r *SlidingWindowReservoir) foldBefore(cutoff, floor int64) []Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := make(bucketSet)
	kept := r.pending[:0]
	for _, s := range r.pending {
		if s.ts >= cutoff {
			kept = append(kept, s)
			continue
		}
		set.add(max(r.trimmer.index(s.ts), floor), s.value)
		r.recent = append(r.recent, s)
	}
	clear(r.pending[len(kept):])
	r.pending = kept

	if len(r.recent) >= r.compactAt {
		r.compactLocked()
	}
	return set.sorted()
}

func (r *SlidingWindowReservoir) unfolded(now, floor int64) []Bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(bucketSet)
	for _, s := range r.pending {
		if s.ts <= now {
			set.add(max(r.trimmer.index(s.ts), floor), s.value)
		}
	}
	return set.sorted()
}

// Len returns the number of samples currently retained.
func (r *SlidingWindowReservoir) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending) + len(r.recent)
}
