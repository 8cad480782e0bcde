package reservoir

import "time"

// Snapshot is an immutable statistical summary of one window.
//
// An empty snapshot reports zero for every field: Size, Min, Max, Mean and
// TimeInterval all return 0.
type Snapshot struct {
	size     int64
	min      int64
	max      int64
	sum      int64
	interval int64 // nanoseconds
}

// Size returns the number of samples that contributed to the snapshot.
func (s Snapshot) Size() int64 { return s.size }

// Min returns the smallest sample, or 0 for an empty snapshot.
func (s Snapshot) Min() int64 { return s.min }

// Max returns the largest sample, or 0 for an empty snapshot.
func (s Snapshot) Max() int64 { return s.max }

// Mean returns the arithmetic mean, or 0 for an empty snapshot.
func (s Snapshot) Mean() float64 {
	if s.size == 0 {
		return 0
	}
	return float64(s.sum) / float64(s.size)
}

// TimeInterval returns the time covered by the contributing data,
// truncated to unit.
func (s Snapshot) TimeInterval(unit time.Duration) int64 {
	if unit <= 0 {
		unit = time.Nanosecond
	}
	return s.interval / int64(unit)
}

// accumulator folds buckets or samples into a Snapshot.
type accumulator struct {
	b      Bucket
	oldest int64
}

func (a *accumulator) addSample(v, ts int64) {
	a.b.add(v)
	if a.b.Count == 1 || ts < a.oldest {
		a.oldest = ts
	}
}

func (a *accumulator) addBucket(b Bucket, start int64) {
	if b.Count == 0 {
		return
	}
	first := a.b.Count == 0
	a.b.merge(b)
	if first || start < a.oldest {
		a.oldest = start
	}
}

func (a *accumulator) snapshot(now int64) Snapshot {
	if a.b.Count == 0 {
		return Snapshot{}
	}
	interval := now - a.oldest
	if interval < 0 {
		interval = 0
	}
	return Snapshot{
		size:     a.b.Count,
		min:      a.b.Min,
		max:      a.b.Max,
		sum:      a.b.Sum,
		interval: interval,
	}
}
