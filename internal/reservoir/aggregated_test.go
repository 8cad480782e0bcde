package reservoir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pipeline is a raw reservoir feeding aggregated windows through one trimmer.
type pipeline struct {
	trimmer *Trimmer
	raw     *SlidingWindowReservoir
	windows map[string]*AggregatedSlidingWindowReservoir
}

func newPipeline(t *testing.T, rawWindow, bucket time.Duration, windows map[string]time.Duration) *pipeline {
	t.Helper()
	trimmer, err := NewTrimmer(0, time.Nanosecond, bucket)
	require.NoError(t, err)
	raw, err := NewSlidingWindowReservoir(rawWindow, 0, time.Nanosecond, trimmer)
	require.NoError(t, err)

	p := &pipeline{trimmer: trimmer, raw: raw, windows: make(map[string]*AggregatedSlidingWindowReservoir)}
	for name, d := range windows {
		w, err := NewAggregatedSlidingWindowReservoir(d, 0, time.Nanosecond, trimmer)
		require.NoError(t, err)
		p.windows[name] = w
	}
	return p
}

func TestAggregatedSlidingWindowReservoir_EmptySnapshot(t *testing.T) {
	p := newPipeline(t, 10*time.Microsecond, time.Microsecond, map[string]time.Duration{"1d": 24 * time.Hour})

	s := p.windows["1d"].Snapshot(int64(time.Hour), time.Nanosecond)
	require.Equal(t, Snapshot{}, s)
	require.Equal(t, 0.0, s.Mean())
}

func TestAggregatedSlidingWindowReservoir_SequentialValues(t *testing.T) {
	const m = 10_000
	p := newPipeline(t, 10*time.Microsecond, time.Microsecond, map[string]time.Duration{
		"1s":  time.Second,
		"1d":  24 * time.Hour,
		"10d": 240 * time.Hour,
	})

	for i := int64(1); i <= m; i++ {
		p.raw.Update(i, i*100, time.Nanosecond)
	}
	now := int64(m * 100)

	for name, w := range p.windows {
		t.Run(name, func(t *testing.T) {
			s := w.Snapshot(now, time.Nanosecond)
			require.Equal(t, int64(m), s.Size())
			require.Equal(t, int64(1), s.Min())
			require.Equal(t, int64(m), s.Max())
			require.InDelta(t, float64(m+1)/2, s.Mean(), 1e-9)
		})
	}

	// The raw window only sees the last 10µs: timestamps 990_000..1_000_000.
	raw := p.raw.Snapshot(now, time.Nanosecond)
	require.Equal(t, int64(101), raw.Size())
	require.Equal(t, int64(m-100), raw.Min())
	require.Equal(t, int64(m), raw.Max())
}

func TestAggregatedSlidingWindowReservoir_Conservation(t *testing.T) {
	p := newPipeline(t, time.Millisecond, 10*time.Millisecond, map[string]time.Duration{"1h": time.Hour})
	w := p.windows["1h"]

	values := []int64{17, 3, 99, 42, 8, 1000, 5, 61, 23, 4}
	var sum int64
	for i, v := range values {
		// Spread over several trimmer buckets and several internal buckets.
		p.raw.Update(v, int64(i)*int64(7*time.Minute)/int64(len(values)), time.Nanosecond)
		sum += v
	}

	// Fold everything, then read well after the last bucket sealed.
	now := int64(10 * time.Minute)
	p.trimmer.MaybeFold(now, time.Nanosecond)
	s := w.Snapshot(now, time.Nanosecond)

	require.Equal(t, int64(len(values)), s.Size())
	require.Equal(t, int64(3), s.Min())
	require.Equal(t, int64(1000), s.Max())
	require.InDelta(t, float64(sum)/float64(len(values)), s.Mean(), 1e-9)
	require.Equal(t, 10*time.Minute, time.Duration(s.TimeInterval(time.Nanosecond)))
	require.Equal(t, int64(10), s.TimeInterval(time.Minute))
}

func TestAggregatedSlidingWindowReservoir_Eviction(t *testing.T) {
	p := newPipeline(t, time.Millisecond, time.Millisecond, map[string]time.Duration{"1s": time.Second})
	w := p.windows["1s"]

	// 1s / 60 rounds up to 17 trimmer buckets of 1ms.
	require.Equal(t, 17*time.Millisecond, w.BucketWidth())

	p.raw.Update(7, 0, time.Millisecond)

	tests := []struct {
		now  int64 // milliseconds
		want int64
	}{
		{now: 0, want: 1},
		{now: 500, want: 1},
		{now: 1016, want: 1}, // bucket [0,17ms) still overlaps the window
		{now: 1017, want: 0},
		{now: 5000, want: 0},
	}
	for _, tc := range tests {
		s := w.Snapshot(tc.now, time.Millisecond)
		require.Equal(t, tc.want, s.Size(), "now=%dms", tc.now)
	}
}

func TestAggregatedSlidingWindowReservoir_RingReuse(t *testing.T) {
	p := newPipeline(t, time.Millisecond, time.Millisecond, map[string]time.Duration{"100ms": 100 * time.Millisecond})
	w := p.windows["100ms"]

	// Several passes over the ring: only the last window's worth survives.
	for ms := int64(0); ms < 1000; ms++ {
		p.raw.Update(ms, ms, time.Millisecond)
	}
	now := int64(999)
	s := w.Snapshot(now, time.Millisecond)

	// 100ms / 60 rounds up to 2ms buckets; the oldest one still overlapping
	// (899ms, 999ms] starts at 898ms.
	require.Equal(t, 2*time.Millisecond, w.BucketWidth())
	oldest := int64(898)
	require.Equal(t, 999-oldest+1, s.Size())
	require.Equal(t, oldest, s.Min())
	require.Equal(t, int64(999), s.Max())
	require.Equal(t, now-oldest, s.TimeInterval(time.Millisecond))
}

func TestAggregatedSlidingWindowReservoir_IdempotentRead(t *testing.T) {
	p := newPipeline(t, 10*time.Microsecond, time.Microsecond, map[string]time.Duration{"1s": time.Second})
	w := p.windows["1s"]

	for i := int64(1); i <= 500; i++ {
		p.raw.Update(i, i*37, time.Nanosecond)
	}

	// The first read folds pending buckets; the second must not see a change.
	now := int64(20 * time.Microsecond)
	first := w.Snapshot(now, time.Nanosecond)
	second := w.Snapshot(now, time.Nanosecond)
	require.Equal(t, first, second)
	require.Equal(t, int64(500), first.Size())
}

func TestAggregatedSlidingWindowReservoir_DirectUpdate(t *testing.T) {
	trimmer, err := NewTrimmer(0, time.Millisecond, time.Second)
	require.NoError(t, err)
	w, err := NewAggregatedSlidingWindowReservoir(time.Minute, 0, time.Millisecond, trimmer)
	require.NoError(t, err)

	w.Update(10, 1, time.Second)
	w.Update(30, 2, time.Second)

	s := w.Snapshot(3, time.Second)
	require.Equal(t, int64(2), s.Size())
	require.InDelta(t, 20.0, s.Mean(), 1e-9)
}

func TestAggregatedSlidingWindowReservoir_BucketGranularity(t *testing.T) {
	trimmer, err := NewTrimmer(0, time.Millisecond, time.Second)
	require.NoError(t, err)
	w, err := NewAggregatedSlidingWindowReservoir(10*time.Minute, 0, time.Millisecond, trimmer)
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, w.BucketWidth())

	w.Update(1, 1, time.Second)
	w.Update(2, 5, time.Second)
	w.Update(3, 15, time.Second)

	// The bucket [0s,10s) has started by 2s, so the sample at 5s counts.
	// The bucket [10s,20s) has not, so the sample at 15s does not.
	s := w.Snapshot(2, time.Second)
	require.Equal(t, int64(2), s.Size())
	require.Equal(t, int64(2), s.Max())
}

func TestAggregatedSlidingWindowReservoir_InvalidConfig(t *testing.T) {
	trimmer, err := NewTrimmer(0, time.Nanosecond, time.Millisecond)
	require.NoError(t, err)

	tests := map[string]struct {
		window    time.Duration
		startUnit time.Duration
		trimmer   *Trimmer
		opts      []AggregatedOption
	}{
		"zero window":     {window: 0, startUnit: time.Nanosecond, trimmer: trimmer},
		"zero start unit": {window: time.Hour, startUnit: 0, trimmer: trimmer},
		"nil trimmer":     {window: time.Hour, startUnit: time.Nanosecond},
		"zero buckets":    {window: time.Hour, startUnit: time.Nanosecond, trimmer: trimmer, opts: []AggregatedOption{WithBuckets(0)}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewAggregatedSlidingWindowReservoir(tc.window, 0, tc.startUnit, tc.trimmer, tc.opts...)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
