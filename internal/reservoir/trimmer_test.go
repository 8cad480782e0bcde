package reservoir

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// recordingSink remembers every bucket it receives.
type recordingSink struct {
	mu      sync.Mutex
	buckets []Bucket
	seen    map[int64]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{seen: make(map[int64]int)}
}

func (s *recordingSink) RecordBucket(b Bucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = append(s.buckets, b)
	s.seen[b.Index]++
}

func (s *recordingSink) total() (count, sum int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buckets {
		count += b.Count
		sum += b.Sum
	}
	return count, sum
}

func newTestTrimmer(t *testing.T, bucket time.Duration) (*Trimmer, *SlidingWindowReservoir, *recordingSink) {
	t.Helper()
	trimmer, err := NewTrimmer(0, time.Nanosecond, bucket)
	require.NoError(t, err)
	raw, err := NewSlidingWindowReservoir(10*time.Microsecond, 0, time.Nanosecond, trimmer)
	require.NoError(t, err)
	sink := newRecordingSink()
	require.NoError(t, trimmer.register(sink, 0))
	return trimmer, raw, sink
}

func TestTrimmer_BucketIndex(t *testing.T) {
	trimmer, err := NewTrimmer(1, time.Second, 100*time.Millisecond)
	require.NoError(t, err)

	tests := map[string]struct {
		ts   int64
		unit time.Duration
		want int64
	}{
		"at start":               {ts: 1000, unit: time.Millisecond, want: 0},
		"before start clamps":    {ts: 10, unit: time.Millisecond, want: 0},
		"inside first bucket":    {ts: 1099, unit: time.Millisecond, want: 0},
		"first boundary":         {ts: 1100, unit: time.Millisecond, want: 1},
		"other unit":             {ts: 3, unit: time.Second, want: 20},
		"nanosecond granularity": {ts: int64(1250 * time.Millisecond), unit: time.Nanosecond, want: 2},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, trimmer.BucketIndex(tc.ts, tc.unit))
		})
	}
}

func TestTrimmer_FoldsSealedBuckets(t *testing.T) {
	trimmer, raw, sink := newTestTrimmer(t, time.Microsecond)

	raw.Update(5, 100, time.Nanosecond)
	raw.Update(7, 900, time.Nanosecond)
	raw.Update(1, 1500, time.Nanosecond) // crosses into bucket 1, seals bucket 0
	raw.Update(9, 1700, time.Nanosecond)

	require.Equal(t, []Bucket{{Index: 0, Count: 2, Min: 5, Max: 7, Sum: 12}}, sink.buckets)

	trimmer.MaybeFold(3, time.Microsecond)
	require.Equal(t, []Bucket{
		{Index: 0, Count: 2, Min: 5, Max: 7, Sum: 12},
		{Index: 1, Count: 2, Min: 1, Max: 9, Sum: 10},
	}, sink.buckets)

	// Nothing new to seal.
	trimmer.MaybeFold(3, time.Microsecond)
	trimmer.MaybeFold(2, time.Microsecond)
	require.Len(t, sink.buckets, 2)
}

func TestTrimmer_LateSampleGoesToNextFold(t *testing.T) {
	trimmer, raw, sink := newTestTrimmer(t, time.Microsecond)

	raw.Update(1, 500, time.Nanosecond)
	trimmer.MaybeFold(2, time.Microsecond)
	require.Equal(t, []Bucket{{Index: 0, Count: 1, Min: 1, Max: 1, Sum: 1}}, sink.buckets)

	// Bucket 0 is sealed; a sample stamped inside it must not reopen it.
	raw.Update(3, 600, time.Nanosecond)
	raw.Update(4, 2100, time.Nanosecond)
	trimmer.MaybeFold(4, time.Microsecond)

	require.Equal(t, []Bucket{
		{Index: 0, Count: 1, Min: 1, Max: 1, Sum: 1},
		{Index: 2, Count: 2, Min: 3, Max: 4, Sum: 7},
	}, sink.buckets)
	for idx, n := range sink.seen {
		require.Equal(t, 1, n, "bucket %d folded %d times", idx, n)
	}
}

func TestTrimmer_FoldsEachBucketOnceUnderConcurrency(t *testing.T) {
	trimmer, raw, sink := newTestTrimmer(t, time.Microsecond)

	const (
		writers = 8
		updates = 5000
	)
	var clock atomic.Int64
	var done atomic.Bool

	var g errgroup.Group
	for w := 0; w < writers; w++ {
		g.Go(func() error {
			for i := 0; i < updates; i++ {
				ts := clock.Add(100)
				raw.Update(1, ts, time.Nanosecond)
			}
			return nil
		})
	}
	var folders sync.WaitGroup
	for f := 0; f < 4; f++ {
		folders.Add(1)
		go func() {
			defer folders.Done()
			for !done.Load() {
				trimmer.MaybeFold(clock.Load(), time.Nanosecond)
			}
		}()
	}
	require.NoError(t, g.Wait())
	done.Store(true)
	folders.Wait()

	trimmer.MaybeFold(clock.Load()+int64(time.Microsecond), time.Nanosecond)

	for idx, n := range sink.seen {
		require.Equal(t, 1, n, "bucket %d folded %d times", idx, n)
	}
	count, sum := sink.total()
	require.Equal(t, int64(writers*updates), count)
	require.Equal(t, int64(writers*updates), sum)
}

func TestTrimmer_RejectsMismatchedReservoirs(t *testing.T) {
	trimmer, err := NewTrimmer(10, time.Millisecond, time.Millisecond)
	require.NoError(t, err)

	_, err = NewSlidingWindowReservoir(time.Second, 11, time.Millisecond, trimmer)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewAggregatedSlidingWindowReservoir(time.Hour, 10, time.Second, trimmer)
	require.ErrorIs(t, err, ErrInvalidConfig)

	// Same instant in a different unit is accepted.
	_, err = NewSlidingWindowReservoir(time.Second, 10_000, time.Microsecond, trimmer)
	require.NoError(t, err)

	_, err = NewSlidingWindowReservoir(time.Second, 10, time.Millisecond, trimmer)
	require.ErrorIs(t, err, ErrInvalidConfig, "second sliding reservoir on one trimmer")
}

func TestTrimmer_InvalidConfig(t *testing.T) {
	tests := map[string]struct {
		startUnit time.Duration
		bucket    time.Duration
	}{
		"zero bucket":     {startUnit: time.Nanosecond, bucket: 0},
		"negative bucket": {startUnit: time.Nanosecond, bucket: -time.Millisecond},
		"zero start unit": {startUnit: 0, bucket: time.Millisecond},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewTrimmer(0, tc.startUnit, tc.bucket)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
