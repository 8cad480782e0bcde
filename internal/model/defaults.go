package model

import "time"

// Shared defaults used by both the server and CLI binaries.
const (
	DefaultUpdateInterval = 2 * time.Second
	DefaultRawWindow      = time.Second
	DefaultBucketSize     = 10 * time.Millisecond
	DefaultWindowBuckets  = 60
	DefaultMaxMetrics     = 1000
	DefaultHistoryLimit   = 100
)

// DefaultWindows are the aggregated windows kept for every metric.
var DefaultWindows = []time.Duration{
	15 * time.Second,
	time.Minute,
	15 * time.Minute,
	time.Hour,
	24 * time.Hour,
	10 * 24 * time.Hour,
}
