package model

// SnapshotReader provides read access to live window statistics.
type SnapshotReader interface {
	ListMetrics() ([]string, error)
	MetricSnapshot(name string) (MetricSnapshot, error)
}

// HistoryReader provides read access to stored snapshots, newest first.
type HistoryReader interface {
	History(metric, window string, limit int) ([]HistoryPoint, error)
}

// Recorder accepts measurements for named metrics.
type Recorder interface {
	Record(name string, value int64) error
}

// ReadAPI is the unified read contract for read surfaces (HTTP and socket RPC).
type ReadAPI interface {
	SnapshotReader
	HistoryReader
}
