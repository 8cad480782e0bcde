package model

import "time"

// WindowSnapshot is the statistical summary of one rolling window.
// Min, Max and Mean are zero when Size is zero.
type WindowSnapshot struct {
	Window   string        `json:"window"`
	Duration time.Duration `json:"duration_ns"`
	Size     int64         `json:"size"`
	Min      int64         `json:"min"`
	Max      int64         `json:"max"`
	Mean     float64       `json:"mean"`
	Interval time.Duration `json:"interval_ns"`
}

// MetricSnapshot holds every window of one metric taken at the same instant.
type MetricSnapshot struct {
	Name    string           `json:"name"`
	TakenAt time.Time        `json:"taken_at"`
	Windows []WindowSnapshot `json:"windows"`
}

// Window returns the snapshot of the named window.
func (m MetricSnapshot) Window(name string) (WindowSnapshot, bool) {
	for _, w := range m.Windows {
		if w.Window == name {
			return w, true
		}
	}
	return WindowSnapshot{}, false
}

// HistoryPoint is one stored window snapshot.
type HistoryPoint struct {
	TakenAt time.Time `json:"taken_at"`
	WindowSnapshot
}
