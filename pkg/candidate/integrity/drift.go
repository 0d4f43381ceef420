package integrity

import "time"

// DriftDetector compares tick arrival times against the expected schedule. A
// late tick means the process was throttled or suspended. Readings are
// compared on the wall clock, so a system clock set forward or back shows up
// as drift too.
type DriftDetector struct {
	interval  time.Duration
	threshold time.Duration
	last      time.Time
}

// NewDriftDetector starts a detector whose first expected tick is
// start+interval.
func NewDriftDetector(interval, threshold time.Duration, start time.Time) *DriftDetector {
	return &DriftDetector{interval: interval, threshold: threshold, last: start.Round(0)}
}

// Observe records a tick at now and reports the drift if it exceeds the
// threshold in either direction.
func (d *DriftDetector) Observe(now time.Time) (time.Duration, bool) {
	// Round(0) drops the monotonic reading so Sub uses wall time.
	now = now.Round(0)
	drift := now.Sub(d.last.Add(d.interval))
	d.last = now
	if drift < 0 {
		drift = -drift
	}
	return drift, drift > d.threshold
}
