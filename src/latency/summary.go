package latency

import "time"

// Summary ranks reported by Tracker.Summary.
const (
	RankP50 = 50
	RankP95 = 95
	RankP99 = 99
)

// Summary is the percentile digest computed from a single window snapshot.
type Summary struct {
	P50         Value
	P95         Value
	P99         Value
	SampleCount int
}

// Tracker is the read side of a Window.
type Tracker struct {
	window *Window
}

// NewTracker returns a Tracker reading from window.
func NewTracker(window *Window) *Tracker {
	return &Tracker{window: window}
}

// Percentile computes a single percentile over the current window contents.
// The bool result is false when no samples have been recorded yet.
func (t *Tracker) Percentile(rank int) (time.Duration, bool, error) {
	if err := ValidateRank(rank); err != nil {
		return 0, false, err
	}
	d, ok := Percentile(t.window.Snapshot(), rank)
	return d, ok, nil
}

// Summary computes P50, P95 and P99 from one snapshot so the three values
// and the sample count always describe the same set of samples.
func (t *Tracker) Summary() Summary {
	snap := t.window.Snapshot()
	vals := Percentiles(snap, RankP50, RankP95, RankP99)
	return Summary{
		P50:         vals[0],
		P95:         vals[1],
		P99:         vals[2],
		SampleCount: len(snap),
	}
}
