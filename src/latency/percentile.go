package latency

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrInvalidRank is returned when a percentile rank falls outside [0, 100].
var ErrInvalidRank = errors.New("percentile rank must be between 0 and 100")

// ValidateRank reports whether rank can be fed to Percentile.
func ValidateRank(rank int) error {
	if rank < 0 || rank > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidRank, rank)
	}
	return nil
}

// Percentile returns the nearest-rank percentile of samples: the element at
// max(floor(n*rank/100)-1, 0) of the ascending order. For 10 samples and
// rank 50 that is the 5th smallest value. The input slice is not modified.
// The second return value is false when samples is empty.
func Percentile(samples []time.Duration, rank int) (time.Duration, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	return sorted[rankIndex(len(sorted), rank)], true
}

// Percentiles evaluates several ranks against a single sorted copy of samples.
// The result has one entry per rank; all entries are absent when samples is empty.
func Percentiles(samples []time.Duration, ranks ...int) []Value {
	out := make([]Value, len(ranks))
	if len(samples) == 0 {
		return out
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	for i, rank := range ranks {
		out[i] = Value{Duration: sorted[rankIndex(len(sorted), rank)], Valid: true}
	}
	return out
}

// rankIndex never leaves [0, n-1], even for ranks ValidateRank would reject.
func rankIndex(n, rank int) int {
	idx := max(n*rank/100-1, 0)
	return min(idx, n-1)
}

// Value is a percentile result that may be absent.
type Value struct {
	Duration time.Duration
	Valid    bool
}

// Seconds returns the value in seconds, or nil when absent.
func (v Value) Seconds() *float64 {
	if !v.Valid {
		return nil
	}
	s := v.Duration.Seconds()
	return &s
}
