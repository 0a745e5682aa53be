// Package latency holds the rolling window of request durations and the
// percentile math run over it.
package latency

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of samples kept when no capacity is configured.
const DefaultCapacity = 1000

// Window is a fixed-size ring buffer of duration samples. Once full, every
// Record overwrites the oldest sample.
type Window struct {
	mu   sync.Mutex
	vals []time.Duration
	idx  int
	full bool
}

// NewWindow allocates a window holding at most capacity samples.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{vals: make([]time.Duration, capacity)}
}

// Record adds a duration sample, evicting the oldest one when the window is full.
func (w *Window) Record(d time.Duration) {
	if d < 0 {
		d = 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.vals[w.idx] = d
	w.idx = (w.idx + 1) % len(w.vals)
	if w.idx == 0 {
		w.full = true
	}
}

// Snapshot returns a copy of the stored samples, oldest first.
func (w *Window) Snapshot() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.full {
		out := make([]time.Duration, w.idx)
		copy(out, w.vals[:w.idx])
		return out
	}
	// idx points at the oldest sample once the ring has wrapped.
	out := make([]time.Duration, len(w.vals))
	n := copy(out, w.vals[w.idx:])
	copy(out[n:], w.vals[:w.idx])
	return out
}

// Count returns the number of samples currently held.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return len(w.vals)
	}
	return w.idx
}

// Capacity returns the maximum number of samples the window keeps.
func (w *Window) Capacity() int {
	return len(w.vals)
}
