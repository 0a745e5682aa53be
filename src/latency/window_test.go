package latency

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func durations(vals ...int) []time.Duration {
	out := make([]time.Duration, len(vals))
	for i, v := range vals {
		out[i] = time.Duration(v)
	}
	return out
}

func TestWindowKeepsInsertionOrderBelowCapacity(t *testing.T) {
	w := NewWindow(5)
	assert.Equal(t, 0, w.Count())
	assert.Empty(t, w.Snapshot())

	for _, v := range []int{3, 1, 2} {
		w.Record(time.Duration(v))
	}
	assert.Equal(t, 3, w.Count())
	assert.Equal(t, durations(3, 1, 2), w.Snapshot())
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for i := 1; i <= 7; i++ {
		w.Record(time.Duration(i))
		assert.Equal(t, min(i, 3), w.Count())
	}
	assert.Equal(t, durations(5, 6, 7), w.Snapshot())

	// exactly one full lap
	w2 := NewWindow(3)
	for i := 1; i <= 3; i++ {
		w2.Record(time.Duration(i))
	}
	assert.Equal(t, durations(1, 2, 3), w2.Snapshot())
}

func TestWindowSnapshotIsACopy(t *testing.T) {
	w := NewWindow(4)
	w.Record(10)
	w.Record(20)
	snap := w.Snapshot()
	snap[0] = 999
	w.Record(30)
	assert.Equal(t, durations(10, 20, 30), w.Snapshot())
}

func TestWindowDefaultsAndClamping(t *testing.T) {
	w := NewWindow(0)
	assert.Equal(t, DefaultCapacity, w.Capacity())

	w.Record(-5 * time.Second)
	assert.Equal(t, []time.Duration{0}, w.Snapshot())
}

func TestWindowConcurrentRecord(t *testing.T) {
	cases := []struct {
		name              string
		writers, capacity int
	}{
		{"under capacity", 200, 1000},
		{"over capacity", 500, 64},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWindow(tc.capacity)
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 1; i <= tc.writers; i++ {
				wg.Add(1)
				go func(v int) {
					defer wg.Done()
					<-start
					w.Record(time.Duration(v))
				}(i)
			}
			close(start)
			wg.Wait()

			require.Equal(t, min(tc.writers, tc.capacity), w.Count())
			snap := w.Snapshot()
			require.Len(t, snap, min(tc.writers, tc.capacity))

			// Each writer's value appears at most once and only real values show up.
			seen := make(map[time.Duration]bool, len(snap))
			for _, d := range snap {
				assert.False(t, seen[d], "duplicate sample %d", d)
				assert.True(t, d >= 1 && d <= time.Duration(tc.writers), "unexpected sample %d", d)
				seen[d] = true
			}
		})
	}
}

func TestWindowConcurrentTailMatchesCompletionOrder(t *testing.T) {
	// Writers record under an external lock that also appends to a log,
	// so the log is the true completion order the window must reproduce.
	const capacity, writers = 50, 300
	w := NewWindow(capacity)
	var (
		mu    sync.Mutex
		order []time.Duration
		wg    sync.WaitGroup
	)
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(v time.Duration) {
			defer wg.Done()
			mu.Lock()
			w.Record(v)
			order = append(order, v)
			mu.Unlock()
		}(time.Duration(i))
	}
	wg.Wait()

	want := order[len(order)-capacity:]
	assert.True(t, slices.Equal(want, w.Snapshot()))
}

func TestWindowReadersDuringWrites(t *testing.T) {
	w := NewWindow(100)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			w.Record(time.Duration(i))
		}
	}()
	for {
		select {
		case <-done:
			assert.Equal(t, 100, w.Count())
			return
		default:
			snap := w.Snapshot()
			// Samples are recorded in increasing order, so any consistent
			// snapshot is strictly ascending.
			assert.True(t, slices.IsSorted(snap))
			assert.LessOrEqual(t, len(snap), 100)
		}
	}
}
