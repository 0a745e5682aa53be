package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"latencyd/src/latency"

	"github.com/go-chi/chi/v5"
	chi_mw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	begun    int
	routes   []string
	statuses []int
}

func (o *recordingObserver) Begin() {
	o.mu.Lock()
	o.begun++
	o.mu.Unlock()
}

func (o *recordingObserver) Observe(method, route string, status int, elapsed time.Duration) {
	o.mu.Lock()
	o.routes = append(o.routes, method+" "+route)
	o.statuses = append(o.statuses, status)
	o.mu.Unlock()
}

func TestTimingRecordsAndAnnotates(t *testing.T) {
	window := latency.NewWindow(10)
	h := Timing(window, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "made")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/things", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "made", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))

	require.Equal(t, 1, window.Count())
	recorded := window.Snapshot()[0]
	assert.GreaterOrEqual(t, recorded, 5*time.Millisecond)

	header := rec.Header().Get(ProcessTimeHeader)
	require.NotEmpty(t, header)
	assert.Equal(t, FormatSeconds(recorded), header)
	secs, err := strconv.ParseFloat(header, 64)
	require.NoError(t, err)
	assert.Equal(t, recorded.Seconds(), secs)
}

func TestTimingImplicitStatusAndFlush(t *testing.T) {
	window := latency.NewWindow(10)
	h := Timing(window, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, strings.NewReader("streamed"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		_, _ = io.WriteString(w, "!")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "streamed!", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(ProcessTimeHeader))
	assert.Equal(t, 1, window.Count())
}

func TestTimingRecordsFailedHandler(t *testing.T) {
	window := latency.NewWindow(10)
	window.Record(time.Millisecond)
	failure := errors.New("downstream exploded")

	h := Timing(window, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "partial")
		panic(failure)
	}))

	rec := httptest.NewRecorder()
	assert.PanicsWithValue(t, failure, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	})
	assert.Equal(t, 2, window.Count())
	assert.NotEmpty(t, rec.Header().Get(ProcessTimeHeader))
	assert.Empty(t, rec.Body.String(), "partial output must not leak")
}

func TestTimingBehindRecoverer(t *testing.T) {
	window := latency.NewWindow(10)
	obs := &recordingObserver{}

	r := chi.NewRouter()
	r.Use(chi_mw.Recoverer)
	r.Use(Timing(window, obs))
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(ProcessTimeHeader))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/7", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, 2, window.Count())
	assert.Equal(t, 2, obs.begun)
	assert.Equal(t, []string{"GET /boom", "GET /items/{id}"}, obs.routes)
	assert.Equal(t, []int{http.StatusInternalServerError, http.StatusNoContent}, obs.statuses)
}

func TestTimingConcurrentRequests(t *testing.T) {
	const requests = 64
	window := latency.NewWindow(1000)
	h := Timing(window, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		}()
	}
	wg.Wait()
	assert.Equal(t, requests, window.Count())
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "0.0934821", FormatSeconds(93482100*time.Nanosecond))
	assert.Equal(t, "1.5", FormatSeconds(1500*time.Millisecond))
	assert.Equal(t, "0.000001", FormatSeconds(time.Microsecond))
	assert.Equal(t, "0", FormatSeconds(0))
}
