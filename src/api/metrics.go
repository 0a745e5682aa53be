package api

import (
	"errors"
	"net/http"
	"strconv"

	"latencyd/src/latency"
	"latencyd/src/utils"

	"github.com/go-chi/chi/v5"
)

// LatencyBody is the "latency" object of GET /metrics. Absent percentiles
// encode as null.
type LatencyBody struct {
	P50 *float64 `json:"P50"`
	P95 *float64 `json:"P95"`
	P99 *float64 `json:"P99"`
}

// MetricsBody is the response of GET /metrics.
type MetricsBody struct {
	Latency     LatencyBody `json:"latency"`
	SampleCount int         `json:"sample_count"`
}

// NewMetricsBody converts a summary into its wire shape (seconds).
func NewMetricsBody(s latency.Summary) MetricsBody {
	return MetricsBody{
		Latency: LatencyBody{
			P50: s.P50.Seconds(),
			P95: s.P95.Seconds(),
			P99: s.P99.Seconds(),
		},
		SampleCount: s.SampleCount,
	}
}

// MetricsHandler serves GET /metrics.
type MetricsHandler struct {
	Tracker *latency.Tracker
}

func (h MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, NewMetricsBody(h.Tracker.Summary()))
}

// PercentileHandler serves GET /latency/{percentile}. The body is the bare
// percentile in seconds, or null before any request has been recorded.
type PercentileHandler struct {
	Tracker *latency.Tracker
}

func (h PercentileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "percentile")
	rank, err := strconv.Atoi(raw)
	if err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, utils.CodeInvalidRank, "percentile must be an integer, got "+strconv.Quote(raw))
		return
	}
	d, ok, err := h.Tracker.Percentile(rank)
	if errors.Is(err, latency.ErrInvalidRank) {
		utils.WriteError(w, http.StatusUnprocessableEntity, utils.CodeInvalidRank, err.Error())
		return
	}
	if !ok {
		utils.WriteJSON(w, http.StatusOK, nil)
		return
	}
	utils.WriteJSON(w, http.StatusOK, d.Seconds())
}
