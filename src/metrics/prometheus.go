// Package metrics exports request timings in the Prometheus exposition format.
//
// It registers:
//   - http_request_duration_seconds: histogram with method, route and status labels
//   - http_requests_in_flight: gauge of requests currently being served
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records request observations into a private registry.
type Collector struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewCollector creates a Collector with its own registry, so tests and
// multiple servers in one process never collide on the default registerer.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route", "status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current in-flight requests",
		}),
	}
	c.registry.MustRegister(c.duration, c.inFlight)
	return c
}

// Begin marks a request as in flight.
func (c *Collector) Begin() {
	c.inFlight.Inc()
}

// Observe records a finished request and clears its in-flight mark.
func (c *Collector) Observe(method, route string, status int, elapsed time.Duration) {
	c.inFlight.Dec()
	if route == "" {
		route = "unmatched"
	}
	c.duration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for callers that gather directly.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
