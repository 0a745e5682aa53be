// Package server assembles the HTTP pipeline: every request/response route
// passes through the timing middleware, which feeds the shared latency window.
package server

import (
	"context"
	"net/http"

	"latencyd/src/api"
	"latencyd/src/concurrency"
	"latencyd/src/config"
	"latencyd/src/latency"
	"latencyd/src/metrics"
	"latencyd/src/middleware"
	"latencyd/src/utils"
	ws "latencyd/src/websocket"

	"github.com/go-chi/chi/v5"
)

// Server owns the single latency window of the process and everything that
// reads from or writes to it.
type Server struct {
	Window  *latency.Window
	Tracker *latency.Tracker
	Metrics *metrics.Collector
	Tasks   *concurrency.TaskQueue
	Stream  *ws.Server

	handler http.Handler
}

// New builds the application from cfg.
func New(cfg config.Config) *Server {
	window := latency.NewWindow(cfg.WindowCapacity)
	tracker := latency.NewTracker(window)
	s := &Server{
		Window:  window,
		Tracker: tracker,
		Metrics: metrics.NewCollector(),
		Tasks:   concurrency.NewTaskQueue(cfg.TaskWorkers, cfg.TaskQueueSize),
		Stream:  ws.NewServer(tracker, cfg.PushInterval),
	}

	r := chi.NewRouter()
	middleware.Setup(r, middleware.Options{
		Window:       window,
		Observer:     s.Metrics,
		RateLimitRPS: cfg.RateLimitRPS,
		BehindProxy:  cfg.BehindProxy,
	})

	// Routes
	r.Get("/", api.RootHandler{}.ServeHTTP)
	r.Get("/health", api.HealthHandler{}.ServeHTTP)
	r.Post("/predict", api.PredictHandler{}.ServeHTTP)
	r.Get("/metrics", api.MetricsHandler{Tracker: tracker}.ServeHTTP)
	r.Get("/latency/{percentile}", api.PercentileHandler{Tracker: tracker}.ServeHTTP)
	r.Handle("/metrics/prometheus", s.Metrics.Handler())
	r.Mount("/exercises", api.NewExercises(s.Tasks, cfg.ExerciseConfigPath).Routes())
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusNotFound, utils.PageNotFound())
	})

	// The metrics stream is a long-lived connection, not a unit of work, so
	// it stays outside the timed pipeline.
	root := chi.NewRouter()
	root.Handle("/metrics/stream", s.Stream)
	root.Mount("/", r)
	s.handler = root
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close stops the metrics stream and drains background tasks.
func (s *Server) Close(ctx context.Context) error {
	s.Stream.Close()
	return s.Tasks.Close(ctx)
}
