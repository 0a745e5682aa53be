package middleware

import (
	"latencyd/src/latency"

	"github.com/go-chi/chi/v5"
	chi_mw "github.com/go-chi/chi/v5/middleware"
)

// Options configures the global middleware stack.
type Options struct {
	Window       *latency.Window
	Observer     Observer
	RateLimitRPS int
	BehindProxy  bool
}

// Setup registers the global middleware stack on the router.
func Setup(r chi.Router, opts Options) {
	// Recoverer should be the first middleware so it catches panics from
	// downstream handlers and converts them to 500 responses instead of
	// crashing the whole process. Timing sits inside it so failed requests
	// are still measured.
	r.Use(chi_mw.Recoverer)
	r.Use(chi_mw.RequestID)
	r.Use(Timing(opts.Window, opts.Observer))
	r.Use(RateLimit(opts.RateLimitRPS, opts.BehindProxy))
}
