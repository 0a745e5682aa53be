package middleware

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"latencyd/src/latency"
	"latencyd/src/logging"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	chi_mw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// ProcessTimeHeader carries the elapsed handler time in seconds.
const ProcessTimeHeader = "X-Process-Time"

// Observer receives a callback for every timed request.
type Observer interface {
	Begin()
	Observe(method, route string, status int, elapsed time.Duration)
}

// Timing measures how long the downstream handler takes, records the
// duration into window and reports it in the X-Process-Time header. The
// response is held back until the handler returns so the header carries the
// exact value that was recorded.
//
// A panicking handler is still timed: the sample is recorded and the header
// is set before the panic continues up to the recoverer.
func Timing(window *latency.Window, observer Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			if observer != nil {
				observer.Begin()
			}
			buf := &bufferedResponse{}
			completed := false

			defer func() {
				elapsed := time.Since(start)
				window.Record(elapsed)

				status := buf.status()
				if !completed {
					status = http.StatusInternalServerError
				}
				if observer != nil {
					observer.Observe(r.Method, routePattern(r), status, elapsed)
				}
				entry := logging.Log.WithFields(logrus.Fields{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     status,
					"elapsed_s":  elapsed.Seconds(),
					"request_id": chi_mw.GetReqID(r.Context()),
				})

				if buf.hijacked {
					entry.Debug("connection hijacked")
					return
				}
				w.Header().Set(ProcessTimeHeader, FormatSeconds(elapsed))
				if !completed {
					entry.Warn("handler failed")
					return
				}
				entry.Debug("request completed")
				buf.flushTo(w)
			}()

			next.ServeHTTP(buf.wrap(w), r)
			completed = true
		})
	}
}

// FormatSeconds renders d as a plain decimal number of seconds with no rounding.
func FormatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// bufferedResponse collects the status and body written by a handler.
// Headers go straight to the real writer's header map.
type bufferedResponse struct {
	code     int
	body     bytes.Buffer
	hijacked bool
}

func (b *bufferedResponse) wrap(w http.ResponseWriter) http.ResponseWriter {
	return httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				if code >= 100 && code < 200 {
					next(code)
					return
				}
				if b.code == 0 {
					b.code = code
				}
			}
		},
		Write: func(httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(p []byte) (int, error) {
				b.markWritten()
				return b.body.Write(p)
			}
		},
		ReadFrom: func(httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				b.markWritten()
				return b.body.ReadFrom(src)
			}
		},
		// nothing reaches the client before the handler returns
		Flush: func(httpsnoop.FlushFunc) httpsnoop.FlushFunc {
			return func() {}
		},
		Hijack: func(next httpsnoop.HijackFunc) httpsnoop.HijackFunc {
			return func() (net.Conn, *bufio.ReadWriter, error) {
				conn, rw, err := next()
				if err == nil {
					b.hijacked = true
				}
				return conn, rw, err
			}
		},
	})
}

func (b *bufferedResponse) markWritten() {
	if b.code == 0 {
		b.code = http.StatusOK
	}
}

func (b *bufferedResponse) status() int {
	if b.code == 0 {
		return http.StatusOK
	}
	return b.code
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) {
	w.WriteHeader(b.status())
	if b.body.Len() > 0 {
		_, _ = w.Write(b.body.Bytes())
	}
}
