package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"latencyd/src/latency"

	"github.com/go-chi/chi/v5"
)

func newLimitedRouter(rps int) (*chi.Mux, *latency.Window) {
	window := latency.NewWindow(1000)
	r := chi.NewRouter()
	Setup(r, Options{Window: window, RateLimitRPS: rps})
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r, window
}

func TestRateLimitMiddleware(t *testing.T) {
	r, window := newLimitedRouter(10)

	t.Run("allows requests under limit", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", w.Code)
		}
	})

	t.Run("rate limits excessive requests", func(t *testing.T) {
		ip := "192.168.1.2:54321"
		successCount := 0
		rateLimitedCount := 0

		for i := 0; i < 100; i++ {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = ip
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			switch w.Code {
			case http.StatusOK:
				successCount++
			case http.StatusTooManyRequests:
				rateLimitedCount++
				if w.Header().Get("Retry-After") == "" {
					t.Error("expected Retry-After on 429")
				}
				if w.Header().Get(ProcessTimeHeader) == "" {
					t.Error("rejected requests are still timed")
				}
			}
		}

		if rateLimitedCount == 0 {
			t.Error("expected some requests to be rate limited")
		}
		if successCount == 0 {
			t.Error("expected some requests to succeed")
		}
		t.Logf("Success: %d, Rate Limited: %d", successCount, rateLimitedCount)
	})

	t.Run("different IPs have separate limits", func(t *testing.T) {
		req1 := httptest.NewRequest("GET", "/test", nil)
		req1.RemoteAddr = "192.168.1.3:12345"
		w1 := httptest.NewRecorder()
		r.ServeHTTP(w1, req1)

		req2 := httptest.NewRequest("GET", "/test", nil)
		req2.RemoteAddr = "192.168.1.4:12345"
		w2 := httptest.NewRecorder()
		r.ServeHTTP(w2, req2)

		if w1.Code != http.StatusOK {
			t.Errorf("IP1 expected 200, got %d", w1.Code)
		}
		if w2.Code != http.StatusOK {
			t.Errorf("IP2 expected 200, got %d", w2.Code)
		}
	})

	t.Run("limit resets over time", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping time-dependent test in short mode")
		}

		ip := "192.168.1.5:12345"
		for i := 0; i < 100; i++ {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = ip
			r.ServeHTTP(httptest.NewRecorder(), req)
		}

		time.Sleep(2 * time.Second)

		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = ip
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("expected 200 after reset, got %d", w.Code)
		}
	})

	if window.Count() == 0 {
		t.Error("expected every request to be recorded")
	}
}

func TestRateLimitDisabled(t *testing.T) {
	r, window := newLimitedRouter(0)
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "10.0.0.1:1"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	if window.Count() != 50 {
		t.Fatalf("expected 50 samples, got %d", window.Count())
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.1.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := clientIP(req, false); got != "10.1.1.1" {
		t.Errorf("direct: got %q", got)
	}
	if got := clientIP(req, true); got != "203.0.113.9" {
		t.Errorf("proxied: got %q", got)
	}
	req.Header.Set("CF-Connecting-IP", "198.51.100.7")
	if got := clientIP(req, true); got != "198.51.100.7" {
		t.Errorf("cloudflare: got %q", got)
	}
}
