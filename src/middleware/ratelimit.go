package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"latencyd/src/concurrency"
	"latencyd/src/utils"

	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = time.Minute
	limiterIdleTTL       = 3 * time.Minute
)

// ipLimiters keeps one token bucket per client IP.
type ipLimiters struct {
	mu      sync.Mutex
	clients map[string]*ipClient
	rps     int
}

type ipClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *ipLimiters) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[ip]
	if !ok {
		// allow short bursts up to the per-second rate
		c = &ipClient{limiter: rate.NewLimiter(rate.Limit(l.rps), l.rps)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (l *ipLimiters) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(l.clients, ip)
		}
	}
}

// RateLimit limits requests per IP using a non-blocking token bucket.
// Exceeding requests are rejected immediately with 429 and a Retry-After header.
// A non-positive requestsPerSecond disables limiting.
func RateLimit(requestsPerSecond int, behindProxy bool) func(http.Handler) http.Handler {
	if requestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiters := &ipLimiters{clients: make(map[string]*ipClient), rps: requestsPerSecond}

	concurrency.GoSafe(func() {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for now := range ticker.C {
			limiters.sweep(now)
		}
	})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := limiters.get(clientIP(r, behindProxy), time.Now())

			// Non-blocking: reserve a token and reject if it would require waiting.
			res := limiter.Reserve()
			if !res.OK() {
				writeRateLimited(w, requestsPerSecond, time.Second)
				return
			}
			if delay := res.Delay(); delay > 0 {
				res.Cancel() // do not consume the token if we're rejecting
				writeRateLimited(w, requestsPerSecond, delay)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the real client IP, checking proxy headers if behindProxy is true.
func clientIP(r *http.Request, behindProxy bool) string {
	if behindProxy {
		if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
			return ip
		}
		// first hop of X-Forwarded-For
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return ip
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// writeRateLimited writes a 429 with Retry-After and basic rate-limit headers.
func writeRateLimited(w http.ResponseWriter, limit int, delay time.Duration) {
	retryAfterSeconds := max(int(math.Ceil(delay.Seconds())), 1)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(retryAfterSeconds)*time.Second).Unix(), 10))
	utils.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too Many Requests")
}
