package api

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/wagerproto/wager-engine/internal/metrics"
)

// CallerHeader carries the authenticated caller identity. It is set by the
// fronting auth proxy; the engine trusts it as proven.
const CallerHeader = "X-Wager-Caller"

func caller(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(CallerHeader))
}

// maxTrackedClients bounds the limiter table. When exceeded the table is
// reset, which briefly refills every bucket.
const maxTrackedClients = 10_000

// RateLimiter enforces a token bucket per caller, falling back to the
// remote address for anonymous requests.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewRateLimiter allows rps sustained requests with bursts of burst per client.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the client identified by key may proceed now.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxTrackedClients {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			metrics.RateLimitRejections.Inc()
			w.Header().Set("Retry-After", "1")
			writeStatus(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if c := caller(r); c != "" {
		return "caller:" + c
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
