package gateway

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/visgate/control-plane/pkg/metrics"
)

// Limiter is an in-memory sliding-window rate limiter. Expired timestamps
// are pruned lazily on each call for the touched subject, so no background
// sweeper is needed.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	windows map[string][]time.Time
	now     func() time.Time
}

func NewLimiter(window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		window:  window,
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records one call for the subject if under limit. On rejection it
// returns the seconds until the oldest call slides out of the window.
func (l *Limiter) Allow(subject string, limit int) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.windows[subject][:0]
	for _, ts := range l.windows[subject] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		l.windows[subject] = kept
		retryAfter := int(kept[0].Sub(cutoff).Seconds()) + 1
		return false, retryAfter
	}
	l.windows[subject] = append(kept, now)
	return true, 0
}

// rateLimit enforces the per-tenant limit and a looser (2x) per-client-IP
// limit. Runs after authenticate.
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := g.cfg.RateLimit.RequestsPerMinute

		if ok, retryAfter := g.limiter.Allow("user:"+userHashFrom(r.Context()), limit); !ok {
			metrics.RateLimitedRequests.WithLabelValues("user").Inc()
			writeRateLimited(w, retryAfter)
			return
		}
		if ok, retryAfter := g.limiter.Allow("ip:"+clientIP(r), limit*2); !ok {
			metrics.RateLimitedRequests.WithLabelValues("ip").Inc()
			writeRateLimited(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	writeAPIError(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded", map[string]any{
		"retry_after_seconds": retryAfter,
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
