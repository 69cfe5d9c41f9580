package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window and key.
	Max int
	// Window is the window length.
	Window time.Duration
	// KeyFunc picks the rate limit key. Defaults to UserOrIP.
	KeyFunc func(*http.Request) string
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// counter approximates a sliding window from two fixed windows: the count of
// the previous window is weighted by how much of it the sliding window still
// covers.
type counter struct {
	prev, curr float64
	currStart  time.Time
}

func (c *counter) rotate(now time.Time, window time.Duration) {
	elapsed := now.Sub(c.currStart)
	switch {
	case elapsed < window:
		return
	case elapsed < 2*window:
		c.prev = c.curr
	default:
		c.prev = 0
	}
	c.curr = 0
	c.currStart = now.Truncate(window)
}

func (c *counter) estimate(now time.Time, window time.Duration) float64 {
	overlap := 1 - float64(now.Sub(c.currStart))/float64(window)
	return c.prev*max(overlap, 0) + c.curr
}

type limiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	counters map[string]*counter
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = UserOrIP
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &limiter{cfg: cfg, counters: make(map[string]*counter)}
}

// take records a request for key unless the key is over its limit.
func (l *limiter) take(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, found := l.counters[key]
	if !found {
		c = &counter{currStart: now.Truncate(l.cfg.Window)}
		l.counters[key] = c
	}
	c.rotate(now, l.cfg.Window)

	resetAt = c.currStart.Add(l.cfg.Window)
	used := c.estimate(now, l.cfg.Window)
	if used >= float64(l.cfg.Max) {
		return 0, resetAt, false
	}
	c.curr++
	return max(l.cfg.Max-int(math.Ceil(used+1)), 0), resetAt, true
}

func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, c := range l.counters {
		if now.Sub(c.currStart) >= 2*l.cfg.Window {
			delete(l.counters, key)
		}
	}
}

func (l *limiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict(l.cfg.Now())
		}
	}
}

// RateLimit limits requests per key with a sliding window. Responses carry
// X-RateLimit-* headers; rejected requests get 429 with Retry-After. Idle
// keys are evicted until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.evictLoop(ctx)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := l.cfg.Now()
			remaining, resetAt, ok := l.take(l.cfg.KeyFunc(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			if !ok {
				retry := max(resetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserOrIP keys requests by the X-User-ID header, falling back to the client
// IP.
func UserOrIP(r *http.Request) string {
	if user := r.Header.Get("X-User-ID"); user != "" {
		return "user:" + user
	}
	return "ip:" + ClientIP(r)
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
