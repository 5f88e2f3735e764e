package httpx

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Quota is the outcome of counting one request against a client's window.
type Quota struct {
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// Exceeded reports whether the request that produced q went over the limit.
func (q Quota) Exceeded() bool { return q.Remaining < 0 }

// counter counts a hit for key within the current fixed window.
type counter interface {
	hit(ctx context.Context, key string) (Quota, error)
}

// RateLimiter is a per-process fixed-window limiter keyed by client address.
// Use RedisRateLimiter when more than one gateway instance shares the quota.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	nextSweep time.Time
}

type window struct {
	hits    int
	resetAt time.Time
}

func NewRateLimiter(limit int, win time.Duration) *RateLimiter {
	limit, win = limiterDefaults(limit, win)
	return &RateLimiter{
		limit:   limit,
		window:  win,
		now:     time.Now,
		windows: map[string]*window{},
	}
}

func (rl *RateLimiter) Middleware() Middleware {
	return rateLimit(rl, nil, false)
}

func (rl *RateLimiter) hit(_ context.Context, key string) (Quota, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.After(rl.nextSweep) {
		for k, w := range rl.windows {
			if !now.Before(w.resetAt) {
				delete(rl.windows, k)
			}
		}
		rl.nextSweep = now.Add(rl.window)
	}

	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rl.window)}
		rl.windows[key] = w
	}
	w.hits++
	return Quota{Limit: rl.limit, Remaining: rl.limit - w.hits, ResetIn: w.resetAt.Sub(now)}, nil
}

// rateLimit rejects requests over quota with 429. Counter errors pass the
// request through when failOpen is set and answer 503 otherwise.
func rateLimit(c counter, logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q, err := c.hit(r.Context(), clientKey(r))
			if err != nil {
				if logger != nil {
					logger.WarnContext(r.Context(), "rate limiter unavailable", "err", err, "fail_open", failOpen)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(max(q.Remaining, 0)))
			if q.Exceeded() {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(q.ResetIn.Seconds()))))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limiterDefaults(limit int, win time.Duration) (int, time.Duration) {
	if limit <= 0 {
		limit = 60
	}
	if win <= 0 {
		win = time.Minute
	}
	return limit, win
}

// clientKey prefers the left-most X-Forwarded-For hop set by the edge proxy.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
