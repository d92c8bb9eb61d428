package httpx

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/slotchat/libs/auth"
)

// RateLimiter is an in-process fixed-window limiter for single-instance runs.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastPrune time.Time
}

type window struct {
	count int
	ends  time.Time
}

func NewRateLimiter(limit int, every time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if every <= 0 {
		every = time.Minute
	}
	return &RateLimiter{limit: limit, window: every, now: time.Now, windows: map[string]*window{}}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if retry, ok := rl.take(clientKey(r)); !ok {
				tooManyRequests(w, retry)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// take counts one request for key and reports how long the caller must wait
// when the window is exhausted.
func (rl *RateLimiter) take(key string) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastPrune) > rl.window {
		for k, w := range rl.windows {
			if now.After(w.ends) {
				delete(rl.windows, k)
			}
		}
		rl.lastPrune = now
	}

	w, ok := rl.windows[key]
	if !ok || now.After(w.ends) {
		rl.windows[key] = &window{count: 1, ends: now.Add(rl.window)}
		return 0, true
	}
	if w.count >= rl.limit {
		return w.ends.Sub(now), false
	}
	w.count++
	return 0, true
}

func tooManyRequests(w http.ResponseWriter, retry time.Duration) {
	secs := int(math.Ceil(retry.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded", "code": "rate_limited"})
}

// clientKey buckets authenticated callers by user id and everyone else by
// the first forwarded address.
func clientKey(r *http.Request) string {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		return "user:" + id.UserID
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}
