package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/waitflo/backend/internal/httpx"
)

// RateLimiter keeps one token bucket per client: the API key when the request
// is authenticated, otherwise the remote IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*rate.Limiter),
		r:        rate.Limit(float64(requestsPerMinute) / 60.0),
		b:        burst,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.visitors[key]
	if !ok {
		l = rate.NewLimiter(rl.r, rl.b)
		rl.visitors[key] = l
	}
	return l
}

// Cleanup drops idle clients every interval until ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, l := range rl.visitors {
		if l.Tokens() >= float64(rl.b) {
			delete(rl.visitors, key)
		}
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		l := rl.limiter(key)
		if !l.Allow() {
			res := l.Reserve()
			retry := res.Delay()
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			httpx.WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if k := APIKeyFromCtx(r.Context()); k != nil {
		return "key:" + k.ID.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
