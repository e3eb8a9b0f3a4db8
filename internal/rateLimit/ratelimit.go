package rateLimit

import (
	"context"
	"net"
	"net/http"
	"time"

	redisadapter "github.com/robertarktes/stay-reservations/internal/adapters/redis"
	"github.com/robertarktes/stay-reservations/internal/observability"
)

// Counter increments a windowed counter and returns its new value.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter is a fixed-window counter keyed by window start.
type RedisCounter struct {
	redis *redisadapter.Cache
}

func NewRedisCounter(redis *redisadapter.Cache) *RedisCounter {
	return &RedisCounter{redis: redis}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := "rl:" + key

	pipe := c.redis.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

type RateLimiter struct {
	counter Counter
	logger  observability.Logger
}

func NewRateLimiter(counter Counter, logger observability.Logger) *RateLimiter {
	return &RateLimiter{counter: counter, logger: logger}
}

// Allow reports whether another request fits in key's window. Counter
// failures let the request through.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	n, err := rl.counter.Incr(ctx, key, period)
	if err != nil {
		observability.LoggerFrom(ctx, rl.logger).WithError(err).Warn("rate limit counter unavailable")
		return true
	}
	return n <= int64(rate)
}

type Limits struct {
	PerUser int
	PerIP   int
	Window  time.Duration
}

// Middleware limits by caller (when userKey returns one) and by client IP.
func (rl *RateLimiter) Middleware(limits Limits, userKey func(r *http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if !rl.Allow(ctx, "ip:"+clientIP(r), limits.PerIP, limits.Window) {
				rl.reject(w)
				return
			}
			if user := userKey(r); user != "" && !rl.Allow(ctx, "user:"+user, limits.PerUser, limits.Window) {
				rl.reject(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) reject(w http.ResponseWriter) {
	observability.RateLimitExceeded.Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded"}`))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
