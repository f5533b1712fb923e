package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig tunes the per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleEviction drops a client's bucket after this much inactivity so
	// the map does not grow with every address ever seen.
	IdleEviction time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
		IdleEviction:      10 * time.Minute,
	}
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

type limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cfg     RateLimitConfig
	swept   time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.IdleEviction <= 0 {
		cfg.IdleEviction = DefaultRateLimitConfig().IdleEviction
	}
	return &limiter{
		buckets: make(map[string]*bucket),
		cfg:     cfg,
		swept:   time.Now(),
	}
}

// take refills the caller's bucket for the elapsed time and spends one token.
// It reports whether the request may proceed and, when it may not, how many
// whole seconds until a token is available.
func (l *limiter) take(key string) (bool, int) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > l.cfg.IdleEviction {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.BurstSize)}
		l.buckets[key] = b
	} else {
		b.tokens += now.Sub(b.lastSeen).Seconds() * l.cfg.RequestsPerSecond
		if max := float64(l.cfg.BurstSize); b.tokens > max {
			b.tokens = max
		}
	}
	b.lastSeen = now

	if b.tokens < 1 {
		wait := 1
		if l.cfg.RequestsPerSecond > 0 {
			wait = int((1-b.tokens)/l.cfg.RequestsPerSecond) + 1
		}
		return false, wait
	}
	b.tokens--
	return true, 0
}

// sweep runs under l.mu.
func (l *limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.cfg.IdleEviction {
			delete(l.buckets, key)
		}
	}
	l.swept = now
}

// RateLimit throttles requests per client IP with a token bucket.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	l := newLimiter(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, retryAfter := l.take(c.RealIP())
			c.Response().Header().Set("X-RateLimit-Limit", limit)
			if !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
