package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/yungbote/codeframe-backend/internal/http/response"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
	"github.com/yungbote/codeframe-backend/internal/platform/apierr"
)

// Limiter decides whether caller may make one more request in bucket.
// The redis RateLimiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, bucket, caller string, limit int, window time.Duration) (bool, error)
}

type localBucket struct {
	lim      *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

type localLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*localBucket
	lastSweep time.Time
	now       func() time.Time
}

// NewLocalLimiter keeps one token bucket per (bucket, caller) in memory:
// limit tokens refilled evenly over window. A bucket idle for a whole window
// is full again, so it is dropped on the next sweep.
func NewLocalLimiter() Limiter {
	return newLocalLimiter(time.Now)
}

func newLocalLimiter(now func() time.Time) *localLimiter {
	return &localLimiter{buckets: map[string]*localBucket{}, now: now, lastSweep: now()}
}

func (l *localLimiter) Allow(_ context.Context, bucket, caller string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	k := bucket + "|" + caller
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= window {
		l.sweep(now)
	}
	b, ok := l.buckets[k]
	if !ok {
		b = &localBucket{lim: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit), window: window}
		l.buckets[k] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1), nil
}

// sweep drops idle buckets. Callers hold mu.
func (l *localLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= b.window {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}

func (l *localLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit rejects callers over limit requests per minute with 429. A
// limiter error lets the request through.
func RateLimit(l Limiter, log *logger.Logger, bucket string, perMinute int) gin.HandlerFunc {
	if l == nil || perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), bucket, Caller(c), perMinute, time.Minute)
		if err != nil {
			if log != nil {
				log.Warn("rate limiter unavailable; allowing request", "bucket", bucket, "error", err)
			}
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(60))
			response.RespondAPIError(c, apierr.RateLimited("rate limit of %d requests per minute exceeded", perMinute))
			c.Abort()
			return
		}
		c.Next()
	}
}
