package redis

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter. Every replica sees the same window.
type RateLimiter struct {
	rdb    *goredis.Client
	prefix string
	now    func() time.Time
}

func NewRateLimiter(rdb *goredis.Client, prefix string) *RateLimiter {
	return &RateLimiter{rdb: rdb, prefix: prefix, now: time.Now}
}

// Allow counts one hit for caller in bucket and reports whether it stays
// within limit per window.
func (r *RateLimiter) Allow(ctx context.Context, bucket, caller string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	start := r.now().UnixNano() / int64(window)
	k := key(r.prefix, "rl", bucket, caller, strconv.FormatInt(start, 10))

	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}
