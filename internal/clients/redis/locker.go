package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

var ErrLockTimeout = errors.New("redis lock: timed out waiting")

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by someone else is left alone.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only while the key still holds our token.
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker is a SET NX PX mutex keyed by name, shared by every API replica.
type Locker struct {
	rdb    *goredis.Client
	log    *logger.Logger
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

func NewLocker(rdb *goredis.Client, prefix string, ttl time.Duration, log *logger.Logger) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{
		rdb:    rdb,
		log:    log.With("service", "RedisLocker"),
		prefix: prefix,
		ttl:    ttl,
		poll:   50 * time.Millisecond,
	}
}

// Lock blocks until the lock is held or ctx ends. The returned func releases
// it. While held, the TTL is renewed every third of its length so long
// critical sections keep the lock.
func (l *Locker) Lock(ctx context.Context, name string) (func(), error) {
	k := key(l.prefix, "lock", name)
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", name, err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.renew(k, name, token, stop, done)
			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					if err := releaseScript.Run(rctx, l.rdb, []string{k}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
						l.log.Warn("redis unlock failed", "lock", name, "error", err)
					}
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, name)
		case <-time.After(l.poll):
		}
	}
}

func (l *Locker) renew(k, name, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := extendScript.Run(rctx, l.rdb, []string{k}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			switch {
			case err != nil:
				l.log.Warn("redis lock renew failed", "lock", name, "error", err)
			case n == 0:
				l.log.Error("redis lock lost before release", "lock", name)
				return
			}
		}
	}
}
