package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

// ProgressEvent is published whenever a Generation's counters or status move.
type ProgressEvent struct {
	GenerationID    uuid.UUID `json:"generation_id"`
	Status          string    `json:"status"`
	CurrentStep     string    `json:"current_step"`
	ProgressPercent int       `json:"progress_percent"`
	NClusters       int       `json:"n_clusters"`
	NCompleted      int       `json:"n_completed"`
	NFailed         int       `json:"n_failed"`
	At              time.Time `json:"at"`
}

type ProgressBus interface {
	Publish(ctx context.Context, ev ProgressEvent) error
	Subscribe(ctx context.Context, onEvent func(ev ProgressEvent)) error
}

type progressBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewProgressBus(rdb *goredis.Client, prefix string, log *logger.Logger) ProgressBus {
	return &progressBus{
		log:     log.With("service", "RedisProgressBus"),
		rdb:     rdb,
		channel: key(prefix, "progress"),
	}
}

func (b *progressBus) Publish(ctx context.Context, ev ProgressEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis progress bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *progressBus) Subscribe(ctx context.Context, onEvent func(ev ProgressEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis progress bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev ProgressEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad progress payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}
