package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewClient connects and pings. Callers treat a nil client as "no redis".
func NewClient(cfg Config, log *logger.Logger) (*goredis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if log != nil {
		log.Info("Redis client initialized", "addr", addr)
	}
	return rdb, nil
}

func key(prefix string, parts ...string) string {
	if prefix == "" {
		prefix = "codeframe"
	}
	return prefix + ":" + strings.Join(parts, ":")
}
