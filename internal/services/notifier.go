package services

import (
	"context"
	"time"

	"github.com/yungbote/codeframe-backend/internal/clients/redis"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

// ProgressNotifier is told whenever a Generation's status or counters move.
// Implementations must not block the caller for long and never fail it.
type ProgressNotifier interface {
	GenerationProgress(ctx context.Context, g *types.Generation)
}

type noopNotifier struct{}

func NewNoopProgressNotifier() ProgressNotifier { return noopNotifier{} }

func (noopNotifier) GenerationProgress(context.Context, *types.Generation) {}

type redisNotifier struct {
	bus redis.ProgressBus
	log *logger.Logger
}

func NewRedisProgressNotifier(bus redis.ProgressBus, baseLog *logger.Logger) ProgressNotifier {
	return &redisNotifier{bus: bus, log: baseLog.With("service", "ProgressNotifier")}
}

func (n *redisNotifier) GenerationProgress(ctx context.Context, g *types.Generation) {
	if g == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := n.bus.Publish(pctx, redis.ProgressEvent{
		GenerationID:    g.ID,
		Status:          string(g.Status),
		CurrentStep:     g.CurrentStep,
		ProgressPercent: g.ProgressPercent,
		NClusters:       g.NClusters,
		NCompleted:      g.NCompleted,
		NFailed:         g.NFailed,
		At:              time.Now().UTC(),
	})
	if err != nil {
		n.log.Warn("progress publish failed", "generation_id", g.ID, "error", err)
	}
}
