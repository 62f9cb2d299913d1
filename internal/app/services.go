package app

import (
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/codeframe-backend/internal/clients/redis"
	"github.com/yungbote/codeframe-backend/internal/data/repos"
	"github.com/yungbote/codeframe-backend/internal/jobs/pipeline/cluster_label"
	"github.com/yungbote/codeframe-backend/internal/jobs/queue"
	"github.com/yungbote/codeframe-backend/internal/jobs/runtime"
	"github.com/yungbote/codeframe-backend/internal/jobs/worker"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
	"github.com/yungbote/codeframe-backend/internal/services"
)

type Services struct {
	Embeddings   services.EmbeddingCacheService
	Orchestrator services.Orchestrator
	Hierarchy    services.HierarchyService
	Apply        services.ApplyService
	Health       services.HealthService
	Locker       services.Locker
	ProgressBus  redis.ProgressBus
	Worker       *worker.Worker
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r *repos.Repos, q queue.Queue, c *Clients, rdb *goredis.Client) (*Services, error) {
	var raw []byte
	if cfg.Labeling.PricingFile != "" {
		b, err := os.ReadFile(cfg.Labeling.PricingFile)
		if err != nil {
			return nil, fmt.Errorf("read pricing file: %w", err)
		}
		raw = b
	}
	pricing, err := services.LoadPricingCatalog(raw)
	if err != nil {
		return nil, err
	}
	defaults, err := cfg.GenerationDefaults()
	if err != nil {
		return nil, err
	}

	out := &Services{}
	notifier := services.NewNoopProgressNotifier()
	locker := services.NewKeyedLocker()
	if rdb != nil {
		out.ProgressBus = redis.NewProgressBus(rdb, cfg.Redis.Prefix, log)
		notifier = services.NewRedisProgressNotifier(out.ProgressBus, log)
		locker = redis.NewLocker(rdb, cfg.Redis.Prefix, cfg.Redis.LockTTL, log)
	}
	out.Locker = locker

	out.Embeddings = services.NewEmbeddingCacheService(log, r.Answers, r.EmbeddingCache, c.Embeddings, services.EmbeddingCacheConfig{
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
		CallTimeout: cfg.Embedding.CallTimeout,
	})
	out.Orchestrator = services.NewOrchestrator(db, log, services.OrchestratorConfig{
		Defaults:        defaults,
		MinAnswers:      cfg.Generation.MinAnswers,
		Workers:         cfg.Worker.Concurrency,
		PerCallEstimate: cfg.Generation.PerCallEstimate,
		ClusterTimeout:  cfg.Generation.ClusterTimeout,
		Pricing:         pricing,
	}, r.Generations, r.Nodes, r.Answers, out.Embeddings, c.Clusterer, q, q, locker, notifier)
	out.Hierarchy = services.NewHierarchyService(db, log, r.Generations, r.Nodes, locker)
	out.Apply = services.NewApplyService(db, log, r.Generations, r.Nodes, r.Answers, locker)
	out.Health = services.NewHealthService(db, log, c.LabelingHealth)

	registry := runtime.NewRegistry()
	if err := registry.Register(cluster_label.New(log, c.Labeler, pricing, cfg.Labeling.Timeout)); err != nil {
		return nil, err
	}
	out.Worker = worker.NewWorker(db, log, q, registry, out.Orchestrator, worker.Config{
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.Worker.PollInterval,
		StaleAfter:        cfg.Worker.StaleAfter,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		MaintainInterval:  cfg.Worker.MaintainInterval,
		KeepCompleted:     cfg.Worker.KeepCompleted,
		KeepFailed:        cfg.Worker.KeepFailed,
		Retry: runtime.RetryPolicy{
			Base: cfg.Worker.BaseBackoff,
			Max:  cfg.Worker.MaxBackoff,
		},
	})
	return out, nil
}
