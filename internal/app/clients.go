package app

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/codeframe-backend/internal/clients/anthropic"
	"github.com/yungbote/codeframe-backend/internal/clients/classifier"
	"github.com/yungbote/codeframe-backend/internal/clients/openai"
	"github.com/yungbote/codeframe-backend/internal/clients/redis"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
	"github.com/yungbote/codeframe-backend/internal/services"
)

type Clients struct {
	Embeddings services.EmbeddingProvider
	Clusterer  services.Clusterer
	Labeler    services.Labeler
	// LabelingHealth is checked by GET /health.
	LabelingHealth services.HealthChecker
}

func wireClients(ctx context.Context, cfg Config, log *logger.Logger) (*Clients, *goredis.Client, error) {
	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		return nil, nil, fmt.Errorf("openai.api_key is required for embeddings")
	}
	oa, err := openai.NewClient(openai.Config{
		APIKey:    cfg.OpenAI.APIKey,
		BaseURL:   cfg.OpenAI.BaseURL,
		Timeout:   cfg.OpenAI.Timeout,
		BatchSize: cfg.OpenAI.BatchSize,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("init openai: %w", err)
	}
	cl, err := classifier.NewClient(classifier.Config{
		BaseURL: cfg.Classifier.BaseURL,
		APIKey:  cfg.Classifier.APIKey,
		Timeout: cfg.Classifier.Timeout,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("init classifier: %w", err)
	}

	out := &Clients{
		Embeddings:     oa,
		Clusterer:      cl,
		Labeler:        cl,
		LabelingHealth: cl,
	}
	switch cfg.Labeling.Provider {
	case "openai":
		out.Labeler = oa
		out.LabelingHealth = nil
	case "anthropic":
		lab, err := anthropic.NewLabeler(anthropic.Config{
			APIKey:  cfg.Anthropic.APIKey,
			BaseURL: cfg.Anthropic.BaseURL,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("init anthropic: %w", err)
		}
		out.Labeler = lab
		out.LabelingHealth = nil
	}
	log.Info("labeling provider selected", "provider", cfg.Labeling.Provider, "model", cfg.Labeling.Model)

	var rdb *goredis.Client
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		rdb, err = redis.NewClient(redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("init redis: %w", err)
		}
	}
	return out, rdb, nil
}
