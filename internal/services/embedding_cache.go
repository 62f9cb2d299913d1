package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/codeframe-backend/internal/data/repos"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/domain/codeframe"
	"github.com/yungbote/codeframe-backend/internal/observability"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

type EmbeddingCacheConfig struct {
	BatchSize   int
	Concurrency int
	CallTimeout time.Duration
}

// EnsureReport summarizes one EnsureEmbeddings call. Failed maps answer id
// to the reason it has no usable vector.
type EnsureReport struct {
	Requested     int                  `json:"requested"`
	Cached        int                  `json:"cached"`
	Computed      int                  `json:"computed"`
	ProviderCalls int                  `json:"provider_calls"`
	Failed        map[uuid.UUID]string `json:"failed,omitempty"`
}

func (r *EnsureReport) Coverage() float64 {
	if r == nil || r.Requested == 0 {
		return 1
	}
	return float64(r.Cached+r.Computed) / float64(r.Requested)
}

type EmbeddingCacheService interface {
	EnsureEmbeddings(dbc dbctx.Context, answerIDs []uuid.UUID, modelName string) (*EnsureReport, error)
	Vectors(dbc dbctx.Context, answerIDs []uuid.UUID, modelName string) (map[uuid.UUID][]float32, error)
}

type embeddingCacheService struct {
	log      *logger.Logger
	answers  AnswerStore
	cache    repos.EmbeddingCacheRepo
	provider EmbeddingProvider
	cfg      EmbeddingCacheConfig
}

func NewEmbeddingCacheService(baseLog *logger.Logger, answers AnswerStore, cache repos.EmbeddingCacheRepo, provider EmbeddingProvider, cfg EmbeddingCacheConfig) EmbeddingCacheService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &embeddingCacheService{
		log:      baseLog.With("service", "EmbeddingCache"),
		answers:  answers,
		cache:    cache,
		provider: provider,
		cfg:      cfg,
	}
}

type pendingEmbed struct {
	answerID uuid.UUID
	text     string
	hash     string
}

func (s *embeddingCacheService) EnsureEmbeddings(dbc dbctx.Context, answerIDs []uuid.UUID, modelName string) (*EnsureReport, error) {
	ctx, span := observability.StartSpan(dbc.Ctx, "embedding_cache.ensure",
		attribute.String("model", modelName), attribute.Int("answers", len(answerIDs)))
	defer span.End()
	dbc.Ctx = ctx

	ids := dedupeIDs(answerIDs)
	report := &EnsureReport{Requested: len(ids), Failed: map[uuid.UUID]string{}}
	if len(ids) == 0 {
		return report, nil
	}
	if strings.TrimSpace(modelName) == "" {
		return nil, fmt.Errorf("embedding model required")
	}

	answers, err := s.answers.GetByIDs(dbc, ids)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	byID := make(map[uuid.UUID]*types.Answer, len(answers))
	for _, a := range answers {
		byID[a.ID] = a
	}
	entries, err := s.cache.GetByAnswerIDs(dbc, modelName, ids)
	if err != nil {
		return nil, fmt.Errorf("load embedding cache: %w", err)
	}
	cachedHash := make(map[uuid.UUID]string, len(entries))
	for _, e := range entries {
		cachedHash[e.AnswerID] = e.ContentHash
	}

	var todo []pendingEmbed
	for _, id := range ids {
		a := byID[id]
		if a == nil {
			report.Failed[id] = "answer not found"
			continue
		}
		if strings.TrimSpace(a.Text) == "" {
			report.Failed[id] = "empty text"
			continue
		}
		h := codeframe.ContentHash(a.Text)
		if cachedHash[id] == h {
			report.Cached++
			continue
		}
		todo = append(todo, pendingEmbed{answerID: id, text: a.Text, hash: h})
	}

	computed, calls := s.computeAll(ctx, modelName, todo, report)
	report.ProviderCalls = calls
	if len(computed) > 0 {
		if err := s.cache.Upsert(dbc, computed); err != nil {
			return nil, fmt.Errorf("store embeddings: %w", err)
		}
	}
	report.Computed = len(computed)

	observability.Current().AddEmbeddingLookups(modelName, report.Cached, len(todo), len(report.Failed))
	s.log.Info("embeddings ensured",
		"model", modelName,
		"requested", report.Requested,
		"cached", report.Cached,
		"computed", report.Computed,
		"failed", len(report.Failed),
		"provider_calls", report.ProviderCalls,
	)
	return report, nil
}

// computeAll embeds todo in batches. A failed batch is retried one answer at
// a time so a single bad input only costs itself.
func (s *embeddingCacheService) computeAll(ctx context.Context, model string, todo []pendingEmbed, report *EnsureReport) ([]*types.EmbeddingCacheEntry, int) {
	if len(todo) == 0 {
		return nil, 0
	}
	var (
		mu    sync.Mutex
		out   []*types.EmbeddingCacheEntry
		calls int64
	)
	record := func(p pendingEmbed, vec []float32, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failed[p.answerID] = err.Error()
			return
		}
		out = append(out, &types.EmbeddingCacheEntry{
			AnswerID:    p.answerID,
			ModelName:   model,
			Vector:      codeframe.EncodeVector(vec),
			ContentHash: p.hash,
		})
	}
	embed := func(texts []string) ([][]float32, error) {
		atomic.AddInt64(&calls, 1)
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		vecs, err := s.provider.Embed(cctx, model, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedding provider returned %d vectors for %d texts", len(vecs), len(texts))
		}
		return vecs, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for start := 0; start < len(todo); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(todo) {
			end = len(todo)
		}
		batch := todo[start:end]
		g.Go(func() error {
			if gctx.Err() != nil {
				for _, p := range batch {
					record(p, nil, gctx.Err())
				}
				return nil
			}
			texts := make([]string, len(batch))
			for i, p := range batch {
				texts[i] = p.text
			}
			vecs, err := embed(texts)
			if err == nil {
				for i, p := range batch {
					record(p, vecs[i], nil)
				}
				return nil
			}
			if len(batch) == 1 {
				record(batch[0], nil, err)
				return nil
			}
			s.log.Warn("embedding batch failed, retrying per answer", "size", len(batch), "error", err)
			for _, p := range batch {
				one, oneErr := embed([]string{p.text})
				if oneErr != nil {
					record(p, nil, oneErr)
					continue
				}
				record(p, one[0], nil)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, int(atomic.LoadInt64(&calls))
}

func (s *embeddingCacheService) Vectors(dbc dbctx.Context, answerIDs []uuid.UUID, modelName string) (map[uuid.UUID][]float32, error) {
	entries, err := s.cache.GetByAnswerIDs(dbc, modelName, dedupeIDs(answerIDs))
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID][]float32, len(entries))
	for _, e := range entries {
		if v := e.Floats(); len(v) > 0 {
			out[e.AnswerID] = v
		}
	}
	return out, nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
