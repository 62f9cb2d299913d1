package services

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/codeframe-backend/internal/data/repos"
	"github.com/yungbote/codeframe-backend/internal/data/repos/testutil"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/domain/codeframe"
	"github.com/yungbote/codeframe-backend/internal/jobs/queue"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
)

// fakeEmbedder returns a small deterministic vector per text. Texts
// containing "poison" fail any batch they are in.
type fakeEmbedder struct {
	calls atomic.Int64
	texts atomic.Int64
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	for _, t := range texts {
		if strings.Contains(t, "poison") {
			return nil, errors.New("provider rejected input")
		}
	}
	f.texts.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		sum := sha256.Sum256([]byte(t))
		out[i] = []float32{float32(sum[0]) / 255, float32(sum[1]) / 255, float32(sum[2]) / 255}
	}
	return out, nil
}

// roundRobinClusterer deals points into k clusters in request order.
type roundRobinClusterer struct {
	mu   sync.Mutex
	k    int
	err  error
	reqs []types.ClusterRequest
}

func (c *roundRobinClusterer) Cluster(_ context.Context, req types.ClusterRequest) ([]types.ClusterAssignment, error) {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.k == 0 {
		return nil, nil
	}
	out := make([]types.ClusterAssignment, c.k)
	for i := range out {
		out[i].ClusterID = i
	}
	for i, p := range req.Points {
		out[i%c.k].AnswerIDs = append(out[i%c.k].AnswerIDs, p.AnswerID)
	}
	return out, nil
}

type testEnv struct {
	db        *gorm.DB
	repos     *repos.Repos
	queue     queue.Queue
	embedder  *fakeEmbedder
	clusterer *roundRobinClusterer
	orch      Orchestrator
	hierarchy HierarchyService
	apply     ApplyService
}

func testDefaults() types.GenerationConfig {
	return types.GenerationConfig{
		Version:               codeframe.GenerationConfigVersion,
		Algorithm:             "hdbscan",
		MinClusterSize:        5,
		EmbeddingModel:        "text-embedding-3-small",
		LabelingModel:         "gpt-4o-mini",
		TargetLanguage:        "en",
		MaxDepth:              2,
		PerClusterTokenBudget: 4000,
		MinEmbeddingCoverage:  0.9,
		MinClusterCoverage:    0.75,
		CostTolerance:         0.5,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(gdb, log)
	q := queue.NewGormQueue(gdb, log)
	emb := &fakeEmbedder{}
	cl := &roundRobinClusterer{k: 3}
	locker := NewKeyedLocker()

	embeddings := NewEmbeddingCacheService(log, r.Answers, r.EmbeddingCache, emb, EmbeddingCacheConfig{BatchSize: 16, Concurrency: 2})
	return &testEnv{
		db:        gdb,
		repos:     r,
		queue:     q,
		embedder:  emb,
		clusterer: cl,
		orch: NewOrchestrator(gdb, log, OrchestratorConfig{
			Defaults:   testDefaults(),
			MinAnswers: 10,
			Workers:    2,
		}, r.Generations, r.Nodes, r.Answers, embeddings, cl, q, q, locker, nil),
		hierarchy: NewHierarchyService(gdb, log, r.Generations, r.Nodes, locker),
		apply:     NewApplyService(gdb, log, r.Generations, r.Nodes, r.Answers, locker),
	}
}

func bg() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func (e *testEnv) nodes(t *testing.T, generationID uuid.UUID) []*types.HierarchyNode {
	t.Helper()
	nodes, err := e.repos.Nodes.ListByGeneration(bg(), generationID)
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	return nodes
}

func nodeIDs(nodes []*types.HierarchyNode) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool, len(nodes))
	for _, n := range nodes {
		out[n.ID] = true
	}
	return out
}
