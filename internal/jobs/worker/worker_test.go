package worker

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/codeframe-backend/internal/data/repos"
	"github.com/yungbote/codeframe-backend/internal/data/repos/testutil"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/domain/codeframe"
	"github.com/yungbote/codeframe-backend/internal/jobs/pipeline/cluster_label"
	"github.com/yungbote/codeframe-backend/internal/jobs/queue"
	"github.com/yungbote/codeframe-backend/internal/jobs/runtime"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/pkg/httpx"
	"github.com/yungbote/codeframe-backend/internal/services"
)

type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		sum := sha256.Sum256([]byte(t))
		out[i] = []float32{float32(sum[0]) / 255, float32(sum[1]) / 255}
	}
	return out, nil
}

type dealClusterer struct{ k int }

func (c dealClusterer) Cluster(_ context.Context, req types.ClusterRequest) ([]types.ClusterAssignment, error) {
	out := make([]types.ClusterAssignment, c.k)
	for i := range out {
		out[i].ClusterID = i
	}
	for i, p := range req.Points {
		out[i%c.k].AnswerIDs = append(out[i%c.k].AnswerIDs, p.AnswerID)
	}
	return out, nil
}

// scriptedLabeler fails a cluster with the queued errors before labeling it.
type scriptedLabeler struct {
	mu       sync.Mutex
	failures map[int][]error
	always   map[int]error
	calls    map[int]int
	// during runs before each call, outside the lock.
	during func(clusterID int)
}

func newScriptedLabeler() *scriptedLabeler {
	return &scriptedLabeler{failures: map[int][]error{}, always: map[int]error{}, calls: map[int]int{}}
}

func (l *scriptedLabeler) Label(_ context.Context, req types.LabelRequest) (*types.ClusterLabel, error) {
	if l.during != nil {
		l.during(req.ClusterID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[req.ClusterID]++
	if err := l.always[req.ClusterID]; err != nil {
		return nil, err
	}
	if q := l.failures[req.ClusterID]; len(q) > 0 {
		l.failures[req.ClusterID] = q[1:]
		return nil, q[0]
	}
	return &types.ClusterLabel{
		ThemeName:  fmt.Sprintf("Theme %d", req.ClusterID),
		Confidence: 0.9,
		Codes: []types.LabeledCode{
			{Name: "Main", AnswerIDs: req.AnswerIDs, Confidence: 0.85, Examples: req.Texts[:1]},
		},
		TokensUsed: 120,
	}, nil
}

func (l *scriptedLabeler) callsFor(clusterID int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[clusterID]
}

type harness struct {
	db      *gorm.DB
	queue   queue.Queue
	orch    services.Orchestrator
	labeler *scriptedLabeler
	worker  *Worker
}

func newHarness(t *testing.T, clusters int, register bool) *harness {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(gdb, log)
	q := queue.NewGormQueue(gdb, log)
	locker := services.NewKeyedLocker()
	embeddings := services.NewEmbeddingCacheService(log, r.Answers, r.EmbeddingCache, hashEmbedder{}, services.EmbeddingCacheConfig{BatchSize: 64})
	orch := services.NewOrchestrator(gdb, log, services.OrchestratorConfig{
		Defaults: types.GenerationConfig{
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
		},
		MinAnswers: 10,
	}, r.Generations, r.Nodes, r.Answers, embeddings, dealClusterer{k: clusters}, q, q, locker, nil)

	labeler := newScriptedLabeler()
	registry := runtime.NewRegistry()
	if register {
		require.NoError(t, registry.Register(cluster_label.New(log, labeler, nil, time.Second)))
	}
	w := NewWorker(gdb, log, q, registry, orch, Config{
		Concurrency:       4,
		PollInterval:      5 * time.Millisecond,
		StaleAfter:        time.Minute,
		HeartbeatInterval: time.Minute,
		Retry:             runtime.RetryPolicy{Base: time.Millisecond, Max: time.Millisecond},
	})
	return &harness{db: gdb, queue: q, orch: orch, labeler: labeler, worker: w}
}

func (h *harness) start(t *testing.T, nAnswers int) uuid.UUID {
	t.Helper()
	cat := uuid.New()
	testutil.SeedAnswers(t, h.db, cat, nAnswers)
	resp, err := h.orch.Start(dbctx.Context{Ctx: context.Background()}, services.StartRequest{CategoryID: cat})
	require.NoError(t, err)
	return resp.GenerationID
}

func (h *harness) status(t *testing.T, id uuid.UUID) *services.GenerationSnapshot {
	t.Helper()
	snap, err := h.orch.Status(dbctx.Context{Ctx: context.Background()}, id)
	require.NoError(t, err)
	return snap
}

// drain processes jobs one at a time until the generation is terminal.
func (h *harness) drain(t *testing.T, id uuid.UUID) *services.GenerationSnapshot {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		for {
			did, err := h.worker.ProcessOne(ctx)
			require.NoError(t, err)
			if !did {
				break
			}
		}
		snap := h.status(t, id)
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("generation %s never settled", id)
	return nil
}

func TestTransientFailuresAreRetried(t *testing.T) {
	h := newHarness(t, 3, true)
	h.labeler.failures[0] = []error{
		&httpx.StatusError{Service: "labeler", Status: 503},
		&httpx.StatusError{Service: "labeler", Status: 429},
	}
	id := h.start(t, 30)

	snap := h.drain(t, id)
	assert.Equal(t, types.GenerationCompleted, snap.Status)
	assert.Equal(t, 3, snap.NCompleted)
	assert.Equal(t, 0, snap.NFailed)
	assert.Equal(t, 100, snap.ProgressPercent)
	assert.Equal(t, 3, h.labeler.callsFor(0))
	assert.Equal(t, 1, h.labeler.callsFor(1))
	assert.Equal(t, int64(360), snap.TokensUsed)
}

func TestClusterFailsAfterThreeAttempts(t *testing.T) {
	h := newHarness(t, 4, true)
	h.labeler.always[2] = &httpx.StatusError{Service: "labeler", Status: 502}
	id := h.start(t, 40)

	snap := h.drain(t, id)
	assert.Equal(t, 3, h.labeler.callsFor(2))
	assert.Equal(t, types.GenerationCompleted, snap.Status, "3 of 4 clusters meets the coverage floor")
	assert.Equal(t, 3, snap.NCompleted)
	assert.Equal(t, 1, snap.NFailed)
	require.NotNil(t, snap.Result)
	assert.InDelta(t, 0.75, snap.Result.Coverage, 1e-9)
	assert.NotEmpty(t, snap.Result.Warnings)
}

func TestPermanentLabelingErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, 3, true)
	h.labeler.always[1] = &httpx.StatusError{Service: "labeler", Status: 400}
	id := h.start(t, 30)

	snap := h.drain(t, id)
	assert.Equal(t, 1, h.labeler.callsFor(1))
	assert.Equal(t, types.GenerationFailed, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Equal(t, codeframe.CauseClusterCoverage, snap.Error.Cause)
	assert.Equal(t, 1, snap.Error.AffectedClusters)
}

func TestMissingHandlerFailsJobs(t *testing.T) {
	h := newHarness(t, 3, false)
	id := h.start(t, 30)

	snap := h.drain(t, id)
	assert.Equal(t, types.GenerationFailed, snap.Status)
	assert.Equal(t, 3, snap.NFailed)

	var attempts []int
	require.NoError(t, h.db.Model(&types.ClusterJob{}).Where("generation_id = ?", id).Pluck("attempts", &attempts).Error)
	for _, a := range attempts {
		assert.Equal(t, 1, a)
	}
}

func TestPoolCompletesLargeGeneration(t *testing.T) {
	h := newHarness(t, 8, true)
	for c := 0; c < 8; c += 3 {
		h.labeler.failures[c] = []error{&httpx.StatusError{Service: "labeler", Status: 503}}
	}
	id := h.start(t, 250)

	ctx, cancel := context.WithCancel(context.Background())
	h.worker.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.worker.Wait()
	})

	require.Eventually(t, func() bool {
		return h.status(t, id).Status.Terminal()
	}, 20*time.Second, 20*time.Millisecond)

	snap := h.status(t, id)
	assert.Equal(t, types.GenerationCompleted, snap.Status)
	assert.Equal(t, 250, snap.NAnswers)
	assert.Equal(t, 8, snap.NClusters)
	assert.Equal(t, 8, snap.NCompleted)
	assert.Equal(t, 100, snap.ProgressPercent)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 8, snap.Result.NThemes)
	assert.Positive(t, snap.Result.NCodes)
}

func TestMaintainSettlesAbandonedFinalAttempts(t *testing.T) {
	h := newHarness(t, 3, true)
	id := h.start(t, 30)
	_, err := h.orch.MarkProcessing(dbctx.Context{Ctx: context.Background()}, id)
	require.NoError(t, err)

	// every job was leased for its last attempt by a worker that died
	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, h.db.Model(&types.ClusterJob{}).
		Where("generation_id = ?", id).
		Updates(map[string]any{
			"status":       types.JobActive,
			"attempts":     gorm.Expr("max_attempts"),
			"locked_at":    old,
			"heartbeat_at": old,
		}).Error)

	require.NoError(t, h.worker.Maintain(context.Background()))

	snap := h.status(t, id)
	assert.Equal(t, types.GenerationFailed, snap.Status)
	assert.Equal(t, 3, snap.NFailed)
	assert.Zero(t, h.labeler.callsFor(0))
}

// outcomeRecorder keeps the outcome of every attempt it runs.
type outcomeRecorder struct {
	runtime.Handler
	outcomes []string
}

func (r *outcomeRecorder) Run(jc *runtime.Context) error {
	err := r.Handler.Run(jc)
	r.outcomes = append(r.outcomes, jc.Outcome())
	return err
}

func TestDeleteDuringLabelingAbortsJob(t *testing.T) {
	h := newHarness(t, 3, false)
	log := testutil.Logger(t)
	rec := &outcomeRecorder{Handler: cluster_label.New(log, h.labeler, nil, time.Second)}
	registry := runtime.NewRegistry()
	require.NoError(t, registry.Register(rec))
	w := NewWorker(h.db, log, h.queue, registry, h.orch, Config{
		PollInterval:      5 * time.Millisecond,
		StaleAfter:        time.Minute,
		HeartbeatInterval: time.Minute,
		Retry:             runtime.RetryPolicy{Base: time.Millisecond, Max: time.Millisecond},
	})

	id := h.start(t, 30)
	h.labeler.during = func(int) {
		require.NoError(t, h.orch.Delete(dbctx.Context{Ctx: context.Background()}, id))
	}

	did, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, did)
	assert.Equal(t, []string{runtime.OutcomeAborted}, rec.outcomes)

	did, err = w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, did, "the other jobs went with the generation")

	var gens, nodes, jobs int64
	require.NoError(t, h.db.Model(&types.Generation{}).Where("id = ?", id).Count(&gens).Error)
	require.NoError(t, h.db.Model(&types.HierarchyNode{}).Where("generation_id = ?", id).Count(&nodes).Error)
	require.NoError(t, h.db.Model(&types.ClusterJob{}).Where("generation_id = ?", id).Count(&jobs).Error)
	assert.Zero(t, gens)
	assert.Zero(t, nodes)
	assert.Zero(t, jobs)
}
