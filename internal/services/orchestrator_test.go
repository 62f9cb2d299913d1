package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/codeframe-backend/internal/data/repos/testutil"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/domain/codeframe"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/platform/apierr"
)

func startGeneration(t *testing.T, env *testEnv, nAnswers int) (*StartResponse, []*types.Answer) {
	t.Helper()
	cat := uuid.New()
	answers := testutil.SeedAnswers(t, env.db, cat, nAnswers)
	resp, err := env.orch.Start(bg(), StartRequest{CategoryID: cat})
	require.NoError(t, err)
	return resp, answers
}

func labelFor(t *testing.T, job *types.ClusterJob) datatypes.JSON {
	t.Helper()
	p, err := job.DecodePayload()
	require.NoError(t, err)
	raw, err := codeframe.EncodeClusterLabel(types.ClusterLabel{
		ClusterID:  p.ClusterID,
		ThemeName:  fmt.Sprintf("Theme %d", p.ClusterID),
		Confidence: 0.9,
		Codes: []types.LabeledCode{
			{Name: "Main", AnswerIDs: p.AnswerIDs, Confidence: 0.9, Examples: p.Texts[:1]},
		},
		TokensUsed: 100,
	})
	require.NoError(t, err)
	return raw
}

// settleNext claims one job and settles it the way the worker runtime does.
func settleNext(t *testing.T, env *testEnv, succeed bool) {
	t.Helper()
	job, err := env.queue.Claim(bg(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	if succeed {
		ok, err := env.queue.Complete(bg(), job, labelFor(t, job))
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = env.orch.SettleSuccess(bg(), job.GenerationID, 100, 0.001)
		require.NoError(t, err)
		require.True(t, ok)
	} else {
		ok, err := env.queue.Fail(bg(), job, "labeling failed")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = env.orch.SettleFailure(bg(), job.GenerationID)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, env.orch.AfterSettle(bg(), job.GenerationID))
}

func TestStartEnqueuesOneJobPerCluster(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := startGeneration(t, env, 30)

	assert.Equal(t, types.GenerationPending, resp.Status)
	assert.Equal(t, 3, resp.NClusters)
	assert.Equal(t, 30, resp.NAnswers)
	assert.Equal(t, fmt.Sprintf("/generations/%s/status", resp.GenerationID), resp.PollURL)
	assert.Equal(t, 3, resp.CostEstimate.NClusters)
	assert.Greater(t, resp.CostEstimate.EstimatedCostUSD, 0.0)
	assert.Positive(t, resp.EstimatedTimeSeconds)

	require.Len(t, env.clusterer.reqs, 1)
	assert.Len(t, env.clusterer.reqs[0].Points, 30)
	assert.Equal(t, "hdbscan", env.clusterer.reqs[0].Algorithm)

	counts, err := env.queue.CountByStatus(bg(), resp.GenerationID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[types.JobQueued])

	snap, err := env.orch.Status(bg(), resp.GenerationID)
	require.NoError(t, err)
	assert.Equal(t, codeframe.StepQueued, snap.CurrentStep)
	assert.Equal(t, 3, snap.NClusters)
	assert.Zero(t, snap.ProgressPercent)
	assert.Nil(t, snap.Result)
	assert.Nil(t, snap.Error)
}

func TestStartRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orch.Start(bg(), StartRequest{})
	assert.True(t, apierr.Is(err, apierr.KindValidation))

	cat := uuid.New()
	testutil.SeedAnswers(t, env.db, cat, 12)
	_, err = env.orch.Start(bg(), StartRequest{CategoryID: cat, AlgorithmConfig: &AlgorithmConfig{Algorithm: "dbscan"}})
	assert.True(t, apierr.Is(err, apierr.KindValidation))

	small := uuid.New()
	testutil.SeedAnswers(t, env.db, small, 5)
	_, err = env.orch.Start(bg(), StartRequest{CategoryID: small})
	assert.True(t, apierr.Is(err, apierr.KindFatalConfig))
	gens, err := env.repos.Generations.ListByCategory(bg(), small, 10)
	require.NoError(t, err)
	assert.Empty(t, gens, "no Generation is created for a too-small category")
}

func TestStartRecordsUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.clusterer.err = errors.New("connection refused")
	cat := uuid.New()
	testutil.SeedAnswers(t, env.db, cat, 20)

	_, err := env.orch.Start(bg(), StartRequest{CategoryID: cat})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindUpstream))

	gens, err := env.repos.Generations.ListByCategory(bg(), cat, 10)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, types.GenerationFailed, gens[0].Status)
	gerr, err := codeframe.DecodeGenerationError(gens[0].Error)
	require.NoError(t, err)
	assert.Equal(t, codeframe.CauseUpstreamUnavailable, gerr.Cause)
	assert.True(t, gerr.Retryable)
}

type brokenEnqueuer struct{}

func (brokenEnqueuer) Enqueue(dbctx.Context, ...*types.ClusterJob) error {
	return errors.New("broker unavailable")
}

func TestStartRecordsEnqueueFailure(t *testing.T) {
	env := newTestEnv(t)
	log := testutil.Logger(t)
	embeddings := NewEmbeddingCacheService(log, env.repos.Answers, env.repos.EmbeddingCache, env.embedder, EmbeddingCacheConfig{})
	orch := NewOrchestrator(env.db, log, OrchestratorConfig{Defaults: testDefaults(), MinAnswers: 10},
		env.repos.Generations, env.repos.Nodes, env.repos.Answers, embeddings, env.clusterer, brokenEnqueuer{}, env.queue, nil, nil)
	cat := uuid.New()
	testutil.SeedAnswers(t, env.db, cat, 20)

	_, err := orch.Start(bg(), StartRequest{CategoryID: cat})
	require.ErrorContains(t, err, "broker unavailable")

	gens, err := env.repos.Generations.ListByCategory(bg(), cat, 10)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, types.GenerationFailed, gens[0].Status)
	assert.Zero(t, gens[0].NClusters, "the counter update rolled back with the enqueue")
	gerr, err := codeframe.DecodeGenerationError(gens[0].Error)
	require.NoError(t, err)
	assert.Equal(t, codeframe.CauseInternal, gerr.Cause)
	assert.True(t, gerr.Retryable)

	var jobs int64
	require.NoError(t, env.db.Model(&types.ClusterJob{}).Where("generation_id = ?", gens[0].ID).Count(&jobs).Error)
	assert.Zero(t, jobs)
}

func TestStartWithNoClusters(t *testing.T) {
	env := newTestEnv(t)
	env.clusterer.k = 0
	cat := uuid.New()
	testutil.SeedAnswers(t, env.db, cat, 20)

	_, err := env.orch.Start(bg(), StartRequest{CategoryID: cat})
	assert.True(t, apierr.Is(err, apierr.KindFatalConfig))

	gens, err := env.repos.Generations.ListByCategory(bg(), cat, 10)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	gerr, err := codeframe.DecodeGenerationError(gens[0].Error)
	require.NoError(t, err)
	assert.Equal(t, codeframe.CauseNoClusters, gerr.Cause)
}

func TestGenerationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := startGeneration(t, env, 30)
	id := resp.GenerationID

	ok, err := env.orch.MarkProcessing(bg(), id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = env.orch.MarkProcessing(bg(), id)
	require.NoError(t, err)
	assert.False(t, ok, "only the first worker moves pending to processing")

	settleNext(t, env, true)
	snap, err := env.orch.Status(bg(), id)
	require.NoError(t, err)
	assert.Equal(t, types.GenerationProcessing, snap.Status)
	assert.Equal(t, 33, snap.ProgressPercent)

	settleNext(t, env, true)
	settleNext(t, env, true)

	snap, err = env.orch.Status(bg(), id)
	require.NoError(t, err)
	assert.Equal(t, types.GenerationCompleted, snap.Status)
	assert.Equal(t, 100, snap.ProgressPercent)
	assert.Equal(t, 3, snap.NCompleted)
	assert.Equal(t, int64(300), snap.TokensUsed)
	assert.Equal(t, codeframe.StepDone, snap.CurrentStep)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 3, snap.Result.NThemes)
	assert.Equal(t, 3, snap.Result.NCodes)
	assert.Equal(t, 1.0, snap.Result.Coverage)
	assert.Equal(t, 1.0, snap.Result.MECEScore)
	require.NotNil(t, snap.CompletedAt)

	nodes := env.nodes(t, id)
	assert.Len(t, nodes, 6)

	// A late settlement is refused and finalize does not run twice.
	ok, err = env.orch.SettleSuccess(bg(), id, 1, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, env.orch.AfterSettle(bg(), id))
	assert.Len(t, env.nodes(t, id), 6)

	tree, err := env.hierarchy.Tree(bg(), id)
	require.NoError(t, err)
	assert.Len(t, tree, 3)
}

func TestFinalizeFailsBelowClusterCoverage(t *testing.T) {
	env := newTestEnv(t)
	env.clusterer.k = 4
	resp, _ := startGeneration(t, env, 40)
	id := resp.GenerationID
	_, err := env.orch.MarkProcessing(bg(), id)
	require.NoError(t, err)

	settleNext(t, env, true)
	settleNext(t, env, false)
	settleNext(t, env, true)
	settleNext(t, env, false)

	snap, err := env.orch.Status(bg(), id)
	require.NoError(t, err)
	assert.Equal(t, types.GenerationFailed, snap.Status)
	assert.Equal(t, 50, snap.ProgressPercent, "failed clusters do not advance progress")
	require.NotNil(t, snap.Error)
	assert.Equal(t, codeframe.CauseClusterCoverage, snap.Error.Cause)
	assert.Equal(t, 2, snap.Error.AffectedClusters)
	assert.Equal(t, 4, snap.Error.TotalClusters)
	assert.Empty(t, env.nodes(t, id))
}

func TestFinalizeToleratesFewFailures(t *testing.T) {
	env := newTestEnv(t)
	env.clusterer.k = 4
	resp, _ := startGeneration(t, env, 40)
	id := resp.GenerationID
	_, err := env.orch.MarkProcessing(bg(), id)
	require.NoError(t, err)

	settleNext(t, env, true)
	settleNext(t, env, true)
	settleNext(t, env, false)
	settleNext(t, env, true)

	snap, err := env.orch.Status(bg(), id)
	require.NoError(t, err)
	assert.Equal(t, types.GenerationCompleted, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 0.75, snap.Result.Coverage)
	assert.Equal(t, 3, snap.Result.NThemes)
	found := false
	for _, w := range snap.Result.Warnings {
		if w == "1 of 4 clusters failed labeling and are not in the codeframe" {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", snap.Result.Warnings)
}

func TestDeleteGeneration(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := startGeneration(t, env, 30)
	id := resp.GenerationID
	_, err := env.orch.MarkProcessing(bg(), id)
	require.NoError(t, err)
	settleNext(t, env, true)
	settleNext(t, env, true)
	settleNext(t, env, true)

	require.NoError(t, env.orch.Delete(bg(), id))

	_, err = env.orch.Status(bg(), id)
	assert.True(t, apierr.Is(err, apierr.KindNotFound))
	assert.Empty(t, env.nodes(t, id))
	counts, err := env.queue.CountByStatus(bg(), id)
	require.NoError(t, err)
	assert.Empty(t, counts)

	err = env.orch.Delete(bg(), id)
	assert.True(t, apierr.Is(err, apierr.KindNotFound))

	owner, err := env.orch.OwnerActive(bg(), id)
	require.NoError(t, err)
	assert.False(t, owner)
}

type stepRecorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *stepRecorder) GenerationProgress(_ context.Context, g *types.Generation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, g.CurrentStep)
}

func TestFinalizeReportsFinalizingStep(t *testing.T) {
	env := newTestEnv(t)
	rec := &stepRecorder{}
	log := testutil.Logger(t)
	embeddings := NewEmbeddingCacheService(log, env.repos.Answers, env.repos.EmbeddingCache, env.embedder, EmbeddingCacheConfig{})
	env.orch = NewOrchestrator(env.db, log, OrchestratorConfig{Defaults: testDefaults(), MinAnswers: 10},
		env.repos.Generations, env.repos.Nodes, env.repos.Answers, embeddings, env.clusterer, env.queue, env.queue, nil, rec)

	resp, _ := startGeneration(t, env, 30)
	_, err := env.orch.MarkProcessing(bg(), resp.GenerationID)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		settleNext(t, env, true)
	}

	require.GreaterOrEqual(t, len(rec.steps), 3)
	tail := rec.steps[len(rec.steps)-2:]
	assert.Equal(t, []string{codeframe.StepFinalizing, codeframe.StepDone}, tail)
	assert.Equal(t, codeframe.StepQueued, rec.steps[0])
}
