package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/codeframe-backend/internal/data/repos/testutil"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
)

func bg() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func newQueue(t *testing.T) (*gormQueue, *types.Generation) {
	t.Helper()
	gdb := testutil.DB(t)
	q := NewGormQueue(gdb, testutil.Logger(t)).(*gormQueue)
	gen := testutil.SeedGeneration(t, gdb, uuid.New(), types.GenerationProcessing)
	return q, gen
}

func TestClaimFencesSettlement(t *testing.T) {
	q, gen := newQueue(t)
	require.NoError(t, q.Enqueue(bg(), &types.ClusterJob{GenerationID: gen.ID, ClusterID: 0}))

	job, err := q.Claim(bg(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, types.JobActive, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, types.DefaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, DefaultJobType, job.JobType)

	none, err := q.Claim(bg(), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none, "a leased job is not handed out twice")

	stale := *job
	stale.Attempts = 0
	ok, err := q.Complete(bg(), &stale, datatypes.JSON(`{}`))
	require.NoError(t, err)
	assert.False(t, ok, "a previous attempt cannot settle the job")

	ok, err = q.Complete(bg(), job, datatypes.JSON(`{"cluster_id":0}`))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q.Fail(bg(), job, "late")
	require.NoError(t, err)
	assert.False(t, ok, "a settled job stays settled")

	done, err := q.ListCompleted(bg(), gen.ID)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.JSONEq(t, `{"cluster_id":0}`, string(done[0].Result))
}

func TestRetryDelaysAndExhausts(t *testing.T) {
	q, gen := newQueue(t)
	require.NoError(t, q.Enqueue(bg(), &types.ClusterJob{GenerationID: gen.ID, MaxAttempts: 2}))

	job, err := q.Claim(bg(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	ok, err := q.Retry(bg(), job, "429", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	none, err := q.Claim(bg(), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none, "retry waits for run_at")

	require.NoError(t, q.db.Model(&types.ClusterJob{}).Where("id = ?", job.ID).
		Update("run_at", time.Now().UTC().Add(-time.Second)).Error)
	job, err = q.Claim(bg(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)
	assert.True(t, job.Exhausted())

	ok, err = q.Retry(bg(), job, "429 again", time.Now().Add(-time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	none, err = q.Claim(bg(), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none, "attempts never exceed max_attempts")
}

func TestStaleLeaseIsReclaimedOrReaped(t *testing.T) {
	q, gen := newQueue(t)
	require.NoError(t, q.Enqueue(bg(),
		&types.ClusterJob{GenerationID: gen.ID, ClusterID: 0},
		&types.ClusterJob{GenerationID: gen.ID, ClusterID: 1, MaxAttempts: 1},
	))
	a, err := q.Claim(bg(), time.Minute)
	require.NoError(t, err)
	b, err := q.Claim(bg(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.NotNil(t, b)

	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, q.db.Model(&types.ClusterJob{}).Where("generation_id = ?", gen.ID).
		Update("heartbeat_at", old).Error)

	again, err := q.Claim(bg(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 0, again.ClusterID, "only the job with attempts left is re-leased")
	assert.Equal(t, 2, again.Attempts)

	exhausted, err := q.ExhaustedStale(bg(), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, 1, exhausted[0].ClusterID)

	ok, err := q.Complete(bg(), a, nil)
	require.NoError(t, err)
	assert.False(t, ok, "the original lease lost the job")
}

func TestPruneSparesLiveGenerations(t *testing.T) {
	q, live := newQueue(t)
	done := testutil.SeedGeneration(t, q.db, uuid.New(), types.GenerationCompleted)

	enqueueSettled := func(gen uuid.UUID, n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, q.Enqueue(bg(), &types.ClusterJob{GenerationID: gen, ClusterID: i}))
			job, err := q.Claim(bg(), time.Minute)
			require.NoError(t, err)
			require.NotNil(t, job)
			_, err = q.Complete(bg(), job, datatypes.JSON(`{}`))
			require.NoError(t, err)
		}
	}
	enqueueSettled(done.ID, 5)
	enqueueSettled(live.ID, 3)

	completed, failed, err := q.Prune(bg(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), completed)
	assert.Zero(t, failed)

	counts, err := q.CountByStatus(bg(), live.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[types.JobCompleted])
	counts, err = q.CountByStatus(bg(), done.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[types.JobCompleted])

	n, err := q.DeleteByGeneration(bg(), done.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
