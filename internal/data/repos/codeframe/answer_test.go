package codeframe

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/codeframe-backend/internal/data/repos/testutil"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
)

func TestChunkIDs(t *testing.T) {
	ids := make([]uuid.UUID, 2501)
	chunks := chunkIDs(ids, 1000)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[2], 501)
	assert.Empty(t, chunkIDs(nil, 1000))
}

func TestAnswerDeleteCascadesEmbeddings(t *testing.T) {
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	answers := NewAnswerRepo(gdb, log)
	cache := NewEmbeddingCacheRepo(gdb, log)
	dbc := dbctx.Context{Ctx: context.Background()}

	seeded := testutil.SeedAnswers(t, gdb, uuid.New(), 2500)
	ids := make([]uuid.UUID, len(seeded))
	entries := make([]*types.EmbeddingCacheEntry, len(seeded))
	for i, a := range seeded {
		ids[i] = a.ID
		entries[i] = &types.EmbeddingCacheEntry{
			AnswerID:    a.ID,
			ModelName:   "m",
			Vector:      datatypes.JSON(`[0.1,0.2]`),
			ContentHash: "h",
		}
	}
	require.NoError(t, cache.Upsert(dbc, entries))
	// A second upsert of the same keys updates in place.
	require.NoError(t, cache.Upsert(dbc, entries[:700]))

	cached, err := cache.GetByAnswerIDs(dbc, "m", ids)
	require.NoError(t, err)
	assert.Len(t, cached, 2500)

	n, err := answers.Delete(dbc, ids[:1500])
	require.NoError(t, err)
	assert.Equal(t, int64(1500), n)

	left, err := answers.GetByIDs(dbc, ids)
	require.NoError(t, err)
	assert.Len(t, left, 1000)
	cached, err = cache.GetByAnswerIDs(dbc, "m", ids)
	require.NoError(t, err)
	assert.Len(t, cached, 1000)
	for _, e := range cached {
		assert.NotContains(t, ids[:1500], e.AnswerID)
	}
}
