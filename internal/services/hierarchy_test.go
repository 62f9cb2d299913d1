package services

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/codeframe-backend/internal/data/repos"
	"github.com/yungbote/codeframe-backend/internal/data/repos/testutil"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/platform/apierr"
)

type brandTree struct {
	gen                         *types.Generation
	brands, nike, airMax        *types.HierarchyNode
	nikeInc, swoosh, adidas     *types.HierarchyNode
	price, tooExpensive, wayToo *types.HierarchyNode
	goodValue                   *types.HierarchyNode
}

// seedBrandTree builds a completed Generation with ten nodes:
//
//	Brands > Nike(30) > Air Max
//	       > Nike Inc(12) > Swoosh
//	       > Adidas
//	Price  > Too expensive > Way too expensive
//	       > Good value
func seedBrandTree(t *testing.T, env *testEnv) *brandTree {
	t.Helper()
	b := &brandTree{gen: testutil.SeedGeneration(t, env.db, uuid.New(), types.GenerationCompleted)}
	id := b.gen.ID
	b.brands = testutil.SeedNode(t, env.db, id, nil, "Brands", 47)
	b.nike = testutil.SeedNode(t, env.db, id, b.brands, "Nike", 30)
	b.airMax = testutil.SeedNode(t, env.db, id, b.nike, "Air Max", 10)
	b.nikeInc = testutil.SeedNode(t, env.db, id, b.brands, "Nike Inc", 12)
	b.swoosh = testutil.SeedNode(t, env.db, id, b.nikeInc, "Swoosh", 4)
	b.adidas = testutil.SeedNode(t, env.db, id, b.brands, "Adidas", 5)
	b.price = testutil.SeedNode(t, env.db, id, nil, "Price", 20)
	b.tooExpensive = testutil.SeedNode(t, env.db, id, b.price, "Too expensive", 15)
	b.wayToo = testutil.SeedNode(t, env.db, id, b.tooExpensive, "Way too expensive", 6)
	b.goodValue = testutil.SeedNode(t, env.db, id, b.price, "Good value", 5)
	return b
}

func TestRenameRejectsSiblingConflict(t *testing.T) {
	env := newTestEnv(t)
	b := seedBrandTree(t, env)

	_, err := env.hierarchy.Rename(bg(), b.gen.ID, b.adidas.ID, "  NIKE ")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindConflict))

	// A cousin may share the name.
	out, err := env.hierarchy.Rename(bg(), b.gen.ID, b.goodValue.ID, "Nike")
	require.NoError(t, err)
	assert.Equal(t, "Nike", out.CodeName)

	_, err = env.hierarchy.Rename(bg(), b.gen.ID, b.adidas.ID, "   ")
	assert.True(t, apierr.Is(err, apierr.KindValidation))

	_, err = env.hierarchy.Rename(bg(), b.gen.ID, uuid.New(), "Reebok")
	assert.True(t, apierr.Is(err, apierr.KindNotFound))
}

func TestMergeSumsCountsAndReparents(t *testing.T) {
	env := newTestEnv(t)
	b := seedBrandTree(t, env)

	merged, err := env.hierarchy.Merge(bg(), b.gen.ID, []uuid.UUID{b.nike.ID, b.nikeInc.ID}, "Nike (All)")
	require.NoError(t, err)
	assert.Equal(t, "Nike (All)", merged.CodeName)
	assert.Equal(t, 42, merged.AnswerCount)
	assert.Equal(t, 1, merged.Level)
	require.NotNil(t, merged.ParentID)
	assert.Equal(t, b.brands.ID, *merged.ParentID)
	assert.InDelta(t, 0.9, merged.Confidence, 1e-9)

	children := map[string]bool{}
	for _, c := range merged.Children {
		children[c.CodeName] = true
		assert.Equal(t, 2, c.Level)
	}
	assert.Equal(t, map[string]bool{"Air Max": true, "Swoosh": true}, children)

	after := env.nodes(t, b.gen.ID)
	assert.Len(t, after, 9)
	ids := nodeIDs(after)
	assert.False(t, ids[b.nike.ID])
	assert.False(t, ids[b.nikeInc.ID])
	require.NoError(t, ValidateTree(after))
}

func TestMergeValidatesInputs(t *testing.T) {
	env := newTestEnv(t)
	b := seedBrandTree(t, env)

	_, err := env.hierarchy.Merge(bg(), b.gen.ID, []uuid.UUID{b.nike.ID}, "Solo")
	assert.True(t, apierr.Is(err, apierr.KindValidation))

	_, err = env.hierarchy.Merge(bg(), b.gen.ID, []uuid.UUID{b.nike.ID, b.tooExpensive.ID}, "Mixed")
	assert.True(t, apierr.Is(err, apierr.KindValidation), "inputs must be siblings")

	_, err = env.hierarchy.Merge(bg(), b.gen.ID, []uuid.UUID{b.nike.ID, b.nikeInc.ID}, "adidas")
	assert.True(t, apierr.Is(err, apierr.KindConflict))

	assert.Len(t, env.nodes(t, b.gen.ID), 10)
}

// failingDeletes lets every call through except DeleteByIDs.
type failingDeletes struct {
	repos.HierarchyNodeRepo
}

func (failingDeletes) DeleteByIDs(dbctx.Context, uuid.UUID, []uuid.UUID) (int64, error) {
	return 0, errors.New("disk on fire")
}

func TestMergeRollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	b := seedBrandTree(t, env)
	svc := NewHierarchyService(env.db, testutil.Logger(t), env.repos.Generations, failingDeletes{env.repos.Nodes}, NewKeyedLocker())

	_, err := svc.Merge(bg(), b.gen.ID, []uuid.UUID{b.nike.ID, b.nikeInc.ID}, "Nike (All)")
	require.Error(t, err)

	after := env.nodes(t, b.gen.ID)
	assert.Len(t, after, 10)
	for _, n := range after {
		assert.NotEqual(t, "Nike (All)", n.CodeName)
		if n.ID == b.airMax.ID {
			require.NotNil(t, n.ParentID)
			assert.Equal(t, b.nike.ID, *n.ParentID, "children keep their parent after rollback")
		}
	}
}

func TestMoveRejectsCycleAndLeavesTree(t *testing.T) {
	env := newTestEnv(t)
	b := seedBrandTree(t, env)
	before := env.nodes(t, b.gen.ID)

	_, err := env.hierarchy.Move(bg(), b.gen.ID, b.brands.ID, &b.airMax.ID)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindCycle))

	_, err = env.hierarchy.Move(bg(), b.gen.ID, b.brands.ID, &b.brands.ID)
	assert.True(t, apierr.Is(err, apierr.KindCycle))

	after := env.nodes(t, b.gen.ID)
	require.Len(t, after, len(before))
	parents := map[uuid.UUID]uuid.UUID{}
	for _, n := range before {
		parents[n.ID] = parentKey(n.ParentID)
	}
	for _, n := range after {
		assert.Equal(t, parents[n.ID], parentKey(n.ParentID))
	}
}

func TestMoveRelevelsSubtree(t *testing.T) {
	env := newTestEnv(t)
	b := seedBrandTree(t, env)

	moved, err := env.hierarchy.Move(bg(), b.gen.ID, b.nike.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, moved.Level)
	assert.Nil(t, moved.ParentID)
	assert.Equal(t, 1, moved.Position, "appended after existing roots")
	require.Len(t, moved.Children, 1)
	assert.Equal(t, 1, moved.Children[0].Level)

	moved, err = env.hierarchy.Move(bg(), b.gen.ID, b.tooExpensive.ID, &b.adidas.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, moved.Level)
	assert.Equal(t, 3, moved.Children[0].Level)

	require.NoError(t, ValidateTree(env.nodes(t, b.gen.ID)))

	_, err = env.hierarchy.Move(bg(), b.gen.ID, b.swoosh.ID, &b.price.ID)
	require.NoError(t, err)
	conflicting := testutil.SeedNode(t, env.db, b.gen.ID, b.brands, "Swoosh", 1)
	_, err = env.hierarchy.Move(bg(), b.gen.ID, conflicting.ID, &b.price.ID)
	assert.True(t, apierr.Is(err, apierr.KindConflict))
}

func TestDeleteRemovesSubtree(t *testing.T) {
	env := newTestEnv(t)
	b := seedBrandTree(t, env)

	res, err := env.hierarchy.Delete(bg(), b.gen.ID, b.price.ID)
	require.NoError(t, err)
	assert.Len(t, res.DeletedIDs, 4)
	assert.Nil(t, res.Parent)

	after := env.nodes(t, b.gen.ID)
	assert.Len(t, after, 6)
	ids := nodeIDs(after)
	for _, gone := range []uuid.UUID{b.price.ID, b.tooExpensive.ID, b.wayToo.ID, b.goodValue.ID} {
		assert.False(t, ids[gone])
	}

	res, err = env.hierarchy.Delete(bg(), b.gen.ID, b.airMax.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.airMax.ID}, res.DeletedIDs)
	require.NotNil(t, res.Parent)
	assert.Equal(t, b.nike.ID, res.Parent.ID)
}

func TestEditsRequireCompletedGeneration(t *testing.T) {
	env := newTestEnv(t)
	gen := testutil.SeedGeneration(t, env.db, uuid.New(), types.GenerationProcessing)
	n := testutil.SeedNode(t, env.db, gen.ID, nil, "Theme", 1)

	_, err := env.hierarchy.Rename(bg(), gen.ID, n.ID, "Other")
	assert.True(t, apierr.Is(err, apierr.KindValidation))

	_, err = env.hierarchy.Tree(bg(), uuid.New())
	assert.True(t, apierr.Is(err, apierr.KindNotFound))
}

func TestMoveHonorsGenerationMaxDepth(t *testing.T) {
	env := newTestEnv(t)
	b := seedBrandTree(t, env)
	require.NoError(t, env.db.Model(&types.Generation{}).Where("id = ?", b.gen.ID).
		Update("config", datatypes.JSON(`{"version":1,"max_depth":2}`)).Error)

	_, err := env.hierarchy.Move(bg(), b.gen.ID, b.tooExpensive.ID, &b.adidas.ID)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindValidation))
	assert.Equal(t, 1, findNode(env.nodes(t, b.gen.ID), b.tooExpensive.ID).Level, "tree unchanged")

	moved, err := env.hierarchy.Move(bg(), b.gen.ID, b.adidas.ID, &b.price.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, moved.Level)

	moved, err = env.hierarchy.Move(bg(), b.gen.ID, b.nike.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, moved.Level)
	assert.Equal(t, 1, moved.Children[0].Level)
}

func findNode(nodes []*types.HierarchyNode, id uuid.UUID) *types.HierarchyNode {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
