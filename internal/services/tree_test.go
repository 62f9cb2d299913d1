package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/domain/codeframe"
)

func node(gen uuid.UUID, parent *types.HierarchyNode, name string, pos int) *types.HierarchyNode {
	n := &types.HierarchyNode{ID: uuid.New(), GenerationID: gen, CodeName: name, Position: pos, NodeType: types.NodeTheme}
	if parent != nil {
		pid := parent.ID
		n.ParentID = &pid
		n.Level = parent.Level + 1
		n.NodeType = types.NodeCode
	}
	return n
}

func TestValidateTree(t *testing.T) {
	gen := uuid.New()
	root := node(gen, nil, "Brand", 0)
	a := node(gen, root, "Nike", 0)
	b := node(gen, root, "Adidas", 1)
	c := node(gen, a, "Air Max", 0)
	require.NoError(t, ValidateTree([]*types.HierarchyNode{root, a, b, c}))

	t.Run("sibling names ignore case", func(t *testing.T) {
		dup := node(gen, root, "  nike ", 2)
		err := ValidateTree([]*types.HierarchyNode{root, a, b, dup})
		assert.ErrorIs(t, err, ErrInvalidTree)
	})

	t.Run("same name under different parents", func(t *testing.T) {
		other := node(gen, nil, "Price", 1)
		n := node(gen, other, "Nike", 0)
		assert.NoError(t, ValidateTree([]*types.HierarchyNode{root, a, other, n}))
	})

	t.Run("level must follow parent", func(t *testing.T) {
		bad := node(gen, root, "Puma", 3)
		bad.Level = 2
		assert.ErrorIs(t, ValidateTree([]*types.HierarchyNode{root, bad}), ErrInvalidTree)
	})

	t.Run("unknown parent", func(t *testing.T) {
		ghost := uuid.New()
		orphan := node(gen, nil, "Orphan", 0)
		orphan.ParentID = &ghost
		orphan.Level = 1
		assert.ErrorIs(t, ValidateTree([]*types.HierarchyNode{orphan}), ErrInvalidTree)
	})

	t.Run("cycle", func(t *testing.T) {
		x := node(gen, nil, "X", 0)
		y := node(gen, x, "Y", 0)
		xid, yid := x.ID, y.ID
		x.ParentID = &yid
		y.ParentID = &xid
		x.Level = 1
		y.Level = 1
		assert.ErrorIs(t, ValidateTree([]*types.HierarchyNode{x, y}), ErrInvalidTree)
	})

	t.Run("too deep", func(t *testing.T) {
		chain := []*types.HierarchyNode{node(gen, nil, "L0", 0)}
		for i := 1; i <= codeframe.MaxLevel+1; i++ {
			chain = append(chain, node(gen, chain[i-1], "L", 0))
		}
		assert.ErrorIs(t, ValidateTree(chain), ErrInvalidTree)
	})
}

func TestArenaHelpers(t *testing.T) {
	gen := uuid.New()
	root := node(gen, nil, "Brand", 0)
	a := node(gen, root, "Nike", 1)
	b := node(gen, root, "Adidas", 0)
	c := node(gen, a, "Air Max", 0)
	arena := newNodeArena([]*types.HierarchyNode{c, b, a, root})

	assert.Equal(t, map[uuid.UUID]bool{a.ID: true, b.ID: true, c.ID: true}, arena.descendantSet(root.ID))
	assert.Equal(t, 2, arena.depthBelow(root.ID))
	assert.Equal(t, 0, arena.depthBelow(c.ID))
	assert.True(t, arena.isLeaf(b.ID))
	assert.False(t, arena.isLeaf(a.ID))
	assert.True(t, arena.nameTaken(&root.ID, "ADIDAS"))
	assert.False(t, arena.nameTaken(&root.ID, "adidas", b.ID))

	tree := BuildTree([]*types.HierarchyNode{c, b, a, root})
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Children, 2)
	assert.Equal(t, "Adidas", tree[0].Children[0].CodeName, "siblings are ordered by position")
	assert.Equal(t, "Nike", tree[0].Children[1].CodeName)
	require.Len(t, tree[0].Children[1].Children, 1)
	assert.Equal(t, "Air Max", tree[0].Children[1].Children[0].CodeName)
}
