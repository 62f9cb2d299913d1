package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/domain/codeframe"
)

var ErrInvalidTree = errors.New("invalid hierarchy")

// nodeArena indexes one Generation's nodes by id and by parent. Roots are
// filed under uuid.Nil.
type nodeArena struct {
	byID     map[uuid.UUID]*types.HierarchyNode
	children map[uuid.UUID][]*types.HierarchyNode
}

func newNodeArena(nodes []*types.HierarchyNode) *nodeArena {
	a := &nodeArena{
		byID:     make(map[uuid.UUID]*types.HierarchyNode, len(nodes)),
		children: make(map[uuid.UUID][]*types.HierarchyNode),
	}
	for _, n := range nodes {
		a.byID[n.ID] = n
	}
	for _, n := range nodes {
		k := parentKey(n.ParentID)
		a.children[k] = append(a.children[k], n)
	}
	for k := range a.children {
		sortSiblings(a.children[k])
	}
	return a
}

func parentKey(p *uuid.UUID) uuid.UUID {
	if p == nil {
		return uuid.Nil
	}
	return *p
}

func sortSiblings(nodes []*types.HierarchyNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Position != nodes[j].Position {
			return nodes[i].Position < nodes[j].Position
		}
		return nodes[i].CodeName < nodes[j].CodeName
	})
}

func (a *nodeArena) siblings(parent *uuid.UUID) []*types.HierarchyNode {
	return a.children[parentKey(parent)]
}

// nameTaken reports whether a sibling under parent, other than the excluded
// ids, already uses name. Comparison ignores case and surrounding space.
func (a *nodeArena) nameTaken(parent *uuid.UUID, name string, exclude ...uuid.UUID) bool {
	skip := make(map[uuid.UUID]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	for _, s := range a.siblings(parent) {
		if skip[s.ID] {
			continue
		}
		if sameName(s.CodeName, name) {
			return true
		}
	}
	return false
}

// descendantSet returns every node below id. It tolerates corrupt data by
// never visiting a node twice.
func (a *nodeArena) descendantSet(id uuid.UUID) map[uuid.UUID]bool {
	out := map[uuid.UUID]bool{}
	stack := []uuid.UUID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range a.children[cur] {
			if out[c.ID] || c.ID == id {
				continue
			}
			out[c.ID] = true
			stack = append(stack, c.ID)
		}
	}
	return out
}

// depthBelow is the number of levels under id (0 for a leaf).
func (a *nodeArena) depthBelow(id uuid.UUID) int {
	best := 0
	type item struct {
		id    uuid.UUID
		depth int
	}
	seen := map[uuid.UUID]bool{id: true}
	stack := []item{{id, 0}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.depth > best {
			best = cur.depth
		}
		for _, c := range a.children[cur.id] {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			stack = append(stack, item{c.ID, cur.depth + 1})
		}
	}
	return best
}

func (a *nodeArena) isLeaf(id uuid.UUID) bool {
	return len(a.children[id]) == 0
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ValidateTree checks the structural invariants of one Generation's nodes:
// every parent exists, level(child) = level(parent)+1 with roots at 0,
// levels stay within MaxLevel, there are no cycles and sibling names are
// unique.
func ValidateTree(nodes []*types.HierarchyNode) error {
	a := newNodeArena(nodes)
	for _, n := range nodes {
		if n.Level < 0 || n.Level > codeframe.MaxLevel {
			return fmt.Errorf("%w: node %s at level %d", ErrInvalidTree, n.ID, n.Level)
		}
		if n.IsRoot() {
			if n.Level != 0 {
				return fmt.Errorf("%w: root %s at level %d", ErrInvalidTree, n.ID, n.Level)
			}
			continue
		}
		p := a.byID[*n.ParentID]
		if p == nil {
			return fmt.Errorf("%w: node %s has unknown parent %s", ErrInvalidTree, n.ID, *n.ParentID)
		}
		if p.GenerationID != n.GenerationID {
			return fmt.Errorf("%w: node %s has parent in another generation", ErrInvalidTree, n.ID)
		}
		if n.Level != p.Level+1 {
			return fmt.Errorf("%w: node %s level %d under parent level %d", ErrInvalidTree, n.ID, n.Level, p.Level)
		}
	}
	for _, n := range nodes {
		seen := map[uuid.UUID]bool{n.ID: true}
		for cur := n; cur.ParentID != nil; {
			next := a.byID[*cur.ParentID]
			if next == nil {
				break
			}
			if seen[next.ID] {
				return fmt.Errorf("%w: cycle through node %s", ErrInvalidTree, next.ID)
			}
			seen[next.ID] = true
			cur = next
		}
	}
	for _, sibs := range a.children {
		names := make(map[string]uuid.UUID, len(sibs))
		for _, s := range sibs {
			k := strings.ToLower(strings.TrimSpace(s.CodeName))
			if other, dup := names[k]; dup {
				return fmt.Errorf("%w: nodes %s and %s share name %q", ErrInvalidTree, other, s.ID, s.CodeName)
			}
			names[k] = s.ID
		}
	}
	return nil
}

// BuildTree nests the arena under its roots, siblings in position order.
func BuildTree(nodes []*types.HierarchyNode) []*types.HierarchyTree {
	a := newNodeArena(nodes)
	roots := a.children[uuid.Nil]
	out := make([]*types.HierarchyTree, 0, len(roots))
	for _, r := range roots {
		out = append(out, a.subtree(r.ID))
	}
	return out
}

func (a *nodeArena) subtree(id uuid.UUID) *types.HierarchyTree {
	n := a.byID[id]
	if n == nil {
		return nil
	}
	t := &types.HierarchyTree{HierarchyNode: n, Children: []*types.HierarchyTree{}}
	seen := map[uuid.UUID]bool{id: true}
	stack := []*types.HierarchyTree{t}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range a.children[cur.ID] {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			ct := &types.HierarchyTree{HierarchyNode: c, Children: []*types.HierarchyTree{}}
			cur.Children = append(cur.Children, ct)
			stack = append(stack, ct)
		}
	}
	return t
}
