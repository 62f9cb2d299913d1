package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/yungbote/codeframe-backend/internal/data/repos"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/domain/codeframe"
	"github.com/yungbote/codeframe-backend/internal/observability"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
	"github.com/yungbote/codeframe-backend/internal/platform/apierr"
)

const maxCodeNameLen = 200

// DeleteResult lists the removed node ids and the parent subtree after the
// delete; Parent is nil when a root was deleted.
type DeleteResult struct {
	DeletedIDs []uuid.UUID           `json:"deleted_ids"`
	Parent     *types.HierarchyTree `json:"parent"`
}

// HierarchyService is the only writer of a completed Generation's tree.
// Edits of one Generation are serialized and each runs in one transaction.
type HierarchyService interface {
	Tree(dbc dbctx.Context, generationID uuid.UUID) ([]*types.HierarchyTree, error)
	Rename(dbc dbctx.Context, generationID, nodeID uuid.UUID, newName string) (*types.HierarchyTree, error)
	Merge(dbc dbctx.Context, generationID uuid.UUID, nodeIDs []uuid.UUID, targetName string) (*types.HierarchyTree, error)
	Move(dbc dbctx.Context, generationID, nodeID uuid.UUID, newParentID *uuid.UUID) (*types.HierarchyTree, error)
	Delete(dbc dbctx.Context, generationID, nodeID uuid.UUID) (*DeleteResult, error)
}

type hierarchyService struct {
	db          *gorm.DB
	log         *logger.Logger
	generations repos.GenerationRepo
	nodes       repos.HierarchyNodeRepo
	locker      Locker
}

func NewHierarchyService(db *gorm.DB, baseLog *logger.Logger, generations repos.GenerationRepo, nodes repos.HierarchyNodeRepo, locker Locker) HierarchyService {
	if locker == nil {
		locker = NewKeyedLocker()
	}
	return &hierarchyService{
		db:          db,
		log:         baseLog.With("service", "HierarchyService"),
		generations: generations,
		nodes:       nodes,
		locker:      locker,
	}
}

func generationLockName(id uuid.UUID) string { return "generation:" + id.String() }

func (s *hierarchyService) loadGeneration(dbc dbctx.Context, generationID uuid.UUID) (*types.Generation, error) {
	g, err := s.generations.GetByID(dbc, generationID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, apierr.NotFound("generation %s not found", generationID)
	}
	return g, nil
}

func (s *hierarchyService) Tree(dbc dbctx.Context, generationID uuid.UUID) ([]*types.HierarchyTree, error) {
	g, err := s.loadGeneration(dbc, generationID)
	if err != nil {
		return nil, err
	}
	if g.Status != types.GenerationCompleted {
		return nil, apierr.NotFound("generation %s has no hierarchy (status %s)", generationID, g.Status)
	}
	nodes, err := s.nodes.ListByGeneration(dbc, generationID)
	if err != nil {
		return nil, err
	}
	return BuildTree(nodes), nil
}

// editFn applies one edit inside tx and returns the node whose subtree is
// reported back, or nil.
type editFn func(tx dbctx.Context, g *types.Generation, a *nodeArena) (*uuid.UUID, error)

// mutate runs fn under the Generation's lock and a transaction, re-checks the
// whole tree before commit and returns the requested subtree.
func (s *hierarchyService) mutate(dbc dbctx.Context, action string, generationID uuid.UUID, fn editFn) (*types.HierarchyTree, error) {
	ctx, span := observability.StartSpan(dbc.Ctx, "hierarchy."+action,
		attribute.String("generation_id", generationID.String()))
	defer span.End()
	dbc.Ctx = ctx

	unlock, err := s.locker.Lock(ctx, generationLockName(generationID))
	if err != nil {
		return nil, fmt.Errorf("lock generation: %w", err)
	}
	defer unlock()

	g, err := s.loadGeneration(dbc, generationID)
	if err != nil {
		return nil, err
	}
	if g.Status != types.GenerationCompleted {
		return nil, apierr.Validation("generation %s is %s; only completed generations can be edited", generationID, g.Status)
	}

	var out *types.HierarchyTree
	err = dbc.DB(s.db).Transaction(func(tx *gorm.DB) error {
		tdbc := dbc.With(tx)
		nodes, err := s.nodes.ListByGeneration(tdbc, generationID)
		if err != nil {
			return err
		}
		focus, err := fn(tdbc, g, newNodeArena(nodes))
		if err != nil {
			return err
		}
		after, err := s.nodes.ListByGeneration(tdbc, generationID)
		if err != nil {
			return err
		}
		if err := ValidateTree(after); err != nil {
			return apierr.Validation("edit rejected: %v", err)
		}
		if focus != nil {
			out = newNodeArena(after).subtree(*focus)
		}
		return nil
	})
	result := "ok"
	if err != nil {
		result = string(apierr.KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	observability.Current().IncTreeEdit(action, result)
	if err != nil {
		return nil, err
	}
	s.log.Info("hierarchy edited", "action", action, "generation_id", generationID)
	return out, nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apierr.Validation("name must not be empty")
	}
	if len(name) > maxCodeNameLen {
		return "", apierr.Validation("name longer than %d characters", maxCodeNameLen)
	}
	return name, nil
}

func (s *hierarchyService) Rename(dbc dbctx.Context, generationID, nodeID uuid.UUID, newName string) (*types.HierarchyTree, error) {
	name, err := cleanName(newName)
	if err != nil {
		return nil, err
	}
	return s.mutate(dbc, "rename", generationID, func(tx dbctx.Context, _ *types.Generation, a *nodeArena) (*uuid.UUID, error) {
		n := a.byID[nodeID]
		if n == nil {
			return nil, apierr.NotFound("node %s not found in generation %s", nodeID, generationID)
		}
		if a.nameTaken(n.ParentID, name, n.ID) {
			return nil, apierr.Conflict("a sibling named %q already exists", name)
		}
		if err := s.nodes.UpdateFields(tx, generationID, n.ID, map[string]interface{}{"code_name": name}); err != nil {
			return nil, err
		}
		return &n.ID, nil
	})
}

func (s *hierarchyService) Merge(dbc dbctx.Context, generationID uuid.UUID, nodeIDs []uuid.UUID, targetName string) (*types.HierarchyTree, error) {
	ids := dedupeIDs(nodeIDs)
	if len(ids) < 2 {
		return nil, apierr.Validation("merge needs at least two distinct nodes")
	}
	name, err := cleanName(targetName)
	if err != nil {
		return nil, err
	}
	return s.mutate(dbc, "merge", generationID, func(tx dbctx.Context, _ *types.Generation, a *nodeArena) (*uuid.UUID, error) {
		inputs := make([]*types.HierarchyNode, 0, len(ids))
		for _, id := range ids {
			n := a.byID[id]
			if n == nil {
				return nil, apierr.NotFound("node %s not found in generation %s", id, generationID)
			}
			inputs = append(inputs, n)
		}
		first := inputs[0]
		for _, n := range inputs[1:] {
			if n.Level != first.Level || parentKey(n.ParentID) != parentKey(first.ParentID) {
				return nil, apierr.Validation("merge requires siblings with the same level and parent")
			}
		}
		if a.nameTaken(first.ParentID, name, ids...) {
			return nil, apierr.Conflict("a sibling named %q already exists", name)
		}
		childNames := map[string]bool{}
		for _, n := range inputs {
			for _, c := range a.children[n.ID] {
				k := strings.ToLower(strings.TrimSpace(c.CodeName))
				if childNames[k] {
					return nil, apierr.Conflict("merged node would have two children named %q", c.CodeName)
				}
				childNames[k] = true
			}
		}

		merged := mergeNodes(generationID, inputs, name)
		if err := s.nodes.CreateBatch(tx, []*types.HierarchyNode{merged}); err != nil {
			return nil, fmt.Errorf("create merged node: %w", err)
		}
		if _, err := s.nodes.ReparentChildren(tx, generationID, ids, merged.ID); err != nil {
			return nil, fmt.Errorf("reparent children: %w", err)
		}
		if _, err := s.nodes.DeleteByIDs(tx, generationID, ids); err != nil {
			return nil, fmt.Errorf("delete merged inputs: %w", err)
		}
		return &merged.ID, nil
	})
}

// mergeNodes builds the node that replaces inputs: counts add up, examples
// and answer ids are unioned, confidence is weighted by answer count.
func mergeNodes(generationID uuid.UUID, inputs []*types.HierarchyNode, name string) *types.HierarchyNode {
	first := inputs[0]
	out := &types.HierarchyNode{
		ID:           uuid.New(),
		GenerationID: generationID,
		ParentID:     first.ParentID,
		Level:        first.Level,
		Position:     first.Position,
		CodeName:     name,
		NodeType:     types.NodeCode,
	}
	var (
		examples   []string
		answerIDs  []uuid.UUID
		weighted   float64
		totalCount int
	)
	for _, n := range inputs {
		if n.Position < out.Position {
			out.Position = n.Position
		}
		if out.Description == "" {
			out.Description = n.Description
		}
		if n.NodeType == types.NodeTheme {
			out.NodeType = types.NodeTheme
		}
		totalCount += n.AnswerCount
		weighted += n.Confidence * float64(n.AnswerCount)
		examples = append(examples, n.Examples()...)
		answerIDs = append(answerIDs, n.AnswerIDList()...)
	}
	out.AnswerCount = totalCount
	if totalCount > 0 {
		out.Confidence = weighted / float64(totalCount)
	} else {
		var sum float64
		for _, n := range inputs {
			sum += n.Confidence
		}
		out.Confidence = sum / float64(len(inputs))
	}
	out.ConfidenceTier = codeframe.ConfidenceTierFor(out.Confidence)
	out.SetExamples(examples)
	out.SetAnswerIDs(dedupeIDs(answerIDs))
	return out
}

func (s *hierarchyService) Move(dbc dbctx.Context, generationID, nodeID uuid.UUID, newParentID *uuid.UUID) (*types.HierarchyTree, error) {
	return s.mutate(dbc, "move", generationID, func(tx dbctx.Context, g *types.Generation, a *nodeArena) (*uuid.UUID, error) {
		n := a.byID[nodeID]
		if n == nil {
			return nil, apierr.NotFound("node %s not found in generation %s", nodeID, generationID)
		}
		newLevel := 0
		if newParentID != nil {
			if *newParentID == n.ID || a.descendantSet(n.ID)[*newParentID] {
				return nil, apierr.Cycle("cannot move node %s under itself or its descendant %s", n.ID, *newParentID)
			}
			p := a.byID[*newParentID]
			if p == nil {
				return nil, apierr.NotFound("parent %s not found in generation %s", *newParentID, generationID)
			}
			newLevel = p.Level + 1
		}
		if parentKey(newParentID) == parentKey(n.ParentID) {
			return &n.ID, nil
		}
		maxLevel := codeframe.MaxLevelFor(g.Config)
		if newLevel+a.depthBelow(n.ID) > maxLevel {
			return nil, apierr.Validation("move would place nodes deeper than level %d", maxLevel)
		}
		if a.nameTaken(newParentID, n.CodeName, n.ID) {
			return nil, apierr.Conflict("destination already has a node named %q", n.CodeName)
		}

		position := 0
		for _, sib := range a.siblings(newParentID) {
			if sib.Position >= position {
				position = sib.Position + 1
			}
		}
		var parent interface{}
		if newParentID != nil {
			parent = *newParentID
		}
		if err := s.nodes.UpdateFields(tx, generationID, n.ID, map[string]interface{}{
			"parent_id": parent,
			"level":     newLevel,
			"position":  position,
		}); err != nil {
			return nil, err
		}
		if err := s.relevel(tx, generationID, a, n.ID, newLevel); err != nil {
			return nil, err
		}
		return &n.ID, nil
	})
}

// relevel rewrites the level of every descendant of id, whose own level is
// now level.
func (s *hierarchyService) relevel(tx dbctx.Context, generationID uuid.UUID, a *nodeArena, id uuid.UUID, level int) error {
	type item struct {
		id    uuid.UUID
		level int
	}
	seen := map[uuid.UUID]bool{id: true}
	stack := []item{{id, level}}
	now := time.Now()
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range a.children[cur.id] {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			if c.Level != cur.level+1 {
				if err := s.nodes.UpdateFields(tx, generationID, c.ID, map[string]interface{}{
					"level":      cur.level + 1,
					"updated_at": now,
				}); err != nil {
					return err
				}
			}
			stack = append(stack, item{c.ID, cur.level + 1})
		}
	}
	return nil
}

func (s *hierarchyService) Delete(dbc dbctx.Context, generationID, nodeID uuid.UUID) (*DeleteResult, error) {
	res := &DeleteResult{}
	parent, err := s.mutate(dbc, "delete", generationID, func(tx dbctx.Context, _ *types.Generation, a *nodeArena) (*uuid.UUID, error) {
		n := a.byID[nodeID]
		if n == nil {
			return nil, apierr.NotFound("node %s not found in generation %s", nodeID, generationID)
		}
		ids := []uuid.UUID{n.ID}
		for id := range a.descendantSet(n.ID) {
			ids = append(ids, id)
		}
		deleted, err := s.nodes.DeleteByIDs(tx, generationID, ids)
		if err != nil {
			return nil, err
		}
		if int(deleted) != len(ids) {
			return nil, fmt.Errorf("delete subtree: removed %d of %d nodes", deleted, len(ids))
		}
		res.DeletedIDs = ids
		return n.ParentID, nil
	})
	if err != nil {
		return nil, err
	}
	res.Parent = parent
	return res, nil
}
