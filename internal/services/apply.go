package services

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/yungbote/codeframe-backend/internal/data/repos"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/observability"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
	"github.com/yungbote/codeframe-backend/internal/platform/apierr"
)

type ApplyRequest struct {
	AutoConfirmThreshold float64 `json:"auto_confirm_threshold"`
	OverwriteExisting    bool    `json:"overwrite_existing"`
}

type ApplyResult struct {
	AppliedCount int `json:"applied_count"`
	SkippedCount int `json:"skipped_count"`
}

// ApplyService writes a completed Generation's leaf codes onto answers.
type ApplyService interface {
	Apply(dbc dbctx.Context, generationID uuid.UUID, req ApplyRequest) (*ApplyResult, error)
}

type applyService struct {
	db          *gorm.DB
	log         *logger.Logger
	generations repos.GenerationRepo
	nodes       repos.HierarchyNodeRepo
	answers     AnswerStore
	locker      Locker
}

func NewApplyService(db *gorm.DB, baseLog *logger.Logger, generations repos.GenerationRepo, nodes repos.HierarchyNodeRepo, answers AnswerStore, locker Locker) ApplyService {
	if locker == nil {
		locker = NewKeyedLocker()
	}
	return &applyService{
		db:          db,
		log:         baseLog.With("service", "ApplyService"),
		generations: generations,
		nodes:       nodes,
		answers:     answers,
		locker:      locker,
	}
}

func (s *applyService) Apply(dbc dbctx.Context, generationID uuid.UUID, req ApplyRequest) (*ApplyResult, error) {
	if req.AutoConfirmThreshold < 0 || req.AutoConfirmThreshold > 1 {
		return nil, apierr.Validation("auto_confirm_threshold must be between 0 and 1")
	}
	ctx, span := observability.StartSpan(dbc.Ctx, "hierarchy.apply",
		attribute.String("generation_id", generationID.String()))
	defer span.End()
	dbc.Ctx = ctx

	// Shares the edit lock so apply never sees a half-done edit.
	unlock, err := s.locker.Lock(ctx, generationLockName(generationID))
	if err != nil {
		return nil, fmt.Errorf("lock generation: %w", err)
	}
	defer unlock()

	g, err := s.generations.GetByID(dbc, generationID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, apierr.NotFound("generation %s not found", generationID)
	}
	if g.Status != types.GenerationCompleted {
		return nil, apierr.Validation("generation %s is %s; only completed generations can be applied", generationID, g.Status)
	}

	res := &ApplyResult{}
	err = dbc.DB(s.db).Transaction(func(tx *gorm.DB) error {
		tdbc := dbc.With(tx)
		nodes, err := s.nodes.ListByGeneration(tdbc, generationID)
		if err != nil {
			return err
		}
		winners := pickWinners(newNodeArena(nodes), req.AutoConfirmThreshold)
		if len(winners) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(winners))
		for id := range winners {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

		answers, err := s.answers.GetByIDs(tdbc, ids)
		if err != nil {
			return err
		}
		found := make(map[uuid.UUID]*types.Answer, len(answers))
		for _, a := range answers {
			found[a.ID] = a
		}
		for _, id := range ids {
			a := found[id]
			w := winners[id]
			switch {
			case a == nil:
				res.SkippedCount++
			case a.Code == w.CodeName && a.CodedNodeID != nil && *a.CodedNodeID == w.ID:
				res.SkippedCount++
			case a.Confirmed() && !req.OverwriteExisting:
				res.SkippedCount++
			default:
				if err := s.answers.AssignCode(tdbc, a.ID, w.CodeName, generationID, w.ID); err != nil {
					return fmt.Errorf("assign code to answer %s: %w", a.ID, err)
				}
				res.AppliedCount++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("codes applied",
		"generation_id", generationID,
		"applied", res.AppliedCount,
		"skipped", res.SkippedCount,
		"threshold", req.AutoConfirmThreshold,
	)
	return res, nil
}

// pickWinners maps each answer covered by an eligible leaf code to the one
// code it receives: highest confidence, then lowest position, then lowest id.
func pickWinners(a *nodeArena, threshold float64) map[uuid.UUID]*types.HierarchyNode {
	out := map[uuid.UUID]*types.HierarchyNode{}
	for _, n := range a.byID {
		if n.NodeType != types.NodeCode || !a.isLeaf(n.ID) || n.Confidence < threshold {
			continue
		}
		for _, answerID := range n.AnswerIDList() {
			cur := out[answerID]
			if cur == nil || beats(n, cur) {
				out[answerID] = n
			}
		}
	}
	return out
}

func beats(a, b *types.HierarchyNode) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.ID.String() < b.ID.String()
}
