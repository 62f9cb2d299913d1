package codeframe

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

// HierarchyNodeRepo is the hierarchy store. Only the mutation engine and the
// finalizer write through it.
type HierarchyNodeRepo interface {
	CreateBatch(dbc dbctx.Context, nodes []*types.HierarchyNode) error
	ListByGeneration(dbc dbctx.Context, generationID uuid.UUID) ([]*types.HierarchyNode, error)
	UpdateFields(dbc dbctx.Context, generationID, id uuid.UUID, updates map[string]interface{}) error
	ReparentChildren(dbc dbctx.Context, generationID uuid.UUID, fromParents []uuid.UUID, to uuid.UUID) (int64, error)
	DeleteByIDs(dbc dbctx.Context, generationID uuid.UUID, ids []uuid.UUID) (int64, error)
	DeleteByGeneration(dbc dbctx.Context, generationID uuid.UUID) (int64, error)
}

type hierarchyNodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewHierarchyNodeRepo(db *gorm.DB, baseLog *logger.Logger) HierarchyNodeRepo {
	return &hierarchyNodeRepo{
		db:  db,
		log: baseLog.With("repo", "HierarchyNodeRepo"),
	}
}

func (r *hierarchyNodeRepo) CreateBatch(dbc dbctx.Context, nodes []*types.HierarchyNode) error {
	if len(nodes) == 0 {
		return nil
	}
	now := time.Now()
	for _, n := range nodes {
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		n.UpdatedAt = now
	}
	return dbc.DB(r.db).CreateInBatches(nodes, 200).Error
}

func (r *hierarchyNodeRepo) ListByGeneration(dbc dbctx.Context, generationID uuid.UUID) ([]*types.HierarchyNode, error) {
	var out []*types.HierarchyNode
	if generationID == uuid.Nil {
		return out, nil
	}
	err := dbc.DB(r.db).
		Where("generation_id = ?", generationID).
		Order("level ASC, position ASC, code_name ASC").
		Find(&out).Error
	return out, err
}

func (r *hierarchyNodeRepo) UpdateFields(dbc dbctx.Context, generationID, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).
		Model(&types.HierarchyNode{}).
		Where("generation_id = ? AND id = ?", generationID, id).
		Updates(updates).Error
}

func (r *hierarchyNodeRepo) ReparentChildren(dbc dbctx.Context, generationID uuid.UUID, fromParents []uuid.UUID, to uuid.UUID) (int64, error) {
	if len(fromParents) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).
		Model(&types.HierarchyNode{}).
		Where("generation_id = ? AND parent_id IN ?", generationID, fromParents).
		Updates(map[string]interface{}{
			"parent_id":  to,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *hierarchyNodeRepo) DeleteByIDs(dbc dbctx.Context, generationID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).
		Where("generation_id = ? AND id IN ?", generationID, ids).
		Delete(&types.HierarchyNode{})
	return res.RowsAffected, res.Error
}

func (r *hierarchyNodeRepo) DeleteByGeneration(dbc dbctx.Context, generationID uuid.UUID) (int64, error) {
	res := dbc.DB(r.db).
		Where("generation_id = ?", generationID).
		Delete(&types.HierarchyNode{})
	return res.RowsAffected, res.Error
}
