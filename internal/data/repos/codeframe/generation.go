package codeframe

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

// progressExpr is n_completed / n_clusters after the success being settled.
// Failed clusters do not advance it; finalize sets 100 on completion.
const progressExpr = `CASE
  WHEN n_clusters > 0 AND ((n_completed + 1) * 100) / n_clusters > progress_percent
  THEN ((n_completed + 1) * 100) / n_clusters
  ELSE progress_percent
END`

type GenerationRepo interface {
	Create(dbc dbctx.Context, g *types.Generation) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Generation, error)
	ListByCategory(dbc dbctx.Context, categoryID uuid.UUID, limit int) ([]*types.Generation, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, status types.GenerationStatus, updates map[string]interface{}) (bool, error)
	IncrementCompleted(dbc dbctx.Context, id uuid.UUID, tokens int64, costUSD float64) (bool, error)
	IncrementFailed(dbc dbctx.Context, id uuid.UUID) (bool, error)
	Delete(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type generationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationRepo(db *gorm.DB, baseLog *logger.Logger) GenerationRepo {
	return &generationRepo{
		db:  db,
		log: baseLog.With("repo", "GenerationRepo"),
	}
}

func (r *generationRepo) Create(dbc dbctx.Context, g *types.Generation) error {
	if g == nil {
		return nil
	}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return dbc.DB(r.db).Create(g).Error
}

func (r *generationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Generation, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var g types.Generation
	err := dbc.DB(r.db).Where("id = ?", id).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *generationRepo) ListByCategory(dbc dbctx.Context, categoryID uuid.UUID, limit int) ([]*types.Generation, error) {
	var out []*types.Generation
	if categoryID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 50
	}
	err := dbc.DB(r.db).
		Where("category_id = ?", categoryID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *generationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Generation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsIfStatus applies updates only while the row is in status.
// It reports false when another writer moved the row first.
func (r *generationRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, status types.GenerationStatus, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := dbc.DB(r.db).
		Model(&types.Generation{}).
		Where("id = ? AND status = ?", id, status).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *generationRepo) IncrementCompleted(dbc dbctx.Context, id uuid.UUID, tokens int64, costUSD float64) (bool, error) {
	return r.settle(dbc, id, map[string]interface{}{
		"n_completed":      gorm.Expr("n_completed + 1"),
		"tokens_used":      gorm.Expr("tokens_used + ?", tokens),
		"cost_usd":         gorm.Expr("cost_usd + ?", costUSD),
		"progress_percent": gorm.Expr(progressExpr),
	})
}

func (r *generationRepo) IncrementFailed(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	return r.settle(dbc, id, map[string]interface{}{
		"n_failed": gorm.Expr("n_failed + 1"),
	})
}

// settle is the only writer of the job counters. The WHERE clause keeps
// n_completed + n_failed <= n_clusters and refuses rows that are gone or no
// longer processing.
func (r *generationRepo) settle(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	updates["updated_at"] = time.Now()
	res := dbc.DB(r.db).
		Model(&types.Generation{}).
		Where("id = ? AND status = ? AND n_completed + n_failed < n_clusters", id, types.GenerationProcessing).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *generationRepo) Delete(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := dbc.DB(r.db).Where("id = ?", id).Delete(&types.Generation{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
