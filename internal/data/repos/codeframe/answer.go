package codeframe

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

type AnswerRepo interface {
	Create(dbc dbctx.Context, answers []*types.Answer) error
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Answer, error)
	ListByCategory(dbc dbctx.Context, categoryID uuid.UUID) ([]*types.Answer, error)
	AssignCode(dbc dbctx.Context, id uuid.UUID, code string, generationID, nodeID uuid.UUID) error
	Delete(dbc dbctx.Context, ids []uuid.UUID) (int64, error)
}

type answerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnswerRepo(db *gorm.DB, baseLog *logger.Logger) AnswerRepo {
	return &answerRepo{
		db:  db,
		log: baseLog.With("repo", "AnswerRepo"),
	}
}

func (r *answerRepo) Create(dbc dbctx.Context, answers []*types.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	for _, a := range answers {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
	}
	return dbc.DB(r.db).CreateInBatches(answers, 500).Error
}

func (r *answerRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Answer, error) {
	var out []*types.Answer
	if len(ids) == 0 {
		return out, nil
	}
	for _, chunk := range chunkIDs(ids, maxInList) {
		var part []*types.Answer
		if err := dbc.DB(r.db).Where("id IN ?", chunk).Find(&part).Error; err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

func (r *answerRepo) ListByCategory(dbc dbctx.Context, categoryID uuid.UUID) ([]*types.Answer, error) {
	var out []*types.Answer
	if categoryID == uuid.Nil {
		return out, nil
	}
	err := dbc.DB(r.db).
		Where("category_id = ?", categoryID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// AssignCode writes a confirmed code onto one answer.
func (r *answerRepo) AssignCode(dbc dbctx.Context, id uuid.UUID, code string, generationID, nodeID uuid.UUID) error {
	now := time.Now()
	return dbc.DB(r.db).
		Model(&types.Answer{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"code":                code,
			"code_status":         types.CodeStatusConfirmed,
			"coded_generation_id": generationID,
			"coded_node_id":       nodeID,
			"coded_at":            now,
			"updated_at":          now,
		}).Error
}

// Delete removes answers together with their cached embeddings.
func (r *answerRepo) Delete(dbc dbctx.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunkIDs(ids, maxInList) {
			if err := tx.Where("answer_id IN ?", chunk).Delete(&types.EmbeddingCacheEntry{}).Error; err != nil {
				return err
			}
			res := tx.Where("id IN ?", chunk).Delete(&types.Answer{})
			if res.Error != nil {
				return res.Error
			}
			deleted += res.RowsAffected
		}
		return nil
	})
	return deleted, err
}
