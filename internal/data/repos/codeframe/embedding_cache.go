package codeframe

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

type EmbeddingCacheRepo interface {
	GetByAnswerIDs(dbc dbctx.Context, modelName string, answerIDs []uuid.UUID) ([]*types.EmbeddingCacheEntry, error)
	Upsert(dbc dbctx.Context, entries []*types.EmbeddingCacheEntry) error
}

type embeddingCacheRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmbeddingCacheRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingCacheRepo {
	return &embeddingCacheRepo{
		db:  db,
		log: baseLog.With("repo", "EmbeddingCacheRepo"),
	}
}

func (r *embeddingCacheRepo) GetByAnswerIDs(dbc dbctx.Context, modelName string, answerIDs []uuid.UUID) ([]*types.EmbeddingCacheEntry, error) {
	var out []*types.EmbeddingCacheEntry
	if modelName == "" || len(answerIDs) == 0 {
		return out, nil
	}
	for _, chunk := range chunkIDs(answerIDs, maxInList) {
		var part []*types.EmbeddingCacheEntry
		err := dbc.DB(r.db).
			Where("model_name = ? AND answer_id IN ?", modelName, chunk).
			Find(&part).Error
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

// Upsert is last-write-wins per (answer_id, model_name).
func (r *embeddingCacheRepo) Upsert(dbc dbctx.Context, entries []*types.EmbeddingCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now()
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
	}
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "answer_id"}, {Name: "model_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"vector", "content_hash", "updated_at"}),
		}).
		CreateInBatches(entries, upsertBatch).Error
}

