package repos

import (
	"github.com/yungbote/codeframe-backend/internal/data/repos/codeframe"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
	"gorm.io/gorm"
)

type GenerationRepo = codeframe.GenerationRepo
type HierarchyNodeRepo = codeframe.HierarchyNodeRepo
type EmbeddingCacheRepo = codeframe.EmbeddingCacheRepo
type AnswerRepo = codeframe.AnswerRepo

func NewGenerationRepo(db *gorm.DB, baseLog *logger.Logger) GenerationRepo {
	return codeframe.NewGenerationRepo(db, baseLog)
}
func NewHierarchyNodeRepo(db *gorm.DB, baseLog *logger.Logger) HierarchyNodeRepo {
	return codeframe.NewHierarchyNodeRepo(db, baseLog)
}
func NewEmbeddingCacheRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingCacheRepo {
	return codeframe.NewEmbeddingCacheRepo(db, baseLog)
}
func NewAnswerRepo(db *gorm.DB, baseLog *logger.Logger) AnswerRepo {
	return codeframe.NewAnswerRepo(db, baseLog)
}

// Repos bundles every repository so wiring code passes one value around.
type Repos struct {
	Generations    GenerationRepo
	Nodes          HierarchyNodeRepo
	EmbeddingCache EmbeddingCacheRepo
	Answers        AnswerRepo
}

func New(db *gorm.DB, baseLog *logger.Logger) *Repos {
	return &Repos{
		Generations:    NewGenerationRepo(db, baseLog),
		Nodes:          NewHierarchyNodeRepo(db, baseLog),
		EmbeddingCache: NewEmbeddingCacheRepo(db, baseLog),
		Answers:        NewAnswerRepo(db, baseLog),
	}
}
