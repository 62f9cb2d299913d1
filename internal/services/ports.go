package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
)

// EmbeddingProvider computes one vector per input text, in input order.
type EmbeddingProvider interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

type Clusterer interface {
	Cluster(ctx context.Context, req types.ClusterRequest) ([]types.ClusterAssignment, error)
}

type Labeler interface {
	Label(ctx context.Context, req types.LabelRequest) (*types.ClusterLabel, error)
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

// AnswerStore is the source of survey answers and the target of apply.
type AnswerStore interface {
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Answer, error)
	ListByCategory(dbc dbctx.Context, categoryID uuid.UUID) ([]*types.Answer, error)
	AssignCode(dbc dbctx.Context, id uuid.UUID, code string, generationID, nodeID uuid.UUID) error
}

// JobResults is the read side of the queue the orchestrator needs at
// finalize and delete time.
type JobResults interface {
	ListCompleted(dbc dbctx.Context, generationID uuid.UUID) ([]*types.ClusterJob, error)
	DeleteByGeneration(dbc dbctx.Context, generationID uuid.UUID) (int64, error)
}
