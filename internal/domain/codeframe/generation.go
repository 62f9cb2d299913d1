package codeframe

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

func (s GenerationStatus) Terminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

// Steps reported in Generation.CurrentStep.
const (
	StepQueued     = "queued"
	StepEmbedding  = "embedding"
	StepClustering = "clustering"
	StepLabeling   = "labeling"
	StepFinalizing = "finalizing"
	StepDone       = "done"
)

// Generation is one request to build a codeframe for a category. Counter
// columns are only ever changed with SQL increments; see the generation repo.
type Generation struct {
	ID               uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	CategoryID       uuid.UUID        `gorm:"type:uuid;not null;index" json:"category_id"`
	Status           GenerationStatus `gorm:"column:status;not null;index" json:"status"`
	Config           datatypes.JSON   `gorm:"column:config" json:"config"`
	ProgressPercent  int              `gorm:"column:progress_percent;not null;default:0" json:"progress_percent"`
	CurrentStep      string           `gorm:"column:current_step;not null" json:"current_step"`
	NAnswers         int              `gorm:"column:n_answers;not null;default:0" json:"n_answers"`
	NClusters        int              `gorm:"column:n_clusters;not null;default:0" json:"n_clusters"`
	NCompleted       int              `gorm:"column:n_completed;not null;default:0" json:"n_completed"`
	NFailed          int              `gorm:"column:n_failed;not null;default:0" json:"n_failed"`
	TokensUsed       int64            `gorm:"column:tokens_used;not null;default:0" json:"tokens_used"`
	CostUSD          float64          `gorm:"column:cost_usd;not null;default:0" json:"cost_usd"`
	EstimatedCostUSD float64          `gorm:"column:estimated_cost_usd;not null;default:0" json:"estimated_cost_usd"`
	ProcessingTimeMS int64            `gorm:"column:processing_time_ms;not null;default:0" json:"processing_time_ms"`
	Result           datatypes.JSON   `gorm:"column:result" json:"result,omitempty"`
	Error            datatypes.JSON   `gorm:"column:error" json:"error,omitempty"`
	CreatedAt        time.Time        `gorm:"not null;index" json:"created_at"`
	StartedAt        *time.Time       `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt      *time.Time       `gorm:"column:completed_at" json:"completed_at,omitempty"`
	UpdatedAt        time.Time        `gorm:"not null" json:"updated_at"`
}

func (Generation) TableName() string { return "generation" }

// Settled is the number of cluster jobs that reached a terminal state.
func (g *Generation) Settled() int { return g.NCompleted + g.NFailed }

// AllSettled reports whether every cluster job has reached a terminal state.
func (g *Generation) AllSettled() bool {
	return g.NClusters > 0 && g.Settled() >= g.NClusters
}
