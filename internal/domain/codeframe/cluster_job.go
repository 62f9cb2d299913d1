package codeframe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ClusterJobStatus string

const (
	JobQueued    ClusterJobStatus = "queued"
	JobActive    ClusterJobStatus = "active"
	JobRetrying  ClusterJobStatus = "retrying"
	JobCompleted ClusterJobStatus = "completed"
	JobFailed    ClusterJobStatus = "failed"
)

const DefaultMaxAttempts = 3

// ClusterJob asks a worker to label one cluster of one Generation. Attempts
// and RunAt live on the row so a crashed worker's retries can be picked up
// by any other worker.
type ClusterJob struct {
	ID           uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID uuid.UUID        `gorm:"type:uuid;not null;index" json:"generation_id"`
	ClusterID    int              `gorm:"column:cluster_id;not null" json:"cluster_id"`
	JobType      string           `gorm:"column:job_type;not null;default:'cluster_label'" json:"job_type"`
	Payload      datatypes.JSON   `gorm:"column:payload" json:"payload"`
	Status       ClusterJobStatus `gorm:"column:status;not null;index:idx_cluster_job_runnable,priority:1" json:"status"`
	Attempts     int              `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts  int              `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	RunAt        time.Time        `gorm:"column:run_at;not null;index:idx_cluster_job_runnable,priority:2" json:"run_at"`
	LockedAt     *time.Time       `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt  *time.Time       `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	LastError    string           `gorm:"column:last_error" json:"last_error,omitempty"`
	Result       datatypes.JSON   `gorm:"column:result" json:"result,omitempty"`
	FinishedAt   *time.Time       `gorm:"column:finished_at;index" json:"finished_at,omitempty"`
	CreatedAt    time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"not null" json:"updated_at"`
}

func (ClusterJob) TableName() string { return "cluster_job" }

func (j *ClusterJob) Exhausted() bool { return j.Attempts >= j.MaxAttempts }

// ClusterPayload is the answer subset a job labels.
type ClusterPayload struct {
	ClusterID      int         `json:"cluster_id"`
	AnswerIDs      []uuid.UUID `json:"answer_ids"`
	Texts          []string    `json:"texts"`
	TargetLanguage string      `json:"target_language"`
	LabelingModel  string      `json:"labeling_model"`
	TokenBudget    int         `json:"token_budget"`
}

func EncodeClusterPayload(p ClusterPayload) (datatypes.JSON, error) {
	if len(p.AnswerIDs) != len(p.Texts) {
		return nil, fmt.Errorf("cluster payload: %d ids but %d texts", len(p.AnswerIDs), len(p.Texts))
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func (j *ClusterJob) DecodePayload() (ClusterPayload, error) {
	var p ClusterPayload
	if len(j.Payload) == 0 {
		return p, fmt.Errorf("cluster job %s: empty payload", j.ID)
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("cluster job %s: %w", j.ID, err)
	}
	return p, nil
}

// ClusterLabel is what the labeling service returns for one cluster; it is
// stored as the job's result and read back at finalize time.
type ClusterLabel struct {
	ClusterID        int           `json:"cluster_id"`
	ThemeName        string        `json:"theme_name"`
	ThemeDescription string        `json:"theme_description"`
	Confidence       float64       `json:"confidence"`
	Codes            []LabeledCode `json:"codes"`
	TokensUsed       int64         `json:"tokens_used"`
	CostUSD          float64       `json:"cost_usd"`
}

type LabeledCode struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	AnswerIDs   []uuid.UUID `json:"answer_ids"`
	Confidence  float64     `json:"confidence"`
	Examples    []string    `json:"examples"`
}

func EncodeClusterLabel(l ClusterLabel) (datatypes.JSON, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func DecodeClusterLabel(raw datatypes.JSON) (ClusterLabel, error) {
	var l ClusterLabel
	if len(raw) == 0 {
		return l, fmt.Errorf("cluster label: empty")
	}
	err := json.Unmarshal(raw, &l)
	return l, err
}
