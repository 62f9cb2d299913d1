package codeframe

import "github.com/google/uuid"

// ClusterPoint is one embedded answer handed to the clustering service.
type ClusterPoint struct {
	AnswerID uuid.UUID `json:"id"`
	Vector   []float32 `json:"vector"`
}

type ClusterRequest struct {
	Algorithm      string         `json:"algorithm"`
	TargetClusters int            `json:"target_clusters"`
	MinClusterSize int            `json:"min_cluster_size"`
	Points         []ClusterPoint `json:"points"`
}

// ClusterAssignment groups the answers the clustering service put together.
// Noise points are simply absent from every assignment.
type ClusterAssignment struct {
	ClusterID int         `json:"cluster_id"`
	AnswerIDs []uuid.UUID `json:"answer_ids"`
}

type LabelRequest struct {
	ClusterID      int         `json:"cluster_id"`
	AnswerIDs      []uuid.UUID `json:"answer_ids"`
	Texts          []string    `json:"texts"`
	TargetLanguage string      `json:"target_language"`
	Model          string      `json:"model"`
	MaxTokens      int         `json:"max_tokens"`
}

func LabelRequestFromPayload(p ClusterPayload) LabelRequest {
	return LabelRequest{
		ClusterID:      p.ClusterID,
		AnswerIDs:      p.AnswerIDs,
		Texts:          p.Texts,
		TargetLanguage: p.TargetLanguage,
		Model:          p.LabelingModel,
		MaxTokens:      p.TokenBudget,
	}
}
