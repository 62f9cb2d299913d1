package domain

import "github.com/yungbote/codeframe-backend/internal/domain/codeframe"

type Generation = codeframe.Generation
type GenerationStatus = codeframe.GenerationStatus
type GenerationConfig = codeframe.GenerationConfig
type GenerationResult = codeframe.GenerationResult
type GenerationError = codeframe.GenerationError
type HierarchyNode = codeframe.HierarchyNode
type HierarchyTree = codeframe.HierarchyTree
type NodeType = codeframe.NodeType
type EmbeddingCacheEntry = codeframe.EmbeddingCacheEntry
type Answer = codeframe.Answer
type ClusterJob = codeframe.ClusterJob
type ClusterJobStatus = codeframe.ClusterJobStatus
type ClusterPayload = codeframe.ClusterPayload
type ClusterLabel = codeframe.ClusterLabel
type LabeledCode = codeframe.LabeledCode
type ClusterPoint = codeframe.ClusterPoint
type ClusterRequest = codeframe.ClusterRequest
type ClusterAssignment = codeframe.ClusterAssignment
type LabelRequest = codeframe.LabelRequest

const (
	GenerationPending    = codeframe.GenerationPending
	GenerationProcessing = codeframe.GenerationProcessing
	GenerationCompleted  = codeframe.GenerationCompleted
	GenerationFailed     = codeframe.GenerationFailed

	NodeTheme = codeframe.NodeTheme
	NodeCode  = codeframe.NodeCode

	JobQueued    = codeframe.JobQueued
	JobActive    = codeframe.JobActive
	JobRetrying  = codeframe.JobRetrying
	JobCompleted = codeframe.JobCompleted
	JobFailed    = codeframe.JobFailed

	CodeStatusConfirmed = codeframe.CodeStatusConfirmed
	DefaultMaxAttempts  = codeframe.DefaultMaxAttempts
)

// AllModels lists every persisted model, in migration order.
func AllModels() []any {
	return []any{
		&Answer{},
		&EmbeddingCacheEntry{},
		&Generation{},
		&HierarchyNode{},
		&ClusterJob{},
	}
}
