package codeframe

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type NodeType string

const (
	NodeTheme NodeType = "theme"
	NodeCode  NodeType = "code"
)

const (
	// MaxLevel is the deepest level a node may sit at; roots are level 0.
	MaxLevel = 4
	// MaxExampleAnswers caps the sample kept on each node.
	MaxExampleAnswers = 5
)

const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
)

// ConfidenceTierFor buckets a 0..1 labeling confidence.
func ConfidenceTierFor(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return TierHigh
	case confidence >= 0.5:
		return TierMedium
	default:
		return TierLow
	}
}

// HierarchyNode is one node of a Generation's codeframe. Nodes form an arena
// keyed by ID; ParentID is a plain reference, never a loaded association.
type HierarchyNode struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID   uuid.UUID      `gorm:"type:uuid;not null;index;index:idx_hierarchy_node_siblings,priority:1" json:"generation_id"`
	ParentID       *uuid.UUID     `gorm:"type:uuid;index:idx_hierarchy_node_siblings,priority:2" json:"parent_id"`
	Level          int            `gorm:"column:level;not null" json:"level"`
	Position       int            `gorm:"column:position;not null;default:0" json:"position"`
	CodeName       string         `gorm:"column:code_name;not null;index:idx_hierarchy_node_siblings,priority:3" json:"code_name"`
	Description    string         `gorm:"column:description" json:"description"`
	ExampleAnswers datatypes.JSON `gorm:"column:example_answers" json:"example_answers"`
	AnswerIDs      datatypes.JSON `gorm:"column:answer_ids" json:"-"`
	AnswerCount    int            `gorm:"column:answer_count;not null;default:0" json:"answer_count"`
	Confidence     float64        `gorm:"column:confidence;not null;default:0" json:"confidence"`
	ConfidenceTier string         `gorm:"column:confidence_tier;not null" json:"confidence_tier"`
	NodeType       NodeType       `gorm:"column:node_type;not null" json:"node_type"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (HierarchyNode) TableName() string { return "hierarchy_node" }

func (n *HierarchyNode) IsRoot() bool { return n.ParentID == nil }

func (n *HierarchyNode) Examples() []string {
	var out []string
	if len(n.ExampleAnswers) > 0 {
		_ = json.Unmarshal(n.ExampleAnswers, &out)
	}
	return out
}

// SetExamples stores at most MaxExampleAnswers distinct, non-empty examples.
func (n *HierarchyNode) SetExamples(examples []string) {
	capped := make([]string, 0, MaxExampleAnswers)
	seen := map[string]bool{}
	for _, ex := range examples {
		if ex == "" || seen[ex] {
			continue
		}
		seen[ex] = true
		capped = append(capped, ex)
		if len(capped) == MaxExampleAnswers {
			break
		}
	}
	b, _ := json.Marshal(capped)
	n.ExampleAnswers = datatypes.JSON(b)
}

func (n *HierarchyNode) AnswerIDList() []uuid.UUID {
	var out []uuid.UUID
	if len(n.AnswerIDs) > 0 {
		_ = json.Unmarshal(n.AnswerIDs, &out)
	}
	return out
}

func (n *HierarchyNode) SetAnswerIDs(ids []uuid.UUID) {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	b, _ := json.Marshal(ids)
	n.AnswerIDs = datatypes.JSON(b)
}

// HierarchyTree is the nested rendering returned to API callers.
type HierarchyTree struct {
	*HierarchyNode
	Children []*HierarchyTree `json:"children"`
}
