package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/domain/codeframe"
)

func SeedAnswers(tb testing.TB, tx *gorm.DB, categoryID uuid.UUID, n int) []*types.Answer {
	tb.Helper()
	out := make([]*types.Answer, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &types.Answer{
			ID:         uuid.New(),
			CategoryID: categoryID,
			Text:       fmt.Sprintf("answer number %d", i),
		})
	}
	if n == 0 {
		return out
	}
	if err := tx.CreateInBatches(out, 200).Error; err != nil {
		tb.Fatalf("seed answers: %v", err)
	}
	return out
}

func SeedGeneration(tb testing.TB, tx *gorm.DB, categoryID uuid.UUID, status types.GenerationStatus) *types.Generation {
	tb.Helper()
	g := &types.Generation{
		ID:          uuid.New(),
		CategoryID:  categoryID,
		Status:      status,
		CurrentStep: codeframe.StepQueued,
	}
	if err := tx.Create(g).Error; err != nil {
		tb.Fatalf("seed generation: %v", err)
	}
	return g
}

// SeedNode inserts one node; parent may be nil for a theme.
func SeedNode(tb testing.TB, tx *gorm.DB, generationID uuid.UUID, parent *types.HierarchyNode, name string, count int) *types.HierarchyNode {
	tb.Helper()
	n := &types.HierarchyNode{
		ID:             uuid.New(),
		GenerationID:   generationID,
		CodeName:       name,
		AnswerCount:    count,
		Confidence:     0.9,
		ConfidenceTier: codeframe.ConfidenceTierFor(0.9),
		NodeType:       types.NodeTheme,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if parent != nil {
		pid := parent.ID
		n.ParentID = &pid
		n.Level = parent.Level + 1
		n.NodeType = types.NodeCode
	}
	n.SetExamples(nil)
	n.SetAnswerIDs(nil)
	if err := tx.Create(n).Error; err != nil {
		tb.Fatalf("seed node: %v", err)
	}
	return n
}
