package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/domain/codeframe"
)

type hierarchyStats struct {
	nThemes  int
	nCodes   int
	mece     float64
	warnings []string
}

type codeAcc struct {
	node      *types.HierarchyNode
	answerIDs []uuid.UUID
	examples  []string
	weighted  float64
	weight    int
}

type themeAcc struct {
	codeAcc
	codes  []*codeAcc
	byName map[string]*codeAcc
}

// buildHierarchy turns labeled clusters into theme nodes at level 0 with
// their codes at level 1. Themes that share a name across clusters are
// merged, as are same-named codes within a theme.
func buildHierarchy(generationID uuid.UUID, labels []types.ClusterLabel, nAnswers int) ([]*types.HierarchyNode, hierarchyStats) {
	sort.SliceStable(labels, func(i, j int) bool { return labels[i].ClusterID < labels[j].ClusterID })
	now := time.Now()

	var (
		themes  []*themeAcc
		byName  = map[string]*themeAcc{}
		merged  int
		stats   hierarchyStats
		claimed = map[uuid.UUID]int{}
	)
	for _, l := range labels {
		name := strings.TrimSpace(l.ThemeName)
		if name == "" {
			name = fmt.Sprintf("Cluster %d", l.ClusterID)
		}
		key := strings.ToLower(name)
		t := byName[key]
		if t == nil {
			id := uuid.New()
			t = &themeAcc{
				codeAcc: codeAcc{node: &types.HierarchyNode{
					ID:           id,
					GenerationID: generationID,
					Level:        0,
					Position:     len(themes),
					CodeName:     name,
					Description:  strings.TrimSpace(l.ThemeDescription),
					NodeType:     types.NodeTheme,
					CreatedAt:    now,
					UpdatedAt:    now,
				}},
				byName: map[string]*codeAcc{},
			}
			themes = append(themes, t)
			byName[key] = t
		} else {
			merged++
			if t.node.Description == "" {
				t.node.Description = strings.TrimSpace(l.ThemeDescription)
			}
		}

		for _, c := range l.Codes {
			cname := strings.TrimSpace(c.Name)
			if cname == "" {
				continue
			}
			ckey := strings.ToLower(cname)
			acc := t.byName[ckey]
			if acc == nil {
				parent := t.node.ID
				acc = &codeAcc{node: &types.HierarchyNode{
					ID:           uuid.New(),
					GenerationID: generationID,
					ParentID:     &parent,
					Level:        1,
					Position:     len(t.codes),
					CodeName:     cname,
					Description:  strings.TrimSpace(c.Description),
					NodeType:     types.NodeCode,
					CreatedAt:    now,
					UpdatedAt:    now,
				}}
				t.codes = append(t.codes, acc)
				t.byName[ckey] = acc
			}
			ids := dedupeIDs(c.AnswerIDs)
			acc.answerIDs = append(acc.answerIDs, ids...)
			acc.examples = append(acc.examples, c.Examples...)
			acc.weighted += c.Confidence * float64(len(ids))
			acc.weight += len(ids)

			t.answerIDs = append(t.answerIDs, ids...)
			t.examples = append(t.examples, c.Examples...)
		}
		// theme confidence is weighted by the cluster's answers
		n := 0
		for _, c := range l.Codes {
			n += len(c.AnswerIDs)
		}
		if n == 0 {
			n = 1
		}
		t.weighted += l.Confidence * float64(n)
		t.weight += n
	}

	var nodes []*types.HierarchyNode
	for _, t := range themes {
		t.seal()
		nodes = append(nodes, t.node)
		for _, c := range t.codes {
			c.seal()
			nodes = append(nodes, c.node)
			for _, id := range c.node.AnswerIDList() {
				claimed[id]++
			}
		}
		stats.nCodes += len(t.codes)
	}
	stats.nThemes = len(themes)
	stats.mece = meceScore(claimed, nAnswers)
	if merged > 0 {
		stats.warnings = append(stats.warnings, fmt.Sprintf("%d clusters shared a theme name with an earlier cluster and were merged", merged))
	}
	if nAnswers > 0 && len(claimed) < nAnswers {
		stats.warnings = append(stats.warnings, fmt.Sprintf("%d of %d answers are not covered by any code", nAnswers-len(claimed), nAnswers))
	}
	return nodes, stats
}

func (c *codeAcc) seal() {
	ids := dedupeIDs(c.answerIDs)
	c.node.SetAnswerIDs(ids)
	c.node.AnswerCount = len(ids)
	c.node.SetExamples(c.examples)
	if c.weight > 0 {
		c.node.Confidence = clamp01(c.weighted / float64(c.weight))
	}
	c.node.ConfidenceTier = codeframe.ConfidenceTierFor(c.node.Confidence)
}

// meceScore averages exclusivity (answers claimed by exactly one code) and
// exhaustiveness (answers claimed by any code). claimed counts codes per
// answer.
func meceScore(claimed map[uuid.UUID]int, nAnswers int) float64 {
	if len(claimed) == 0 || nAnswers <= 0 {
		return 0
	}
	single := 0
	for _, n := range claimed {
		if n == 1 {
			single++
		}
	}
	exclusivity := float64(single) / float64(len(claimed))
	exhaustiveness := float64(len(claimed)) / float64(nAnswers)
	if exhaustiveness > 1 {
		exhaustiveness = 1
	}
	return round3((exclusivity + exhaustiveness) / 2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
