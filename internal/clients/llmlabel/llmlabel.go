// Package llmlabel builds the cluster labeling prompt shared by the LLM
// backed labelers and parses their JSON reply into a ClusterLabel.
package llmlabel

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	types "github.com/yungbote/codeframe-backend/internal/domain"
)

const maxAnswerChars = 400

const systemPrompt = `You label clusters of free-text survey answers for market research coding.
Return ONLY a JSON object:
{"theme_name": string, "theme_description": string, "confidence": number 0..1,
 "codes": [{"name": string, "description": string, "confidence": number 0..1,
            "answer_indexes": [int], "examples": [string]}]}
Codes must be mutually exclusive, short (at most 6 words) and written in the requested language.
Every answer index should belong to exactly one code.`

// BuildPrompt returns the system and user messages for one cluster.
func BuildPrompt(req types.LabelRequest) (string, string) {
	var b strings.Builder
	lang := req.TargetLanguage
	if lang == "" {
		lang = "en"
	}
	fmt.Fprintf(&b, "Language: %s\nCluster: %d\nAnswers:\n", lang, req.ClusterID)
	for i, t := range req.Texts {
		t = strings.TrimSpace(t)
		t = truncateRunes(t, maxAnswerChars)
		fmt.Fprintf(&b, "[%d] %s\n", i, t)
	}
	return systemPrompt, b.String()
}

// truncateRunes keeps at most n characters of s without splitting one.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

type reply struct {
	ThemeName        string  `json:"theme_name"`
	ThemeDescription string  `json:"theme_description"`
	Confidence       float64 `json:"confidence"`
	Codes            []struct {
		Name          string   `json:"name"`
		Description   string   `json:"description"`
		Confidence    float64  `json:"confidence"`
		AnswerIndexes []int    `json:"answer_indexes"`
		Examples      []string `json:"examples"`
	} `json:"codes"`
}

// Parse decodes the model's reply. Out of range indexes are dropped and an
// answer claimed by two codes stays with the first one.
func Parse(raw string, req types.LabelRequest) (*types.ClusterLabel, error) {
	body := extractObject(raw)
	if body == "" {
		return nil, fmt.Errorf("label reply: no JSON object")
	}
	var r reply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("label reply: %w", err)
	}
	if strings.TrimSpace(r.ThemeName) == "" {
		return nil, fmt.Errorf("label reply: empty theme_name")
	}

	out := &types.ClusterLabel{
		ClusterID:        req.ClusterID,
		ThemeName:        strings.TrimSpace(r.ThemeName),
		ThemeDescription: strings.TrimSpace(r.ThemeDescription),
		Confidence:       clamp01(r.Confidence),
	}
	claimed := make(map[int]bool, len(req.AnswerIDs))
	for _, c := range r.Codes {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		code := types.LabeledCode{
			Name:        name,
			Description: strings.TrimSpace(c.Description),
			Confidence:  clamp01(c.Confidence),
			AnswerIDs:   []uuid.UUID{},
		}
		for _, idx := range c.AnswerIndexes {
			if idx < 0 || idx >= len(req.AnswerIDs) || claimed[idx] {
				continue
			}
			claimed[idx] = true
			code.AnswerIDs = append(code.AnswerIDs, req.AnswerIDs[idx])
			if len(code.Examples) < 5 && idx < len(req.Texts) {
				code.Examples = append(code.Examples, req.Texts[idx])
			}
		}
		for _, ex := range c.Examples {
			if len(code.Examples) >= 5 {
				break
			}
			code.Examples = append(code.Examples, ex)
		}
		out.Codes = append(out.Codes, code)
	}
	if len(out.Codes) == 0 {
		return nil, fmt.Errorf("label reply: no codes")
	}
	return out, nil
}

func extractObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
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
