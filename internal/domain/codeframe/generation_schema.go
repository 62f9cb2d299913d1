package codeframe

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// Schema versions of the JSON records stored on a Generation row. Bump the
// constant and add an upgrade step in the matching decode function when a
// field changes meaning.
const (
	GenerationConfigVersion = 1
	GenerationResultVersion = 1
	GenerationErrorVersion  = 1
)

var validate = validator.New()

// GenerationConfig holds clustering and labeling parameters. It is written
// once when the Generation is created and never updated.
type GenerationConfig struct {
	Version               int     `json:"version" validate:"eq=1"`
	Algorithm             string  `json:"algorithm" validate:"oneof=hdbscan kmeans agglomerative"`
	TargetClusters        int     `json:"target_clusters" validate:"gte=0,lte=200"`
	MinClusterSize        int     `json:"min_cluster_size" validate:"gte=2,lte=1000"`
	EmbeddingModel        string  `json:"embedding_model" validate:"required"`
	LabelingModel         string  `json:"labeling_model" validate:"required"`
	TargetLanguage        string  `json:"target_language" validate:"required,min=2,max=8"`
	MaxDepth              int     `json:"max_depth" validate:"gte=1,lte=5"`
	PerClusterTokenBudget int     `json:"per_cluster_token_budget" validate:"gte=100,lte=200000"`
	MinEmbeddingCoverage  float64 `json:"min_embedding_coverage" validate:"gte=0,lte=1"`
	MinClusterCoverage    float64 `json:"min_cluster_coverage" validate:"gte=0,lte=1"`
	CostTolerance         float64 `json:"cost_tolerance" validate:"gte=0,lte=10"`
}

// legacyConfig is the unversioned shape written before schema versioning:
// n_clusters instead of target_clusters, language instead of
// target_language, no coverage fields.
type legacyConfig struct {
	NClusters int    `json:"n_clusters"`
	Language  string `json:"language"`
}

func (c GenerationConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("generation config: %w", err)
	}
	return nil
}

// EncodeGenerationConfig validates c and serializes it for storage.
func EncodeGenerationConfig(c GenerationConfig) (datatypes.JSON, error) {
	if c.Version == 0 {
		c.Version = GenerationConfigVersion
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// MaxLevelFor returns the deepest level tree edits may create under a stored
// config: max_depth counts levels, so it is max_depth-1, bounded by MaxLevel.
// Configs without max_depth get MaxLevel.
func MaxLevelFor(raw datatypes.JSON) int {
	var c struct {
		MaxDepth int `json:"max_depth"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &c) != nil || c.MaxDepth <= 0 {
		return MaxLevel
	}
	if c.MaxDepth-1 < MaxLevel {
		return c.MaxDepth - 1
	}
	return MaxLevel
}

// DecodeGenerationConfig parses a stored config, upgrading unversioned rows
// and validating the result. defaults fills fields older rows never had.
func DecodeGenerationConfig(raw datatypes.JSON, defaults GenerationConfig) (GenerationConfig, error) {
	if len(raw) == 0 {
		return GenerationConfig{}, fmt.Errorf("generation config: empty")
	}
	cfg := defaults
	cfg.Version = 0
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return GenerationConfig{}, fmt.Errorf("generation config: %w", err)
	}
	switch cfg.Version {
	case 0:
		var legacy legacyConfig
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return GenerationConfig{}, fmt.Errorf("generation config v0: %w", err)
		}
		if legacy.NClusters > 0 {
			cfg.TargetClusters = legacy.NClusters
		}
		if legacy.Language != "" {
			cfg.TargetLanguage = legacy.Language
		}
		cfg.Version = GenerationConfigVersion
	case GenerationConfigVersion:
	default:
		return GenerationConfig{}, fmt.Errorf("generation config: unsupported version %d", cfg.Version)
	}
	if err := cfg.Validate(); err != nil {
		return GenerationConfig{}, err
	}
	return cfg, nil
}

// GenerationResult is non-nil exactly when the Generation completed.
type GenerationResult struct {
	Version   int      `json:"version" validate:"eq=1"`
	NThemes   int      `json:"n_themes" validate:"gte=0"`
	NCodes    int      `json:"n_codes" validate:"gte=0"`
	MECEScore float64  `json:"mece_score" validate:"gte=0,lte=1"`
	Coverage  float64  `json:"coverage" validate:"gte=0,lte=1"`
	Warnings  []string `json:"warnings"`
}

func EncodeGenerationResult(r GenerationResult) (datatypes.JSON, error) {
	r.Version = GenerationResultVersion
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	if err := validate.Struct(r); err != nil {
		return nil, fmt.Errorf("generation result: %w", err)
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func DecodeGenerationResult(raw datatypes.JSON) (*GenerationResult, error) {
	if isNullJSON(raw) {
		return nil, nil
	}
	var r GenerationResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("generation result: %w", err)
	}
	if r.Version == 0 {
		r.Version = GenerationResultVersion
	}
	if err := validate.Struct(r); err != nil {
		return nil, fmt.Errorf("generation result: %w", err)
	}
	return &r, nil
}

// Failure causes recorded in GenerationError.Cause.
const (
	CauseEmbeddingCoverage   = "embedding_coverage"
	CauseClusterCoverage     = "cluster_coverage"
	CauseUpstreamUnavailable = "upstream_unavailable"
	CauseNoClusters          = "no_clusters"
	CauseInternal            = "internal"
)

// GenerationError is non-nil exactly when the Generation failed. It carries
// enough detail for a caller to decide whether re-running is worthwhile.
type GenerationError struct {
	Version          int    `json:"version" validate:"eq=1"`
	Cause            string `json:"cause" validate:"required"`
	Message          string `json:"message"`
	AffectedClusters int    `json:"affected_clusters" validate:"gte=0"`
	TotalClusters    int    `json:"total_clusters" validate:"gte=0"`
	Retryable        bool   `json:"retryable"`
}

func EncodeGenerationError(e GenerationError) (datatypes.JSON, error) {
	e.Version = GenerationErrorVersion
	if err := validate.Struct(e); err != nil {
		return nil, fmt.Errorf("generation error: %w", err)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func DecodeGenerationError(raw datatypes.JSON) (*GenerationError, error) {
	if isNullJSON(raw) {
		return nil, nil
	}
	var e GenerationError
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("generation error: %w", err)
	}
	if e.Version == 0 {
		e.Version = GenerationErrorVersion
	}
	if err := validate.Struct(e); err != nil {
		return nil, fmt.Errorf("generation error: %w", err)
	}
	return &e, nil
}

func isNullJSON(raw datatypes.JSON) bool {
	s := string(raw)
	return len(raw) == 0 || s == "null" || s == "{}"
}
