package services

import (
	_ "embed"
	"fmt"
	"math"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed pricing.yaml
var defaultPricingYAML []byte

type ModelPricing struct {
	InputPer1K  float64 `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" json:"output_per_1k"`
	OutputShare float64 `yaml:"output_share" json:"output_share"`
}

type PricingCatalog struct {
	Default ModelPricing            `yaml:"default"`
	Models  map[string]ModelPricing `yaml:"models"`
}

// LoadPricingCatalog parses a catalog; nil or empty input yields the
// built-in one.
func LoadPricingCatalog(raw []byte) (*PricingCatalog, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = defaultPricingYAML
	}
	var c PricingCatalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("pricing catalog: %w", err)
	}
	check := func(name string, p ModelPricing) error {
		if p.InputPer1K < 0 || p.OutputPer1K < 0 || p.OutputShare < 0 || p.OutputShare > 1 {
			return fmt.Errorf("pricing catalog: invalid entry %q", name)
		}
		return nil
	}
	if err := check("default", c.Default); err != nil {
		return nil, err
	}
	for name, p := range c.Models {
		if err := check(name, p); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (c *PricingCatalog) Lookup(model string) ModelPricing {
	if c == nil {
		return ModelPricing{}
	}
	if p, ok := c.Models[strings.TrimSpace(model)]; ok {
		return p
	}
	return c.Default
}

type CostEstimate struct {
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	NClusters        int     `json:"n_clusters"`
}

// EstimateCost assumes every cluster spends its whole token budget.
func EstimateCost(nClusters, perClusterTokenBudget int, pricing ModelPricing) CostEstimate {
	if nClusters < 0 {
		nClusters = 0
	}
	if perClusterTokenBudget < 0 {
		perClusterTokenBudget = 0
	}
	tokens := float64(nClusters) * float64(perClusterTokenBudget)
	return CostEstimate{
		EstimatedCostUSD: roundUSD(blendedCost(tokens, pricing)),
		NClusters:        nClusters,
	}
}

// CostOfTokens prices observed usage with the same input/output split as
// the estimate.
func CostOfTokens(tokens int64, pricing ModelPricing) float64 {
	if tokens <= 0 {
		return 0
	}
	return roundUSD(blendedCost(float64(tokens), pricing))
}

func blendedCost(tokens float64, p ModelPricing) float64 {
	out := tokens * p.OutputShare
	in := tokens - out
	return in/1000*p.InputPer1K + out/1000*p.OutputPer1K
}

// CheckCostOverrun reports ok=false with a warning when observed spend
// exceeds the estimate by more than tolerance (0.5 = 50%).
func CheckCostOverrun(estimatedUSD, observedUSD, tolerance float64) (string, bool) {
	if estimatedUSD <= 0 || observedUSD <= estimatedUSD*(1+tolerance) {
		return "", true
	}
	return fmt.Sprintf("observed cost $%.4f exceeded estimate $%.4f by more than %.0f%%",
		observedUSD, estimatedUSD, tolerance*100), false
}

// EstimateDuration is a rough wall-clock estimate in whole seconds.
func EstimateDuration(nClusters, workers int, perCall time.Duration) int {
	if nClusters <= 0 {
		return 0
	}
	if workers < 1 {
		workers = 1
	}
	rounds := (nClusters + workers - 1) / workers
	return int(math.Ceil((time.Duration(rounds) * perCall).Seconds()))
}

func roundUSD(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
