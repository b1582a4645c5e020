package cost

import (
	"math"
	"sort"
	"strings"

	"annotator/config"
)

// CharsPerToken is the rough ratio used for estimates.
const CharsPerToken = 4

// Breakdown is the priced cost of one or more calls, in USD.
type Breakdown struct {
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
}

type Comparison struct {
	Estimates     []Breakdown `json:"estimates"` // cheapest first
	Cheapest      string      `json:"cheapest"`
	MostExpensive string      `json:"most_expensive"`
	Min           float64     `json:"min"`
	Max           float64     `json:"max"`
}

// Calculator prices token usage from a per-1K-token table.
type Calculator struct {
	prices       map[string]config.ModelPrice
	defaultModel string
}

func NewCalculator(cfg config.PricingConfig) *Calculator {
	prices := make(map[string]config.ModelPrice, len(cfg.Models))
	for name, p := range cfg.Models {
		prices[strings.ToLower(name)] = p
	}
	return &Calculator{prices: prices, defaultModel: strings.ToLower(cfg.DefaultModel)}
}

// Resolve maps a model name to a priced table entry: exact match, then the
// longest table name the model starts with (dated snapshots), then the
// default model.
func (c *Calculator) Resolve(model string) (string, config.ModelPrice) {
	m := strings.ToLower(model)
	if p, ok := c.prices[m]; ok {
		return m, p
	}
	best := ""
	for name := range c.prices {
		if strings.HasPrefix(m, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return best, c.prices[best]
	}
	return c.defaultModel, c.prices[c.defaultModel]
}

// Calculate prices a call. The total is rounded to six decimals.
func (c *Calculator) Calculate(model string, inputTokens, outputTokens int) Breakdown {
	name, p := c.Resolve(model)
	in := float64(inputTokens) / 1000 * p.Input
	out := float64(outputTokens) / 1000 * p.Output
	return Breakdown{
		Model:        name,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		InputCost:    in,
		OutputCost:   out,
		TotalCost:    round6(in + out),
	}
}

// Estimate guesses the cost of annotating textLen characters. Output is
// assumed to be a fifth of input, scaled by complexity.
func (c *Calculator) Estimate(model string, textLen int, complexity float64) Breakdown {
	if complexity <= 0 {
		complexity = 1
	}
	in := textLen / CharsPerToken
	out := int(float64(in) * 0.2 * complexity)
	return c.Calculate(model, in, out)
}

// Compare estimates every priced model, cheapest first.
func (c *Calculator) Compare(textLen int, complexity float64) Comparison {
	names := make([]string, 0, len(c.prices))
	for name := range c.prices {
		names = append(names, name)
	}
	sort.Strings(names)

	var cmp Comparison
	for _, name := range names {
		cmp.Estimates = append(cmp.Estimates, c.Estimate(name, textLen, complexity))
	}
	sort.SliceStable(cmp.Estimates, func(i, j int) bool {
		return cmp.Estimates[i].TotalCost < cmp.Estimates[j].TotalCost
	})

	if n := len(cmp.Estimates); n > 0 {
		cmp.Cheapest = cmp.Estimates[0].Model
		cmp.MostExpensive = cmp.Estimates[n-1].Model
		cmp.Min = cmp.Estimates[0].TotalCost
		cmp.Max = cmp.Estimates[n-1].TotalCost
	}
	return cmp
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
