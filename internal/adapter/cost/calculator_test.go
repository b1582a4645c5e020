package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"annotator/config"
)

func newTestCalculator() *Calculator {
	return NewCalculator(config.DefaultConfig().Pricing)
}

func TestCalculate(t *testing.T) {
	c := newTestCalculator()

	b := c.Calculate("gpt-4", 1500, 500)
	assert.Equal(t, "gpt-4", b.Model)
	assert.InDelta(t, 0.015, b.InputCost, 1e-12)
	assert.InDelta(t, 0.015, b.OutputCost, 1e-12)
	assert.Equal(t, 0.03, b.TotalCost)
}

func TestCalculateRoundsToSixDecimals(t *testing.T) {
	c := newTestCalculator()
	b := c.Calculate("gpt-4o-mini", 1234, 567)
	assert.Equal(t, 0.000525, b.TotalCost)
}

func TestResolve(t *testing.T) {
	c := newTestCalculator()

	name, _ := c.Resolve("GPT-4o-mini")
	assert.Equal(t, "gpt-4o-mini", name)

	name, _ = c.Resolve("gpt-4o-mini-2024-07-18")
	assert.Equal(t, "gpt-4o-mini", name)

	name, p := c.Resolve("llama-3-70b")
	assert.Equal(t, "gpt-4", name)
	assert.Equal(t, 0.01, p.Input)
}

func TestEstimate(t *testing.T) {
	c := newTestCalculator()
	b := c.Estimate("gpt-4", 4000, 1)
	assert.Equal(t, 1000, b.InputTokens)
	assert.Equal(t, 200, b.OutputTokens)

	b = c.Estimate("gpt-4", 4000, 2.5)
	assert.Equal(t, 500, b.OutputTokens)
}

func TestCompare(t *testing.T) {
	c := newTestCalculator()
	cmp := c.Compare(40000, 1)

	assert.Len(t, cmp.Estimates, 8)
	assert.Equal(t, "gpt-4o-mini", cmp.Cheapest)
	assert.Equal(t, "claude-3-opus", cmp.MostExpensive)
	for i := 1; i < len(cmp.Estimates); i++ {
		assert.LessOrEqual(t, cmp.Estimates[i-1].TotalCost, cmp.Estimates[i].TotalCost)
	}
}
