package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup_ExactMatchIsCaseInsensitive(t *testing.T) {
	e, ok := Lookup("Claude-Sonnet-4-6")
	assert.True(t, ok)
	assert.Equal(t, "anthropic", e.Family)
}

func TestLookup_PrefixedModelIDResolvesBySubstring(t *testing.T) {
	e, ok := Lookup("anthropic/claude-sonnet-4-6")
	assert.True(t, ok)
	assert.Equal(t, "claude-sonnet-4-6", e.Model)
}

func TestLookup_UnknownModel(t *testing.T) {
	_, ok := Lookup("totally-unknown-model-xyz")
	assert.False(t, ok)
}

func TestCost_KnownModel(t *testing.T) {
	// gpt-4o-mini: 0.15 in / 0.60 out per million.
	cost := Cost("gpt-4o-mini", 1_000_000, 1_000_000)
	assert.InDelta(t, 0.75, cost, 1e-9)
}

func TestCost_UnknownModelIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Cost("not-a-real-model", 1000, 1000))
}

func TestCost_ZeroTokens(t *testing.T) {
	assert.Equal(t, 0.0, Cost("gpt-4o", 0, 0))
}
