package credit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/identity"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers/pricing"
)

func TestCalculateCredits_UnknownModelIsZero(t *testing.T) {
	assert.Equal(t, int64(0), CalculateCredits("not-a-real-model", 1000, 1000))
}

func TestCalculateCredits_RoundsUpToAtLeastOne(t *testing.T) {
	// A tiny token count on a known model should still deduct a minimum
	// of 1 credit rather than rounding down to 0.
	got := CalculateCredits("gpt-4o-mini", 1, 1)
	assert.Equal(t, int64(1), got)
}

func TestCalculateCredits_ScalesWithUsage(t *testing.T) {
	small := CalculateCredits("gpt-4o", 1000, 1000)
	large := CalculateCredits("gpt-4o", 100_000, 100_000)
	assert.Greater(t, large, small)
}

func TestAllowedModels_FreePlanExcludesExpensiveModels(t *testing.T) {
	models := AllowedModels(identity.PlanFree)
	assert.NotEmpty(t, models)
	assert.Contains(t, models, "gpt-4o-mini")
	assert.NotContains(t, models, "claude-opus-4-1")
}

func TestAllowedModels_EnterprisePlanIncludesEverything(t *testing.T) {
	free := AllowedModels(identity.PlanFree)
	enterprise := AllowedModels(identity.PlanEnterprise)
	assert.Greater(t, len(enterprise), len(free))
	assert.Contains(t, enterprise, "claude-opus-4-1")
}

func TestAllowedModels_SortedCheapestFirst(t *testing.T) {
	models := AllowedModels(identity.PlanEnterprise)
	prev, ok := pricing.Lookup(models[0])
	for _, m := range models[1:] {
		e, found := pricing.Lookup(m)
		if !ok || !found {
			continue
		}
		assert.LessOrEqual(t, prev.InputPerMillion, e.InputPerMillion)
		prev = e
	}
}

func TestAllowedModels_UnknownPlanFallsBackToFreeCeiling(t *testing.T) {
	unknown := AllowedModels(identity.Plan("bogus"))
	free := AllowedModels(identity.PlanFree)
	assert.Equal(t, free, unknown)
}
