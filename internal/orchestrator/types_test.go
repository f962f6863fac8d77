package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/identity"
)

func TestIterationCap_ByPlan(t *testing.T) {
	assert.Equal(t, 1, iterationCap(identity.PlanFree))
	assert.Equal(t, 3, iterationCap(identity.PlanStarter))
	assert.Equal(t, 5, iterationCap(identity.PlanPro))
	assert.Equal(t, 5, iterationCap(identity.PlanEnterprise))
}

func TestConcurrencyLimit_ByPlan(t *testing.T) {
	assert.Equal(t, 10, concurrencyLimit(identity.PlanFree))
	assert.Equal(t, 1000, concurrencyLimit(identity.PlanStarter))
	assert.Equal(t, 1000, concurrencyLimit(identity.PlanPro))
}

func TestNew_DefaultsLogger(t *testing.T) {
	o := New(Deps{})
	assert.NotNil(t, o.deps.Logger)
	assert.NotNil(t, o.guard)
}
