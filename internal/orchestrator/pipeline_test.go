package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
)

func TestEstimateTokens(t *testing.T) {
	messages := []providers.Message{
		{Content: "123456789"}, // 9 chars / 3 = 3
		{Content: "abc"},       // 3 chars / 3 = 1
	}
	assert.Equal(t, 4, estimateTokens(messages))
}

func TestEstimateTokens_Empty(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(nil))
}
