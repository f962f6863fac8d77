package agentrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoute_ExplicitSelection(t *testing.T) {
	profile, cleaned, score := Route("@coder fix this function")
	assert.Equal(t, Coder.ID, profile.ID)
	assert.Equal(t, "fix this function", cleaned)
	assert.Equal(t, 100, score)
}

func TestRoute_ExplicitSelection_NoRemainder(t *testing.T) {
	profile, cleaned, score := Route("@researcher")
	assert.Equal(t, Researcher.ID, profile.ID)
	assert.Equal(t, "", cleaned)
	assert.Equal(t, 100, score)
}

func TestRoute_ExplicitSelection_UnknownID(t *testing.T) {
	// @ prefix with an unrecognized id falls through to keyword scoring.
	profile, cleaned, _ := Route("@nonexistent analyze this dataset for trends")
	assert.Equal(t, Analyst.ID, profile.ID)
	assert.Equal(t, "@nonexistent analyze this dataset for trends", cleaned)
}

func TestRoute_KeywordScoring(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantID  string
	}{
		{"researcher", "Can you research the latest news on this topic and cite sources?", Researcher.ID},
		{"coder", "I have a bug in my function, can you help debug and refactor it?", Coder.ID},
		{"analyst", "Analyze this dataset and give me the statistics and trend forecast", Analyst.ID},
		{"creative", "Write a short story with an interesting plot and character", Creative.ID},
		{"assistant fallback", "hello there", Assistant.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile, cleaned, _ := Route(tt.message)
			assert.Equal(t, tt.wantID, profile.ID)
			assert.Equal(t, tt.message, cleaned)
		})
	}
}

func TestRoute_ScoreBelowThresholdFallsBackToAssistant(t *testing.T) {
	// "script" alone only scores 1 (coder weight), below the threshold of 2.
	profile, _, score := Route("can you write a script for me")
	assert.Equal(t, Assistant.ID, profile.ID)
	assert.Equal(t, 0, score)
}

func TestSafeLowerPrefix_RuneBoundary(t *testing.T) {
	// A multi-byte rune sitting right at the scan boundary must not be split.
	s := "a" + string([]byte{0xE2, 0x98, 0x83}) // "a☃"
	got := safeLowerPrefix(s, 2)
	assert.True(t, len(got) <= 2)
}

func TestSafeLowerPrefix_ShortString(t *testing.T) {
	assert.Equal(t, "hello", safeLowerPrefix("HELLO", 256))
}
