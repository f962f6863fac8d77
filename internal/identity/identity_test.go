package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeWebSessionID(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"webchat prefix, long enough", "webchat:abcdef123456", true},
		{"api prefix, long enough", "api:abcdef123456", true},
		{"cli prefix, long enough", "cli:abcdef123456", true},
		{"webchat prefix, too short", "webchat:a", false},
		{"no recognized prefix", "tg:12345", false},
		{"plain text", "hello there", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LooksLikeWebSessionID(tt.text))
		})
	}
}

func TestDefaultSettings(t *testing.T) {
	assert.Equal(t, 0.7, DefaultSettings.Temperature)
	assert.Empty(t, DefaultSettings.PreferredModel)
}
