package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/identity"
)

func TestParseSlashCommand_Recognized(t *testing.T) {
	tests := []struct {
		message  string
		wantName string
		wantArg  string
	}{
		{"/help", "help", ""},
		{"/link webchat:abc", "link", "webchat:abc"},
		{"/status", "status", ""},
		{"/share", "share", ""},
		{"/improve  please add dark mode", "improve", "please add dark mode"},
	}
	for _, tt := range tests {
		cmd, ok := parseSlashCommand(tt.message)
		assert.True(t, ok, tt.message)
		assert.Equal(t, tt.wantName, cmd.name)
		assert.Equal(t, tt.wantArg, cmd.arg)
	}
}

func TestParseSlashCommand_NotACommand(t *testing.T) {
	_, ok := parseSlashCommand("hello, how are you?")
	assert.False(t, ok)
}

func TestParseSlashCommand_UnknownSlashWord(t *testing.T) {
	_, ok := parseSlashCommand("/nonexistent arg")
	assert.False(t, ok)
}

func TestParseSlashCommand_WhitespaceTrimmed(t *testing.T) {
	cmd, ok := parseSlashCommand("   /help   ")
	assert.True(t, ok)
	assert.Equal(t, "help", cmd.name)
}

func TestUpgradeMessage_VariesByPlan(t *testing.T) {
	free := upgradeMessage(identity.PlanFree)
	starter := upgradeMessage(identity.PlanStarter)
	pro := upgradeMessage(identity.PlanPro)

	assert.Contains(t, free, "Starter")
	assert.Contains(t, starter, "Pro")
	assert.NotEqual(t, free, starter)
	assert.NotEqual(t, starter, pro)
}
