package sessions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelKey_Channel(t *testing.T) {
	assert.Equal(t, "webchat", ChannelKey("webchat:abc123").Channel())
	assert.Equal(t, "tg", ChannelKey("tg:4567").Channel())
	assert.Equal(t, "", ChannelKey("no-colon-here").Channel())
	assert.Equal(t, "", ChannelKey(":leading-colon").Channel())
}

func TestResolveSessionKey_Linked(t *testing.T) {
	resolve := func(k ChannelKey) (string, bool) { return "user:123", true }
	got := ResolveSessionKey("tg:999", resolve)
	assert.Equal(t, "user:123", got)
}

func TestResolveSessionKey_Unlinked(t *testing.T) {
	resolve := func(k ChannelKey) (string, bool) { return "", false }
	got := ResolveSessionKey("tg:999", resolve)
	assert.Equal(t, "tg:999", got)
}
