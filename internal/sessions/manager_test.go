package sessions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
)

func TestManager_AddMessageAndGetHistory(t *testing.T) {
	m := NewManager("")
	m.AddMessage("user:1", providers.Message{Role: "user", Content: "hi"}, "webchat")
	m.AddMessage("user:1", providers.Message{Role: "assistant", Content: "hello"}, "webchat")

	history := m.GetHistory("user:1", 0)
	require.Len(t, history, 2)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, "webchat", history[0].Channel)
}

func TestManager_GetHistory_WindowTruncation(t *testing.T) {
	m := NewManager("")
	for i := 0; i < 5; i++ {
		m.AddMessage("user:1", providers.Message{Role: "user", Content: "msg"}, "webchat")
	}
	history := m.GetHistory("user:1", 2)
	assert.Len(t, history, 2)
}

func TestManager_GetHistory_UnknownKeyReturnsNil(t *testing.T) {
	m := NewManager("")
	assert.Nil(t, m.GetHistory("nonexistent", 0))
}

func TestManager_GetHistory_ReturnsCopyNotAlias(t *testing.T) {
	m := NewManager("")
	m.AddMessage("user:1", providers.Message{Role: "user", Content: "hi"}, "webchat")
	history := m.GetHistory("user:1", 0)
	history[0].Content = "mutated"
	assert.Equal(t, "hi", m.GetHistory("user:1", 0)[0].Content)
}

func TestManager_Replace(t *testing.T) {
	m := NewManager("")
	m.AddMessage("user:1", providers.Message{Role: "user", Content: "old"}, "webchat")
	m.Replace("user:1", []StoredMessage{{Message: providers.Message{Role: "user", Content: "new"}}}, m.sessions["user:1"].Updated)
	history := m.GetHistory("user:1", 0)
	require.Len(t, history, 1)
	assert.Equal(t, "new", history[0].Content)
}

func TestManager_Reset(t *testing.T) {
	m := NewManager("")
	m.AddMessage("user:1", providers.Message{Role: "user", Content: "hi"}, "webchat")
	m.Reset("user:1")
	assert.Empty(t, m.GetHistory("user:1", 0))
}

func TestManager_List(t *testing.T) {
	m := NewManager("")
	m.AddMessage("user:1", providers.Message{Role: "user", Content: "hi"}, "webchat")
	m.AddMessage("user:2", providers.Message{Role: "user", Content: "hi"}, "tg")
	list := m.List()
	assert.Len(t, list, 2)
}

func TestManager_SaveAndReload(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	m.AddMessage("user:1", providers.Message{Role: "user", Content: "persisted"}, "webchat")
	require.NoError(t, m.Save("user:1"))

	reloaded := NewManager(dir)
	history := reloaded.GetHistory("user:1", 0)
	require.Len(t, history, 1)
	assert.Equal(t, "persisted", history[0].Content)
}

func TestManager_Delete_RemovesOnDiskMirror(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	m.AddMessage("user:1", providers.Message{Role: "user", Content: "hi"}, "webchat")
	require.NoError(t, m.Save("user:1"))

	require.NoError(t, m.Delete("user:1"))
	assert.Nil(t, m.GetHistory("user:1", 0))

	_, err := os.Stat(filepath.Join(dir, "user_1.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "webchat_abc", sanitizeFilename("webchat:abc"))
}
