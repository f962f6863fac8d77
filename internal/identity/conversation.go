package identity

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// pkConversation key-space: USER#<user_id> / CONV#<conv_id> (§6.3).
const pkConvPrefix = "CONV#"

const defaultConversationTitle = "New conversation"

// Conversation is the per-user conversation metadata sibling persisted
// alongside PROFILE/SETTINGS, updated fire-and-forget after every chat
// turn (§4.4 step 13).
type Conversation struct {
	ConvID       string    `json:"conv_id"`
	Title        string    `json:"title"`
	Preview      string    `json:"preview"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TouchConversation updates a conversation's preview and message count
// unconditionally, and sets its title from the first user message only
// while the title is still the placeholder — §9 Design Notes documents
// this asymmetry as the teacher's own behavior: "title == 'New
// conversation'" guards the title write, but the preview is
// unconditionally overwritten.
func (r *Resolver) TouchConversation(ctx context.Context, userID, convID, lastUserMessage string) error {
	sk := pkConvPrefix + convID
	return r.kv.Mutate(ctx, pkUser+userID, sk, 0, func(current json.RawMessage, found bool) (any, bool, error) {
		conv := Conversation{ConvID: convID, Title: defaultConversationTitle}
		if found {
			if err := json.Unmarshal(current, &conv); err != nil {
				return nil, false, err
			}
		}
		if conv.Title == "" || conv.Title == defaultConversationTitle {
			conv.Title = titleFromMessage(lastUserMessage)
		}
		conv.Preview = previewFromMessage(lastUserMessage)
		conv.MessageCount++
		conv.UpdatedAt = r.now()
		return conv, true, nil
	})
}

// GetConversation reads one conversation's metadata.
func (r *Resolver) GetConversation(ctx context.Context, userID, convID string) (Conversation, bool) {
	item, err := r.kv.Get(ctx, pkUser+userID, pkConvPrefix+convID)
	if err != nil {
		return Conversation{}, false
	}
	var conv Conversation
	if json.Unmarshal(item.Data, &conv) != nil {
		return Conversation{}, false
	}
	return conv, true
}

const (
	titleMaxChars   = 60
	previewMaxChars = 120
)

func titleFromMessage(msg string) string {
	t := strings.TrimSpace(msg)
	if t == "" {
		return defaultConversationTitle
	}
	return truncateRunes(t, titleMaxChars)
}

func previewFromMessage(msg string) string {
	return truncateRunes(strings.TrimSpace(msg), previewMaxChars)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
