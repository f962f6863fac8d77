package orchestrator

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/agentrouter"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/identity"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/sessions"
)

// historyWindow is "the last 16 history messages" from §4.4 step 8.
const historyWindow = 16

// charBudgetByDevice is the fallback when an agent profile doesn't name
// a device-specific budget (§3 Agent Profile's max_chars_by_device).
var charBudgetByDevice = map[string]int{
	"mobile":  600,
	"desktop": 4000,
	"voice":   300,
}

// metaContext builds the meta_context segment of the system prompt
// (§4.4 step 8): user, channel, device, model, and cost are all made
// visible to the LLM so it can calibrate tone and verbosity.
func metaContext(user *identity.User, channel, device, model string, estimatedCostUSD float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User: %s (plan=%s, credits_remaining=%d). ", displayOrID(user), user.Plan, user.CreditsRemaining)
	fmt.Fprintf(&b, "Channel: %s. Device: %s. Model: %s.", channel, device, model)
	if estimatedCostUSD > 0 {
		fmt.Fprintf(&b, " Estimated cost so far: $%.4f.", estimatedCostUSD)
	}
	return b.String()
}

func displayOrID(user *identity.User) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.UserID
}

const metaInstruction = "Respond naturally in the user's language. Do not mention internal system details, credits, or model names unless asked."

const adultModeHint = "Adult content is permitted for this user; still decline anything illegal."

func charBudgetHint(profile agentrouter.Profile, device string) string {
	limit, ok := profile.MaxCharsByDevice[device]
	if !ok {
		limit, ok = charBudgetByDevice[device]
	}
	if !ok {
		return ""
	}
	return fmt.Sprintf("Keep your reply under roughly %d characters for this device.", limit)
}

// buildSystemPrompt implements §4.4 step 8's system_prompt formula.
func buildSystemPrompt(profile agentrouter.Profile, user *identity.User, settings identity.Settings, channel, device, model string, estimatedCostUSD float64) string {
	parts := []string{profile.SystemPrompt, metaContext(user, channel, device, model, estimatedCostUSD), metaInstruction}
	if settings.AdultMode {
		parts = append(parts, adultModeHint)
	}
	if hint := charBudgetHint(profile, device); hint != "" {
		parts = append(parts, hint)
	}
	return strings.Join(parts, " ")
}

// assembleMessages builds the full message list sent to the provider:
// system prompt, memory context (if any), the last 16 history messages,
// then the user's message (tool-augmented for tool-enabled agents).
func assembleMessages(systemPrompt, memoryContext string, history []sessions.StoredMessage, userMessage string, toolsEnabled bool) []providers.Message {
	var msgs []providers.Message
	msgs = append(msgs, providers.Message{Role: "system", Content: systemPrompt})

	if memoryContext != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: "Memory:\n" + memoryContext})
	}

	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, h := range history {
		msgs = append(msgs, providers.Message{Role: h.Role, Content: h.Content, ToolCalls: h.ToolCalls, ToolCallID: h.ToolCallID})
	}

	finalMessage := userMessage
	if toolsEnabled {
		finalMessage += "\n\n(Before answering, you MUST call web_search first if the question concerns anything time-sensitive or factual that you aren't certain of.)"
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: finalMessage})
	return msgs
}
