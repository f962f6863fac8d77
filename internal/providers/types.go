// Package providers implements the LLM provider layer: per-family adapters,
// the load-balanced dispatcher with circuit breakers, and the static pricing
// table the credit ledger reads from.
package providers

import "context"

// Message represents one turn of a conversation passed to a provider.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	Images     []Image    `json:"images,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Image is a base64-encoded image attached to a user message.
type Image struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// ToolCall is a tool invocation requested by the LLM.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes one tool available to the LLM.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the JSON-schema-shaped description of a tool.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// CompletionResponse is the result of a chat/chat_with_extra/chat_stream call.
type CompletionResponse struct {
	Content      string     `json:"content,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"` // "stop", "tool_calls", "length"
	Usage        Usage      `json:"usage"`
}

// ChatExtra carries sampling knobs beyond temperature/max_tokens, per the
// chat_with_extra contract (§4.1). Nil fields mean "let the provider default".
type ChatExtra struct {
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
}

// Provider is the capability set every adapter exposes (§4.1): chat,
// chat_with_extra, chat_stream, default_model.
type Provider interface {
	// Chat sends messages and blocks for the full response.
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64) (*CompletionResponse, error)

	// ChatWithExtra is Chat plus sampling knobs beyond temperature/max_tokens.
	ChatWithExtra(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64, extra ChatExtra) (*CompletionResponse, error)

	// ChatStream pushes content deltas to onDelta as they arrive and returns
	// the accumulated final response.
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64, extra ChatExtra, onDelta func(string)) (*CompletionResponse, error)

	// DefaultModel returns this adapter's default model name.
	DefaultModel() string

	// Name identifies the adapter ("openai", "anthropic", "gemini", ...).
	Name() string
}

// ProviderDefaults is embedded by adapters that don't natively support
// chat_with_extra / chat_stream, to get the §4.1-mandated default
// behavior for free. Self must be set to the embedding adapter so the
// defaults dispatch back through its Chat/ChatWithExtra method.
type ProviderDefaults struct {
	Self Provider
}

func (d ProviderDefaults) ChatWithExtra(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64, extra ChatExtra) (*CompletionResponse, error) {
	return chatWithExtraFallback(ctx, d.Self, messages, tools, model, maxTokens, temperature)
}

func (d ProviderDefaults) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64, extra ChatExtra, onDelta func(string)) (*CompletionResponse, error) {
	return chatStreamFallback(ctx, d.Self, messages, tools, model, maxTokens, temperature, extra, onDelta)
}

// chatWithExtraFallback implements the "ignore extra, delegate to Chat"
// default described in §4.1 for adapters that don't accept extra sampling
// params. Adapters call this from their own ChatWithExtra method.
func chatWithExtraFallback(ctx context.Context, p Provider, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64) (*CompletionResponse, error) {
	return p.Chat(ctx, messages, tools, model, maxTokens, temperature)
}

// chatStreamFallback implements the "delegate to chat_with_extra, push the
// full content as one delta" default described in §4.1 for adapters that
// don't natively stream.
func chatStreamFallback(ctx context.Context, p Provider, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64, extra ChatExtra, onDelta func(string)) (*CompletionResponse, error) {
	resp, err := p.ChatWithExtra(ctx, messages, tools, model, maxTokens, temperature, extra)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" && onDelta != nil {
		onDelta(resp.Content)
	}
	return resp, nil
}
