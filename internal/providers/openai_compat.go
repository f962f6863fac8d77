package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatProvider implements Provider for any OpenAI-wire-format API:
// OpenAI, Groq, OpenRouter, DeepSeek, vLLM, DashScope/Qwen, and OpenAI-shaped
// Gemini endpoints all share this adapter, distinguished only by name,
// base URL, chat path and model-resolution quirks.
type OpenAICompatProvider struct {
	ProviderDefaults

	name         string
	apiKey       string
	apiBase      string
	chatPath     string // defaults to "/chat/completions"
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

// NewOpenAICompatProvider builds an adapter against apiBase (defaults to
// the OpenAI API root when empty).
func NewOpenAICompatProvider(name, apiKey, apiBase, defaultModel string) *OpenAICompatProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	p := &OpenAICompatProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      apiBase,
		chatPath:     "/chat/completions",
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
	p.Self = p
	return p
}

// WithChatPath returns the same adapter with a custom completions path
// (e.g. MiniMax's native "/text/chatcompletion_v2").
func (p *OpenAICompatProvider) WithChatPath(path string) *OpenAICompatProvider {
	p.chatPath = path
	return p
}

func (p *OpenAICompatProvider) Name() string         { return p.name }
func (p *OpenAICompatProvider) DefaultModel() string { return p.defaultModel }

// resolveModel applies family-specific fallback: OpenRouter requires a
// "provider/model" prefixed ID, so an unprefixed request model falls back
// to this adapter's configured default rather than erroring upstream.
func (p *OpenAICompatProvider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	if p.name == "openrouter" && !strings.Contains(model, "/") {
		return p.defaultModel
	}
	return model
}

func (p *OpenAICompatProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64) (*CompletionResponse, error) {
	return p.ChatWithExtra(ctx, messages, tools, model, maxTokens, temperature, ChatExtra{})
}

func (p *OpenAICompatProvider) ChatWithExtra(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64, extra ChatExtra) (*CompletionResponse, error) {
	resolved := p.resolveModel(model)
	body := p.buildRequestBody(resolved, messages, tools, maxTokens, temperature, extra, false)

	var result *CompletionResponse
	err := RetryDo(ctx, p.retryConfig, func(ctx context.Context) error {
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			return err
		}
		defer respBody.Close()

		var oaiResp openAIResponse
		if err := json.NewDecoder(respBody).Decode(&oaiResp); err != nil {
			return fmt.Errorf("%s: decode response: %w", p.name, err)
		}
		result = p.parseResponse(&oaiResp)
		return nil
	})
	return result, err
}

func (p *OpenAICompatProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64, extra ChatExtra, onDelta func(string)) (*CompletionResponse, error) {
	resolved := p.resolveModel(model)
	body := p.buildRequestBody(resolved, messages, tools, maxTokens, temperature, extra, true)

	var respBody io.ReadCloser
	err := RetryDo(ctx, p.retryConfig, func(ctx context.Context) error {
		rc, err := p.doRequest(ctx, body)
		if err != nil {
			return err
		}
		respBody = rc
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &CompletionResponse{FinishReason: "stop"}
	accumulators := make(map[int]*toolCallAccumulator)

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			result.Content += delta.Content
			if onDelta != nil {
				onDelta(delta.Content)
			}
		}

		for _, tc := range delta.ToolCalls {
			acc, ok := accumulators[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{ToolCall: ToolCall{ID: tc.ID, Name: strings.TrimSpace(tc.Function.Name)}}
				accumulators[tc.Index] = acc
			}
			if tc.Function.Name != "" {
				acc.Name = strings.TrimSpace(tc.Function.Name)
			}
			acc.rawArgs += tc.Function.Arguments
		}

		if chunk.Choices[0].FinishReason != "" {
			result.FinishReason = chunk.Choices[0].FinishReason
		}
		if chunk.Usage != nil {
			result.Usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
			}
		}
	}

	for i := 0; i < len(accumulators); i++ {
		acc := accumulators[i]
		args := make(map[string]interface{})
		_ = json.Unmarshal([]byte(acc.rawArgs), &args)
		acc.Arguments = args
		result.ToolCalls = append(result.ToolCalls, acc.ToolCall)
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}

	return result, nil
}

func (p *OpenAICompatProvider) buildRequestBody(model string, messages []Message, tools []ToolDefinition, maxTokens int, temperature float64, extra ChatExtra, stream bool) map[string]interface{} {
	msgs := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		msg := map[string]interface{}{"role": m.Role}

		if m.Role == "user" && len(m.Images) > 0 {
			var parts []map[string]interface{}
			for _, img := range m.Images {
				parts = append(parts, map[string]interface{}{
					"type": "image_url",
					"image_url": map[string]interface{}{
						"url": fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data),
					},
				})
			}
			if m.Content != "" {
				parts = append(parts, map[string]interface{}{"type": "text", "text": m.Content})
			}
			msg["content"] = parts
		} else if m.Content != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Content
		}

		if len(m.ToolCalls) > 0 {
			toolCalls := make([]map[string]interface{}, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				toolCalls[i] = map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      tc.Name,
						"arguments": string(argsJSON),
					},
				}
			}
			msg["tool_calls"] = toolCalls
		}

		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}

		msgs = append(msgs, msg)
	}

	body := map[string]interface{}{
		"model":       model,
		"messages":    msgs,
		"stream":      stream,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	if len(tools) > 0 {
		defs := make([]map[string]interface{}, len(tools))
		for i, t := range tools {
			defs[i] = map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        t.Function.Name,
					"description": t.Function.Description,
					"parameters":  CleanSchemaForProvider(t.Function.Parameters, p.name),
				},
			}
		}
		body["tools"] = defs
		body["tool_choice"] = "auto"
	}

	if stream {
		body["stream_options"] = map[string]interface{}{"include_usage": true}
	}
	if extra.TopP != nil {
		body["top_p"] = *extra.TopP
	}
	if extra.FrequencyPenalty != nil {
		body["frequency_penalty"] = *extra.FrequencyPenalty
	}
	if extra.PresencePenalty != nil {
		body["presence_penalty"] = *extra.PresencePenalty
	}

	return body
}

func (p *OpenAICompatProvider) doRequest(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+p.chatPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

func (p *OpenAICompatProvider) parseResponse(resp *openAIResponse) *CompletionResponse {
	result := &CompletionResponse{FinishReason: "stop"}

	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		result.Content = msg.Content
		result.FinishReason = resp.Choices[0].FinishReason

		for _, tc := range msg.ToolCalls {
			args := make(map[string]interface{})
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      strings.TrimSpace(tc.Function.Name),
				Arguments: args,
			})
		}
		if len(result.ToolCalls) > 0 {
			result.FinishReason = "tool_calls"
		}
	}

	if resp.Usage != nil {
		result.Usage = Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
	}
	return result
}

// --- OpenAI wire-format types (request side lives in buildRequestBody as
// plain maps; these cover the response side, which benefits from typed
// decoding). ---

type openAIResponse struct {
	Choices []openAIChoice   `json:"choices"`
	Usage   *openAIUsageWire `json:"usage"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIMessage struct {
	Content   string              `json:"content"`
	ToolCalls []openAIToolCallRes `json:"tool_calls"`
}

type openAIToolCallRes struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIUsageWire struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIStreamChunk struct {
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsageWire     `json:"usage"`
}

type openAIStreamChoice struct {
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason string            `json:"finish_reason"`
}

type openAIStreamDelta struct {
	Content   string                  `json:"content"`
	ToolCalls []openAIStreamToolDelta `json:"tool_calls"`
}

type openAIStreamToolDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type toolCallAccumulator struct {
	ToolCall
	rawArgs string
}
