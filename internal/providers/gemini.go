package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"
	geminiAPIBase      = "https://generativelanguage.googleapis.com/v1beta"
)

// GeminiProvider implements Provider against Google's native
// generateContent REST API (not the OpenAI-compat shim some deployments
// expose — that case is served by OpenAICompatProvider instead).
type GeminiProvider struct {
	ProviderDefaults

	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewGeminiProvider(apiKey string, defaultModel string) *GeminiProvider {
	if defaultModel == "" {
		defaultModel = defaultGeminiModel
	}
	p := &GeminiProvider{
		apiKey:       apiKey,
		baseURL:      geminiAPIBase,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
	p.Self = p
	return p
}

func (p *GeminiProvider) Name() string         { return "gemini" }
func (p *GeminiProvider) DefaultModel() string { return p.defaultModel }

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64) (*CompletionResponse, error) {
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildRequestBody(messages, tools, maxTokens, temperature)

	var result *CompletionResponse
	err := RetryDo(ctx, p.retryConfig, func(ctx context.Context) error {
		respBody, err := p.doRequest(ctx, model, body)
		if err != nil {
			return err
		}
		defer respBody.Close()

		var resp geminiResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return fmt.Errorf("gemini: decode response: %w", err)
		}
		result = p.parseResponse(&resp)
		return nil
	})
	return result, err
}

// ChatWithExtra and ChatStream fall back to ProviderDefaults: Gemini's
// generateContent endpoint has no standard SSE streaming shape shared
// with the OpenAI family, so streaming degrades to "push the whole
// response as one delta" per §4.1's default-method contract.

func (p *GeminiProvider) buildRequestBody(messages []Message, tools []ToolDefinition, maxTokens int, temperature float64) map[string]interface{} {
	var systemParts []map[string]interface{}
	var contents []map[string]interface{}

	for _, m := range messages {
		switch m.Role {
		case "system":
			systemParts = append(systemParts, map[string]interface{}{"text": m.Content})
		case "user":
			var parts []map[string]interface{}
			if m.Content != "" {
				parts = append(parts, map[string]interface{}{"text": m.Content})
			}
			for _, img := range m.Images {
				parts = append(parts, map[string]interface{}{
					"inline_data": map[string]interface{}{"mime_type": img.MimeType, "data": img.Data},
				})
			}
			contents = append(contents, map[string]interface{}{"role": "user", "parts": parts})
		case "assistant":
			var parts []map[string]interface{}
			if m.Content != "" {
				parts = append(parts, map[string]interface{}{"text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, map[string]interface{}{
					"functionCall": map[string]interface{}{"name": tc.Name, "args": tc.Arguments},
				})
			}
			contents = append(contents, map[string]interface{}{"role": "model", "parts": parts})
		case "tool":
			contents = append(contents, map[string]interface{}{
				"role": "user",
				"parts": []map[string]interface{}{
					{"functionResponse": map[string]interface{}{"name": m.ToolCallID, "response": map[string]interface{}{"content": m.Content}}},
				},
			})
		}
	}

	body := map[string]interface{}{
		"contents": contents,
		"generationConfig": map[string]interface{}{
			"maxOutputTokens": maxTokens,
			"temperature":     temperature,
		},
	}
	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]interface{}{"parts": systemParts}
	}
	if len(tools) > 0 {
		var decls []map[string]interface{}
		for _, t := range tools {
			decls = append(decls, map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  CleanSchemaForProvider(t.Function.Parameters, "gemini"),
			})
		}
		body["tools"] = []map[string]interface{}{{"functionDeclarations": decls}}
	}

	return body
}

func (p *GeminiProvider) doRequest(ctx context.Context, model string, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, strings.TrimPrefix(model, "models/"), p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
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

func (p *GeminiProvider) parseResponse(resp *geminiResponse) *CompletionResponse {
	result := &CompletionResponse{FinishReason: "stop"}
	if len(resp.Candidates) == 0 {
		return result
	}

	cand := resp.Candidates[0]
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			result.Content += part.Text
		}
		if part.FunctionCall != nil {
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}

	switch cand.FinishReason {
	case "MAX_TOKENS":
		result.FinishReason = "length"
	default:
		if len(result.ToolCalls) > 0 {
			result.FinishReason = "tool_calls"
		}
	}

	result.Usage = Usage{
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
	}
	return result
}

// --- Gemini wire types ---

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}
