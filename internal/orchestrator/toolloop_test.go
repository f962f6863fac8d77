package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/tools"
)

func TestClassifyToolResult(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		prefix string
	}{
		{"empty result", "", "[NO_RESULTS]"},
		{"explicit no results", "No results found for that query.", "[NO_RESULTS]"},
		{"error result", "Error: rate limited", "[TOOL_ERROR]"},
		{"request failed", "request failed: connection reset", "[TOOL_ERROR]"},
		{"timeout", "timed out waiting for response", "[TOOL_ERROR]"},
		{"normal result", "The answer is 42.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyToolResult(tt.raw)
			if tt.prefix == "" {
				assert.Equal(t, tt.raw, got)
			} else {
				assert.Contains(t, got, tt.prefix)
			}
		})
	}
}

// fakeToolCallingProvider always asks for the same tool call, letting tests
// drive the loop's iteration cap deterministically.
type fakeToolCallingProvider struct {
	calls int
}

func (f *fakeToolCallingProvider) Chat(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition, model string, maxTokens int, temperature float64) (*providers.CompletionResponse, error) {
	f.calls++
	if len(toolDefs) == 0 {
		// Final, tools-disabled call: forced to answer in text.
		return &providers.CompletionResponse{Content: "final answer", FinishReason: "stop"}, nil
	}
	return &providers.CompletionResponse{
		ToolCalls:    []providers.ToolCall{{ID: "call-1", Name: "echo", Arguments: map[string]interface{}{}}},
		FinishReason: "tool_calls",
	}, nil
}

func (f *fakeToolCallingProvider) ChatWithExtra(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition, model string, maxTokens int, temperature float64, extra providers.ChatExtra) (*providers.CompletionResponse, error) {
	return f.Chat(ctx, messages, toolDefs, model, maxTokens, temperature)
}

func (f *fakeToolCallingProvider) ChatStream(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition, model string, maxTokens int, temperature float64, extra providers.ChatExtra, onDelta func(string)) (*providers.CompletionResponse, error) {
	return f.Chat(ctx, messages, toolDefs, model, maxTokens, temperature)
}

func (f *fakeToolCallingProvider) DefaultModel() string { return "gpt-4o" }
func (f *fakeToolCallingProvider) Name() string         { return "fake" }

func TestRunToolLoop_StopsAtIterationCap(t *testing.T) {
	fake := &fakeToolCallingProvider{}
	lb := providers.NewLoadBalancedProvider([]providers.Provider{fake})

	reg := tools.NewRegistry()
	reg.Register(tools.Tool{Name: "echo", Run: func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "echoed", nil
	}})

	first := &providers.CompletionResponse{
		ToolCalls: []providers.ToolCall{{ID: "call-0", Name: "echo"}},
	}
	toolDefs := []providers.ToolDefinition{{Type: "function", Function: providers.ToolFunctionSchema{Name: "echo"}}}

	const maxIterations = 3
	result, _, err := runToolLoop(context.Background(), lb, reg, nil, toolDefs, "gpt-4o", 100, 0.5, first, maxIterations)

	require.NoError(t, err)
	assert.Equal(t, maxIterations, result.iterations)
	assert.Equal(t, "final answer", result.finalResponse.Content)
	assert.Len(t, result.toolsUsed, maxIterations)
}

func TestRunToolLoop_StopsAssoonAsNoMoreToolCalls(t *testing.T) {
	callCount := 0
	fake := &fakeNoRepeatProvider{
		onCall: func() *providers.CompletionResponse {
			callCount++
			if callCount == 1 {
				return &providers.CompletionResponse{Content: "done", FinishReason: "stop"}
			}
			return &providers.CompletionResponse{Content: "unexpected", FinishReason: "stop"}
		},
	}
	lb := providers.NewLoadBalancedProvider([]providers.Provider{fake})
	reg := tools.NewRegistry()

	first := &providers.CompletionResponse{ToolCalls: nil, Content: "no tool calls needed"}
	result, _, err := runToolLoop(context.Background(), lb, reg, nil, nil, "gpt-4o", 100, 0.5, first, 5)

	require.NoError(t, err)
	assert.Equal(t, 0, result.iterations)
	assert.Equal(t, "no tool calls needed", result.finalResponse.Content)
}

type fakeNoRepeatProvider struct {
	onCall func() *providers.CompletionResponse
}

func (f *fakeNoRepeatProvider) Chat(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition, model string, maxTokens int, temperature float64) (*providers.CompletionResponse, error) {
	return f.onCall(), nil
}
func (f *fakeNoRepeatProvider) ChatWithExtra(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition, model string, maxTokens int, temperature float64, extra providers.ChatExtra) (*providers.CompletionResponse, error) {
	return f.Chat(ctx, messages, toolDefs, model, maxTokens, temperature)
}
func (f *fakeNoRepeatProvider) ChatStream(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition, model string, maxTokens int, temperature float64, extra providers.ChatExtra, onDelta func(string)) (*providers.CompletionResponse, error) {
	return f.Chat(ctx, messages, toolDefs, model, maxTokens, temperature)
}
func (f *fakeNoRepeatProvider) DefaultModel() string { return "gpt-4o" }
func (f *fakeNoRepeatProvider) Name() string         { return "fake-no-repeat" }
