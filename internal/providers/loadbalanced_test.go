package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name         string
	defaultModel string
	chatFn       func(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64) (*CompletionResponse, error)
}

func (f *fakeProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64) (*CompletionResponse, error) {
	return f.chatFn(ctx, messages, tools, model, maxTokens, temperature)
}

func (f *fakeProvider) ChatWithExtra(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64, extra ChatExtra) (*CompletionResponse, error) {
	return f.Chat(ctx, messages, tools, model, maxTokens, temperature)
}

func (f *fakeProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64, extra ChatExtra, onDelta func(string)) (*CompletionResponse, error) {
	return f.Chat(ctx, messages, tools, model, maxTokens, temperature)
}

func (f *fakeProvider) DefaultModel() string { return f.defaultModel }
func (f *fakeProvider) Name() string         { return f.name }

func alwaysFails(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64) (*CompletionResponse, error) {
	return nil, &HTTPError{StatusCode: 500, Body: "boom"}
}

func TestIsAvailable_ClosedByDefault(t *testing.T) {
	lb := NewLoadBalancedProvider([]Provider{&fakeProvider{name: "a", defaultModel: "gpt-4o"}})
	assert.True(t, lb.isAvailable(0))
}

func TestRecordFailure_OpensCircuitAtThreshold(t *testing.T) {
	lb := NewLoadBalancedProvider([]Provider{&fakeProvider{name: "a", defaultModel: "gpt-4o"}})

	lb.recordFailure(0)
	assert.True(t, lb.isAvailable(0), "circuit should remain closed below threshold")
	lb.recordFailure(0)
	assert.True(t, lb.isAvailable(0))
	lb.recordFailure(0)
	assert.False(t, lb.isAvailable(0), "circuit should open once failures reach the threshold")
}

func TestRecordFailureIfServerError_IgnoresClientErrors(t *testing.T) {
	lb := NewLoadBalancedProvider([]Provider{&fakeProvider{name: "a", defaultModel: "gpt-4o"}})

	for i := 0; i < circuitBreakerThreshold+2; i++ {
		lb.recordFailureIfServerError(0, &HTTPError{StatusCode: 400})
	}
	assert.True(t, lb.isAvailable(0), "4xx failures must never open the circuit")
}

func TestRecordFailureIfServerError_CountsServerErrors(t *testing.T) {
	lb := NewLoadBalancedProvider([]Provider{&fakeProvider{name: "a", defaultModel: "gpt-4o"}})

	for i := 0; i < circuitBreakerThreshold; i++ {
		lb.recordFailureIfServerError(0, &HTTPError{StatusCode: 503})
	}
	assert.False(t, lb.isAvailable(0))
}

func TestIsAvailable_ClosesAgainAfterCooldownElapses(t *testing.T) {
	lb := NewLoadBalancedProvider([]Provider{&fakeProvider{name: "a", defaultModel: "gpt-4o"}})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lb.now = func() time.Time { return base }

	for i := 0; i < circuitBreakerThreshold; i++ {
		lb.recordFailure(0)
	}
	require.False(t, lb.isAvailable(0))

	lb.now = func() time.Time { return base.Add(circuitBreakerCooldown - time.Second) }
	assert.False(t, lb.isAvailable(0), "circuit must stay open until the cooldown fully elapses")

	lb.now = func() time.Time { return base.Add(circuitBreakerCooldown) }
	assert.True(t, lb.isAvailable(0), "circuit must close exactly once the cooldown elapses")
}

func TestRecordSuccess_ResetsFailureCount(t *testing.T) {
	lb := NewLoadBalancedProvider([]Provider{&fakeProvider{name: "a", defaultModel: "gpt-4o"}})
	lb.recordFailure(0)
	lb.recordFailure(0)
	lb.recordSuccess(0)
	lb.recordFailure(0)
	assert.True(t, lb.isAvailable(0), "a success should reset the consecutive-failure streak")
}

func TestAllProvidersDown_FalseWhenAnySlotAvailable(t *testing.T) {
	lb := NewLoadBalancedProvider([]Provider{
		&fakeProvider{name: "a", defaultModel: "gpt-4o"},
		&fakeProvider{name: "b", defaultModel: "claude-sonnet-4-6"},
	})
	for i := 0; i < circuitBreakerThreshold; i++ {
		lb.recordFailure(0)
	}
	assert.False(t, lb.AllProvidersDown())
}

func TestAllProvidersDown_TrueWhenEverySlotOpen(t *testing.T) {
	lb := NewLoadBalancedProvider([]Provider{
		&fakeProvider{name: "a", defaultModel: "gpt-4o"},
		&fakeProvider{name: "b", defaultModel: "claude-sonnet-4-6"},
	})
	for i := 0; i < circuitBreakerThreshold; i++ {
		lb.recordFailure(0)
		lb.recordFailure(1)
	}
	assert.True(t, lb.AllProvidersDown())
}

func TestAllProvidersDown_TrueWhenNoProvidersConfigured(t *testing.T) {
	lb := NewLoadBalancedProvider(nil)
	assert.True(t, lb.AllProvidersDown())
}

func TestFamily_ClassifiesKnownModelNames(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-6", "claude"},
		{"anthropic-whatever", "claude"},
		{"gemini-2.5-flash", "gemini"},
		{"moonshot-kimi-k2", "kimi"},
		{"qwen-max", "qwen"},
		{"llama-3.3-70b-specdec", "groq"},
		{"deepseek-chat", "deepseek"},
		{"minimax/minimax-m2.5", "minimax"},
		{"glm-4.6", "glm"},
		{"gpt-4o", "openai"},
		{"some-unknown-model", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, family(tt.model), tt.model)
	}
}

func TestSelectProviderIdx_PrefersMatchingFamily(t *testing.T) {
	lb := NewLoadBalancedProvider([]Provider{
		&fakeProvider{name: "openai", defaultModel: "gpt-4o"},
		&fakeProvider{name: "claude", defaultModel: "claude-sonnet-4-6"},
	})
	idx := lb.selectProviderIdx("claude-sonnet-4-6")
	assert.Equal(t, 1, idx)
}

func TestSelectProviderIdx_SkipsUnavailableSlots(t *testing.T) {
	lb := NewLoadBalancedProvider([]Provider{
		&fakeProvider{name: "claude-1", defaultModel: "claude-sonnet-4-6"},
		&fakeProvider{name: "claude-2", defaultModel: "claude-sonnet-4-6"},
	})
	for i := 0; i < circuitBreakerThreshold; i++ {
		lb.recordFailure(0)
	}
	idx := lb.selectProviderIdx("claude-sonnet-4-6")
	assert.Equal(t, 1, idx)
}

func TestConvertModelForProvider_SameFamilyPassesThrough(t *testing.T) {
	p := &fakeProvider{name: "openai", defaultModel: "gpt-4o"}
	assert.Equal(t, "gpt-4o-mini", convertModelForProvider(p, "gpt-4o-mini"))
}

func TestConvertModelForProvider_CrossFamilySubstitutesDefault(t *testing.T) {
	p := &fakeProvider{name: "claude", defaultModel: "claude-sonnet-4-6"}
	assert.Equal(t, "claude-sonnet-4-6", convertModelForProvider(p, "gpt-4o"))
}

func TestConvertModelForProvider_OpenRouterPassesThroughAnyModel(t *testing.T) {
	p := &fakeProvider{name: "openrouter", defaultModel: "openrouter/auto"}
	assert.Equal(t, "claude-sonnet-4-6", convertModelForProvider(p, "claude-sonnet-4-6"))
}

func TestGetTierModel_ResolvesKnownTier(t *testing.T) {
	lb := NewLoadBalancedProvider([]Provider{
		&fakeProvider{name: "gemini", defaultModel: "gemini-2.5-flash"},
	})
	p, model, ok := lb.GetTierModel("economy")
	require.True(t, ok)
	assert.Equal(t, "gemini-2.5-flash", model)
	assert.Equal(t, "gemini", p.Name())
}

func TestGetTierModel_UnknownTierFails(t *testing.T) {
	lb := NewLoadBalancedProvider(nil)
	_, _, ok := lb.GetTierModel("nonexistent")
	assert.False(t, ok)
}

func TestChat_FailsWhenNoProvidersConfigured(t *testing.T) {
	lb := NewLoadBalancedProvider(nil)
	_, err := lb.Chat(context.Background(), nil, nil, "gpt-4o", 100, 0.5)
	assert.Error(t, err)
}

func TestChat_PrimarySuccessRecordsSuccessAndSkipsFallback(t *testing.T) {
	lb := NewLoadBalancedProvider([]Provider{
		&fakeProvider{name: "a", defaultModel: "gpt-4o", chatFn: func(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64) (*CompletionResponse, error) {
			return &CompletionResponse{Content: "ok"}, nil
		}},
	})
	resp, err := lb.Chat(context.Background(), nil, nil, "gpt-4o", 100, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestChat_FallsBackWhenPrimaryFails(t *testing.T) {
	lb := NewLoadBalancedProvider([]Provider{
		&fakeProvider{name: "primary", defaultModel: "gpt-4o", chatFn: alwaysFails},
		&fakeProvider{name: "secondary", defaultModel: "claude-sonnet-4-6", chatFn: func(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64) (*CompletionResponse, error) {
			return &CompletionResponse{Content: "fallback ok"}, nil
		}},
	})
	resp, err := lb.Chat(context.Background(), nil, nil, "gpt-4o", 100, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "fallback ok", resp.Content)
}
