package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/tools"
)

// maxParallelToolCalls is "the first 5 tool calls" per iteration (§4.4
// step 11).
const maxParallelToolCalls = 5

// toolLoopResult is everything the pipeline needs after the loop exits.
type toolLoopResult struct {
	finalResponse *providers.CompletionResponse
	usage         providers.Usage
	toolsUsed     []string
	iterations    int
}

// runToolLoop implements §4.4 step 11: bounded tool-call iterations,
// parallel execution of up to 5 calls per iteration, classified
// reinjection, and a final tools-disabled call to force a text answer.
func runToolLoop(
	ctx context.Context,
	lb *providers.LoadBalancedProvider,
	reg *tools.Registry,
	messages []providers.Message,
	toolDefs []providers.ToolDefinition,
	model string,
	maxTokens int,
	temperature float64,
	first *providers.CompletionResponse,
	maxIterations int,
) (*toolLoopResult, []providers.Message, error) {
	result := &toolLoopResult{finalResponse: first}
	resp := first
	iteration := 0

	for len(resp.ToolCalls) > 0 && iteration < maxIterations {
		iteration++

		assistantMsg := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		calls := resp.ToolCalls
		if len(calls) > maxParallelToolCalls {
			calls = calls[:maxParallelToolCalls]
		}

		toolMsgs := make([]providers.Message, len(calls))
		var wg sync.WaitGroup
		for i, tc := range calls {
			wg.Add(1)
			go func(i int, tc providers.ToolCall) {
				defer wg.Done()
				raw := reg.Execute(ctx, tc.Name, tc.Arguments)
				toolMsgs[i] = providers.Message{Role: "tool", Content: classifyToolResult(raw), ToolCallID: tc.ID}
			}(i, tc)
		}
		wg.Wait()

		for i, tc := range calls {
			messages = append(messages, toolMsgs[i])
			result.toolsUsed = append(result.toolsUsed, tc.Name)
		}

		onLastIteration := iteration == maxIterations
		var callDefs []providers.ToolDefinition
		if !onLastIteration {
			callDefs = toolDefs
		}

		callCtx, cancel := context.WithTimeout(ctx, 12*time.Second)
		next, err := lb.Chat(callCtx, messages, callDefs, model, maxTokens, temperature)
		cancel()
		if err != nil {
			// §4.4 step 11: "on LLM error mid-loop, exit with a
			// concatenation of tool results as the answer."
			var parts []string
			for _, m := range toolMsgs {
				parts = append(parts, m.Content)
			}
			result.finalResponse = &providers.CompletionResponse{Content: strings.Join(parts, "\n")}
			result.iterations = iteration
			return result, messages, nil
		}

		result.usage.PromptTokens += next.Usage.PromptTokens
		result.usage.CompletionTokens += next.Usage.CompletionTokens
		resp = next
		result.finalResponse = resp
		result.iterations = iteration

		if onLastIteration {
			break
		}
	}

	return result, messages, nil
}

// classifyToolResult applies the §4.4 step 11 result-classification
// rules before a tool result is reinjected as a tool-role message.
func classifyToolResult(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.Contains(strings.ToLower(trimmed), "no results") {
		return "[NO_RESULTS] " + raw
	}
	lower := strings.ToLower(trimmed)
	for _, prefix := range []string{"error", "request failed", "timed out"} {
		if strings.HasPrefix(lower, prefix) {
			return "[TOOL_ERROR] " + raw
		}
	}
	return raw
}
