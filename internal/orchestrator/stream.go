package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/agentrouter"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/apperr"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/credit"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/identity"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
)

// Event is one typed SSE payload in the §4.5 sequence.
type Event struct {
	Type string      `json:"type"` // start, tool_start, tool_result, thinking, content, done, error
	Data interface{} `json:"data,omitempty"`
}

// toolResultPreviewChars is "truncated to 500 chars" (§4.5 tool_result).
const toolResultPreviewChars = 500

// RunStream runs the same pipeline as Run, but emits a sequence of typed
// events to emit instead of returning one response (§4.5). This
// implementation streams events as they're produced rather than
// batching into one terminal payload.
func (o *Orchestrator) RunStream(ctx context.Context, channelKey string, req ChatRequest, emit func(Event)) error {
	if utf8.RuneCountInString(req.Message) > maxMessageChars {
		emit(Event{Type: "error", Data: "message too long"})
		return apperr.BadInput("message too long")
	}

	userID, linked := o.deps.Resolver.Resolve(ctx, channelKey)
	sessionKey := channelKey
	if linked {
		sessionKey = userID
	} else {
		userID = channelKey
	}

	if cmd, ok := parseSlashCommand(req.Message); ok {
		resp, err := o.runCommand(ctx, sessionKey, cmd)
		if err != nil {
			emit(Event{Type: "error", Data: err.Error()})
			return err
		}
		emit(Event{Type: "content", Data: resp})
		emit(Event{Type: "done"})
		return nil
	}

	var user *identity.User
	var memCtx string
	var settings identity.Settings
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		u, err := o.deps.Resolver.GetOrCreateUser(gctx, userID)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	group.Go(func() error {
		m, err := o.deps.Memory.Context(gctx, userID)
		if err != nil {
			return err
		}
		memCtx = m
		return nil
	})
	group.Go(func() error {
		s, err := o.deps.Resolver.GetSettings(gctx, userID)
		if err != nil {
			return err
		}
		settings = s
		return nil
	})
	if err := group.Wait(); err != nil {
		emit(Event{Type: "error", Data: err.Error()})
		return err
	}

	if user.CreditsRemaining <= 0 {
		resp := ChatResponse{SessionID: sessionKey, Action: "upgrade", Response: upgradeMessage(user.Plan), CreditsRemaining: user.CreditsRemaining}
		emit(Event{Type: "content", Data: resp})
		emit(Event{Type: "done"})
		return nil
	}

	release, ok := o.guard.Acquire(sessionKey, concurrencyLimit(user.Plan))
	if !ok {
		emit(Event{Type: "error", Data: "too many concurrent requests"})
		return nil
	}
	defer release()

	profile, cleanedMessage, _ := agentrouter.Route(req.Message)
	emit(Event{Type: "start", Data: map[string]interface{}{"agent": profile.ID, "estimated_seconds": 8}})

	device := req.Device
	if device == "" {
		device = "desktop"
	}
	model := resolveModel(req.Model, settings, profile, o.deps.ChannelDefaultModel[req.Channel], o.deps.GlobalDefaultModel)
	systemPrompt := buildSystemPrompt(profile, user, settings, req.Channel, device, model, 0)
	history := o.deps.Sessions.GetHistory(sessionKey, historyWindow)
	messages := assembleMessages(systemPrompt, memCtx, history, cleanedMessage, profile.ToolsEnabled)
	temperature := settings.Temperature

	var toolDefs []providers.ToolDefinition
	if profile.ToolsEnabled {
		toolDefs = o.deps.Tools.ProviderDefs()
	}

	callCtx, cancel := context.WithTimeout(ctx, llmCallDeadline)
	resp, err := o.deps.Provider.Chat(callCtx, messages, toolDefs, model, defaultMaxTokens, temperature)
	cancel()
	if err != nil {
		emit(Event{Type: "error", Data: err.Error()})
		return apperr.Transient("llm call failed", err)
	}

	totalUsage := resp.Usage
	var toolsUsed []string
	iterations := 0

	maxIter := iterationCap(user.Plan)
	for len(resp.ToolCalls) > 0 && profile.ToolsEnabled && iterations < maxIter {
		iterations++
		assistantMsg := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		calls := resp.ToolCalls
		if len(calls) > maxParallelToolCalls {
			calls = calls[:maxParallelToolCalls]
		}
		for _, tc := range calls {
			emit(Event{Type: "tool_start", Data: map[string]string{"name": tc.Name, "id": tc.ID}})
		}

		type indexed struct {
			idx int
			tc  providers.ToolCall
			raw string
		}
		resultCh := make(chan indexed, len(calls))
		for i, tc := range calls {
			go func(i int, tc providers.ToolCall) {
				resultCh <- indexed{idx: i, tc: tc, raw: o.deps.Tools.Execute(ctx, tc.Name, tc.Arguments)}
			}(i, tc)
		}
		results := make([]indexed, len(calls))
		for range calls {
			r := <-resultCh
			results[r.idx] = r
		}

		for _, r := range results {
			classified := classifyToolResult(r.raw)
			preview := classified
			if len(preview) > toolResultPreviewChars {
				preview = preview[:toolResultPreviewChars]
			}
			emit(Event{Type: "tool_result", Data: map[string]string{"name": r.tc.Name, "id": r.tc.ID, "result": preview}})
			messages = append(messages, providers.Message{Role: "tool", Content: classified, ToolCallID: r.tc.ID})
			toolsUsed = append(toolsUsed, r.tc.Name)
		}

		emit(Event{Type: "thinking"})

		onLast := iterations == maxIter
		var callDefs []providers.ToolDefinition
		if !onLast {
			callDefs = toolDefs
		}
		nextCtx, nextCancel := context.WithTimeout(ctx, llmCallDeadline)
		next, nerr := o.deps.Provider.Chat(nextCtx, messages, callDefs, model, defaultMaxTokens, temperature)
		nextCancel()
		if nerr != nil {
			var parts []string
			for _, r := range results {
				parts = append(parts, r.raw)
			}
			resp = &providers.CompletionResponse{Content: joinStrings(parts)}
			break
		}
		totalUsage.PromptTokens += next.Usage.PromptTokens
		totalUsage.CompletionTokens += next.Usage.CompletionTokens
		resp = next
		if onLast {
			break
		}
	}

	cost := credit.CalculateCredits(model, totalUsage.PromptTokens, totalUsage.CompletionTokens)
	remaining, derr := o.deps.Ledger.Deduct(ctx, userID, cost)
	if derr != nil {
		emit(Event{Type: "error", Data: derr.Error()})
		return apperr.Internal("credit deduction failed", derr)
	}

	o.persist(ctx, sessionKey, req.Channel, cleanedMessage, resp.Content)

	final := ChatResponse{
		Response:         resp.Content,
		SessionID:        sessionKey,
		Agent:            profile.ID,
		ToolsUsed:        toolsUsed,
		CreditsUsed:      cost,
		CreditsRemaining: remaining,
		ModelUsed:        model,
		InputTokens:      totalUsage.PromptTokens,
		OutputTokens:     totalUsage.CompletionTokens,
		Iterations:       iterations,
	}
	emit(Event{Type: "content", Data: final})
	emit(Event{Type: "done"})
	return nil
}

func joinStrings(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}

// MarshalSSE renders an Event in text/event-stream wire format, the shape
// github.com/r3labs/sse/v2's server-side writer expects for each message.
func (e Event) MarshalSSE() ([]byte, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, payload)), nil
}
