package orchestrator

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/agentrouter"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/apperr"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/credit"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/identity"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/memory"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// maxMessageChars is the §4.4 step 1 input gate: 32,000 accepted, 32,001
// rejected.
const maxMessageChars = 32_000

const llmCallDeadline = 12 * time.Second

const defaultMaxTokens = 2048

// Run executes the full chat pipeline for one inbound message on
// channelKey (the external, possibly-unlinked identifier the request
// arrived on; e.g. "webchat:abc" or the value of session_id).
func (o *Orchestrator) Run(ctx context.Context, channelKey string, req ChatRequest) (*ChatResponse, error) {
	// 1. Input gate.
	if utf8.RuneCountInString(req.Message) > maxMessageChars {
		return nil, apperr.BadInput(fmt.Sprintf("message exceeds %d characters", maxMessageChars))
	}

	// 2. Channel-key resolution.
	userID, linked := o.deps.Resolver.Resolve(ctx, channelKey)
	sessionKey := channelKey
	if linked {
		sessionKey = userID
	} else {
		userID = channelKey
	}

	// 3. Slash-command interception.
	if cmd, ok := parseSlashCommand(req.Message); ok {
		return o.runCommand(ctx, sessionKey, cmd)
	}

	// 4. Parallel initialization: user, memory context, settings in one
	// concurrent step (the hot-path latency hack).
	var user *identity.User
	var memCtx string
	var settings identity.Settings
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		u, err := o.deps.Resolver.GetOrCreateUser(gctx, userID)
		if err != nil {
			return apperr.Internal("load user", err)
		}
		user = u
		return nil
	})
	group.Go(func() error {
		m, err := o.deps.Memory.Context(gctx, userID)
		if err != nil {
			return apperr.Internal("load memory", err)
		}
		memCtx = m
		return nil
	})
	group.Go(func() error {
		s, err := o.deps.Resolver.GetSettings(gctx, userID)
		if err != nil {
			return apperr.Internal("load settings", err)
		}
		settings = s
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	// 5. Credit gate.
	if user.CreditsRemaining <= 0 {
		return &ChatResponse{
			SessionID:        sessionKey,
			Action:           "upgrade",
			Response:         upgradeMessage(user.Plan),
			CreditsUsed:      0,
			CreditsRemaining: user.CreditsRemaining,
		}, nil
	}

	// 6. Concurrency gate.
	release, ok := o.guard.Acquire(sessionKey, concurrencyLimit(user.Plan))
	if !ok {
		return &ChatResponse{SessionID: sessionKey, Response: "Too many concurrent requests for this session; please wait for earlier replies."}, nil
	}
	defer release()

	// 7. Agent routing.
	profile, cleanedMessage, _ := agentrouter.Route(req.Message)

	// §7: "free plan using multi-model → HTTP 403 Forbidden".
	if req.MultiModel && user.Plan == identity.PlanFree {
		return nil, apperr.Forbidden("multi-model chat requires a paid plan")
	}

	// 8. Prompt assembly.
	device := req.Device
	if device == "" {
		device = "desktop"
	}
	model := resolveModel(req.Model, settings, profile, o.deps.ChannelDefaultModel[req.Channel], o.deps.GlobalDefaultModel)
	systemPrompt := buildSystemPrompt(profile, user, settings, req.Channel, device, model, 0)

	// Refreshed to see cross-channel writes: since sessionKey is the
	// canonical user id shared by every linked channel, reading straight
	// from the shared in-memory Manager already observes any write a
	// concurrent request on a different channel just made (§3: "sessions
	// ... are refreshed before read").
	history := o.deps.Sessions.GetHistory(sessionKey, historyWindow)
	messages := assembleMessages(systemPrompt, memCtx, history, cleanedMessage, profile.ToolsEnabled)

	// 9. Model resolution already done in step 8 (resolveModel, before
	// buildSystemPrompt).
	temperature := settings.Temperature

	var toolDefs []providers.ToolDefinition
	if profile.ToolsEnabled {
		toolDefs = o.deps.Tools.ProviderDefs()
	}

	// 10. LLM call with a 12-second hard deadline. A multi_model request
	// races one model per family instead of the sequential-with-failover
	// default (§4.2 dispatch mode B / §6.1 chat body's "multi_model?");
	// §7 already rejected this above for free-plan users.
	llmCtx, endLLMSpan := tracing.StartStage(ctx, "llm_call", attribute.String("model", model), attribute.Bool("multi_model", req.MultiModel))
	callCtx, cancel := context.WithTimeout(llmCtx, llmCallDeadline)
	var resp *providers.CompletionResponse
	var err error
	var initialCost int64
	if req.MultiModel {
		var winningModel string
		var usageEntries []providers.UsageEntry
		resp, winningModel, usageEntries, err = o.deps.Provider.ChatParallel(callCtx, messages, toolDefs, defaultMaxTokens, temperature)
		if err == nil {
			model = winningModel
			for _, u := range usageEntries {
				initialCost += credit.CalculateCredits(u.Model, u.PromptTokens, u.CompletionTokens)
			}
		}
	} else {
		resp, err = o.deps.Provider.Chat(callCtx, messages, toolDefs, model, defaultMaxTokens, temperature)
	}
	cancel()
	endLLMSpan(err)

	var toolsUsed []string
	iterations := 0

	if err != nil {
		if callCtx.Err() != nil {
			// Deadline exceeded: deduct a minimum 1 credit for the prompt
			// tokens consumed, persist a fallback message, return it
			// (§4.4 step 10).
			minCredits := credit.CalculateCredits(model, estimateTokens(messages), 0)
			if minCredits == 0 {
				minCredits = 1
			}
			remaining, derr := o.deps.Ledger.Deduct(ctx, userID, minCredits)
			if derr != nil {
				o.deps.Logger.Warn("credit deduction failed on timeout fallback", "error", derr)
			}
			fallback := "I'm taking longer than expected to respond — please try again in a moment."
			o.persist(ctx, sessionKey, req.Channel, cleanedMessage, fallback)
			return &ChatResponse{
				SessionID:        sessionKey,
				Agent:            profile.ID,
				Response:         fallback,
				ModelUsed:        model,
				CreditsUsed:      minCredits,
				CreditsRemaining: remaining,
			}, nil
		}
		return nil, apperr.Transient("llm call failed", err)
	}

	// initialUsage is the dispatch-step usage, captured before a tool loop
	// (if any) reassigns resp to its own final response — kept separate
	// from the tool loop's follow-up usage so neither step's tokens are
	// billed twice.
	initialUsage := resp.Usage
	var followUpUsage providers.Usage

	// 11. Agentic tool loop.
	if len(resp.ToolCalls) > 0 && profile.ToolsEnabled {
		loopCtx, endLoopSpan := tracing.StartStage(ctx, "tool_loop", attribute.Int("initial_tool_calls", len(resp.ToolCalls)))
		loopResult, _, lerr := runToolLoop(loopCtx, o.deps.Provider, o.deps.Tools, messages, toolDefs, model, defaultMaxTokens, temperature, resp, iterationCap(user.Plan))
		endLoopSpan(lerr)
		if lerr != nil {
			return nil, apperr.Transient("tool loop failed", lerr)
		}
		resp = loopResult.finalResponse
		followUpUsage = loopResult.usage
		toolsUsed = loopResult.toolsUsed
		iterations = loopResult.iterations
	}

	totalUsage := providers.Usage{
		PromptTokens:     initialUsage.PromptTokens + followUpUsage.PromptTokens,
		CompletionTokens: initialUsage.CompletionTokens + followUpUsage.CompletionTokens,
	}

	// 12. Token + credit accounting. A multi_model dispatch already priced
	// every consulted model's initial call in initialCost (§4.2: "bill
	// every model that actually ran, not just the winner"); only the
	// follow-up tool-loop calls (always sequential, on the winning model)
	// still need per-token pricing here.
	var cost int64
	if req.MultiModel {
		cost = initialCost + credit.CalculateCredits(model, followUpUsage.PromptTokens, followUpUsage.CompletionTokens)
	} else {
		cost = credit.CalculateCredits(model, totalUsage.PromptTokens, totalUsage.CompletionTokens)
	}
	remaining, derr := o.deps.Ledger.Deduct(ctx, userID, cost)
	if derr != nil {
		return nil, apperr.Internal("credit deduction failed", derr)
	}

	// 13. Persistence.
	persistCtx, endPersistSpan := tracing.StartStage(ctx, "persistence")
	o.persist(persistCtx, sessionKey, req.Channel, cleanedMessage, resp.Content)
	endPersistSpan(nil)

	return &ChatResponse{
		Response:         resp.Content,
		SessionID:        sessionKey,
		Agent:            profile.ID,
		ToolsUsed:        toolsUsed,
		CreditsUsed:      cost,
		CreditsRemaining: remaining,
		ModelUsed:        model,
		InputTokens:      totalUsage.PromptTokens,
		OutputTokens:     totalUsage.CompletionTokens,
		EstimatedCostUSD: credit.Cost(model, totalUsage.PromptTokens, totalUsage.CompletionTokens),
		Iterations:       iterations,
	}, nil
}

// persist implements §4.4 step 13: append both turns, bump the sync
// version synchronously, then fire-and-forget the memory/consolidation
// upkeep.
func (o *Orchestrator) persist(ctx context.Context, sessionKey, channel, userMessage, assistantResponse string) {
	o.deps.Sessions.AddMessage(sessionKey, providers.Message{Role: "user", Content: userMessage}, channel)
	o.deps.Sessions.AddMessage(sessionKey, providers.Message{Role: "assistant", Content: assistantResponse}, channel)
	o.deps.Sessions.Save(sessionKey)

	if _, err := o.deps.Sync.Increment(ctx, sessionKey, channel); err != nil {
		o.deps.Logger.Warn("sync version increment failed", "session", sessionKey, "error", err)
	}

	go o.fireAndForgetMemory(sessionKey, userMessage, assistantResponse)
	go o.fireAndForgetConversationMeta(sessionKey, userMessage)
}

// fireAndForgetConversationMeta updates the conversation's title (once,
// while still the placeholder), preview (always), and message count
// (§4.4 step 13, §6.3 CONV# record) — one conversation per session key
// in this core, so convID and the session key coincide.
func (o *Orchestrator) fireAndForgetConversationMeta(userID, lastUserMessage string) {
	if err := o.deps.Resolver.TouchConversation(context.Background(), userID, userID, lastUserMessage); err != nil {
		o.deps.Logger.Warn("conversation metadata update failed", "user", userID, "error", err)
	}
}

// fireAndForgetMemory appends a daily-memory summary and, if the append
// crossed the consolidation threshold, consolidates using the cheapest
// available model (§4.4 step 13, §3 Memory). Runs detached from the
// request context so a slow client disconnect never cancels it; the
// background scheduler (internal/memory.Scheduler) provides a backstop
// for consolidation even if this goroutine never runs.
func (o *Orchestrator) fireAndForgetMemory(userID, userMessage, assistantResponse string) {
	ctx := context.Background()
	summary := fmt.Sprintf("Q: %s\nA: %s", userMessage, assistantResponse)
	count, err := o.deps.Memory.AppendDaily(ctx, userID, summary)
	if err != nil {
		o.deps.Logger.Warn("memory append failed", "user", userID, "error", err)
		return
	}
	if memory.ShouldConsolidate(count) {
		o.deps.Memory.Consolidate(ctx, o.deps.Provider, userID)
	}
}

// resolveModel implements §4.4 step 9's precedence: explicit request
// model > user settings > agent preferred_model > per-channel default >
// global default.
func resolveModel(requested string, settings identity.Settings, profile agentrouter.Profile, channelDefault, globalDefault string) string {
	for _, candidate := range []string{requested, settings.PreferredModel, profile.PreferredModel, channelDefault, globalDefault} {
		if candidate != "" {
			return candidate
		}
	}
	return globalDefault
}

// estimateTokens gives a rough prompt-token estimate for the timeout-path
// minimum-credit deduction, matching the teacher's chars/3 heuristic.
func estimateTokens(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 3
	}
	return total
}
