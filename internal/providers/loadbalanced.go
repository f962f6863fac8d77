package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

const (
	circuitBreakerThreshold = 3
	circuitBreakerCooldown  = 5 * time.Minute
	primaryHeadStart        = 3 * time.Second
	parallelFallbackTimeout = 7 * time.Second
	raceModelTimeout        = 600 * time.Second
)

// ExploreResult is one model's answer in chat_explore mode.
type ExploreResult struct {
	Model            string
	Response         string
	ResponseTimeMS   int64
	PromptTokens     int
	CompletionTokens int
	IsFallback       bool
}

// RaceResult is one model's answer in chat_race mode, ranked by arrival order.
type RaceResult struct {
	Model            string
	Response         string
	ResponseTimeMS   int64
	PromptTokens     int
	CompletionTokens int
	Rank             int
	IsFallback       bool
}

// UsageEntry records one completed model's token usage, used to bill every
// model that actually ran in a parallel dispatch, not just the winner.
type UsageEntry struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// circuitState is the per-slot breaker bookkeeping. All fields are
// accessed only through atomics — never locked — matching the teacher's
// avoidance of mutexes on the request hot path.
type circuitState struct {
	failureCount     atomic.Int32
	openUntilUnixSec atomic.Int64
}

// LoadBalancedProvider owns a set of adapters plus per-adapter circuit
// breaker state and implements the three dispatch modes (§4.2).
type LoadBalancedProvider struct {
	providers []Provider
	counter   atomic.Uint64
	circuits  []*circuitState

	localFallback Provider // optional, nil unless configured (§4 Supplemented features)

	now func() time.Time
}

// NewLoadBalancedProvider builds a dispatcher over providers, assigning
// each its own circuit breaker slot by position.
func NewLoadBalancedProvider(adapters []Provider) *LoadBalancedProvider {
	circuits := make([]*circuitState, len(adapters))
	for i := range circuits {
		circuits[i] = &circuitState{}
	}
	return &LoadBalancedProvider{
		providers: adapters,
		circuits:  circuits,
		now:       time.Now,
	}
}

// WithLocalFallback attaches an opt-in local-model slot consulted only
// after every remote provider has failed or in explore/race modes.
func (lb *LoadBalancedProvider) WithLocalFallback(p Provider) *LoadBalancedProvider {
	lb.localFallback = p
	return lb
}

func (lb *LoadBalancedProvider) Name() string { return "load-balanced" }

func (lb *LoadBalancedProvider) DefaultModel() string {
	if len(lb.providers) == 0 {
		return "gpt-4o"
	}
	return lb.providers[0].DefaultModel()
}

// isAvailable reports whether the breaker at idx is closed, resetting it
// if its cooldown has elapsed.
func (lb *LoadBalancedProvider) isAvailable(idx int) bool {
	c := lb.circuits[idx]
	openUntil := c.openUntilUnixSec.Load()
	if openUntil == 0 {
		return true
	}
	if lb.now().Unix() >= openUntil {
		c.openUntilUnixSec.Store(0)
		c.failureCount.Store(0)
		return true
	}
	return false
}

// recordFailure increments the slot's consecutive-failure count and opens
// its circuit once the count reaches the threshold.
func (lb *LoadBalancedProvider) recordFailure(idx int) {
	if idx < 0 || idx >= len(lb.circuits) {
		return
	}
	c := lb.circuits[idx]
	count := c.failureCount.Add(1)
	if count >= circuitBreakerThreshold {
		openUntil := lb.now().Add(circuitBreakerCooldown).Unix()
		c.openUntilUnixSec.Store(openUntil)
		slog.Warn("provider circuit opened", slog.Int("slot", idx), slog.Int("failures", int(count)))
	}
}

// recordFailureIfServerError only trips the breaker for 5xx/transport
// failures — a 4xx (e.g. bad model name) is the caller's fault, not the
// provider's, and must not count toward the threshold.
func (lb *LoadBalancedProvider) recordFailureIfServerError(idx int, err error) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
		return
	}
	lb.recordFailure(idx)
}

func (lb *LoadBalancedProvider) recordSuccess(idx int) {
	if idx < 0 || idx >= len(lb.circuits) {
		return
	}
	lb.circuits[idx].failureCount.Store(0)
}

// AllProvidersDown reports whether every slot's circuit is currently open.
func (lb *LoadBalancedProvider) AllProvidersDown() bool {
	if len(lb.providers) == 0 {
		return true
	}
	for i := range lb.providers {
		if lb.isAvailable(i) {
			return false
		}
	}
	return true
}

// ProviderStatus is a point-in-time snapshot of slot availability, the
// payload behind the §5/§9 process-wide status-ping cache.
type ProviderStatus struct {
	Total     int      `json:"total"`
	Available int      `json:"available"`
	Down      []string `json:"down,omitempty"`
}

// Status reports which slots are currently circuit-open, by name.
// Cheap to compute but still worth caching behind Server's singleflight
// status cache under load (§5: "the ping/status cache is... a 60-second
// TTL").
func (lb *LoadBalancedProvider) Status() ProviderStatus {
	st := ProviderStatus{Total: len(lb.providers)}
	for i, p := range lb.providers {
		if lb.isAvailable(i) {
			st.Available++
		} else {
			st.Down = append(st.Down, p.Name())
		}
	}
	return st
}

// family classifies a model name into the coarse provider family buckets
// the cross-family translation and selection logic switches on.
func family(modelLower string) string {
	switch {
	case strings.Contains(modelLower, "claude") || strings.Contains(modelLower, "anthropic"):
		return "claude"
	case strings.Contains(modelLower, "gemini"):
		return "gemini"
	case strings.Contains(modelLower, "kimi") || strings.Contains(modelLower, "moonshot"):
		return "kimi"
	case strings.Contains(modelLower, "qwen"):
		return "qwen"
	case strings.Contains(modelLower, "llama") || strings.Contains(modelLower, "mixtral") || strings.Contains(modelLower, "groq"):
		return "groq"
	case strings.Contains(modelLower, "deepseek"):
		return "deepseek"
	case strings.Contains(modelLower, "minimax"):
		return "minimax"
	case strings.Contains(modelLower, "glm") || strings.Contains(modelLower, "z-ai"):
		return "glm"
	case strings.Contains(modelLower, "gpt") || strings.Contains(modelLower, "openai"):
		return "openai"
	default:
		return ""
	}
}

// selectProviderIdx picks an available slot whose default model's family
// matches the requested model, round-robining among matches; falls back
// to any available slot (then to a blind round-robin) if none match.
func (lb *LoadBalancedProvider) selectProviderIdx(model string) int {
	modelLower := strings.ToLower(model)
	wantFamily := family(modelLower)

	var matching []int
	for i, p := range lb.providers {
		if !lb.isAvailable(i) {
			continue
		}
		defaultLower := strings.ToLower(p.DefaultModel())
		if wantFamily == "" || family(defaultLower) == wantFamily {
			matching = append(matching, i)
		}
	}

	if len(matching) == 0 {
		var available []int
		for i := range lb.providers {
			if lb.isAvailable(i) {
				available = append(available, i)
			}
		}
		if len(available) == 0 {
			return int(lb.counter.Add(1)) % len(lb.providers)
		}
		idx := int(lb.counter.Add(1)) % len(available)
		return available[idx]
	}
	idx := int(lb.counter.Add(1)) % len(matching)
	return matching[idx]
}

// convertModelForProvider rewrites requestedModel into one p actually
// serves: same-family requests pass through untouched, OpenRouter/
// MiniMax/GLM/Kimi slots accept any model id, and genuine cross-family
// fallbacks substitute that family's best-known default.
func convertModelForProvider(p Provider, requestedModel string) string {
	reqFamily := family(strings.ToLower(requestedModel))
	provDefaultLower := strings.ToLower(p.DefaultModel())
	provFamily := family(provDefaultLower)
	isOpenRouter := strings.Contains(provDefaultLower, "openrouter")

	if reqFamily != "" && reqFamily == provFamily {
		return requestedModel
	}
	if isOpenRouter || provFamily == "minimax" || provFamily == "glm" || provFamily == "kimi" {
		return requestedModel
	}

	switch provFamily {
	case "claude":
		return "claude-sonnet-4-6"
	case "gemini":
		return "gemini-2.5-flash"
	case "groq":
		return "llama-3.3-70b-specdec"
	case "deepseek":
		return "deepseek-chat"
	default:
		return "gpt-4o"
	}
}

// tierCandidates is the fallback chain for each named model tier, used by
// GetTierModel (memory consolidation asks it for "economy"). A tier name
// passed as a request model is not expanded through this table.
var tierCandidates = map[string][]string{
	"economy":  {"gemini-2.5-flash", "deepseek-chat", "llama-3.3-70b-specdec"},
	"normal":   {"minimax/minimax-m2.5", "gemini-2.5-flash"},
	"powerful": {"claude-sonnet-4-6", "gpt-4o", "gemini-2.5-pro"},
}

// GetTierModel resolves a named tier ("economy"|"normal"|"powerful") to a
// concrete (provider, model) pair by walking its candidate chain and
// matching against configured adapters' default models.
func (lb *LoadBalancedProvider) GetTierModel(tier string) (Provider, string, bool) {
	candidates, ok := tierCandidates[tier]
	if !ok {
		return nil, "", false
	}
	for _, candidate := range candidates {
		candidateLower := strings.ToLower(candidate)
		for _, p := range lb.providers {
			if strings.ToLower(p.DefaultModel()) == candidateLower {
				return p, candidate, true
			}
		}
		for _, p := range lb.providers {
			d := strings.ToLower(p.DefaultModel())
			if strings.Contains(candidateLower, d) || strings.Contains(d, candidateLower) {
				return p, candidate, true
			}
		}
	}
	return nil, "", false
}

// availableParallelModels returns one (model, slot index) pair per
// distinct family among currently-closed circuits — the input set for
// chat_parallel / chat_explore / chat_race.
func (lb *LoadBalancedProvider) availableParallelModels() []struct {
	model string
	idx   int
} {
	var out []struct {
		model string
		idx   int
	}
	seen := map[string]bool{}
	for i, p := range lb.providers {
		if !lb.isAvailable(i) {
			continue
		}
		defaultLower := strings.ToLower(p.DefaultModel())
		fam := family(defaultLower)
		if fam == "" {
			fam = "openai"
		}
		if strings.Contains(defaultLower, "openrouter") {
			continue
		}
		if seen[fam] {
			continue
		}
		seen[fam] = true
		out = append(out, struct {
			model string
			idx   int
		}{p.DefaultModel(), i})
	}
	return out
}

// Chat dispatches with sequential-with-fast-failover: the selected
// primary gets a 3s head start, then every other available slot races in
// parallel for up to 7s, first success wins. If every remote slot fails,
// the optional local-fallback slot gets one try.
func (lb *LoadBalancedProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64) (resp *CompletionResponse, err error) {
	defer func() {
		if err != nil && lb.localFallback != nil && ctx.Err() == nil {
			if r, lerr := lb.localFallback.Chat(ctx, messages, nil, lb.localFallback.DefaultModel(), maxTokens, temperature); lerr == nil {
				resp, err = r, nil
			}
		}
	}()

	total := len(lb.providers)
	if total == 0 {
		return nil, fmt.Errorf("load-balanced: no providers configured")
	}

	primaryIdx := lb.selectProviderIdx(model)
	primary := lb.providers[primaryIdx]

	primaryCtx, cancel := context.WithTimeout(ctx, primaryHeadStart)
	resp, err = primary.Chat(primaryCtx, messages, tools, model, maxTokens, temperature)
	cancel()

	if err == nil {
		lb.recordSuccess(primaryIdx)
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		lb.recordFailureIfServerError(primaryIdx, err)
	}
	slog.Warn("primary provider failed, racing fallbacks", slog.String("model", model), slog.Any("err", err))

	if total <= 1 {
		return nil, fmt.Errorf("load-balanced: all providers failed: %w", err)
	}

	start := int(lb.counter.Load())
	type result struct {
		resp *CompletionResponse
		idx  int
	}
	resultCh := make(chan result, total)
	failCh := make(chan int, total)

	spawned := 0
	for i := 0; i < total; i++ {
		idx := (start + i) % total
		if idx == primaryIdx || !lb.isAvailable(idx) {
			continue
		}
		p := lb.providers[idx]
		converted := convertModelForProvider(p, model)
		spawned++
		go func(idx int, p Provider, converted string) {
			fCtx, fCancel := context.WithTimeout(ctx, parallelFallbackTimeout)
			defer fCancel()
			r, fErr := p.Chat(fCtx, messages, tools, converted, maxTokens, temperature)
			if fErr == nil {
				resultCh <- result{r, idx}
				return
			}
			var httpErr *HTTPError
			isServerError := !(errors.As(fErr, &httpErr) && httpErr.StatusCode < 500)
			if isServerError {
				failCh <- idx
			}
		}(idx, p, converted)
	}

	if spawned == 0 {
		return nil, fmt.Errorf("load-balanced: all providers failed: %w", err)
	}

	deadline := time.After(parallelFallbackTimeout + time.Second)
	remaining := spawned
	for remaining > 0 {
		select {
		case r := <-resultCh:
			lb.recordSuccess(r.idx)
			return r.resp, nil
		case idx := <-failCh:
			lb.recordFailure(idx)
			remaining--
		case <-deadline:
			return nil, fmt.Errorf("load-balanced: all providers failed")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("load-balanced: all providers failed")
}

func (lb *LoadBalancedProvider) ChatWithExtra(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64, extra ChatExtra) (*CompletionResponse, error) {
	return chatWithExtraFallback(ctx, lb, messages, tools, model, maxTokens, temperature)
}

// ChatStream dispatches sequentially (never races, since every slot would
// otherwise write to the same delta sink): walk available slots in
// round-robin order, each gets up to 600s, first success wins. Deltas a
// failing slot already passed to onDelta are not retracted: the next
// slot's deltas are appended after them.
func (lb *LoadBalancedProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, maxTokens int, temperature float64, extra ChatExtra, onDelta func(string)) (*CompletionResponse, error) {
	total := len(lb.providers)
	if total == 0 {
		return nil, fmt.Errorf("load-balanced: no providers configured")
	}

	start := int(lb.counter.Load())
	var lastErr error
	for i := 0; i < total; i++ {
		idx := (start + i) % total
		if !lb.isAvailable(idx) {
			continue
		}
		p := lb.providers[idx]
		converted := convertModelForProvider(p, model)

		streamCtx, cancel := context.WithTimeout(ctx, raceModelTimeout)
		resp, err := p.ChatStream(streamCtx, messages, tools, converted, maxTokens, temperature, extra, onDelta)
		cancel()

		if err == nil {
			lb.recordSuccess(idx)
			return resp, nil
		}
		lb.recordFailureIfServerError(idx, err)
		lastErr = err
		slog.Warn("stream provider failed, trying next", slog.Int("slot", idx), slog.Any("err", err))
	}
	return nil, fmt.Errorf("load-balanced: all stream providers failed: %w", lastErr)
}

// ChatParallel races one model per family, returning the fastest success
// plus the usage of every model that completed (so the caller can bill
// every call that actually ran, not just the winner).
func (lb *LoadBalancedProvider) ChatParallel(ctx context.Context, messages []Message, tools []ToolDefinition, maxTokens int, temperature float64) (*CompletionResponse, string, []UsageEntry, error) {
	candidates := lb.availableParallelModels()
	if len(candidates) == 0 {
		return nil, "", nil, fmt.Errorf("load-balanced: no providers available for parallel mode")
	}

	type outcome struct {
		resp  *CompletionResponse
		model string
	}
	resultCh := make(chan outcome, len(candidates))

	for _, c := range candidates {
		p := lb.providers[c.idx]
		model := c.model
		go func() {
			resp, err := p.Chat(ctx, messages, tools, model, maxTokens, temperature)
			if err != nil {
				slog.Warn("parallel model failed", slog.String("model", model), slog.Any("err", err))
				resultCh <- outcome{model: model}
				return
			}
			resultCh <- outcome{resp, model}
		}()
	}

	var all []UsageEntry
	var winner *outcome
	remaining := len(candidates)
	timeout := time.After(raceModelTimeout)
	for remaining > 0 {
		select {
		case o := <-resultCh:
			remaining--
			if o.resp == nil {
				continue
			}
			all = append(all, UsageEntry{o.model, o.resp.Usage.PromptTokens, o.resp.Usage.CompletionTokens})
			if winner == nil {
				winner = &o
			}
		case <-timeout:
			remaining = 0
		case <-ctx.Done():
			if winner != nil {
				return winner.resp, winner.model, all, nil
			}
			return nil, "", nil, ctx.Err()
		}
	}
	if winner == nil {
		return nil, "", nil, fmt.Errorf("load-balanced: all parallel providers failed")
	}
	return winner.resp, winner.model, all, nil
}

// ChatExplore runs every family's model in parallel and returns every
// result that completed, not just the fastest.
func (lb *LoadBalancedProvider) ChatExplore(ctx context.Context, messages []Message, tools []ToolDefinition, maxTokens int, temperature float64) []ExploreResult {
	candidates := lb.availableParallelModels()
	resultCh := make(chan ExploreResult, len(candidates)+1)

	for _, c := range candidates {
		p := lb.providers[c.idx]
		model := c.model
		go func() {
			start := time.Now()
			resp, err := p.Chat(ctx, messages, tools, model, maxTokens, temperature)
			if err != nil {
				slog.Warn("explore model failed", slog.String("model", model), slog.Any("err", err))
				return
			}
			resultCh <- ExploreResult{
				Model:            model,
				Response:         resp.Content,
				ResponseTimeMS:   time.Since(start).Milliseconds(),
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			}
		}()
	}
	if lb.localFallback != nil {
		go func() {
			start := time.Now()
			resp, err := lb.localFallback.Chat(ctx, messages, nil, lb.localFallback.DefaultModel(), min(maxTokens, 512), temperature)
			if err != nil {
				slog.Warn("explore local fallback failed", slog.Any("err", err))
				return
			}
			resultCh <- ExploreResult{
				Model:            lb.localFallback.DefaultModel(),
				Response:         resp.Content,
				ResponseTimeMS:   time.Since(start).Milliseconds(),
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				IsFallback:       true,
			}
		}()
	}

	return lb.collectUntilTimeout(resultCh, len(candidates), ctx)
}

func (lb *LoadBalancedProvider) collectUntilTimeout(ch chan ExploreResult, expected int, ctx context.Context) []ExploreResult {
	var results []ExploreResult
	deadline := time.After(raceModelTimeout)
	want := expected
	if lb.localFallback != nil {
		want++
	}
	for len(results) < want {
		select {
		case r := <-ch:
			results = append(results, r)
		case <-deadline:
			return results
		case <-ctx.Done():
			return results
		}
	}
	return results
}

// ChatRace runs every family's model in parallel and returns every result
// that completed within 600s, ranked by completion order (rank 1 =
// fastest), per §4.2 explore/race mode.
func (lb *LoadBalancedProvider) ChatRace(ctx context.Context, messages []Message, tools []ToolDefinition, maxTokens int, temperature float64) []RaceResult {
	candidates := lb.availableParallelModels()
	var rank atomic.Int32
	resultCh := make(chan RaceResult, len(candidates)+1)

	launch := func(p Provider, model string, isFallback bool) {
		go func() {
			start := time.Now()
			rCtx, cancel := context.WithTimeout(ctx, raceModelTimeout)
			defer cancel()
			resp, err := p.Chat(rCtx, messages, tools, model, maxTokens, temperature)
			if err != nil {
				slog.Warn("race model failed", slog.String("model", model), slog.Any("err", err))
				return
			}
			resultCh <- RaceResult{
				Model:            model,
				Response:         resp.Content,
				ResponseTimeMS:   time.Since(start).Milliseconds(),
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				Rank:             int(rank.Add(1)),
				IsFallback:       isFallback,
			}
		}()
	}

	for _, c := range candidates {
		launch(lb.providers[c.idx], c.model, false)
	}
	if lb.localFallback != nil {
		launch(lb.localFallback, lb.localFallback.DefaultModel(), true)
	}

	want := len(candidates)
	if lb.localFallback != nil {
		want++
	}
	var results []RaceResult
	deadline := time.After(raceModelTimeout)
	for len(results) < want {
		select {
		case r := <-resultCh:
			results = append(results, r)
		case <-deadline:
			return results
		case <-ctx.Done():
			return results
		}
	}
	return results
}

// ChatRaceStream is ChatRace but yields each result on a channel as it
// completes, for the Streaming Orchestrator's explore-mode SSE variant.
// The channel is closed once every launched model has finished (success,
// failure, or per-model timeout) or the outer context is done.
func (lb *LoadBalancedProvider) ChatRaceStream(ctx context.Context, messages []Message, tools []ToolDefinition, maxTokens int, temperature float64) <-chan RaceResult {
	candidates := lb.availableParallelModels()
	var rank atomic.Int32
	out := make(chan RaceResult, len(candidates)+1)

	want := len(candidates)
	if lb.localFallback != nil {
		want++
	}
	done := make(chan struct{}, want)

	launch := func(p Provider, model string, isFallback bool) {
		go func() {
			defer func() { done <- struct{}{} }()
			start := time.Now()
			rCtx, cancel := context.WithTimeout(ctx, raceModelTimeout)
			defer cancel()
			resp, err := p.Chat(rCtx, messages, tools, model, maxTokens, temperature)
			if err != nil {
				slog.Warn("race stream model failed", slog.String("model", model), slog.Any("err", err))
				return
			}
			out <- RaceResult{
				Model:            model,
				Response:         resp.Content,
				ResponseTimeMS:   time.Since(start).Milliseconds(),
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				Rank:             int(rank.Add(1)),
				IsFallback:       isFallback,
			}
		}()
	}

	for _, c := range candidates {
		launch(lb.providers[c.idx], c.model, false)
	}
	if lb.localFallback != nil {
		launch(lb.localFallback, lb.localFallback.DefaultModel(), true)
	}

	go func() {
		defer close(out)
		for i := 0; i < want; i++ {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
