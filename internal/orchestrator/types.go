// Package orchestrator implements the Chat Orchestrator and its streaming
// variant (spec §4.4/§4.5): the per-request pipeline that resolves
// identity, detects an agent, loads memory, calls the provider layer,
// runs the agentic tool loop, deducts credits, and persists the turn.
package orchestrator

import (
	"log/slog"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/credit"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/identity"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/memory"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/sessions"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/sync"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/tools"
)

// ChatRequest is the decoded POST /api/v1/chat body (§6.1).
type ChatRequest struct {
	Message    string `json:"message"`
	SessionID  string `json:"session_id,omitempty"`
	Channel    string `json:"channel,omitempty"`
	Model      string `json:"model,omitempty"`
	MultiModel bool   `json:"multi_model,omitempty"`
	Device     string `json:"device,omitempty"`
}

// ChatResponse is the §4.4 step 14 response shape.
type ChatResponse struct {
	Response         string   `json:"response"`
	SessionID        string   `json:"session_id"`
	Agent            string   `json:"agent"`
	ToolsUsed        []string `json:"tools_used,omitempty"`
	CreditsUsed      int64    `json:"credits_used,omitempty"`
	CreditsRemaining int64    `json:"credits_remaining,omitempty"`
	ModelUsed        string   `json:"model_used"`
	InputTokens      int      `json:"input_tokens,omitempty"`
	OutputTokens     int      `json:"output_tokens,omitempty"`
	EstimatedCostUSD float64  `json:"estimated_cost_usd,omitempty"`
	Action           string   `json:"action,omitempty"`
	Iterations       int      `json:"iterations,omitempty"`
}

// Deps bundles every leaf component the pipeline calls into.
type Deps struct {
	Resolver *identity.Resolver
	Sessions *sessions.Manager
	Ledger   *credit.Ledger
	Sync     *sync.Tracker
	Memory   *memory.Store
	Tools    *tools.Registry
	Provider *providers.LoadBalancedProvider
	Logger   *slog.Logger

	// GlobalDefaultModel is the last-resort entry in the model-resolution
	// precedence chain (§4.4 step 9).
	GlobalDefaultModel string
	// ChannelDefaultModel maps a channel name ("webchat", "tg", ...) to
	// its default model, one rung above the global default.
	ChannelDefaultModel map[string]string
}

// Orchestrator runs the chat pipeline against a fixed set of Deps.
type Orchestrator struct {
	deps  Deps
	guard *concurrencyGuard
}

// New builds an Orchestrator. deps.Logger defaults to slog.Default() if nil.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{deps: deps, guard: newConcurrencyGuard()}
}

// iterationCap returns the agentic tool loop's iteration cap by plan
// (§4.4 step 11).
func iterationCap(plan identity.Plan) int {
	switch plan {
	case identity.PlanFree:
		return 1
	case identity.PlanStarter:
		return 3
	default: // pro, enterprise
		return 5
	}
}

// concurrencyLimit returns the per-session active-request cap by plan
// (§4.4 step 6).
func concurrencyLimit(plan identity.Plan) int {
	if plan == identity.PlanFree {
		return 10
	}
	return 1000
}
