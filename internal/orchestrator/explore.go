package orchestrator

import (
	"context"
	"unicode/utf8"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/agentrouter"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/apperr"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/credit"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
)

// ExploreResponse is the POST /api/v1/chat/explore response shape (§6.1:
// "per-model result array and total credits").
type ExploreResponse struct {
	SessionID        string                    `json:"session_id"`
	Agent            string                    `json:"agent"`
	Results          []providers.ExploreResult `json:"results"`
	CreditsUsed      int64                     `json:"credits_used"`
	CreditsRemaining int64                     `json:"credits_remaining"`
}

// Explore runs every configured model in parallel via chat_explore and
// bills for all of them, not just one (§4.2's exhaustive dispatch mode).
func (o *Orchestrator) Explore(ctx context.Context, channelKey string, req ChatRequest) (*ExploreResponse, error) {
	if utf8.RuneCountInString(req.Message) > maxMessageChars {
		return nil, apperr.BadInput("message too long")
	}

	userID, linked := o.deps.Resolver.Resolve(ctx, channelKey)
	sessionKey := channelKey
	if linked {
		sessionKey = userID
	} else {
		userID = channelKey
	}

	user, err := o.deps.Resolver.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("load user", err)
	}
	if user.CreditsRemaining <= 0 {
		return nil, apperr.CreditExhausted("no credits remaining")
	}

	profile, cleaned, _ := agentrouter.Route(req.Message)
	history := o.deps.Sessions.GetHistory(sessionKey, historyWindow)
	messages := assembleMessages(profile.SystemPrompt, "", history, cleaned, false)

	results := o.deps.Provider.ChatExplore(ctx, messages, nil, defaultMaxTokens, 0.7)

	var totalCredits int64
	for _, r := range results {
		totalCredits += credit.CalculateCredits(r.Model, r.PromptTokens, r.CompletionTokens)
	}
	remaining, derr := o.deps.Ledger.Deduct(ctx, userID, totalCredits)
	if derr != nil {
		return nil, apperr.Internal("credit deduction failed", derr)
	}

	return &ExploreResponse{
		SessionID:        sessionKey,
		Agent:            profile.ID,
		Results:          results,
		CreditsUsed:      totalCredits,
		CreditsRemaining: remaining,
	}, nil
}
