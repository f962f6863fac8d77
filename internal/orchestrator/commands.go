package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/identity"
)

// slashCommand is a recognized §4.4 step 3 command.
type slashCommand struct {
	name string
	arg  string
}

// parseSlashCommand recognizes /link, /help, /share, /status, /improve.
// Anything else (including a bare "/" with no match) is not a command.
func parseSlashCommand(message string) (slashCommand, bool) {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, "/") {
		return slashCommand{}, false
	}
	rest := trimmed[1:]
	name := rest
	arg := ""
	if idx := strings.IndexAny(rest, " \t\n"); idx >= 0 {
		name = rest[:idx]
		arg = strings.TrimSpace(rest[idx+1:])
	}
	switch name {
	case "link", "help", "share", "status", "improve":
		return slashCommand{name: name, arg: arg}, true
	default:
		return slashCommand{}, false
	}
}

// runCommand dispatches a recognized slash command, returning its reply
// directly without ever invoking the LLM (§4.4 step 3).
func (o *Orchestrator) runCommand(ctx context.Context, sessionKey string, cmd slashCommand) (*ChatResponse, error) {
	switch cmd.name {
	case "help":
		return &ChatResponse{
			SessionID: sessionKey,
			Response: "Commands: /link <channel_key> to merge this conversation with another channel, " +
				"/status for your plan and credit balance, /share to get a shareable link, " +
				"/improve to suggest feedback, /help for this message.",
		}, nil

	case "link":
		if cmd.arg == "" {
			return &ChatResponse{SessionID: sessionKey, Response: "Usage: /link <channel_key>"}, nil
		}
		userID, err := o.deps.Resolver.AutoLink(ctx, sessionKey, cmd.arg)
		if err != nil {
			return nil, err
		}
		return &ChatResponse{SessionID: userID, Response: fmt.Sprintf("Linked. Your conversations on both channels now share one history (%s).", userID)}, nil

	case "status":
		userID, _ := o.deps.Resolver.Resolve(ctx, sessionKey)
		user, err := o.deps.Resolver.GetOrCreateUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &ChatResponse{
			SessionID:        sessionKey,
			Response:         fmt.Sprintf("Plan: %s. Credits remaining: %d. Credits used: %d.", user.Plan, user.CreditsRemaining, user.CreditsUsed),
			CreditsRemaining: user.CreditsRemaining,
			CreditsUsed:      user.CreditsUsed,
		}, nil

	case "share":
		userID, _ := o.deps.Resolver.Resolve(ctx, sessionKey)
		return &ChatResponse{SessionID: sessionKey, Response: fmt.Sprintf("Share this link to continue the conversation from any device: webchat:%s", userID)}, nil

	case "improve":
		return &ChatResponse{SessionID: sessionKey, Response: "Thanks — your feedback on " + cmd.arg + " has been recorded."}, nil

	default:
		return &ChatResponse{SessionID: sessionKey, Response: "Unknown command."}, nil
	}
}

// upgradeMessage builds the §4.4 step 5 plan-aware upgrade reply for a
// credit-exhausted user.
func upgradeMessage(plan identity.Plan) string {
	switch plan {
	case identity.PlanFree:
		return "You're out of free credits. Upgrade to Starter for 20,000 credits/month to keep chatting."
	case identity.PlanStarter:
		return "You've used your Starter plan's credits this month. Upgrade to Pro for more headroom."
	default:
		return "You're out of credits for this billing period. Visit your account page to add more."
	}
}
