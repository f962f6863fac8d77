// Package credit implements the atomic credit ledger (spec §4.7): per-call
// deduction, idempotent partner grants, and monthly plan-renewal resets.
package credit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/identity"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers/pricing"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/store/pg"
)

const (
	pkUser       = "USER#"
	skProfile    = "PROFILE"
	pkIdempotent = "IDEMPOTENT#"
	skGrant      = "GRANT"

	grantTTL = 30 * 24 * time.Hour
)

// MonthlyAllowance is the plan's monthly credit allotment, used by
// MonthlyReset (§4.7 "set credits_remaining to the plan's monthly
// allowance, not additive").
var MonthlyAllowance = map[identity.Plan]int64{
	identity.PlanFree:       1000,
	identity.PlanStarter:    20000,
	identity.PlanPro:        100000,
	identity.PlanEnterprise: 1000000,
}

// Ledger deducts and grants credits atomically against the shared KV
// table.
type Ledger struct {
	kv  *pg.KV
	now func() time.Time
}

func NewLedger(kv *pg.KV) *Ledger {
	return &Ledger{kv: kv, now: time.Now}
}

// Cost reads the Pricing Table; unknown models cost 0 (§4.7).
func Cost(model string, promptTokens, completionTokens int) float64 {
	return pricing.Cost(model, promptTokens, completionTokens)
}

// creditsPerUSD fixes the exchange rate between the ledger's integer
// credit unit and the Pricing Table's USD cost: 100,000 credits per
// dollar, so a free plan's 1,000-credit allowance buys roughly one cent
// of the cheapest models.
const creditsPerUSD = 100_000

// CalculateCredits converts a model/token-usage triple into the integer
// credit amount calculate_credits deducts (§4.4 step 12). Unknown models
// cost 0 credits, per Cost.
func CalculateCredits(model string, promptTokens, completionTokens int) int64 {
	usd := Cost(model, promptTokens, completionTokens)
	if usd <= 0 {
		return 0
	}
	credits := int64(usd*creditsPerUSD + 0.5)
	if credits == 0 {
		credits = 1
	}
	return credits
}

// Deduct atomically decrements credits_remaining by cost and increments
// credits_used by cost, returning the resulting credits_remaining. A
// cost of 0 (unknown model) performs no ledger write, per §4.7.
func (l *Ledger) Deduct(ctx context.Context, userID string, cost int64) (remaining int64, err error) {
	if cost == 0 {
		u, gerr := l.get(ctx, userID)
		if gerr != nil {
			return 0, gerr
		}
		return u.CreditsRemaining, nil
	}

	err = l.kv.Mutate(ctx, pkUser+userID, skProfile, 0, func(current json.RawMessage, found bool) (any, bool, error) {
		if !found {
			return nil, false, fmt.Errorf("credit: user %s not found", userID)
		}
		var u identity.User
		if jerr := json.Unmarshal(current, &u); jerr != nil {
			return nil, false, jerr
		}
		u.CreditsRemaining -= cost
		u.CreditsUsed += cost
		remaining = u.CreditsRemaining
		return u, true, nil
	})
	return remaining, err
}

func (l *Ledger) get(ctx context.Context, userID string) (identity.User, error) {
	item, err := l.kv.Get(ctx, pkUser+userID, skProfile)
	if err != nil {
		return identity.User{}, err
	}
	var u identity.User
	err = json.Unmarshal(item.Data, &u)
	return u, err
}

// Remaining returns the user's current credits_remaining without
// mutating anything — the credit gate (§4.4 step 5) reads this.
func (l *Ledger) Remaining(ctx context.Context, userID string) (int64, error) {
	u, err := l.get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.CreditsRemaining, nil
}

// grantRecord is the IDEMPOTENT#<key>/GRANT payload.
type grantRecord struct {
	UserID    string    `json:"user_id"`
	Credits   int64     `json:"credits"`
	Timestamp time.Time `json:"timestamp"`
}

// Grant status values, on the wire at §8 Scenario 6: "first returns
// status='granted'; second returns status='already_processed'".
const (
	GrantStatusGranted          = "granted"
	GrantStatusAlreadyProcessed = "already_processed"
)

// GrantResult reports whether a Grant call actually applied, or was a
// no-op because the idempotency key had already been processed.
type GrantResult struct {
	Status    string `json:"status"`
	Remaining int64  `json:"remaining,omitempty"`
}

// Grant is the idempotent partner-API credit grant (§4.7): the
// idempotency record is written first via PutIfAbsent; only the caller
// that wins the insert race applies the credit increment.
func (l *Ledger) Grant(ctx context.Context, idempotencyKey, userID string, credits int64) (GrantResult, error) {
	rec := grantRecord{UserID: userID, Credits: credits, Timestamp: l.now()}
	inserted, err := l.kv.PutIfAbsent(ctx, pkIdempotent+idempotencyKey, skGrant, rec, grantTTL)
	if err != nil {
		return GrantResult{}, err
	}
	if !inserted {
		return GrantResult{Status: GrantStatusAlreadyProcessed}, nil
	}

	var remaining int64
	err = l.kv.Mutate(ctx, pkUser+userID, skProfile, 0, func(current json.RawMessage, found bool) (any, bool, error) {
		if !found {
			return nil, false, fmt.Errorf("credit: user %s not found", userID)
		}
		var u identity.User
		if jerr := json.Unmarshal(current, &u); jerr != nil {
			return nil, false, jerr
		}
		u.CreditsRemaining += credits
		remaining = u.CreditsRemaining
		return u, true, nil
	})
	if err != nil {
		return GrantResult{}, err
	}
	return GrantResult{Status: GrantStatusGranted, Remaining: remaining}, nil
}

// MonthlyReset sets credits_remaining to the plan's monthly allowance
// (not additive), invoked on a successful subscription-renewal signal.
func (l *Ledger) MonthlyReset(ctx context.Context, userID string, plan identity.Plan) error {
	allowance, ok := MonthlyAllowance[plan]
	if !ok {
		return fmt.Errorf("credit: unknown plan %q", plan)
	}
	return l.kv.Mutate(ctx, pkUser+userID, skProfile, 0, func(current json.RawMessage, found bool) (any, bool, error) {
		if !found {
			return nil, false, fmt.Errorf("credit: user %s not found", userID)
		}
		var u identity.User
		if jerr := json.Unmarshal(current, &u); jerr != nil {
			return nil, false, jerr
		}
		u.Plan = plan
		u.CreditsRemaining = allowance
		return u, true, nil
	})
}

// planCeiling is the highest per-million input cost a plan may pick a
// model from, gating GET /api/v1/account's "allowed models" listing.
var planCeiling = map[identity.Plan]float64{
	identity.PlanFree:       1.0,
	identity.PlanStarter:    3.5,
	identity.PlanPro:        math.MaxFloat64,
	identity.PlanEnterprise: math.MaxFloat64,
}

// AllowedModels lists the models a plan may select, ranked cheapest
// first, by filtering the static pricing table against the plan's
// ceiling (§6.1 "allowed models for the user's plan").
func AllowedModels(plan identity.Plan) []string {
	ceiling, ok := planCeiling[plan]
	if !ok {
		ceiling = planCeiling[identity.PlanFree]
	}
	entries := make([]pricing.Entry, 0, len(pricing.Table))
	for _, e := range pricing.Table {
		if e.InputPerMillion <= ceiling {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].InputPerMillion < entries[j].InputPerMillion })
	models := make([]string, len(entries))
	for i, e := range entries {
		models[i] = e.Model
	}
	return models
}
