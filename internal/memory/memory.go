// Package memory implements the per-user long-term + daily rolling
// memory leaf (spec §3/§4.7 DESIGN NOTES): appended Q/A summaries
// consolidated into a long-term summary every 10 appends via the
// cheapest available model.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/store/pg"
)

const (
	pkMemory         = "MEMORY#"
	skLongTerm       = "LONG_TERM"
	skDailyPrefix    = "DAILY#"
	consolidateEvery = 10
)

// LongTerm is the consolidated summary sibling (§3 Memory).
type LongTerm struct {
	Summary string `json:"summary"`
}

// Daily is the appended Q/A rolling log sibling for one calendar day.
type Daily struct {
	Entries []string `json:"entries"`
}

// Store reads and appends memory against the shared KV table and runs
// consolidation via a Provider.
type Store struct {
	kv     *pg.KV
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(kv *pg.KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger, now: time.Now}
}

func dailyKey(t time.Time) string {
	return skDailyPrefix + t.Format("2006-01-02")
}

// Context assembles the memory context string the prompt-assembly step
// (§4.4 step 8) appends: long-term summary + yesterday's + today's daily
// log, each on its own paragraph, empty strings omitted.
func (s *Store) Context(ctx context.Context, userID string) (string, error) {
	var parts []string

	if lt, err := s.longTerm(ctx, userID); err == nil && lt.Summary != "" {
		parts = append(parts, lt.Summary)
	}

	now := s.now()
	if d, err := s.daily(ctx, userID, dailyKey(now.AddDate(0, 0, -1))); err == nil && len(d.Entries) > 0 {
		parts = append(parts, "Yesterday:\n"+strings.Join(d.Entries, "\n"))
	}
	if d, err := s.daily(ctx, userID, dailyKey(now)); err == nil && len(d.Entries) > 0 {
		parts = append(parts, "Today:\n"+strings.Join(d.Entries, "\n"))
	}

	return strings.Join(parts, "\n\n"), nil
}

func (s *Store) longTerm(ctx context.Context, userID string) (LongTerm, error) {
	item, err := s.kv.Get(ctx, pkMemory+userID, skLongTerm)
	if err != nil {
		return LongTerm{}, err
	}
	var lt LongTerm
	err = json.Unmarshal(item.Data, &lt)
	return lt, err
}

func (s *Store) daily(ctx context.Context, userID, sk string) (Daily, error) {
	item, err := s.kv.Get(ctx, pkMemory+userID, sk)
	if err != nil {
		return Daily{}, err
	}
	var d Daily
	err = json.Unmarshal(item.Data, &d)
	return d, err
}

// AppendDaily appends one Q/A summary to today's rolling log, returning
// the new entry count so the caller can decide whether to trigger
// consolidation (every 10 appends, §3).
func (s *Store) AppendDaily(ctx context.Context, userID, summary string) (count int, err error) {
	sk := dailyKey(s.now())
	err = s.kv.Mutate(ctx, pkMemory+userID, sk, 31*24*time.Hour, func(current json.RawMessage, found bool) (any, bool, error) {
		var d Daily
		if found {
			if jerr := json.Unmarshal(current, &d); jerr != nil {
				return nil, false, jerr
			}
		}
		d.Entries = append(d.Entries, summary)
		count = len(d.Entries)
		return d, true, nil
	})
	return count, err
}

// ShouldConsolidate reports whether count crosses a consolidation
// threshold (every N=10 appends).
func ShouldConsolidate(count int) bool {
	return count > 0 && count%consolidateEvery == 0
}

// Consolidate summarizes today's rolling log into the long-term summary
// using the cheapest available model, fire-and-forget from the caller's
// perspective — errors are logged, not surfaced (§5: "must be
// idempotent to survive retries").
func (s *Store) Consolidate(ctx context.Context, lb *providers.LoadBalancedProvider, userID string) {
	provider, model, ok := lb.GetTierModel("economy")
	if !ok {
		s.logger.Warn("memory consolidation skipped: no economy-tier model available", slog.String("user_id", userID))
		return
	}

	d, err := s.daily(ctx, userID, dailyKey(s.now()))
	if err != nil || len(d.Entries) == 0 {
		return
	}
	lt, _ := s.longTerm(ctx, userID)

	prompt := fmt.Sprintf(
		"Existing long-term memory summary:\n%s\n\nNew entries to fold in:\n%s\n\nProduce an updated, concise long-term memory summary.",
		lt.Summary, strings.Join(d.Entries, "\n"),
	)
	resp, err := provider.Chat(ctx, []providers.Message{{Role: "user", Content: prompt}}, nil, model, 1024, 0.3)
	if err != nil {
		s.logger.Warn("memory consolidation failed", slog.String("user_id", userID), slog.String("error", err.Error()))
		return
	}

	if err := s.kv.Put(ctx, pkMemory+userID, skLongTerm, LongTerm{Summary: resp.Content}, 0); err != nil {
		s.logger.Warn("memory consolidation write failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

// Clear deletes both memory siblings for the current day plus long-term
// (DELETE /api/v1/memory, §6.1). Historical daily logs beyond today are
// left to their TTL.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if err := s.kv.Delete(ctx, pkMemory+userID, skLongTerm); err != nil {
		return err
	}
	return s.kv.Delete(ctx, pkMemory+userID, dailyKey(s.now()))
}
