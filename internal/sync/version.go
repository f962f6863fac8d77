// Package sync implements the sync versioning leaf (spec §4.8): a
// monotonic per-session counter that lets a long-poll on one channel
// observe a persisted write from another.
package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/sessions"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/store/pg"
)

const (
	pkSync    = "SYNC#"
	skVersion = "VERSION"
)

// Record is the SYNC#<session_key>/VERSION payload (§3 Sync Version).
type Record struct {
	Version     int64     `json:"version"`
	LastChannel string    `json:"last_channel"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Tracker increments and reads sync versions against the shared KV
// table.
type Tracker struct {
	kv  *pg.KV
	now func() time.Time
}

func NewTracker(kv *pg.KV) *Tracker {
	return &Tracker{kv: kv, now: time.Now}
}

// Increment bumps the session's version and records the writing
// channel. Must complete before the HTTP response returns (§4.8: "do
// not defer"), so callers invoke this synchronously in the persistence
// step, never as a fire-and-forget task.
func (t *Tracker) Increment(ctx context.Context, sessionKey, channel string) (Record, error) {
	var out Record
	err := t.kv.Mutate(ctx, pkSync+sessionKey, skVersion, 0, func(current json.RawMessage, found bool) (any, bool, error) {
		rec := Record{}
		if found {
			if err := json.Unmarshal(current, &rec); err != nil {
				return nil, false, err
			}
		}
		rec.Version++
		rec.LastChannel = channel
		rec.UpdatedAt = t.now()
		out = rec
		return rec, true, nil
	})
	return out, err
}

// Get returns the current record, or the zero Record if the session has
// never been persisted to.
func (t *Tracker) Get(ctx context.Context, sessionKey string) (Record, error) {
	item, err := t.kv.Get(ctx, pkSync+sessionKey, skVersion)
	if err != nil {
		if err == pg.ErrNotFound {
			return Record{}, nil
		}
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// PollResult is the long-poll response shape (§4.8 Poll).
type PollResult struct {
	Updated  bool                     `json:"updated"`
	Version  int64                    `json:"version"`
	Messages []sessions.StoredMessage `json:"messages,omitempty"`
}

// Poll implements §4.8's poll semantics: if the server version is ahead
// of the client's, the session is re-read fresh and the messages beyond
// clientVersion*2 (each pair is one user+assistant turn) are returned;
// equal versions return {updated: false}.
func Poll(ctx context.Context, t *Tracker, sm *sessions.Manager, sessionKey string, clientVersion int64) (PollResult, error) {
	rec, err := t.Get(ctx, sessionKey)
	if err != nil {
		return PollResult{}, err
	}
	if rec.Version <= clientVersion {
		return PollResult{Updated: false, Version: rec.Version}, nil
	}

	history := sm.GetHistory(sessionKey, 0)
	skip := int(clientVersion) * 2
	if skip > len(history) {
		skip = len(history)
	}
	return PollResult{Updated: true, Version: rec.Version, Messages: history[skip:]}, nil
}
