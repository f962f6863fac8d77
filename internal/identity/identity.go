// Package identity resolves external channel keys to a canonical user
// id, persists link records, and merges per-channel histories on link
// (spec §4.6). Built on the generic KV primitive in internal/store/pg.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/sessions"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/store/pg"
)

// Plan is one of the four billing tiers named in §3.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// User is the unified record reachable from any linked channel key (§3).
type User struct {
	UserID           string    `json:"user_id"`
	DisplayName      string    `json:"display_name,omitempty"`
	Plan             Plan      `json:"plan"`
	CreditsRemaining int64     `json:"credits_remaining"`
	CreditsUsed      int64     `json:"credits_used"`
	Channels         []string  `json:"channels"`
	StripeCustomerID string    `json:"stripe_customer_id,omitempty"`
	Email            string    `json:"email,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// LinkRecord is one channel_key -> user_id mapping (§3 Channel Link).
type LinkRecord struct {
	UserID   string    `json:"user_id"`
	LinkedAt time.Time `json:"linked_at"`
}

const (
	pkUser       = "USER#"
	skProfile    = "PROFILE"
	skSettings   = "SETTINGS"
	pkLink       = "LINK#"
	skChannelMap = "CHANNEL_MAP"
	pkAuth       = "AUTH#"
	skToken      = "TOKEN"

	tokenTTL = 30 * 24 * time.Hour
)

// authRecord is the value stored at AUTH#<token>/TOKEN (§6.3).
type authRecord struct {
	UserID string `json:"user_id"`
}

// Settings is the per-user preference sibling the parallel-init step
// fetches alongside the profile and memory context (§4.4 step 4:
// "preferred model, temperature, enabled tools, display name").
type Settings struct {
	PreferredModel string   `json:"preferred_model,omitempty"`
	Temperature    float64  `json:"temperature"`
	EnabledTools   []string `json:"enabled_tools,omitempty"`
	AdultMode      bool     `json:"adult_mode,omitempty"`
}

// DefaultSettings is returned for a user who has never customized
// anything.
var DefaultSettings = Settings{Temperature: 0.7}

// Resolver resolves channel keys to canonical user ids and manages the
// link graph, all backed by the shared KV table.
type Resolver struct {
	kv       *pg.KV
	sessions *sessions.Manager
	now      func() time.Time
}

func NewResolver(kv *pg.KV, sm *sessions.Manager) *Resolver {
	return &Resolver{kv: kv, sessions: sm, now: time.Now}
}

// Resolve looks up LINK#<channel_key> -> user_id; a miss returns the
// channel key unchanged, per §4.6 ("unlinked keys are valid session
// keys").
func (r *Resolver) Resolve(ctx context.Context, channelKey string) (userID string, linked bool) {
	item, err := r.kv.Get(ctx, pkLink+channelKey, skChannelMap)
	if err != nil {
		return channelKey, false
	}
	var rec LinkRecord
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return channelKey, false
	}
	return rec.UserID, true
}

// GetOrCreateUser fetches USER#<user_id>/PROFILE, creating a fresh free
// plan record if absent (§3: "Created on first sight of any channel
// key").
func (r *Resolver) GetOrCreateUser(ctx context.Context, userID string) (*User, error) {
	item, err := r.kv.Get(ctx, pkUser+userID, skProfile)
	if err == nil {
		var u User
		if jerr := json.Unmarshal(item.Data, &u); jerr != nil {
			return nil, jerr
		}
		return &u, nil
	}
	if !errors.Is(err, pg.ErrNotFound) {
		return nil, err
	}

	u := &User{
		UserID:    userID,
		Plan:      PlanFree,
		CreatedAt: r.now(),
	}
	if _, err := r.kv.PutIfAbsent(ctx, pkUser+userID, skProfile, u, 0); err != nil {
		return nil, err
	}
	return u, nil
}

// GetSettings reads the user's preference sibling, returning
// DefaultSettings if none was ever saved.
func (r *Resolver) GetSettings(ctx context.Context, userID string) (Settings, error) {
	item, err := r.kv.Get(ctx, pkUser+userID, skSettings)
	if err != nil {
		if errors.Is(err, pg.ErrNotFound) {
			return DefaultSettings, nil
		}
		return Settings{}, err
	}
	var s Settings
	if err := json.Unmarshal(item.Data, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// SetSettings overwrites the user's preference sibling wholesale.
func (r *Resolver) SetSettings(ctx context.Context, userID string, s Settings) error {
	return r.kv.Put(ctx, pkUser+userID, skSettings, s, 0)
}

// ListUserIDs enumerates every known user id, feeding the memory
// scheduler's daily consolidation sweep.
func (r *Resolver) ListUserIDs(ctx context.Context) ([]string, error) {
	items, err := r.kv.QueryPKPrefix(ctx, pkUser, skProfile)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, strings.TrimPrefix(it.PK, pkUser))
	}
	return ids, nil
}

// IssueToken mints a fresh opaque session token for userID, valid for 30
// days (§6.3 "Session token → user_id, TTL 30d"), used by the HTTP
// boundary's login/link flows to hand the client a bearer token.
func (r *Resolver) IssueToken(ctx context.Context, userID string) (string, error) {
	token := "tok_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := r.kv.Put(ctx, pkAuth+token, skToken, authRecord{UserID: userID}, tokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

// ResolveToken looks up AUTH#<token> -> user_id for the HTTP boundary's
// bearer-token auth (§6.1).
func (r *Resolver) ResolveToken(ctx context.Context, token string) (userID string, ok bool) {
	item, err := r.kv.Get(ctx, pkAuth+token, skToken)
	if err != nil {
		return "", false
	}
	var rec authRecord
	if json.Unmarshal(item.Data, &rec) != nil {
		return "", false
	}
	return rec.UserID, true
}

// LooksLikeWebSessionID reports whether text looks like a web-session id
// (webchat:..., api:..., cli:..., length > 10), the trigger for §4.6's
// auto-link heuristic between a messenger channel key and a web-session
// channel key (see AutoLink).
func LooksLikeWebSessionID(text string) bool {
	for _, prefix := range []string{"webchat:", "api:", "cli:"} {
		if strings.HasPrefix(text, prefix) && len(text) > 10 {
			return true
		}
	}
	return false
}

// AutoLink links messengerKey and webKey to one canonical user id,
// reusing either endpoint's existing user id if one exists, otherwise
// minting user:<uuid>. It then merges the two sessions' histories,
// append-only, preferring whichever side is non-empty (§4.6).
func (r *Resolver) AutoLink(ctx context.Context, messengerKey, webKey string) (string, error) {
	userID, _ := r.Resolve(ctx, messengerKey)
	if webUserID, ok := r.Resolve(ctx, webKey); ok {
		userID = webUserID
	} else if userID == messengerKey {
		// Neither endpoint was already linked to a canonical id.
		userID = "user:" + uuid.NewString()
	}

	if _, err := r.GetOrCreateUser(ctx, userID); err != nil {
		return "", err
	}

	linkedAt := r.now()
	for _, key := range []string{messengerKey, webKey} {
		if err := r.link(ctx, key, userID, linkedAt); err != nil {
			return "", err
		}
	}

	r.mergeHistories(messengerKey, webKey, userID)
	return userID, nil
}

// DeepLink performs the same linking as AutoLink for a messenger /start
// payload, where ":" was rewritten to "_" (some platforms forbid colons
// in deep-link payloads) — §4.6.
func (r *Resolver) DeepLink(ctx context.Context, messengerKey, payload string) (string, error) {
	webKey := strings.Replace(payload, "_", ":", 1)
	return r.AutoLink(ctx, messengerKey, webKey)
}

// Link atomically rewrites channelKey's link record to point at userID
// (§3 Channel Link invariant: "re-linking atomically rewrites the
// record").
func (r *Resolver) Link(ctx context.Context, channelKey, userID string) error {
	if _, err := r.GetOrCreateUser(ctx, userID); err != nil {
		return err
	}
	return r.link(ctx, channelKey, userID, r.now())
}

// link writes the LINK#<channelKey> record and registers channelKey on
// userID's denormalized Channels list, keeping the §4.6 secondary index
// (user_id -> {link records}) that LinkedChannels reads in sync with
// every linking path (AutoLink, DeepLink, Link).
func (r *Resolver) link(ctx context.Context, channelKey, userID string, at time.Time) error {
	if err := r.kv.Put(ctx, pkLink+channelKey, skChannelMap, LinkRecord{UserID: userID, LinkedAt: at}, 0); err != nil {
		return err
	}
	return r.AddChannel(ctx, userID, channelKey)
}

// mergeHistories merges the sessions at keyA and keyB into the unified
// session keyed by canonical. If the unified session already has
// messages, it's kept as-is (append-only semantics mean later messages
// land there directly); otherwise whichever side has history is copied.
func (r *Resolver) mergeHistories(keyA, keyB, canonical string) {
	unified := r.sessions.GetHistory(canonical, 0)
	if len(unified) > 0 {
		return
	}
	a := r.sessions.GetHistory(keyA, 0)
	b := r.sessions.GetHistory(keyB, 0)
	merged := append(append([]sessions.StoredMessage{}, a...), b...)
	if len(merged) == 0 {
		return
	}
	r.sessions.Replace(canonical, merged, r.now())
}

// LinkedChannel is one entry of the linked-channel listing (§4.6).
type LinkedChannel struct {
	ChannelKey string    `json:"channel_key"`
	LinkedAt   time.Time `json:"linked_at"`
}

// LinkedChannels enumerates every channel key currently linked to
// userID by scanning the user's Channels list (maintained by
// AddChannel) and re-reading each link record, since LINK# is keyed by
// channel key, not user id — §4.6 calls for "a secondary index user_id
// -> {link records}", which this realizes as the denormalized Channels
// slice on User plus a per-key lookup.
func (r *Resolver) LinkedChannels(ctx context.Context, userID string) ([]LinkedChannel, error) {
	u, err := r.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]LinkedChannel, 0, len(u.Channels))
	for _, ck := range u.Channels {
		item, err := r.kv.Get(ctx, pkLink+ck, skChannelMap)
		if err != nil {
			continue
		}
		var rec LinkRecord
		if json.Unmarshal(item.Data, &rec) == nil && rec.UserID == userID {
			out = append(out, LinkedChannel{ChannelKey: ck, LinkedAt: rec.LinkedAt})
		}
	}
	return out, nil
}

// AddChannel records channelKey in the user's denormalized Channels
// list (idempotent) so LinkedChannels can enumerate it later.
func (r *Resolver) AddChannel(ctx context.Context, userID, channelKey string) error {
	return r.kv.Mutate(ctx, pkUser+userID, skProfile, 0, func(current json.RawMessage, found bool) (any, bool, error) {
		if !found {
			return nil, false, fmt.Errorf("identity: user %s not found", userID)
		}
		var u User
		if err := json.Unmarshal(current, &u); err != nil {
			return nil, false, err
		}
		for _, ch := range u.Channels {
			if ch == channelKey {
				return nil, false, nil
			}
		}
		u.Channels = append(u.Channels, channelKey)
		return u, true, nil
	})
}
