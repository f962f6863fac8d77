// Package pg is the sole persistence backend (§6.3): a single KV table,
// composite key (pk, sk), mirroring the spec's DynamoDB-shaped logical
// layout directly as Postgres rows. Domain packages (identity, credit,
// sync, memory, sessions) build their own key schemes and mutation
// semantics on top of this primitive rather than owning SQL themselves —
// grounded on the teacher's cache-then-DB-load split in
// internal/store/pg/sessions.go, generalized from one hardcoded table to
// the generic composite-key shape spec.md §6.3 describes.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by Get when (pk, sk) has no row, or has an
// expired TTL.
var ErrNotFound = errors.New("pg: item not found")

// KV is a thin wrapper over a pgx pool exposing the composite-key
// primitives every domain store is built from.
type KV struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open connects to Postgres and verifies reachability.
func Open(ctx context.Context, dsn string) (*KV, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &KV{pool: pool, now: time.Now}, nil
}

func (kv *KV) Close() { kv.pool.Close() }

// Item is one row of the logical KV table.
type Item struct {
	PK        string
	SK        string
	Data      json.RawMessage
	ExpiresAt *time.Time
	UpdatedAt time.Time
}

// Get fetches one item, returning ErrNotFound if absent or expired.
func (kv *KV) Get(ctx context.Context, pk, sk string) (Item, error) {
	var it Item
	err := kv.pool.QueryRow(ctx,
		`SELECT pk, sk, data, expires_at, updated_at FROM kv_store WHERE pk = $1 AND sk = $2`,
		pk, sk,
	).Scan(&it.PK, &it.SK, &it.Data, &it.ExpiresAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	if it.ExpiresAt != nil && it.ExpiresAt.Before(kv.now()) {
		return Item{}, ErrNotFound
	}
	return it, nil
}

// Put upserts one item. ttl of 0 means no expiry.
func (kv *KV) Put(ctx context.Context, pk, sk string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var expiresAt *time.Time
	if ttl > 0 {
		t := kv.now().Add(ttl)
		expiresAt = &t
	}
	_, err = kv.pool.Exec(ctx,
		`INSERT INTO kv_store (pk, sk, data, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (pk, sk) DO UPDATE SET data = $3, expires_at = $4, updated_at = $5`,
		pk, sk, data, expiresAt, kv.now(),
	)
	return err
}

// PutIfAbsent inserts only if (pk, sk) doesn't already exist, reporting
// whether the insert happened — the primitive idempotent grants and
// auto-link are built on (§4.7, §4.6).
func (kv *KV) PutIfAbsent(ctx context.Context, pk, sk string, value any, ttl time.Duration) (inserted bool, err error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	var expiresAt *time.Time
	if ttl > 0 {
		t := kv.now().Add(ttl)
		expiresAt = &t
	}
	tag, err := kv.pool.Exec(ctx,
		`INSERT INTO kv_store (pk, sk, data, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (pk, sk) DO NOTHING`,
		pk, sk, data, expiresAt, kv.now(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes one item.
func (kv *KV) Delete(ctx context.Context, pk, sk string) error {
	_, err := kv.pool.Exec(ctx, `DELETE FROM kv_store WHERE pk = $1 AND sk = $2`, pk, sk)
	return err
}

// QueryPrefix returns every item whose sk starts with skPrefix under pk,
// used for secondary-index-style scans (e.g. linked-channel listing).
func (kv *KV) QueryPrefix(ctx context.Context, pk, skPrefix string) ([]Item, error) {
	rows, err := kv.pool.Query(ctx,
		`SELECT pk, sk, data, expires_at, updated_at FROM kv_store WHERE pk = $1 AND sk LIKE $2 || '%' ORDER BY sk`,
		pk, skPrefix,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.PK, &it.SK, &it.Data, &it.ExpiresAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// QueryPKPrefix returns one item per distinct pk matching pkPrefix, at
// sk — used to enumerate every USER#<id> row for the memory scheduler's
// daily sweep (§3 Memory "Consolidation... background tasks").
func (kv *KV) QueryPKPrefix(ctx context.Context, pkPrefix, sk string) ([]Item, error) {
	rows, err := kv.pool.Query(ctx,
		`SELECT pk, sk, data, expires_at, updated_at FROM kv_store WHERE pk LIKE $1 || '%' AND sk = $2 ORDER BY pk`,
		pkPrefix, sk,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.PK, &it.SK, &it.Data, &it.ExpiresAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Mutate runs fn inside a row-locking transaction against (pk, sk),
// giving domain stores an atomic read-modify-write primitive (the
// "atomic update expression" §4.7 calls for on credit deduction). fn
// receives the current raw value (nil if absent) and returns the new
// value to persist; returning (nil, nil, false) leaves the row
// untouched (used for "already processed" idempotency short-circuits).
func (kv *KV) Mutate(ctx context.Context, pk, sk string, ttl time.Duration, fn func(current json.RawMessage, found bool) (next any, write bool, err error)) error {
	tx, err := kv.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var current json.RawMessage
	var expiresAt *time.Time
	err = tx.QueryRow(ctx, `SELECT data, expires_at FROM kv_store WHERE pk = $1 AND sk = $2 FOR UPDATE`, pk, sk).Scan(&current, &expiresAt)
	found := true
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		found = false
	}
	if found && expiresAt != nil && expiresAt.Before(kv.now()) {
		found = false
		current = nil
	}

	next, write, err := fn(current, found)
	if err != nil {
		return err
	}
	if !write {
		return tx.Commit(ctx)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return err
	}
	var newExpiresAt *time.Time
	if ttl > 0 {
		t := kv.now().Add(ttl)
		newExpiresAt = &t
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO kv_store (pk, sk, data, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (pk, sk) DO UPDATE SET data = $3, expires_at = $4, updated_at = $5`,
		pk, sk, data, newExpiresAt, kv.now(),
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
