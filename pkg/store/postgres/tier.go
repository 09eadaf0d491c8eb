package postgres

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/sessionctl/pkg/store"
)

// TierStore is a store.TierStore backed by the tier_entries table. It
// is the write-behind mirror of pkg/tier.Store's live maps, attached
// via tier.Store.AttachPersistence; it is never consulted on the read
// path.
type TierStore struct {
	db *Store
}

// NewTierStore wraps an open Store as a store.TierStore.
func NewTierStore(db *Store) *TierStore {
	return &TierStore{db: db}
}

func (t *TierStore) Put(ctx context.Context, rec store.TierEntryRecord) error {
	_, err := t.db.db.ExecContext(ctx, `
		INSERT INTO tier_entries (
			key, tier, payload, token_cost, origin, session_id, created_at, last_access_at, access_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (key) DO UPDATE SET
			tier = EXCLUDED.tier,
			payload = EXCLUDED.payload,
			token_cost = EXCLUDED.token_cost,
			origin = EXCLUDED.origin,
			session_id = EXCLUDED.session_id,
			created_at = EXCLUDED.created_at,
			last_access_at = EXCLUDED.last_access_at,
			access_count = EXCLUDED.access_count`,
		rec.Key, rec.Tier, rec.PayloadJSON, rec.TokenCost, rec.Origin, rec.SessionID,
		rec.CreatedAt, rec.LastAccessAt, rec.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("upserting tier entry: %w", err)
	}
	return nil
}

func (t *TierStore) Delete(ctx context.Context, key string) error {
	_, err := t.db.db.ExecContext(ctx, `DELETE FROM tier_entries WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("deleting tier entry: %w", err)
	}
	return nil
}

func (t *TierStore) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := t.db.db.ExecContext(ctx, `DELETE FROM tier_entries WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting tier entries for session: %w", err)
	}
	return nil
}

func (t *TierStore) ListAll(ctx context.Context) ([]store.TierEntryRecord, error) {
	rows, err := t.db.db.QueryContext(ctx, `
		SELECT key, tier, payload, token_cost, origin, session_id, created_at, last_access_at, access_count
		FROM tier_entries ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("listing tier entries: %w", err)
	}
	defer rows.Close()

	var out []store.TierEntryRecord
	for rows.Next() {
		var rec store.TierEntryRecord
		if err := rows.Scan(
			&rec.Key, &rec.Tier, &rec.PayloadJSON, &rec.TokenCost, &rec.Origin, &rec.SessionID,
			&rec.CreatedAt, &rec.LastAccessAt, &rec.AccessCount,
		); err != nil {
			return nil, fmt.Errorf("scanning tier entry: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
