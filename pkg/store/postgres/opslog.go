package postgres

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/sessionctl/pkg/store"
)

// OpsLogStore is a store.OpsLogStore backed by the ops_log table.
// Sequence assignment relies on Postgres's own serial column plus
// transactional commit ordering, so concurrent Append calls linearize
// at the database rather than in application code.
type OpsLogStore struct {
	db *Store
}

// NewOpsLogStore wraps an open Store as a store.OpsLogStore.
func NewOpsLogStore(db *Store) *OpsLogStore {
	return &OpsLogStore{db: db}
}

func (o *OpsLogStore) Append(ctx context.Context, rec store.OpsLogRecord) (int64, error) {
	var seq int64
	err := o.db.db.QueryRowContext(ctx, `
		INSERT INTO ops_log (actor, ticket_id, action, kind, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING sequence`,
		rec.Actor, rec.TicketID, rec.Action, rec.Kind, rec.Timestamp,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("appending ops log entry: %w", err)
	}
	return seq, nil
}

func (o *OpsLogStore) Read(ctx context.Context, sinceSequence int64, limit int) ([]store.OpsLogRecord, error) {
	query := `SELECT sequence, actor, ticket_id, action, kind, timestamp FROM ops_log WHERE sequence > $1 ORDER BY sequence`
	args := []interface{}{sinceSequence}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := o.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading ops log: %w", err)
	}
	defer rows.Close()
	return scanOpsLog(rows)
}

func (o *OpsLogStore) Tail(ctx context.Context, since time.Time) ([]store.OpsLogRecord, error) {
	rows, err := o.db.db.QueryContext(ctx, `
		SELECT sequence, actor, ticket_id, action, kind, timestamp
		FROM ops_log WHERE timestamp >= $1 ORDER BY sequence`, since)
	if err != nil {
		return nil, fmt.Errorf("reading ops log tail: %w", err)
	}
	defer rows.Close()
	return scanOpsLog(rows)
}

func (o *OpsLogStore) Latest(ctx context.Context) (store.OpsLogRecord, bool, error) {
	row := o.db.db.QueryRowContext(ctx, `
		SELECT sequence, actor, ticket_id, action, kind, timestamp
		FROM ops_log ORDER BY sequence DESC LIMIT 1`)

	var rec store.OpsLogRecord
	err := row.Scan(&rec.Sequence, &rec.Actor, &rec.TicketID, &rec.Action, &rec.Kind, &rec.Timestamp)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return store.OpsLogRecord{}, false, nil
		}
		return store.OpsLogRecord{}, false, fmt.Errorf("reading latest ops log entry: %w", err)
	}
	return rec, true, nil
}

func scanOpsLog(rows *stdsql.Rows) ([]store.OpsLogRecord, error) {
	var out []store.OpsLogRecord
	for rows.Next() {
		var rec store.OpsLogRecord
		if err := rows.Scan(&rec.Sequence, &rec.Actor, &rec.TicketID, &rec.Action, &rec.Kind, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning ops log entry: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
