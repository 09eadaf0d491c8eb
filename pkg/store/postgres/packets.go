package postgres

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/sessionctl/pkg/store"
)

// PacketStore is a store.PacketStore backed by the handoff_packets
// table.
type PacketStore struct {
	db *Store
}

// NewPacketStore wraps an open Store as a store.PacketStore.
func NewPacketStore(db *Store) *PacketStore {
	return &PacketStore{db: db}
}

func (p *PacketStore) Insert(ctx context.Context, rec store.PacketRecord) error {
	completed, err := json.Marshal(rec.CompletedTasks)
	if err != nil {
		return fmt.Errorf("marshaling completed_tasks: %w", err)
	}
	pending, err := json.Marshal(rec.PendingTasks)
	if err != nil {
		return fmt.Errorf("marshaling pending_tasks: %w", err)
	}
	files, err := json.Marshal(rec.FilesModified)
	if err != nil {
		return fmt.Errorf("marshaling files_modified: %w", err)
	}
	decisions, err := json.Marshal(rec.KeyDecisions)
	if err != nil {
		return fmt.Errorf("marshaling key_decisions: %w", err)
	}
	refs, err := json.Marshal(rec.WarmReferences)
	if err != nil {
		return fmt.Errorf("marshaling warm_references: %w", err)
	}

	_, err = p.db.db.ExecContext(ctx, `
		INSERT INTO handoff_packets (
			packet_id, source_agent, source_session, target_agent, access_token, signature,
			ticket_id, ticket_summary, completed_tasks, pending_tasks, current_task,
			files_modified, key_decisions, hot_context, warm_references,
			budget_used, budget_peak, expansion_count, created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		rec.PacketID, rec.SourceAgent, rec.SourceSession, rec.TargetAgent, rec.AccessToken, rec.Signature,
		rec.TicketID, rec.TicketSummary, completed, pending, rec.CurrentTask,
		files, decisions, rec.HotContext, refs,
		rec.BudgetUsed, rec.BudgetPeak, rec.ExpansionCount, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting handoff packet: %w", err)
	}
	return nil
}

func (p *PacketStore) Get(ctx context.Context, packetID string) (store.PacketRecord, bool, error) {
	row := p.db.db.QueryRowContext(ctx, `
		SELECT packet_id, source_agent, source_session, target_agent, access_token, signature,
			ticket_id, ticket_summary, completed_tasks, pending_tasks, current_task,
			files_modified, key_decisions, hot_context, warm_references,
			budget_used, budget_peak, expansion_count, created_at, expires_at
		FROM handoff_packets WHERE packet_id = $1`, packetID)

	rec, err := scanPacket(row)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return store.PacketRecord{}, false, nil
		}
		return store.PacketRecord{}, false, err
	}
	return rec, true, nil
}

func (p *PacketStore) Delete(ctx context.Context, packetID string) (bool, error) {
	res, err := p.db.db.ExecContext(ctx, `DELETE FROM handoff_packets WHERE packet_id = $1`, packetID)
	if err != nil {
		return false, fmt.Errorf("deleting handoff packet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

func (p *PacketStore) ListByTicket(ctx context.Context, ticketID string) ([]store.PacketRecord, error) {
	rows, err := p.db.db.QueryContext(ctx, `
		SELECT packet_id, source_agent, source_session, target_agent, access_token, signature,
			ticket_id, ticket_summary, completed_tasks, pending_tasks, current_task,
			files_modified, key_decisions, hot_context, warm_references,
			budget_used, budget_peak, expansion_count, created_at, expires_at
		FROM handoff_packets WHERE ticket_id = $1 ORDER BY created_at`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("listing handoff packets: %w", err)
	}
	defer rows.Close()
	return scanPackets(rows)
}

func (p *PacketStore) ListAll(ctx context.Context) ([]store.PacketRecord, error) {
	rows, err := p.db.db.QueryContext(ctx, `
		SELECT packet_id, source_agent, source_session, target_agent, access_token, signature,
			ticket_id, ticket_summary, completed_tasks, pending_tasks, current_task,
			files_modified, key_decisions, hot_context, warm_references,
			budget_used, budget_peak, expansion_count, created_at, expires_at
		FROM handoff_packets ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing handoff packets: %w", err)
	}
	defer rows.Close()
	return scanPackets(rows)
}

func (p *PacketStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := p.db.db.QueryContext(ctx, `SELECT packet_id FROM handoff_packets WHERE expires_at < $1`, now)
	if err != nil {
		return nil, fmt.Errorf("listing expired handoff packets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning expired packet id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPacket(row rowScanner) (store.PacketRecord, error) {
	var rec store.PacketRecord
	var completed, pending, files, decisions, refs []byte

	err := row.Scan(
		&rec.PacketID, &rec.SourceAgent, &rec.SourceSession, &rec.TargetAgent, &rec.AccessToken, &rec.Signature,
		&rec.TicketID, &rec.TicketSummary, &completed, &pending, &rec.CurrentTask,
		&files, &decisions, &rec.HotContext, &refs,
		&rec.BudgetUsed, &rec.BudgetPeak, &rec.ExpansionCount, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		return store.PacketRecord{}, err
	}

	if err := json.Unmarshal(completed, &rec.CompletedTasks); err != nil {
		return store.PacketRecord{}, fmt.Errorf("unmarshaling completed_tasks: %w", err)
	}
	if err := json.Unmarshal(pending, &rec.PendingTasks); err != nil {
		return store.PacketRecord{}, fmt.Errorf("unmarshaling pending_tasks: %w", err)
	}
	if err := json.Unmarshal(files, &rec.FilesModified); err != nil {
		return store.PacketRecord{}, fmt.Errorf("unmarshaling files_modified: %w", err)
	}
	if err := json.Unmarshal(decisions, &rec.KeyDecisions); err != nil {
		return store.PacketRecord{}, fmt.Errorf("unmarshaling key_decisions: %w", err)
	}
	if err := json.Unmarshal(refs, &rec.WarmReferences); err != nil {
		return store.PacketRecord{}, fmt.Errorf("unmarshaling warm_references: %w", err)
	}

	return rec, nil
}

type rowsScanner interface {
	Next() bool
	Err() error
	Scan(dest ...interface{}) error
}

func scanPackets(rows rowsScanner) ([]store.PacketRecord, error) {
	var out []store.PacketRecord
	for rows.Next() {
		rec, err := scanPacket(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning handoff packet: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
