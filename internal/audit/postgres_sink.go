package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agent-passport/go-core/pkg/types"
)

// PostgresSink persists audit events to the audit_events table
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a postgres-backed audit sink over the shared pool
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// WriteBatch inserts a batch of events in a single transaction
func (s *PostgresSink) WriteBatch(ctx context.Context, events []*types.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_events (id, event_type, actor_type, actor_id, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		metadataJSON, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}

		if _, err := stmt.ExecContext(ctx,
			ev.ID, ev.EventType, ev.ActorType, ev.ActorID,
			nullString(ev.IPAddress), metadataJSON, ev.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert audit event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit batch: %w", err)
	}
	return nil
}

// Close is a no-op; the shared pool is owned by the caller
func (s *PostgresSink) Close() error { return nil }

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
