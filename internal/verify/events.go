package verify

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/agent-passport/go-core/pkg/types"
)

// PostgresEvents persists verification events for per-app aggregates
type PostgresEvents struct {
	db *sql.DB
}

// NewPostgresEvents creates a postgres-backed event store
func NewPostgresEvents(db *sql.DB) *PostgresEvents {
	return &PostgresEvents{db: db}
}

func (s *PostgresEvents) CreateEvent(ctx context.Context, event *types.VerificationEvent) error {
	var agentID interface{}
	if event.AgentID != nil {
		agentID = *event.AgentID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_events (id, app_id, agent_id, outcome, reason, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.ID, event.AppID, agentID, event.Outcome, event.Reason, event.IPAddress, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert verification event: %w", err)
	}
	return nil
}

// CountByOutcome aggregates an app's events per outcome
func (s *PostgresEvents) CountByOutcome(ctx context.Context, appID uuid.UUID) (map[types.VerificationOutcome]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM verification_events WHERE app_id = $1 GROUP BY outcome
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("count verification events: %w", err)
	}
	defer rows.Close()

	out := make(map[types.VerificationOutcome]int64)
	for rows.Next() {
		var outcome types.VerificationOutcome
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan verification count: %w", err)
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

// MemoryEvents is an in-memory EventStore used by tests
type MemoryEvents struct {
	mu     sync.Mutex
	events []*types.VerificationEvent
}

// NewMemoryEvents creates an empty in-memory event store
func NewMemoryEvents() *MemoryEvents {
	return &MemoryEvents{}
}

func (s *MemoryEvents) CreateEvent(ctx context.Context, event *types.VerificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

// All returns a copy of the recorded events
func (s *MemoryEvents) All() []*types.VerificationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.VerificationEvent, len(s.events))
	copy(out, s.events)
	return out
}
