package risk

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/agent-passport/go-core/pkg/types"
)

// PostgresSnapshots persists risk snapshots, one row per agent
type PostgresSnapshots struct {
	db *sql.DB
}

// NewPostgresSnapshots creates a postgres-backed snapshot store
func NewPostgresSnapshots(db *sql.DB) *PostgresSnapshots {
	return &PostgresSnapshots{db: db}
}

func (s *PostgresSnapshots) UpsertSnapshot(ctx context.Context, snapshot *types.RiskSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_snapshots (agent_id, score, recommended_action, reasons, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id) DO UPDATE SET
			score = EXCLUDED.score,
			recommended_action = EXCLUDED.recommended_action,
			reasons = EXCLUDED.reasons,
			updated_at = EXCLUDED.updated_at
	`, snapshot.AgentID, snapshot.Score, snapshot.RecommendedAction, pq.Array(snapshot.Reasons), snapshot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert risk snapshot: %w", err)
	}
	return nil
}
