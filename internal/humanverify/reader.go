// Package humanverify reads the human-verification linking subsystem.
// The subsystem itself is external; this is a single best-effort read used
// to decorate valid verification responses.
package humanverify

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/agent-passport/go-core/pkg/types"
)

// Reader fetches the human-verification summary for an agent
type Reader interface {
	Summary(ctx context.Context, agentID uuid.UUID) (*types.HumanVerificationSummary, error)
}

// PostgresReader reads the latest verified link for an agent
type PostgresReader struct {
	db *sql.DB
}

// NewPostgresReader creates a postgres-backed reader
func NewPostgresReader(db *sql.DB) *PostgresReader {
	return &PostgresReader{db: db}
}

func (r *PostgresReader) Summary(ctx context.Context, agentID uuid.UUID) (*types.HumanVerificationSummary, error) {
	var s types.HumanVerificationSummary
	var verifiedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT method, verified_at
		FROM human_verifications
		WHERE agent_id = $1 AND verified_at IS NOT NULL
		ORDER BY verified_at DESC
		LIMIT 1
	`, agentID).Scan(&s.Method, &verifiedAt)
	if err == sql.ErrNoRows {
		return &types.HumanVerificationSummary{Verified: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read human verification: %w", err)
	}
	s.Verified = true
	if verifiedAt.Valid {
		s.VerifiedAt = &verifiedAt.Time
	}
	return &s, nil
}

// NoopReader reports every agent as unverified. Used when the linking
// subsystem is not deployed.
type NoopReader struct{}

func (NoopReader) Summary(ctx context.Context, agentID uuid.UUID) (*types.HumanVerificationSummary, error) {
	return &types.HumanVerificationSummary{Verified: false}, nil
}
