package agent

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/agent-passport/go-core/internal/apperr"
	"github.com/agent-passport/go-core/pkg/types"
)

// pqUniqueViolation is the postgres error code for unique constraint hits
const pqUniqueViolation = "23505"

// PostgresStore implements Store over the shared postgres pool
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a postgres-backed identity store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateAgentWithKey(ctx context.Context, agent *types.Agent, key *types.AgentKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin registration: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (id, handle, status, created_at)
		VALUES ($1, $2, $3, $4)
	`, agent.ID, agent.Handle, agent.Status, agent.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return apperr.Newf(apperr.CodeHandleTaken, "handle %q is already registered", agent.Handle)
		}
		return fmt.Errorf("insert agent: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_keys (id, agent_id, public_key, created_at)
		VALUES ($1, $2, $3, $4)
	`, key.ID, key.AgentID, key.PublicKey, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert agent key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit registration: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, id uuid.UUID) (*types.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, handle, status, created_at FROM agents WHERE id = $1
	`, id)
	return scanAgent(row, id.String())
}

func (s *PostgresStore) GetAgentByHandle(ctx context.Context, handle string) (*types.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, handle, status, created_at FROM agents WHERE handle = $1
	`, handle)
	return scanAgent(row, handle)
}

func scanAgent(row *sql.Row, ref string) (*types.Agent, error) {
	var a types.Agent
	err := row.Scan(&a.ID, &a.Handle, &a.Status, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.CodeAgentNotFound, "agent %s not found", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) UpdateAgentStatus(ctx context.Context, id uuid.UUID, status types.AgentStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Newf(apperr.CodeAgentNotFound, "agent %s not found", id)
	}
	return nil
}

func (s *PostgresStore) AddKey(ctx context.Context, key *types.AgentKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_keys (id, agent_id, public_key, created_at)
		VALUES ($1, $2, $3, $4)
	`, key.ID, key.AgentID, key.PublicKey, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert agent key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetKey(ctx context.Context, agentID, keyID uuid.UUID) (*types.AgentKey, error) {
	var k types.AgentKey
	var revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, public_key, created_at, revoked_at
		FROM agent_keys WHERE id = $1 AND agent_id = $2
	`, keyID, agentID).Scan(&k.ID, &k.AgentID, &k.PublicKey, &k.CreatedAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.CodeKeyNotFound, "key %s not found", keyID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent key: %w", err)
	}
	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Time
	}
	return &k, nil
}

func (s *PostgresStore) ListActiveKeys(ctx context.Context, agentID uuid.UUID) ([]*types.AgentKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, public_key, created_at, revoked_at
		FROM agent_keys
		WHERE agent_id = $1 AND revoked_at IS NULL
		ORDER BY created_at ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list active keys: %w", err)
	}
	defer rows.Close()

	var keys []*types.AgentKey
	for rows.Next() {
		var k types.AgentKey
		var revokedAt sql.NullTime
		if err := rows.Scan(&k.ID, &k.AgentID, &k.PublicKey, &k.CreatedAt, &revokedAt); err != nil {
			return nil, fmt.Errorf("scan agent key: %w", err)
		}
		if revokedAt.Valid {
			k.RevokedAt = &revokedAt.Time
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeKey(ctx context.Context, agentID, keyID uuid.UUID, revokedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_keys SET revoked_at = $3
		WHERE id = $1 AND agent_id = $2 AND revoked_at IS NULL
	`, keyID, agentID, revokedAt)
	if err != nil {
		return fmt.Errorf("revoke agent key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// distinguish missing from already revoked
		if _, gerr := s.GetKey(ctx, agentID, keyID); gerr != nil {
			return gerr
		}
		return apperr.Newf(apperr.CodeKeyAlreadyRevoked, "key %s is already revoked", keyID)
	}
	return nil
}

func (s *PostgresStore) CreateChallenge(ctx context.Context, challenge *types.Challenge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges (id, agent_id, nonce, expires_at)
		VALUES ($1, $2, $3, $4)
	`, challenge.ID, challenge.AgentID, challenge.Nonce, challenge.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChallenge(ctx context.Context, id uuid.UUID) (*types.Challenge, error) {
	var c types.Challenge
	var usedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, nonce, expires_at, used_at FROM challenges WHERE id = $1
	`, id).Scan(&c.ID, &c.AgentID, &c.Nonce, &c.ExpiresAt, &usedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.CodeChallengeNotFound, "challenge %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan challenge: %w", err)
	}
	if usedAt.Valid {
		c.UsedAt = &usedAt.Time
	}
	return &c, nil
}

func (s *PostgresStore) ConsumeChallenge(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	// conditional update keeps redemption single-use under concurrency
	res, err := s.db.ExecContext(ctx, `
		UPDATE challenges SET used_at = $2 WHERE id = $1 AND used_at IS NULL
	`, id, usedAt)
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume challenge rows: %w", err)
	}
	return n == 1, nil
}
