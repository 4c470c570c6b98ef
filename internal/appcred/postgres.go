package appcred

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

// PostgresStore implements Store over the shared postgres pool
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a postgres-backed app credential store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateApp(ctx context.Context, app *types.App) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO apps (id, name, description, owner_user_id, status, scopes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, app.ID, app.Name, app.Description, app.OwnerUserID, app.Status, pq.Array(app.Scopes), app.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert app: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetApp(ctx context.Context, id uuid.UUID) (*types.App, error) {
	var a types.App
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, owner_user_id, status, scopes, created_at
		FROM apps WHERE id = $1
	`, id).Scan(&a.ID, &a.Name, &description, &a.OwnerUserID, &a.Status, pq.Array(&a.Scopes), &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.CodeAppNotFound, "app %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan app: %w", err)
	}
	a.Description = description.String
	return &a, nil
}

func (s *PostgresStore) CreateKey(ctx context.Context, key *types.AppKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_keys (id, app_id, prefix, secret_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, key.ID, key.AppID, key.Prefix, key.SecretHash, key.Status, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert app key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListKeysByPrefix(ctx context.Context, prefix string) ([]*types.AppKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, prefix, secret_hash, status, created_at, last_used_at
		FROM app_keys
		WHERE prefix = $1 AND status = $2
	`, prefix, types.AppKeyStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list app keys by prefix: %w", err)
	}
	defer rows.Close()
	return scanAppKeys(rows)
}

func (s *PostgresStore) ListKeys(ctx context.Context, appID uuid.UUID) ([]*types.AppKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, prefix, secret_hash, status, created_at, last_used_at
		FROM app_keys
		WHERE app_id = $1
		ORDER BY created_at DESC
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("list app keys: %w", err)
	}
	defer rows.Close()
	return scanAppKeys(rows)
}

func scanAppKeys(rows *sql.Rows) ([]*types.AppKey, error) {
	var keys []*types.AppKey
	for rows.Next() {
		var k types.AppKey
		var lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.AppID, &k.Prefix, &k.SecretHash, &k.Status, &k.CreatedAt, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan app key: %w", err)
		}
		if lastUsed.Valid {
			k.LastUsedAt = &lastUsed.Time
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeKey(ctx context.Context, appID, keyID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_keys SET status = $3
		WHERE id = $1 AND app_id = $2 AND status = $4
	`, keyID, appID, types.AppKeyStatusRevoked, types.AppKeyStatusActive)
	if err != nil {
		return fmt.Errorf("revoke app key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Newf(apperr.CodeKeyNotFound, "app key %s not found or already revoked", keyID)
	}
	return nil
}

func (s *PostgresStore) RotateKeys(ctx context.Context, appID uuid.UUID, newKey *types.AppKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE app_keys SET status = $2 WHERE app_id = $1 AND status = $3
	`, appID, types.AppKeyStatusRevoked, types.AppKeyStatusActive)
	if err != nil {
		return fmt.Errorf("revoke existing keys: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO app_keys (id, app_id, prefix, secret_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, newKey.ID, newKey.AppID, newKey.Prefix, newKey.SecretHash, newKey.Status, newKey.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert replacement key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchKey(ctx context.Context, keyID uuid.UUID, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE app_keys SET last_used_at = $2 WHERE id = $1
	`, keyID, usedAt)
	if err != nil {
		return fmt.Errorf("touch app key: %w", err)
	}
	return nil
}
