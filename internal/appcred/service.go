package appcred

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agent-passport/go-core/internal/apperr"
	"github.com/agent-passport/go-core/internal/audit"
	"github.com/agent-passport/go-core/pkg/types"
)

// decoyHash is verified when no candidate key matches a presented prefix so
// that rejection latency does not reveal prefix existence
var decoyHash string

// Service manages app registration, key issuance, validation, and rotation
type Service struct {
	store     Store
	generator *Generator
	audit     audit.Logger
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires the app credential service
func NewService(store Store, auditLogger audit.Logger, logger *zap.Logger) *Service {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	gen := NewGenerator()
	if decoyHash == "" {
		decoyHash, _ = gen.Hash("ap_live_decoy")
	}
	return &Service{
		store:     store,
		generator: gen,
		audit:     auditLogger,
		logger:    logger,
		now:       time.Now,
	}
}

// KeyResult carries a freshly issued key. Plaintext appears here and nowhere
// else.
type KeyResult struct {
	Key       *types.AppKey
	Plaintext string
}

// CreateApp registers a consumer app
func (s *Service) CreateApp(ctx context.Context, name, description, ownerUserID string, scopes []string) (*types.App, error) {
	if name == "" {
		return nil, apperr.New(apperr.CodeValidation, "app name is required")
	}
	if ownerUserID == "" {
		return nil, apperr.New(apperr.CodeValidation, "owner user ID is required")
	}

	app := &types.App{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		OwnerUserID: ownerUserID,
		Status:      types.AppStatusActive,
		Scopes:      scopes,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateApp(ctx, app); err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, &types.AuditEvent{
		EventType: audit.EventAppCreated,
		ActorType: types.ActorTypePortalUser,
		ActorID:   ownerUserID,
		Metadata:  map[string]interface{}{"app_id": app.ID.String(), "name": name},
	})
	return app, nil
}

// GetApp returns an app by ID
func (s *Service) GetApp(ctx context.Context, id uuid.UUID) (*types.App, error) {
	return s.store.GetApp(ctx, id)
}

// CreateKey issues a new API key for an active app
func (s *Service) CreateKey(ctx context.Context, appID uuid.UUID) (*KeyResult, error) {
	app, err := s.store.GetApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	if !app.IsActive() {
		return nil, apperr.Newf(apperr.CodeForbidden, "app %s is suspended", appID)
	}

	plain, prefix, hash, err := s.generator.Generate()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to generate app key")
	}

	key := &types.AppKey{
		ID:         uuid.New(),
		AppID:      appID,
		Prefix:     prefix,
		SecretHash: hash,
		Status:     types.AppKeyStatusActive,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateKey(ctx, key); err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, &types.AuditEvent{
		EventType: audit.EventAppKeyCreated,
		ActorType: types.ActorTypeApp,
		ActorID:   appID.String(),
		Metadata:  map[string]interface{}{"key_id": key.ID.String(), "prefix": prefix},
	})

	return &KeyResult{Key: key, Plaintext: plain}, nil
}

// ListKeys returns the app's keys, newest first, hashes never included
func (s *Service) ListKeys(ctx context.Context, appID uuid.UUID) ([]*types.AppKey, error) {
	if _, err := s.store.GetApp(ctx, appID); err != nil {
		return nil, err
	}
	return s.store.ListKeys(ctx, appID)
}

// RevokeKey revokes a single app key
func (s *Service) RevokeKey(ctx context.Context, appID, keyID uuid.UUID) error {
	if _, err := s.store.GetApp(ctx, appID); err != nil {
		return err
	}
	if err := s.store.RevokeKey(ctx, appID, keyID); err != nil {
		return err
	}
	s.audit.Emit(ctx, &types.AuditEvent{
		EventType: audit.EventAppKeyRevoked,
		ActorType: types.ActorTypeApp,
		ActorID:   appID.String(),
		Metadata:  map[string]interface{}{"key_id": keyID.String()},
	})
	return nil
}

// RotateKeys revokes every active key and issues a replacement in one
// transaction
func (s *Service) RotateKeys(ctx context.Context, appID uuid.UUID) (*KeyResult, error) {
	app, err := s.store.GetApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	if !app.IsActive() {
		return nil, apperr.Newf(apperr.CodeForbidden, "app %s is suspended", appID)
	}

	plain, prefix, hash, err := s.generator.Generate()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to generate app key")
	}

	key := &types.AppKey{
		ID:         uuid.New(),
		AppID:      appID,
		Prefix:     prefix,
		SecretHash: hash,
		Status:     types.AppKeyStatusActive,
		CreatedAt:  s.now(),
	}
	if err := s.store.RotateKeys(ctx, appID, key); err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, &types.AuditEvent{
		EventType: audit.EventAppKeysRotated,
		ActorType: types.ActorTypeApp,
		ActorID:   appID.String(),
		Metadata:  map[string]interface{}{"key_id": key.ID.String()},
	})

	return &KeyResult{Key: key, Plaintext: plain}, nil
}

// ValidateKey authenticates a presented secret and returns the owning app.
// When no candidate matches the prefix, a decoy hash is still verified so
// rejections take comparable time either way.
func (s *Service) ValidateKey(ctx context.Context, plain string) (*types.App, *types.AppKey, error) {
	if !s.generator.ValidateFormat(plain) {
		return nil, nil, apperr.New(apperr.CodeUnauthorized, "invalid app key")
	}

	candidates, err := s.store.ListKeysByPrefix(ctx, plain[:PrefixLen])
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.CodeInternal, "app key lookup failed")
	}

	var matched *types.AppKey
	for _, key := range candidates {
		if s.generator.VerifyHash(plain, key.SecretHash) {
			matched = key
			break
		}
	}
	if matched == nil {
		if len(candidates) == 0 {
			s.generator.VerifyHash(plain, decoyHash)
		}
		return nil, nil, apperr.New(apperr.CodeUnauthorized, "invalid app key")
	}

	app, err := s.store.GetApp(ctx, matched.AppID)
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.CodeUnauthorized, "invalid app key")
	}
	if !app.IsActive() {
		return nil, nil, apperr.New(apperr.CodeForbidden, "app is suspended")
	}

	// last-used update happens off the request path
	keyID := matched.ID
	usedAt := s.now()
	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.TouchKey(touchCtx, keyID, usedAt); err != nil {
			s.logger.Debug("app key touch failed", zap.String("key_id", keyID.String()), zap.Error(err))
		}
	}()

	return app, matched, nil
}
