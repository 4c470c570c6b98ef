package appcred

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-passport/go-core/internal/apperr"
	"github.com/agent-passport/go-core/pkg/types"
)

// MemoryStore is an in-memory Store used by tests and local development
type MemoryStore struct {
	mu   sync.RWMutex
	apps map[uuid.UUID]*types.App
	keys map[uuid.UUID]*types.AppKey
}

// NewMemoryStore creates an empty in-memory app credential store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps: make(map[uuid.UUID]*types.App),
		keys: make(map[uuid.UUID]*types.AppKey),
	}
}

func (s *MemoryStore) CreateApp(ctx context.Context, app *types.App) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *app
	s.apps[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetApp(ctx context.Context, id uuid.UUID) (*types.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.apps[id]
	if !ok {
		return nil, apperr.Newf(apperr.CodeAppNotFound, "app %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) CreateKey(ctx context.Context, key *types.AppKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) ListKeysByPrefix(ctx context.Context, prefix string) ([]*types.AppKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.AppKey
	for _, k := range s.keys {
		if k.Prefix == prefix && k.Status == types.AppKeyStatusActive {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListKeys(ctx context.Context, appID uuid.UUID) ([]*types.AppKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.AppKey
	for _, k := range s.keys {
		if k.AppID == appID {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeKey(ctx context.Context, appID, keyID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok || k.AppID != appID || k.Status != types.AppKeyStatusActive {
		return apperr.Newf(apperr.CodeKeyNotFound, "app key %s not found or already revoked", keyID)
	}
	k.Status = types.AppKeyStatusRevoked
	return nil
}

func (s *MemoryStore) RotateKeys(ctx context.Context, appID uuid.UUID, newKey *types.AppKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.AppID == appID && k.Status == types.AppKeyStatusActive {
			k.Status = types.AppKeyStatusRevoked
		}
	}
	cp := *newKey
	s.keys[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) TouchKey(ctx context.Context, keyID uuid.UUID, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[keyID]; ok {
		t := usedAt
		k.LastUsedAt = &t
	}
	return nil
}
