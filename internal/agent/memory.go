package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-passport/go-core/internal/apperr"
	"github.com/agent-passport/go-core/pkg/types"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Thread-safe via sync.RWMutex.
type MemoryStore struct {
	mu         sync.RWMutex
	agents     map[uuid.UUID]*types.Agent
	byHandle   map[string]uuid.UUID
	keys       map[uuid.UUID]*types.AgentKey
	challenges map[uuid.UUID]*types.Challenge
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:     make(map[uuid.UUID]*types.Agent),
		byHandle:   make(map[string]uuid.UUID),
		keys:       make(map[uuid.UUID]*types.AgentKey),
		challenges: make(map[uuid.UUID]*types.Challenge),
	}
}

func (s *MemoryStore) CreateAgentWithKey(ctx context.Context, agent *types.Agent, key *types.AgentKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byHandle[agent.Handle]; taken {
		return apperr.Newf(apperr.CodeHandleTaken, "handle %q is already registered", agent.Handle)
	}

	a := *agent
	k := *key
	s.agents[a.ID] = &a
	s.byHandle[a.Handle] = a.ID
	s.keys[k.ID] = &k
	return nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, id uuid.UUID) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, apperr.Newf(apperr.CodeAgentNotFound, "agent %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetAgentByHandle(ctx context.Context, handle string) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHandle[handle]
	if !ok {
		return nil, apperr.Newf(apperr.CodeAgentNotFound, "agent %q not found", handle)
	}
	cp := *s.agents[id]
	return &cp, nil
}

func (s *MemoryStore) UpdateAgentStatus(ctx context.Context, id uuid.UUID, status types.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return apperr.Newf(apperr.CodeAgentNotFound, "agent %s not found", id)
	}
	a.Status = status
	return nil
}

func (s *MemoryStore) AddKey(ctx context.Context, key *types.AgentKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[key.AgentID]; !ok {
		return apperr.Newf(apperr.CodeAgentNotFound, "agent %s not found", key.AgentID)
	}
	cp := *key
	s.keys[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetKey(ctx context.Context, agentID, keyID uuid.UUID) (*types.AgentKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[keyID]
	if !ok || k.AgentID != agentID {
		return nil, apperr.Newf(apperr.CodeKeyNotFound, "key %s not found", keyID)
	}
	cp := *k
	return &cp, nil
}

func (s *MemoryStore) ListActiveKeys(ctx context.Context, agentID uuid.UUID) ([]*types.AgentKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.AgentKey
	for _, k := range s.keys {
		if k.AgentID == agentID && !k.IsRevoked() {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) RevokeKey(ctx context.Context, agentID, keyID uuid.UUID, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok || k.AgentID != agentID {
		return apperr.Newf(apperr.CodeKeyNotFound, "key %s not found", keyID)
	}
	if k.IsRevoked() {
		return apperr.Newf(apperr.CodeKeyAlreadyRevoked, "key %s is already revoked", keyID)
	}
	t := revokedAt
	k.RevokedAt = &t
	return nil
}

func (s *MemoryStore) CreateChallenge(ctx context.Context, challenge *types.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *challenge
	s.challenges[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetChallenge(ctx context.Context, id uuid.UUID) (*types.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.challenges[id]
	if !ok {
		return nil, apperr.Newf(apperr.CodeChallengeNotFound, "challenge %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ConsumeChallenge(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[id]
	if !ok {
		return false, apperr.Newf(apperr.CodeChallengeNotFound, "challenge %s not found", id)
	}
	if c.UsedAt != nil {
		return false, nil
	}
	t := usedAt
	c.UsedAt = &t
	return true, nil
}
