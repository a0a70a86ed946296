package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spire-labs/poc-monorepo/messages"
)

// MemoryStore is a process-local gateway store for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	statuses    map[common.Hash]messages.PreconfStatus
	commitments map[common.Hash]messages.PreconfirmationCommitment
	enforcers   map[common.Address]messages.EnforcerMetadata
	challenges  map[string]time.Time
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses:    make(map[common.Hash]messages.PreconfStatus),
		commitments: make(map[common.Hash]messages.PreconfirmationCommitment),
		enforcers:   make(map[common.Address]messages.EnforcerMetadata),
		challenges:  make(map[string]time.Time),
		now:         time.Now,
	}
}

func (m *MemoryStore) InsertStatus(_ context.Context, txHash common.Hash, status messages.PreconfStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statuses[txHash]; ok {
		return ErrDuplicate
	}
	m.statuses[txHash] = status
	return nil
}

func (m *MemoryStore) SetStatus(_ context.Context, txHash common.Hash, status messages.PreconfStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statuses[txHash]; !ok {
		return ErrNotFound
	}
	m.statuses[txHash] = status
	return nil
}

func (m *MemoryStore) GetStatus(_ context.Context, txHash common.Hash) (messages.PreconfStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[txHash]
	if !ok {
		return "", ErrNotFound
	}
	return status, nil
}

func (m *MemoryStore) SaveCommitment(_ context.Context, c messages.PreconfirmationCommitment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitments[c.PreconfirmationRequest.Transaction.Hash] = c
	return nil
}

func (m *MemoryStore) GetCommitment(_ context.Context, txHash common.Hash) (messages.PreconfirmationCommitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commitments[txHash]
	if !ok {
		return c, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) PutEnforcer(_ context.Context, e messages.EnforcerMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enforcers[e.Address] = e
	return nil
}

func (m *MemoryStore) GetEnforcer(_ context.Context, addr common.Address) (messages.EnforcerMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enforcers[addr]
	if !ok {
		return e, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) ListEnforcers(_ context.Context) ([]messages.EnforcerMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]messages.EnforcerMetadata, 0, len(m.enforcers))
	for _, e := range m.enforcers {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i].Address) < key(out[j].Address) })
	return out, nil
}

func (m *MemoryStore) CreateChallenge(_ context.Context, challenge string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.challenges[challenge]; ok {
		return ErrDuplicate
	}
	m.challenges[challenge] = m.now()
	return nil
}

func (m *MemoryStore) ConsumeChallenge(_ context.Context, challenge string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	created, ok := m.challenges[challenge]
	if !ok {
		return ErrNotFound
	}
	delete(m.challenges, challenge)
	if m.now().Sub(created) > ChallengeTTL {
		return ErrChallengeExpired
	}
	return nil
}
