package escrow

import (
	"context"
	"sync"

	"lancerpay/internal/models"
)

// Store persists escrow contracts. Update is a compare-and-swap on
// Version: it fails with ErrVersionConflict when the stored contract has
// moved on, and bumps Version on success.
type Store interface {
	Create(ctx context.Context, c *models.EscrowContract) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*models.EscrowContract, error)
	Update(ctx context.Context, c *models.EscrowContract) error
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*models.EscrowContract
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*models.EscrowContract)}
}

func (m *MemoryStore) Create(_ context.Context, c *models.EscrowContract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[c.ID]; ok {
		return ErrDuplicate
	}
	m.data[c.ID] = c.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.EscrowContract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, c *models.EscrowContract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != c.Version {
		return ErrVersionConflict
	}
	c.Version++
	m.data[c.ID] = c.Clone()
	return nil
}
