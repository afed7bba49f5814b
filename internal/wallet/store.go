package wallet

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lancerpay/internal/models"
)

var ErrWalletExists = errors.New("wallet already exists")

// Store persists wallets keyed by address.
type Store interface {
	// Get returns nil, nil when the address is unknown.
	Get(ctx context.Context, address string) (*models.Wallet, error)
	Put(ctx context.Context, w *models.Wallet) error
	// Update applies fn to the stored wallet atomically. It returns false
	// when the address is unknown.
	Update(ctx context.Context, address string, fn func(*models.Wallet) error) (bool, error)
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]models.Wallet
}

// NormalizeAddress returns the EIP-55 form of a hex address. Anything that
// is not a 20-byte hex address is returned unchanged.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]models.Wallet)}
}

func (m *MemoryStore) Get(_ context.Context, address string) (*models.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.data[NormalizeAddress(address)]
	if !ok {
		return nil, nil
	}
	return cloneWallet(w), nil
}

func (m *MemoryStore) Put(_ context.Context, w *models.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := NormalizeAddress(w.Address)
	if _, ok := m.data[key]; ok {
		return ErrWalletExists
	}
	m.data[key] = *cloneWallet(*w)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, address string, fn func(*models.Wallet) error) (bool, error) {
	address = NormalizeAddress(address)
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.data[address]
	if !ok {
		return false, nil
	}
	cp := cloneWallet(w)
	if err := fn(cp); err != nil {
		return true, err
	}
	m.data[address] = *cp
	return true, nil
}

func cloneWallet(w models.Wallet) *models.Wallet {
	balances := make(map[string]string, len(w.Balances))
	for k, v := range w.Balances {
		balances[k] = v
	}
	w.Balances = balances
	return &w
}
