package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/tyler-smith/go-bip39"
	"go.uber.org/zap"

	"lancerpay/internal/apperr"
	"lancerpay/internal/models"
)

// Registry creates, imports and looks up wallets.
type Registry struct {
	store  Store
	tokens []string
	log    *zap.Logger
	now    func() time.Time
}

// NewRegistry tracks balances for the given token symbols.
func NewRegistry(store Store, tokens []string, log *zap.Logger) *Registry {
	return &Registry{store: store, tokens: tokens, log: log, now: time.Now}
}

// CreateWallet generates a 12-word mnemonic and derives the account key from
// its seed: key = keccak256(seed). This is deterministic but is not a BIP-44
// path, so other wallets will not derive the same address from the phrase.
func (r *Registry) CreateWallet(ctx context.Context) (*models.Wallet, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return nil, fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("generate mnemonic: %w", err)
	}
	key, err := KeyFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}

	w := r.newWallet(key)
	w.Mnemonic = mnemonic
	if err := r.store.Put(ctx, w); err != nil {
		return nil, fmt.Errorf("store wallet: %w", err)
	}

	r.log.Info("created wallet", zap.String("address", w.Address))
	return w, nil
}

// ImportWallet registers the account behind privateKeyHex. Importing an
// already known key returns the stored wallet.
func (r *Registry) ImportWallet(ctx context.Context, privateKeyHex string) (*models.Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, apperr.Validation("invalid private key")
	}

	w := r.newWallet(key)
	err = r.store.Put(ctx, w)
	if errors.Is(err, ErrWalletExists) {
		return r.store.Get(ctx, w.Address)
	}
	if err != nil {
		return nil, fmt.Errorf("store wallet: %w", err)
	}

	r.log.Info("imported wallet", zap.String("address", w.Address))
	return w, nil
}

// GetWallet returns nil, nil when the address is unknown.
func (r *Registry) GetWallet(ctx context.Context, address string) (*models.Wallet, error) {
	return r.store.Get(ctx, NormalizeAddress(address))
}

// UpdateWalletBalance is a no-op for unknown addresses.
func (r *Registry) UpdateWalletBalance(ctx context.Context, address, token, balance string) error {
	if _, err := decimal.NewFromString(balance); err != nil {
		return apperr.Validation("invalid balance %q", balance)
	}
	found, err := r.store.Update(ctx, NormalizeAddress(address), func(w *models.Wallet) error {
		if w.Balances == nil {
			w.Balances = make(map[string]string)
		}
		w.Balances[token] = balance
		return nil
	})
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if !found {
		r.log.Debug("balance update for unknown wallet ignored", zap.String("address", address))
	}
	return nil
}

func (r *Registry) newWallet(key *ecdsa.PrivateKey) *models.Wallet {
	balances := make(map[string]string, len(r.tokens))
	for _, t := range r.tokens {
		balances[t] = "0.0"
	}
	return &models.Wallet{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PublicKey:  hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey)),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
		Balances:   balances,
		CreatedAt:  r.now().UTC(),
	}
}

// KeyFromMnemonic derives the secp256k1 account key for a mnemonic.
func KeyFromMnemonic(mnemonic string) (*ecdsa.PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, apperr.Validation("invalid mnemonic")
	}
	key, err := crypto.ToECDSA(crypto.Keccak256(seed))
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
