package wallet

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lancerpay/internal/apperr"
	"lancerpay/internal/models"
)

var tokens = []string{models.TokenBLS, models.TokenUSDC, models.TokenETH}

func newRegistry() *Registry {
	return NewRegistry(NewMemoryStore(), tokens, zap.NewNop())
}

func TestCreateWallet(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	w, err := r.CreateWallet(ctx)
	require.NoError(t, err)
	assert.True(t, common.IsHexAddress(w.Address))
	assert.Len(t, strings.Fields(w.Mnemonic), 12)
	assert.True(t, strings.HasPrefix(w.PublicKey, "0x04"))
	for _, tok := range tokens {
		assert.Equal(t, "0.0", w.Balances[tok])
	}

	key, err := KeyFromMnemonic(w.Mnemonic)
	require.NoError(t, err)
	assert.Equal(t, w.Address, crypto.PubkeyToAddress(key.PublicKey).Hex())

	got, err := r.GetWallet(ctx, w.Address)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, w.Address, got.Address)

	other, err := r.CreateWallet(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, w.Address, other.Address)
}

func TestImportWallet(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hex := common.Bytes2Hex(crypto.FromECDSA(key))

	w, err := r.ImportWallet(ctx, hex)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), w.Address)
	assert.Empty(t, w.Mnemonic)

	require.NoError(t, r.UpdateWalletBalance(ctx, w.Address, models.TokenBLS, "12.5"))

	again, err := r.ImportWallet(ctx, "0x"+hex)
	require.NoError(t, err)
	assert.Equal(t, w.Address, again.Address)
	assert.Equal(t, "12.5", again.Balances[models.TokenBLS])
}

func TestImportWalletRejectsBadKey(t *testing.T) {
	_, err := newRegistry().ImportWallet(context.Background(), "not-a-key")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestGetWalletUnknown(t *testing.T) {
	w, err := newRegistry().GetWallet(context.Background(), "0xnope")
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestUpdateWalletBalance(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	w, err := r.CreateWallet(ctx)
	require.NoError(t, err)

	require.NoError(t, r.UpdateWalletBalance(ctx, w.Address, models.TokenUSDC, "42.000001"))
	got, _ := r.GetWallet(ctx, w.Address)
	assert.Equal(t, "42.000001", got.Balances[models.TokenUSDC])
	assert.Equal(t, "0.0", got.Balances[models.TokenBLS])

	assert.NoError(t, r.UpdateWalletBalance(ctx, "0xunknown", models.TokenBLS, "1"))

	err = r.UpdateWalletBalance(ctx, w.Address, models.TokenBLS, "lots")
	assert.True(t, errors.Is(err, apperr.Kind(apperr.CodeValidation)))
}

func TestWalletAddressCaseInsensitive(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	w, err := r.CreateWallet(ctx)
	require.NoError(t, err)

	lower := strings.ToLower(w.Address)
	require.NotEqual(t, w.Address, lower)

	got, err := r.GetWallet(ctx, lower)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, w.Address, got.Address)

	require.NoError(t, r.UpdateWalletBalance(ctx, lower, models.TokenUSDC, "7.5"))
	got, _ = r.GetWallet(ctx, "0x"+strings.ToUpper(w.Address[2:]))
	require.NotNil(t, got)
	assert.Equal(t, "7.5", got.Balances[models.TokenUSDC])
}

func TestNormalizeAddress(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000ab").Hex()
	assert.Equal(t, addr, NormalizeAddress(strings.ToLower(addr)))
	assert.Equal(t, addr, NormalizeAddress(" "+addr+" "))
	assert.Equal(t, "0xmissing", NormalizeAddress("0xmissing"))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, &models.Wallet{Address: "0xa", Balances: map[string]string{"BLS": "1"}}))

	got, _ := s.Get(ctx, "0xa")
	got.Balances["BLS"] = "999"

	again, _ := s.Get(ctx, "0xa")
	assert.Equal(t, "1", again.Balances["BLS"])
	assert.ErrorIs(t, s.Put(ctx, &models.Wallet{Address: "0xa"}), ErrWalletExists)
}
