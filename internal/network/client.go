package network

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"lancerpay/internal/models"
)

const (
	BaseGas     uint64 = 21000
	ContractGas uint64 = 45000

	// DefaultGasPrice is 20 gwei.
	DefaultGasPrice int64 = 20_000_000_000
)

var (
	ErrReadOnly    = errors.New("network client is read-only")
	ErrDuplicateTx = errors.New("transaction already submitted")
	ErrMissingHash = errors.New("transaction hash required")
)

// Client abstracts the destination ledger. Reads have no side effects on
// ledger state; Submit hands a transaction to the ledger for inclusion.
type Client interface {
	Config() models.NetworkConfig
	BlockNumber(ctx context.Context) (uint64, error)
	// TransactionReceipt returns nil, nil for unknown hashes.
	TransactionReceipt(ctx context.Context, hash string) (*models.TransactionRecord, error)
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	// Balance returns "0.0" for tokens the network does not know.
	Balance(ctx context.Context, address, token string) (string, error)
	Submit(ctx context.Context, tx *models.TransactionRecord) error
}

// HealthChecker is implemented by clients that can probe their backend.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type CallMsg struct {
	From  string
	To    string
	Value string
	Data  []byte
}

// DefaultConfig describes the Bless Network.
func DefaultConfig() models.NetworkConfig {
	return models.NetworkConfig{
		NetworkName: "Bless Network",
		ChainID:     2026,
		RPCURL:      "https://bless-rpc.alt.technology",
		ExplorerURL: "https://bless.alt.technology",
		NativeCurrency: models.NativeCurrency{
			Name:     "Bless",
			Symbol:   models.TokenBLS,
			Decimals: 18,
		},
		SupportedTokens: []models.TokenInfo{
			{Symbol: models.TokenBLS, Address: "0x0000000000000000000000000000000000000000", Decimals: 18},
			{Symbol: models.TokenUSDC, Address: "0xa0b86991c431e1d7dbf0be1a3bc25a9b4c6e70b2", Decimals: 6},
			{Symbol: models.TokenETH, Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		},
	}
}

// NewTxHash returns a 0x-prefixed keccak256 over parts and a random nonce,
// so two identical payloads still get distinct hashes.
func NewTxHash(parts ...string) string {
	nonce := make([]byte, 16)
	_, _ = rand.Read(nonce)
	data := make([][]byte, 0, len(parts)+1)
	for _, p := range parts {
		data = append(data, []byte(p))
	}
	data = append(data, nonce)
	return crypto.Keccak256Hash(data...).Hex()
}

// DeriveAddress returns a checksummed address from the keccak256 of parts.
func DeriveAddress(parts ...string) string {
	data := make([][]byte, 0, len(parts))
	for _, p := range parts {
		data = append(data, []byte(p))
	}
	return common.BytesToAddress(crypto.Keccak256(data...)[12:]).Hex()
}
