package network

import (
	"context"
	"math/big"
	"sync"
	"time"

	"lancerpay/internal/models"
)

var simBalances = map[string]string{
	models.TokenBLS:  "1000.0",
	models.TokenUSDC: "500.0",
	models.TokenETH:  "2.5",
}

// SimClient is an in-process ledger. Submitted transactions stay pending
// until ConfirmAfter has elapsed on the client's clock, then report as
// confirmed. Block height is the clock's unix time in seconds.
type SimClient struct {
	ConfirmAfter time.Duration
	Now          func() time.Time

	cfg models.NetworkConfig
	mu  sync.RWMutex
	txs map[string]simTx
}

type simTx struct {
	record      models.TransactionRecord
	submittedAt time.Time
}

func NewSimClient(confirmAfter time.Duration) *SimClient {
	return &SimClient{
		ConfirmAfter: confirmAfter,
		cfg:          DefaultConfig(),
		txs:          make(map[string]simTx),
	}
}

func (c *SimClient) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *SimClient) Config() models.NetworkConfig {
	return c.cfg
}

func (c *SimClient) BlockNumber(_ context.Context) (uint64, error) {
	return uint64(c.now().Unix()), nil
}

func (c *SimClient) TransactionReceipt(_ context.Context, hash string) (*models.TransactionRecord, error) {
	if hash == "" {
		return nil, nil
	}
	c.mu.RLock()
	tx, ok := c.txs[hash]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	rec := tx.record
	if rec.Status == models.TxPending && c.now().Sub(tx.submittedAt) >= c.ConfirmAfter {
		rec.Status = models.TxConfirmed
	}
	return &rec, nil
}

func (c *SimClient) EstimateGas(_ context.Context, msg CallMsg) (uint64, error) {
	gas := BaseGas
	if len(msg.Data) > 0 {
		gas += ContractGas
	}
	return gas, nil
}

func (c *SimClient) GasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(DefaultGasPrice), nil
}

func (c *SimClient) Balance(_ context.Context, _ string, token string) (string, error) {
	if token == "" {
		token = c.cfg.NativeCurrency.Symbol
	}
	if bal, ok := simBalances[token]; ok {
		return bal, nil
	}
	return "0.0", nil
}

// Submit stamps the transaction with the current block and records it as
// pending. Resubmitting a known hash is rejected.
func (c *SimClient) Submit(ctx context.Context, tx *models.TransactionRecord) error {
	if tx.Hash == "" {
		return ErrMissingHash
	}
	block, _ := c.BlockNumber(ctx)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.txs[tx.Hash]; exists {
		return ErrDuplicateTx
	}

	tx.BlockNumber = block
	tx.Status = models.TxPending
	if tx.Timestamp == 0 {
		tx.Timestamp = now.UnixMilli()
	}
	c.txs[tx.Hash] = simTx{record: *tx, submittedAt: now}
	return nil
}

func (c *SimClient) Ping(context.Context) error {
	return nil
}
