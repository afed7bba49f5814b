package network

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"lancerpay/internal/models"
)

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// EthClient reads ledger state from an EVM JSON-RPC endpoint. It cannot
// submit: signing and broadcast are out of its reach.
type EthClient struct {
	client  *ethclient.Client
	erc20   abi.ABI
	cfg     models.NetworkConfig
	chainID *big.Int
	timeout time.Duration
}

type EthClientConfig struct {
	RPCURL  string
	Timeout time.Duration
	// Network describes tokens and explorer; ChainID is overwritten with the
	// value reported by the node.
	Network models.NetworkConfig
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20BalanceOfABI))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	netCfg := cfg.Network
	netCfg.RPCURL = cfg.RPCURL
	netCfg.ChainID = chainID.Int64()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &EthClient{
		client:  cli,
		erc20:   parsedABI,
		cfg:     netCfg,
		chainID: chainID,
		timeout: timeout,
	}, nil
}

func (c *EthClient) Close() {
	c.client.Close()
}

func (c *EthClient) Config() models.NetworkConfig {
	return c.cfg
}

func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.BlockNumber(ctx)
}

func (c *EthClient) TransactionReceipt(ctx context.Context, hash string) (*models.TransactionRecord, error) {
	if hash == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	h := common.HexToHash(hash)
	tx, pending, err := c.client.TransactionByHash(ctx, h)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transaction by hash: %w", err)
	}

	rec := &models.TransactionRecord{
		Hash:        h.Hex(),
		Value:       weiToDecimal(tx.Value(), c.cfg.NativeCurrency.Decimals),
		GasPrice:    tx.GasPrice().String(),
		Status:      models.TxPending,
		TokenSymbol: c.cfg.NativeCurrency.Symbol,
		Type:        models.TxSend,
	}
	if tx.To() != nil {
		rec.To = tx.To().Hex()
	}
	if from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx); err == nil {
		rec.From = from.Hex()
	}
	if pending {
		return rec, nil
	}

	receipt, err := c.client.TransactionReceipt(ctx, h)
	if errors.Is(err, ethereum.NotFound) {
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transaction receipt: %w", err)
	}

	rec.BlockNumber = receipt.BlockNumber.Uint64()
	rec.GasUsed = fmt.Sprintf("%d", receipt.GasUsed)
	if receipt.EffectiveGasPrice != nil {
		rec.GasPrice = receipt.EffectiveGasPrice.String()
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		rec.Status = models.TxConfirmed
	} else {
		rec.Status = models.TxFailed
	}
	if header, err := c.client.HeaderByNumber(ctx, receipt.BlockNumber); err == nil {
		rec.Timestamp = int64(header.Time) * 1000
	}
	return rec, nil
}

func (c *EthClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	call := ethereum.CallMsg{
		From: common.HexToAddress(msg.From),
		Data: msg.Data,
	}
	if msg.To != "" {
		to := common.HexToAddress(msg.To)
		call.To = &to
	}
	if msg.Value != "" {
		value, err := decimalToWei(msg.Value, c.cfg.NativeCurrency.Decimals)
		if err != nil {
			return 0, err
		}
		call.Value = value
	}
	return c.client.EstimateGas(ctx, call)
}

func (c *EthClient) GasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.SuggestGasPrice(ctx)
}

func (c *EthClient) Balance(ctx context.Context, address, token string) (string, error) {
	if token == "" {
		token = c.cfg.NativeCurrency.Symbol
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	owner := common.HexToAddress(address)
	if token == c.cfg.NativeCurrency.Symbol {
		wei, err := c.client.BalanceAt(ctx, owner, nil)
		if err != nil {
			return "", fmt.Errorf("balance at: %w", err)
		}
		return weiToDecimal(wei, c.cfg.NativeCurrency.Decimals), nil
	}

	var info *models.TokenInfo
	for i := range c.cfg.SupportedTokens {
		if c.cfg.SupportedTokens[i].Symbol == token {
			info = &c.cfg.SupportedTokens[i]
			break
		}
	}
	if info == nil {
		return "0.0", nil
	}

	data, err := c.erc20.Pack("balanceOf", owner)
	if err != nil {
		return "", fmt.Errorf("pack balanceOf: %w", err)
	}
	contract := common.HexToAddress(info.Address)
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("call balanceOf: %w", err)
	}
	vals, err := c.erc20.Unpack("balanceOf", out)
	if err != nil || len(vals) == 0 {
		return "", fmt.Errorf("unpack balanceOf: %w", err)
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return "", fmt.Errorf("unexpected balanceOf result %T", vals[0])
	}
	return weiToDecimal(raw, info.Decimals), nil
}

func (c *EthClient) Submit(context.Context, *models.TransactionRecord) error {
	return ErrReadOnly
}

func (c *EthClient) Ping(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

func weiToDecimal(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}

func decimalToWei(amount string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}
