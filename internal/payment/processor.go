package payment

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lancerpay/internal/apperr"
	"lancerpay/internal/models"
	"lancerpay/internal/network"
)

type Validation struct {
	IsValid bool   `json:"isValid"`
	Error   string `json:"error,omitempty"`
}

// Processor validates and submits direct (non-escrow) transfers.
type Processor struct {
	net network.Client
	log *zap.Logger
	now func() time.Time
}

func NewProcessor(net network.Client, log *zap.Logger) *Processor {
	return &Processor{net: net, log: log, now: time.Now}
}

// Validate applies the intent rules in order; the first failure wins.
func (p *Processor) Validate(intent models.PaymentIntent) Validation {
	amount, err := decimal.NewFromString(intent.Amount)
	if intent.Amount == "" || err != nil || !amount.IsPositive() {
		return Validation{Error: "Invalid amount"}
	}
	if intent.FromAddress == "" || intent.ToAddress == "" {
		return Validation{Error: "Missing wallet addresses"}
	}
	if intent.FromAddress == intent.ToAddress {
		return Validation{Error: "Cannot send to same address"}
	}
	if !p.net.Config().Supports(intent.TokenSymbol) {
		return Validation{Error: fmt.Sprintf("Unsupported token: %s", intent.TokenSymbol)}
	}
	return Validation{IsValid: true}
}

// CalculateNetworkFee returns gasLimit * gasPrice in wei.
func CalculateNetworkFee(gasLimit uint64, gasPrice *big.Int) string {
	if gasPrice == nil {
		gasPrice = big.NewInt(network.DefaultGasPrice)
	}
	fee := new(big.Int).SetUint64(gasLimit)
	return fee.Mul(fee, gasPrice).String()
}

// ProcessDirectPayment never returns an error: every failure is reported in
// the response.
func (p *Processor) ProcessDirectPayment(ctx context.Context, intent models.PaymentIntent) models.PaymentResponse {
	if v := p.Validate(intent); !v.IsValid {
		return p.failure(apperr.CodeValidation, v.Error)
	}

	gasLimit, err := p.net.EstimateGas(ctx, network.CallMsg{
		From:  intent.FromAddress,
		To:    intent.ToAddress,
		Value: intent.Amount,
	})
	if err != nil {
		p.log.Error("direct payment gas estimate failed", zap.String("request_id", intent.RequestID), zap.Error(err))
		return p.failure(apperr.CodeUpstream, "gas estimation failed: "+err.Error())
	}

	gasPrice, err := p.net.GasPrice(ctx)
	if err != nil {
		p.log.Warn("gas price unavailable, using default", zap.Error(err))
		gasPrice = big.NewInt(network.DefaultGasPrice)
	}
	fee := CalculateNetworkFee(gasLimit, gasPrice)

	now := p.now()
	tx := &models.TransactionRecord{
		Hash:        network.NewTxHash(intent.RequestID, intent.FromAddress, intent.ToAddress, intent.Amount, intent.TokenSymbol),
		From:        intent.FromAddress,
		To:          intent.ToAddress,
		Value:       intent.Amount,
		GasUsed:     fmt.Sprintf("%d", gasLimit),
		GasPrice:    gasPrice.String(),
		Timestamp:   now.UnixMilli(),
		TokenSymbol: intent.TokenSymbol,
		Type:        models.TxSend,
	}
	if err := p.net.Submit(ctx, tx); err != nil {
		p.log.Error("direct payment submit failed", zap.String("request_id", intent.RequestID), zap.Error(err))
		return p.failure(apperr.CodeUpstream, "submit transaction: "+err.Error())
	}

	p.log.Info("processing direct payment",
		zap.String("request_id", intent.RequestID),
		zap.String("amount", intent.Amount),
		zap.String("token", intent.TokenSymbol),
		zap.String("from", intent.FromAddress),
		zap.String("to", intent.ToAddress),
		zap.String("tx_hash", tx.Hash),
	)

	return models.PaymentResponse{
		Success:       true,
		TransactionID: tx.Hash,
		BlessHash:     tx.Hash,
		GasUsed:       tx.GasUsed,
		NetworkFee:    fee,
		Timestamp:     now.UnixMilli(),
		Confirmations: 0,
	}
}

func (p *Processor) failure(code, msg string) models.PaymentResponse {
	return models.PaymentResponse{
		Success:       false,
		Error:         msg,
		ErrorCode:     code,
		Timestamp:     p.now().UnixMilli(),
		Confirmations: 0,
	}
}
