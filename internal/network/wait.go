package network

import (
	"context"
	"time"

	"lancerpay/internal/models"
)

// WaitForConfirmation polls until the transaction is confirmed or failed, or
// the context is cancelled. Unknown hashes are polled like pending ones.
func WaitForConfirmation(ctx context.Context, client Client, hash string, interval time.Duration) (*models.TransactionRecord, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rec, err := client.TransactionReceipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.Status != models.TxPending {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Confirmations is head-block+1 for a confirmed transaction, 0 otherwise.
func Confirmations(rec *models.TransactionRecord, head uint64) int {
	if rec == nil || rec.Status != models.TxConfirmed {
		return 0
	}
	if head < rec.BlockNumber {
		return 1
	}
	return int(head-rec.BlockNumber) + 1
}
