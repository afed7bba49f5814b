// Package dispatch holds the one rule deciding whether an intent becomes an
// escrow or a direct transfer, so the facade and the bridge cannot drift.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"lancerpay/internal/escrow"
	"lancerpay/internal/models"
	"lancerpay/internal/payment"
)

const DefaultEscrowDuration = 30 * 24 * time.Hour

type Dispatcher struct {
	payments *payment.Processor
	escrows  *escrow.Engine

	// EscrowDuration sets the deadline of escrows whose intent carries none.
	EscrowDuration time.Duration
	// Description is used for escrows created from intents without one.
	Description string

	now func() time.Time
}

func New(payments *payment.Processor, escrows *escrow.Engine, duration time.Duration, description string) *Dispatcher {
	if duration <= 0 {
		duration = DefaultEscrowDuration
	}
	return &Dispatcher{
		payments:       payments,
		escrows:        escrows,
		EscrowDuration: duration,
		Description:    description,
		now:            time.Now,
	}
}

// Route sends escrow-flagged intents to the escrow engine and everything else
// to the payment processor.
func (d *Dispatcher) Route(ctx context.Context, intent models.PaymentIntent) models.PaymentResponse {
	if !intent.Metadata.IsEscrow() {
		return d.payments.ProcessDirectPayment(ctx, intent)
	}

	res := d.escrows.CreateEscrow(ctx, d.EscrowRequest(intent))
	return models.PaymentResponse{
		Success:       res.Success,
		TransactionID: res.TransactionID,
		EscrowID:      res.EscrowID,
		Error:         res.Error,
		ErrorCode:     res.ErrorCode,
		Timestamp:     d.now().UnixMilli(),
		Confirmations: 0,
	}
}

// EscrowRequest maps an escrow intent: the payer is the client and the payee
// the freelancer.
func (d *Dispatcher) EscrowRequest(intent models.PaymentIntent) escrow.CreateEscrowRequest {
	now := d.now()
	projectID := intent.Metadata.ProjectID
	if projectID == "" {
		projectID = fmt.Sprintf("project_%d", now.UnixMilli())
	}
	description := intent.Description
	if description == "" {
		description = d.Description
	}
	deadline := now.Add(d.EscrowDuration).UnixMilli()
	if intent.Metadata.DeadlineTimestamp != nil && *intent.Metadata.DeadlineTimestamp > 0 {
		deadline = *intent.Metadata.DeadlineTimestamp
	}
	return escrow.CreateEscrowRequest{
		ClientAddress:     intent.FromAddress,
		FreelancerAddress: intent.ToAddress,
		Amount:            intent.Amount,
		TokenSymbol:       intent.TokenSymbol,
		ProjectID:         projectID,
		Description:       description,
		DeadlineTimestamp: deadline,
	}
}
