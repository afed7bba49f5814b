package events

import (
	"context"
	"sync"
)

// Stream is the channel every LancerPay event is published on.
const Stream = "lancerpay:events"

// Event types
const (
	EventPaymentProcessed     = "payment_processed"
	EventEscrowCreated        = "escrow_created"
	EventEscrowReleased       = "escrow_released"
	EventMilestoneSubmitted   = "milestone_submitted"
	EventMilestoneReleased    = "milestone_released"
	EventEscrowDisputed       = "escrow_disputed"
	EventEscrowCancelled      = "escrow_cancelled"
	EventPaymentRequestSynced = "payment_request_synced"
	EventPaymentReconciled    = "payment_reconciled"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, _ string, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a snapshot of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
