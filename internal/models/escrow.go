package models

import (
	"github.com/shopspring/decimal"
)

type EscrowStatus string

const (
	EscrowActive    EscrowStatus = "active"
	EscrowCompleted EscrowStatus = "completed"
	EscrowDisputed  EscrowStatus = "disputed"
	EscrowCancelled EscrowStatus = "cancelled"
)

// IsTerminal returns true for every status other than active.
func (s EscrowStatus) IsTerminal() bool {
	return s != EscrowActive
}

type Milestone struct {
	ID           string   `json:"id"`
	Description  string   `json:"description,omitempty"`
	Amount       string   `json:"amount"`
	Deadline     int64    `json:"deadline"`
	Completed    bool     `json:"completed"`
	Approved     bool     `json:"approved"`
	Deliverables []string `json:"deliverables"`
	SubmittedAt  *int64   `json:"submittedAt,omitempty"`
	ApprovedAt   *int64   `json:"approvedAt,omitempty"`
}

// EscrowContract is the engine's record of one escrow. Released tracks the
// amount already paid out; the remaining balance is Amount - Released.
type EscrowContract struct {
	ID                string       `json:"id"`
	Address           string       `json:"address"`
	ClientAddress     string       `json:"clientAddress"`
	FreelancerAddress string       `json:"freelancerAddress"`
	Amount            string       `json:"amount"`
	Released          string       `json:"released"`
	Token             string       `json:"token"`
	ProjectID         string       `json:"projectId"`
	Description       string       `json:"description,omitempty"`
	Deadline          int64        `json:"deadline"`
	Status            EscrowStatus `json:"status"`
	Milestones        []Milestone  `json:"milestones"`
	DisputeReason     string       `json:"disputeReason,omitempty"`
	CreatedAt         int64        `json:"createdAt"`
	UpdatedAt         int64        `json:"updatedAt"`
	Version           int64        `json:"version"`
}

// Balance returns the amount still held by the contract.
func (c *EscrowContract) Balance() decimal.Decimal {
	amount, _ := decimal.NewFromString(c.Amount)
	released := decimal.Zero
	if c.Released != "" {
		released, _ = decimal.NewFromString(c.Released)
	}
	return amount.Sub(released)
}

// Milestone returns a pointer into c.Milestones, or nil.
func (c *EscrowContract) Milestone(id string) *Milestone {
	for i := range c.Milestones {
		if c.Milestones[i].ID == id {
			return &c.Milestones[i]
		}
	}
	return nil
}

// Clone deep-copies the contract so stores never hand out shared slices.
func (c *EscrowContract) Clone() *EscrowContract {
	out := *c
	out.Milestones = make([]Milestone, len(c.Milestones))
	for i, m := range c.Milestones {
		m.Deliverables = append([]string(nil), m.Deliverables...)
		if m.SubmittedAt != nil {
			v := *m.SubmittedAt
			m.SubmittedAt = &v
		}
		if m.ApprovedAt != nil {
			v := *m.ApprovedAt
			m.ApprovedAt = &v
		}
		out.Milestones[i] = m
	}
	return &out
}

// EscrowStatusView is what callers see of an escrow.
type EscrowStatusView struct {
	Status     EscrowStatus `json:"status"`
	Balance    string       `json:"balance"`
	Milestones []Milestone  `json:"milestones"`
}
