package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lancerpay/internal/apperr"
	"lancerpay/internal/events"
	"lancerpay/internal/models"
	"lancerpay/internal/network"
)

// Gas charged per escrow payout.
const (
	FullReleaseGas      uint64 = 75000
	MilestoneReleaseGas uint64 = 65000
	RefundGas           uint64 = 65000
)

var (
	ErrNotFound          = apperr.New(apperr.CodeNotFound, "Escrow contract not found")
	ErrMilestoneNotFound = apperr.New(apperr.CodeNotFound, "Milestone not found")
	ErrAlreadyReleased   = apperr.New(apperr.CodeAlreadyReleased, "Milestone already released")
	ErrNotActive         = apperr.New(apperr.CodeInvalidTransition, "Escrow is not active")
	ErrDeadlinePassed    = apperr.New(apperr.CodeInvalidTransition, "Escrow deadline has passed")
	ErrPartiallyReleased = apperr.New(apperr.CodeInvalidTransition, "Escrow has released funds")
	ErrVersionConflict   = apperr.New(apperr.CodeConflict, "Escrow was modified concurrently")
	ErrDuplicate         = apperr.New(apperr.CodeConflict, "Escrow already exists")
)

type MilestoneRequest struct {
	ID           string   `json:"id" validate:"required"`
	Description  string   `json:"description,omitempty"`
	Amount       string   `json:"amount" validate:"required"`
	Deadline     int64    `json:"deadline,omitempty" validate:"gte=0"`
	Deliverables []string `json:"deliverables,omitempty"`
}

type CreateEscrowRequest struct {
	ClientAddress     string             `json:"clientAddress" validate:"required"`
	FreelancerAddress string             `json:"freelancerAddress" validate:"required"`
	Amount            string             `json:"amount" validate:"required"`
	TokenSymbol       string             `json:"tokenSymbol" validate:"required"`
	ProjectID         string             `json:"projectId" validate:"required"`
	Description       string             `json:"description,omitempty"`
	DeadlineTimestamp int64              `json:"deadlineTimestamp" validate:"gt=0"`
	Milestones        []MilestoneRequest `json:"milestones,omitempty" validate:"omitempty,unique=ID,dive"`
}

type EscrowResponse struct {
	Success              bool   `json:"success"`
	EscrowID             string `json:"escrowId,omitempty"`
	ContractAddress      string `json:"contractAddress,omitempty"`
	TransactionID        string `json:"transactionId,omitempty"`
	EstimatedReleaseDate int64  `json:"estimatedReleaseDate,omitempty"`
	Error                string `json:"error,omitempty"`
	ErrorCode            string `json:"errorCode,omitempty"`
}

// Engine runs the escrow lifecycle. Every mutation of one escrow is
// serialized on a per-id mutex; the store's version check catches writers
// in other processes.
type Engine struct {
	store     Store
	net       network.Client
	publisher events.Publisher
	log       *zap.Logger
	validate  *validator.Validate
	now       func() time.Time

	locks sync.Map
}

func NewEngine(store Store, net network.Client, publisher events.Publisher, log *zap.Logger) *Engine {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Engine{
		store:     store,
		net:       net,
		publisher: publisher,
		log:       log,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// lockEscrow takes the mutex of an existing escrow. Unknown ids fail with
// ErrNotFound and leave no lock entry behind.
func (e *Engine) lockEscrow(ctx context.Context, id string) (func(), error) {
	if _, err := e.store.Get(ctx, id); err != nil {
		return nil, err
	}
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock, nil
}

// CreateEscrow never returns an error: failures are reported in the response.
func (e *Engine) CreateEscrow(ctx context.Context, req CreateEscrowRequest) EscrowResponse {
	if err := e.checkCreate(req); err != nil {
		return EscrowResponse{Error: err.Error(), ErrorCode: apperr.CodeOf(err)}
	}

	now := e.now()
	id := "escrow_" + uuid.NewString()
	c := &models.EscrowContract{
		ID:                id,
		Address:           network.DeriveAddress("escrow", id, req.ClientAddress, req.FreelancerAddress),
		ClientAddress:     req.ClientAddress,
		FreelancerAddress: req.FreelancerAddress,
		Amount:            req.Amount,
		Released:          "0",
		Token:             req.TokenSymbol,
		ProjectID:         req.ProjectID,
		Description:       req.Description,
		Deadline:          req.DeadlineTimestamp,
		Status:            models.EscrowActive,
		Milestones:        make([]models.Milestone, 0, len(req.Milestones)),
		CreatedAt:         now.UnixMilli(),
		UpdatedAt:         now.UnixMilli(),
	}
	for _, m := range req.Milestones {
		deadline := m.Deadline
		if deadline == 0 {
			deadline = req.DeadlineTimestamp
		}
		deliverables := append([]string{}, m.Deliverables...)
		c.Milestones = append(c.Milestones, models.Milestone{
			ID:           m.ID,
			Description:  m.Description,
			Amount:       m.Amount,
			Deadline:     deadline,
			Deliverables: deliverables,
		})
	}

	gas, err := e.net.EstimateGas(ctx, network.CallMsg{
		From:  c.ClientAddress,
		To:    c.Address,
		Value: c.Amount,
		Data:  []byte(id),
	})
	if err != nil {
		e.log.Error("escrow funding gas estimate failed", zap.String("escrow_id", id), zap.Error(err))
		return EscrowResponse{Error: "gas estimation failed: " + err.Error(), ErrorCode: apperr.CodeUpstream}
	}
	tx := e.newTx(ctx, c.ClientAddress, c.Address, c.Amount, c.Token, gas, id, "fund")
	if err := e.net.Submit(ctx, tx); err != nil {
		e.log.Error("escrow funding submit failed", zap.String("escrow_id", id), zap.Error(err))
		return EscrowResponse{Error: "submit transaction: " + err.Error(), ErrorCode: apperr.CodeUpstream}
	}
	if err := e.store.Create(ctx, c); err != nil {
		e.log.Error("escrow store failed", zap.String("escrow_id", id), zap.String("tx_hash", tx.Hash), zap.Error(err))
		return EscrowResponse{Error: "store escrow: " + err.Error(), ErrorCode: apperr.CodeOf(err)}
	}

	e.log.Info("created escrow contract",
		zap.String("escrow_id", id),
		zap.String("project_id", c.ProjectID),
		zap.String("amount", c.Amount),
		zap.String("token", c.Token),
		zap.Int("milestones", len(c.Milestones)),
	)
	e.publish(ctx, events.EventEscrowCreated, c, map[string]any{"transactionId": tx.Hash})

	return EscrowResponse{
		Success:              true,
		EscrowID:             id,
		ContractAddress:      c.Address,
		TransactionID:        tx.Hash,
		EstimatedReleaseDate: c.Deadline,
	}
}

func (e *Engine) checkCreate(req CreateEscrowRequest) error {
	if err := e.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.Validation("invalid escrow request: %s failed %s", verrs[0].Namespace(), verrs[0].Tag())
		}
		return apperr.Validation("invalid escrow request: %v", err)
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return apperr.Validation("Invalid amount")
	}
	if !e.net.Config().Supports(req.TokenSymbol) {
		return apperr.Validation("Unsupported token: %s", req.TokenSymbol)
	}
	if len(req.Milestones) == 0 {
		return nil
	}

	sum := decimal.Zero
	for _, m := range req.Milestones {
		v, err := decimal.NewFromString(m.Amount)
		if err != nil || !v.IsPositive() {
			return apperr.Validation("Invalid amount for milestone %s", m.ID)
		}
		sum = sum.Add(v)
	}
	if !sum.Equal(amount) {
		return apperr.Validation("milestone amounts sum to %s, escrow amount is %s", sum.String(), amount.String())
	}
	return nil
}

// ReleaseEscrow pays the remaining balance to the freelancer and completes
// the escrow. Unreleased milestones are marked approved.
func (e *Engine) ReleaseEscrow(ctx context.Context, id string) (*models.TransactionRecord, error) {
	unlock, err := e.lockEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != models.EscrowActive {
		return nil, fmt.Errorf("release escrow %s (%s): %w", id, c.Status, ErrNotActive)
	}

	prev := c.Clone()
	remaining := c.Balance()
	tx := e.newTx(ctx, c.Address, c.FreelancerAddress, remaining.String(), c.Token, FullReleaseGas, id, "release")

	now := e.now().UnixMilli()
	for i := range c.Milestones {
		m := &c.Milestones[i]
		if m.Approved {
			continue
		}
		m.Completed = true
		m.Approved = true
		m.ApprovedAt = &now
	}
	c.Released = c.Amount
	c.Status = models.EscrowCompleted
	c.UpdatedAt = now
	if err := e.commitAndSubmit(ctx, prev, c, tx, "release"); err != nil {
		return nil, err
	}

	e.log.Info("released escrow",
		zap.String("escrow_id", id),
		zap.String("amount", tx.Value),
		zap.String("token", c.Token),
		zap.String("to", c.FreelancerAddress),
		zap.String("tx_hash", tx.Hash),
	)
	e.publish(ctx, events.EventEscrowReleased, c, map[string]any{"transactionId": tx.Hash, "amount": tx.Value})
	return tx, nil
}

// ReleaseMilestone approves one milestone and pays its amount. Releasing the
// last open milestone completes the escrow.
func (e *Engine) ReleaseMilestone(ctx context.Context, id, milestoneID string) (*models.TransactionRecord, error) {
	unlock, err := e.lockEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m := c.Milestone(milestoneID)
	if m == nil {
		return nil, ErrMilestoneNotFound
	}
	if m.Approved {
		return nil, fmt.Errorf("release milestone %s of %s: %w", milestoneID, id, ErrAlreadyReleased)
	}
	if c.Status != models.EscrowActive {
		return nil, fmt.Errorf("release milestone %s of %s (%s): %w", milestoneID, id, c.Status, ErrNotActive)
	}

	amount, err := decimal.NewFromString(m.Amount)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "stored milestone amount is not a decimal", err)
	}
	prev := c.Clone()
	tx := e.newTx(ctx, c.Address, c.FreelancerAddress, m.Amount, c.Token, MilestoneReleaseGas, id, milestoneID)

	now := e.now().UnixMilli()
	m.Completed = true
	m.Approved = true
	m.ApprovedAt = &now
	released, _ := decimal.NewFromString(releasedOrZero(c.Released))
	c.Released = released.Add(amount).String()
	c.UpdatedAt = now

	allApproved := true
	for _, ms := range c.Milestones {
		if !ms.Approved {
			allApproved = false
			break
		}
	}
	if allApproved {
		c.Status = models.EscrowCompleted
	}

	if err := e.commitAndSubmit(ctx, prev, c, tx, "milestone release"); err != nil {
		return nil, err
	}

	e.log.Info("released milestone",
		zap.String("escrow_id", id),
		zap.String("milestone_id", milestoneID),
		zap.String("amount", m.Amount),
		zap.String("tx_hash", tx.Hash),
	)
	e.publish(ctx, events.EventMilestoneReleased, c, map[string]any{
		"milestoneId":   milestoneID,
		"transactionId": tx.Hash,
		"amount":        m.Amount,
	})
	if allApproved {
		e.publish(ctx, events.EventEscrowReleased, c, map[string]any{"transactionId": tx.Hash, "auto": true})
	}
	return tx, nil
}

// SubmitMilestone records the freelancer's delivery. Approval stays with
// ReleaseMilestone.
func (e *Engine) SubmitMilestone(ctx context.Context, id, milestoneID string, deliverables []string) (*models.Milestone, error) {
	unlock, err := e.lockEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m := c.Milestone(milestoneID)
	if m == nil {
		return nil, ErrMilestoneNotFound
	}
	if m.Approved {
		return nil, fmt.Errorf("submit milestone %s of %s: %w", milestoneID, id, ErrAlreadyReleased)
	}
	if c.Status != models.EscrowActive {
		return nil, fmt.Errorf("submit milestone %s of %s (%s): %w", milestoneID, id, c.Status, ErrNotActive)
	}

	now := e.now().UnixMilli()
	m.Completed = true
	m.SubmittedAt = &now
	m.Deliverables = append(m.Deliverables, deliverables...)
	c.UpdatedAt = now
	out := *m
	out.Deliverables = append([]string(nil), m.Deliverables...)

	if err := e.store.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("persist milestone submission of %s: %w", id, err)
	}

	e.log.Info("milestone submitted", zap.String("escrow_id", id), zap.String("milestone_id", milestoneID))
	e.publish(ctx, events.EventMilestoneSubmitted, c, map[string]any{"milestoneId": milestoneID})
	return &out, nil
}

func (e *Engine) GetEscrow(ctx context.Context, id string) (*models.EscrowContract, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) GetEscrowStatus(ctx context.Context, id string) (*models.EscrowStatusView, error) {
	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.EscrowStatusView{
		Status:     c.Status,
		Balance:    c.Balance().String(),
		Milestones: c.Milestones,
	}, nil
}

// DisputeEscrow freezes an active escrow.
func (e *Engine) DisputeEscrow(ctx context.Context, id, reason string) (*models.EscrowContract, error) {
	if reason == "" {
		return nil, apperr.Validation("dispute reason required")
	}

	unlock, err := e.lockEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != models.EscrowActive {
		return nil, fmt.Errorf("dispute escrow %s (%s): %w", id, c.Status, ErrNotActive)
	}

	c.Status = models.EscrowDisputed
	c.DisputeReason = reason
	c.UpdatedAt = e.now().UnixMilli()
	if err := e.store.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("persist dispute of %s: %w", id, err)
	}

	e.log.Warn("escrow disputed", zap.String("escrow_id", id), zap.String("reason", reason))
	e.publish(ctx, events.EventEscrowDisputed, c, map[string]any{"reason": reason})
	return c, nil
}

// CancelEscrow refunds the client. Allowed only before the deadline and while
// nothing has been released.
func (e *Engine) CancelEscrow(ctx context.Context, id string) (*models.TransactionRecord, error) {
	unlock, err := e.lockEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != models.EscrowActive {
		return nil, fmt.Errorf("cancel escrow %s (%s): %w", id, c.Status, ErrNotActive)
	}
	now := e.now().UnixMilli()
	if now >= c.Deadline {
		return nil, fmt.Errorf("cancel escrow %s: %w", id, ErrDeadlinePassed)
	}
	if released, _ := decimal.NewFromString(releasedOrZero(c.Released)); !released.IsZero() {
		return nil, fmt.Errorf("cancel escrow %s: %w", id, ErrPartiallyReleased)
	}

	prev := c.Clone()
	tx := e.newTx(ctx, c.Address, c.ClientAddress, c.Balance().String(), c.Token, RefundGas, id, "refund")

	c.Status = models.EscrowCancelled
	c.UpdatedAt = now
	if err := e.commitAndSubmit(ctx, prev, c, tx, "refund"); err != nil {
		return nil, err
	}

	e.log.Info("escrow cancelled", zap.String("escrow_id", id), zap.String("refund", tx.Value), zap.String("tx_hash", tx.Hash))
	e.publish(ctx, events.EventEscrowCancelled, c, map[string]any{"transactionId": tx.Hash, "amount": tx.Value})
	return tx, nil
}

// commitAndSubmit writes next through the version check before tx reaches
// the ledger; a writer that loses the check submits nothing. A failed submit
// puts prev back.
func (e *Engine) commitAndSubmit(ctx context.Context, prev, next *models.EscrowContract, tx *models.TransactionRecord, what string) error {
	if err := e.store.Update(ctx, next); err != nil {
		return fmt.Errorf("persist %s of %s: %w", what, next.ID, err)
	}
	if err := e.net.Submit(ctx, tx); err != nil {
		restore := prev.Clone()
		restore.Version = next.Version
		restore.UpdatedAt = e.now().UnixMilli()
		if rerr := e.store.Update(ctx, restore); rerr != nil {
			e.log.Error("escrow reservation not rolled back",
				zap.String("escrow_id", next.ID), zap.String("tx_hash", tx.Hash), zap.Error(rerr))
		}
		return apperr.Wrap(apperr.CodeUpstream, "submit "+what+" transaction", err)
	}
	return nil
}

func (e *Engine) newTx(ctx context.Context, from, to, value, token string, gas uint64, parts ...string) *models.TransactionRecord {
	price, err := e.net.GasPrice(ctx)
	if err != nil || price == nil {
		price = big.NewInt(network.DefaultGasPrice)
	}
	return &models.TransactionRecord{
		Hash:        network.NewTxHash(append([]string{from, to, value, token}, parts...)...),
		From:        from,
		To:          to,
		Value:       value,
		GasUsed:     strconv.FormatUint(gas, 10),
		GasPrice:    price.String(),
		Timestamp:   e.now().UnixMilli(),
		TokenSymbol: token,
		Type:        models.TxEscrow,
	}
}

func (e *Engine) publish(ctx context.Context, typ string, c *models.EscrowContract, extra map[string]any) {
	payload := map[string]any{
		"escrowId":  c.ID,
		"projectId": c.ProjectID,
		"status":    string(c.Status),
		"balance":   c.Balance().String(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := e.publisher.Publish(ctx, events.Stream, events.Event{Type: typ, Payload: payload}); err != nil {
		e.log.Warn("escrow event not published", zap.String("type", typ), zap.String("escrow_id", c.ID), zap.Error(err))
	}
}
