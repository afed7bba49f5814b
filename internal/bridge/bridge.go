// Package bridge reconciles Web2 payment requests with ledger payments and
// escrows.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lancerpay/internal/apperr"
	"lancerpay/internal/config"
	"lancerpay/internal/dispatch"
	"lancerpay/internal/escrow"
	"lancerpay/internal/events"
	"lancerpay/internal/idempotency"
	"lancerpay/internal/models"
	"lancerpay/internal/payment"
	"lancerpay/internal/web2"
)

const (
	syncDescription   = "Payment via LancerPay Bridge"
	escrowDescription = "Freelancer project payment"
	escrowTypeWeb2    = "freelancer"
	networkName       = "bless"
	defaultRecordTTL  = 24 * time.Hour

	// lockStripes bounds the per-key locks; keys sharing a stripe serialize.
	lockStripes = 64
)

// Web2Store is the Web2 payment-request API the bridge reads and writes.
type Web2Store interface {
	FetchPaymentRequest(ctx context.Context, requestID string) (*web2.PaymentRequest, error)
	UpdatePaymentRequest(ctx context.Context, requestID string, update web2.PaymentUpdate, idempotencyKey string) error
	NotifyEscrowRelease(ctx context.Context, n web2.EscrowRelease) error
}

type Deps struct {
	Web2        Web2Store
	Payments    *payment.Processor
	Escrows     *escrow.Engine
	Idempotency idempotency.Store
	Publisher   events.Publisher
	Log         *zap.Logger
	// RecordTTL bounds how long a sync result is replayed. Defaults to 24h.
	RecordTTL time.Duration
}

type Bridge struct {
	cfg       config.BridgeConfig
	web2      Web2Store
	payments  *payment.Processor
	escrows   *escrow.Engine
	router    *dispatch.Dispatcher
	idem      idempotency.Store
	publisher events.Publisher
	log       *zap.Logger
	ttl       time.Duration
	now       func() time.Time

	locks [lockStripes]sync.Mutex
}

// FreelancerEscrow describes the escrow to open for a Web2 payment request.
type FreelancerEscrow struct {
	FreelancerAddress string                    `json:"freelancerAddress" validate:"required"`
	ClientAddress     string                    `json:"clientAddress,omitempty"`
	ProjectID         string                    `json:"projectId" validate:"required"`
	Milestones        []escrow.MilestoneRequest `json:"milestones,omitempty"`
}

// syncRecord is what the idempotency store keeps per synced request.
type syncRecord struct {
	Response    models.PaymentResponse `json:"response"`
	WrittenBack bool                   `json:"writtenBack"`
}

func New(cfg config.BridgeConfig, deps Deps) *Bridge {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	idem := deps.Idempotency
	if idem == nil {
		idem = idempotency.NewMemoryStore()
	}
	ttl := deps.RecordTTL
	if ttl <= 0 {
		ttl = defaultRecordTTL
	}
	return &Bridge{
		cfg:       cfg,
		web2:      deps.Web2,
		payments:  deps.Payments,
		escrows:   deps.Escrows,
		router:    dispatch.New(deps.Payments, deps.Escrows, cfg.EscrowDuration(), syncDescription),
		idem:      idem,
		publisher: publisher,
		log:       deps.Log,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (b *Bridge) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &b.locks[h.Sum32()%lockStripes]
}

// SyncWeb2PaymentRequest processes a Web2 payment request on the ledger and
// writes the result back. The ledger result is recorded before the
// write-back, so a retried sync only retries the write-back.
func (b *Bridge) SyncWeb2PaymentRequest(ctx context.Context, requestID string) (models.PaymentResponse, error) {
	mu := b.lock(requestID)
	mu.Lock()
	defer mu.Unlock()

	key := idempotency.SyncKey(requestID)
	prev, err := b.idem.Get(ctx, key)
	if err != nil {
		return models.PaymentResponse{}, apperr.Wrap(apperr.CodeInternal, "read sync record", err)
	}
	if prev != nil {
		var rec syncRecord
		if err := prev.Decode(&rec); err != nil {
			return models.PaymentResponse{}, apperr.Wrap(apperr.CodeInternal, "decode sync record", err)
		}
		b.log.Info("replaying synced payment request",
			zap.String("request_id", requestID),
			zap.String("tx_hash", rec.Response.TransactionID),
			zap.Bool("written_back", rec.WrittenBack),
		)
		if rec.WrittenBack {
			return rec.Response, nil
		}
		return rec.Response, b.writeBackSync(ctx, requestID, rec)
	}

	req, err := b.web2.FetchPaymentRequest(ctx, requestID)
	if err != nil {
		b.log.Error("failed to fetch Web2 payment request", zap.String("request_id", requestID), zap.Error(err))
		return models.PaymentResponse{}, err
	}
	md, err := req.ParseMetadata()
	if err != nil {
		b.log.Warn("ignoring unreadable Web2 metadata", zap.String("request_id", requestID), zap.Error(err))
	}

	intent := b.intentFor(*req, md)
	result := b.router.Route(ctx, intent)
	if !result.Success {
		b.log.Warn("Web2 payment request not processed",
			zap.String("request_id", requestID),
			zap.String("error", result.Error),
		)
		return result, nil
	}

	rec := syncRecord{Response: result}
	if err := b.saveSync(ctx, key, rec); err != nil {
		return result, apperr.Wrap(apperr.CodeInternal, "record sync result", err)
	}
	b.publish(ctx, events.EventPaymentRequestSynced, map[string]any{
		"requestId":     requestID,
		"transactionId": result.TransactionID,
		"escrowId":      result.EscrowID,
	})

	return result, b.writeBackSync(ctx, requestID, rec)
}

func (b *Bridge) writeBackSync(ctx context.Context, requestID string, rec syncRecord) error {
	update := web2.PaymentUpdate{
		Status:             web2.StatusProcessing,
		BlessTransactionID: rec.Response.TransactionID,
		BlessHash:          rec.Response.BlessHash,
		NetworkFee:         rec.Response.NetworkFee,
		EscrowID:           rec.Response.EscrowID,
	}
	idemKey := fmt.Sprintf("sync:%s:%s", requestID, rec.Response.TransactionID)
	if err := b.web2.UpdatePaymentRequest(ctx, requestID, update, idemKey); err != nil {
		b.log.Error("failed to update Web2 payment status",
			zap.String("request_id", requestID),
			zap.String("tx_hash", rec.Response.TransactionID),
			zap.Error(err),
		)
		return err
	}

	rec.WrittenBack = true
	if err := b.saveSync(ctx, idempotency.SyncKey(requestID), rec); err != nil {
		b.log.Warn("write-back succeeded but sync record not updated", zap.String("request_id", requestID), zap.Error(err))
	}
	b.log.Info("synced Web2 payment request",
		zap.String("request_id", requestID),
		zap.String("tx_hash", rec.Response.TransactionID),
		zap.String("escrow_id", rec.Response.EscrowID),
	)
	return nil
}

func (b *Bridge) saveSync(ctx context.Context, key string, rec syncRecord) error {
	record, err := idempotency.NewRecord(200, rec, rec.Response.TransactionID, b.now(), b.ttl)
	if err != nil {
		return err
	}
	return b.idem.Save(ctx, key, record)
}

// HandleBlessPayment processes an inbound ledger payment once per
// web2PaymentId (or requestId). Payments tagged with a web2PaymentId are
// reconciled as paid. The ledger result is recorded before the Web2 update,
// so a redelivery after a failed update only retries the update.
func (b *Bridge) HandleBlessPayment(ctx context.Context, intent models.PaymentIntent) (models.PaymentResponse, error) {
	web2ID := intent.Metadata.Web2PaymentID
	id := firstNonEmpty(web2ID, intent.RequestID)
	if id == "" {
		return b.payments.ProcessDirectPayment(ctx, intent), nil
	}

	key := idempotency.InboundKey(id)
	mu := b.lock(key)
	mu.Lock()
	defer mu.Unlock()

	prev, err := b.idem.Get(ctx, key)
	if err != nil {
		return models.PaymentResponse{}, apperr.Wrap(apperr.CodeInternal, "read inbound record", err)
	}
	if prev != nil {
		var rec syncRecord
		if err := prev.Decode(&rec); err != nil {
			return models.PaymentResponse{}, apperr.Wrap(apperr.CodeInternal, "decode inbound record", err)
		}
		b.log.Info("replaying inbound Bless payment",
			zap.String("payment_id", id),
			zap.String("tx_hash", rec.Response.TransactionID),
			zap.Bool("written_back", rec.WrittenBack),
		)
		if rec.WrittenBack {
			return rec.Response, nil
		}
		return rec.Response, b.reconcilePaid(ctx, key, web2ID, rec)
	}

	result := b.payments.ProcessDirectPayment(ctx, intent)
	if !result.Success {
		return result, nil
	}
	rec := syncRecord{Response: result, WrittenBack: web2ID == ""}
	if err := b.saveSync(ctx, key, rec); err != nil {
		return result, apperr.Wrap(apperr.CodeInternal, "record inbound payment", err)
	}
	if web2ID == "" {
		return result, nil
	}
	return result, b.reconcilePaid(ctx, key, web2ID, rec)
}

func (b *Bridge) reconcilePaid(ctx context.Context, key, web2ID string, rec syncRecord) error {
	update := web2.PaymentUpdate{
		Status:             web2.StatusPaid,
		BlessTransactionID: rec.Response.TransactionID,
		PaidAt:             b.now().UTC().Format(time.RFC3339),
	}
	idemKey := fmt.Sprintf("paid:%s:%s", web2ID, rec.Response.TransactionID)
	if err := b.web2.UpdatePaymentRequest(ctx, web2ID, update, idemKey); err != nil {
		b.log.Error("failed to reconcile Bless payment",
			zap.String("web2_payment_id", web2ID),
			zap.String("tx_hash", rec.Response.TransactionID),
			zap.Error(err),
		)
		return err
	}

	rec.WrittenBack = true
	if err := b.saveSync(ctx, key, rec); err != nil {
		b.log.Warn("reconciled but inbound record not updated", zap.String("web2_payment_id", web2ID), zap.Error(err))
	}
	b.log.Info("synchronized Bless payment with Web2 payment",
		zap.String("tx_hash", rec.Response.TransactionID),
		zap.String("web2_payment_id", web2ID),
	)
	b.publish(ctx, events.EventPaymentReconciled, map[string]any{
		"web2PaymentId": web2ID,
		"transactionId": rec.Response.TransactionID,
	})
	return nil
}

// CreateFreelancerEscrow opens an escrow funded by a Web2 payment request.
func (b *Bridge) CreateFreelancerEscrow(ctx context.Context, requestID string, fe FreelancerEscrow) (models.PaymentResponse, error) {
	req, err := b.web2.FetchPaymentRequest(ctx, requestID)
	if err != nil {
		b.log.Error("failed to fetch Web2 payment request", zap.String("request_id", requestID), zap.Error(err))
		return models.PaymentResponse{}, err
	}
	md, err := req.ParseMetadata()
	if err != nil {
		b.log.Warn("ignoring unreadable Web2 metadata", zap.String("request_id", requestID), zap.Error(err))
	}

	deadline := b.now().Add(b.cfg.EscrowDuration())
	if req.DueDate != "" {
		due, err := ParseDueDate(req.DueDate)
		if err != nil {
			return models.PaymentResponse{}, err
		}
		deadline = due
	}
	description := req.Description
	if description == "" {
		description = escrowDescription
	}

	res := b.escrows.CreateEscrow(ctx, escrow.CreateEscrowRequest{
		ClientAddress:     firstNonEmpty(fe.ClientAddress, md.PayerAddress, fe.FreelancerAddress),
		FreelancerAddress: fe.FreelancerAddress,
		Amount:            req.Amount,
		TokenSymbol:       MapTokenSymbol(req.TokenID),
		ProjectID:         fe.ProjectID,
		Description:       description,
		DeadlineTimestamp: deadline.UnixMilli(),
		Milestones:        fe.Milestones,
	})
	resp := models.PaymentResponse{
		Success:       res.Success,
		TransactionID: res.TransactionID,
		EscrowID:      res.EscrowID,
		Error:         res.Error,
		ErrorCode:     res.ErrorCode,
		Timestamp:     b.now().UnixMilli(),
		Confirmations: 0,
	}
	if !res.Success {
		return resp, nil
	}

	blob, _ := json.Marshal(web2.EscrowMetadata{ProjectID: fe.ProjectID, EscrowType: escrowTypeWeb2, BlessNetwork: true})
	update := web2.PaymentUpdate{
		Status:        web2.StatusEscrowed,
		EscrowID:      res.EscrowID,
		EscrowAddress: res.ContractAddress,
		Metadata:      string(blob),
	}
	if err := b.web2.UpdatePaymentRequest(ctx, requestID, update, "escrow:"+requestID+":"+res.EscrowID); err != nil {
		b.log.Error("escrow created but Web2 not updated",
			zap.String("request_id", requestID),
			zap.String("escrow_id", res.EscrowID),
			zap.Error(err),
		)
		return resp, err
	}

	b.log.Info("created freelancer escrow",
		zap.String("request_id", requestID),
		zap.String("escrow_id", res.EscrowID),
		zap.String("project_id", fe.ProjectID),
	)
	return resp, nil
}

// ReleaseFreelancerPayment releases one milestone, or the whole escrow when
// milestoneID is empty, and tells the Web2 side. A failed notification is
// only logged.
func (b *Bridge) ReleaseFreelancerPayment(ctx context.Context, escrowID, milestoneID string) (*models.TransactionRecord, error) {
	var (
		tx  *models.TransactionRecord
		err error
	)
	kind := "full"
	if milestoneID != "" {
		kind = "milestone"
		tx, err = b.escrows.ReleaseMilestone(ctx, escrowID, milestoneID)
	} else {
		tx, err = b.escrows.ReleaseEscrow(ctx, escrowID)
	}
	if err != nil {
		b.log.Error("failed to release freelancer payment",
			zap.String("escrow_id", escrowID),
			zap.String("milestone_id", milestoneID),
			zap.Error(err),
		)
		return nil, err
	}
	b.log.Info("released freelancer payment", zap.String("kind", kind), zap.String("escrow_id", escrowID))

	err = b.web2.NotifyEscrowRelease(ctx, web2.EscrowRelease{
		EscrowID:        escrowID,
		TransactionHash: tx.Hash,
		MilestoneID:     milestoneID,
		Network:         networkName,
		Timestamp:       b.now().UnixMilli(),
	})
	if err != nil {
		b.log.Warn("failed to notify Web2 of escrow release", zap.String("escrow_id", escrowID), zap.Error(err))
	}
	return tx, nil
}

func (b *Bridge) intentFor(req web2.PaymentRequest, md web2.RequestMetadata) models.PaymentIntent {
	intent := ConvertWeb2Request(req)
	intent.FromAddress = md.PayerAddress
	intent.ToAddress = md.PayeeAddress
	intent.Metadata.ProjectID = md.ProjectID
	if b.cfg.AutoProcess() {
		intent.Metadata.EscrowType = models.EscrowType(md.EscrowType)
		intent.Metadata.FreelancerID = md.FreelancerID
	}
	return intent
}

// ConvertWeb2Request maps a Web2 payment request onto an intent. Addresses
// are left for the caller to fill.
func ConvertWeb2Request(req web2.PaymentRequest) models.PaymentIntent {
	return models.PaymentIntent{
		RequestID:   req.RequestID,
		Amount:      req.Amount,
		TokenSymbol: MapTokenSymbol(req.TokenID),
		Description: req.Description,
		Metadata: models.PaymentMetadata{
			SchemaVersion:    models.MetadataSchemaVersion,
			Web2PaymentID:    req.RequestID,
			Web2RequestID:    req.RequestID,
			InvoiceID:        req.InvoiceNumber,
			Web3LancerUserID: req.FromUserID,
		},
	}
}

var tokenSymbols = map[string]string{
	"btc":  models.TokenBTC,
	"eth":  models.TokenETH,
	"usdc": models.TokenUSDC,
	"usdt": models.TokenUSDT,
	"bls":  models.TokenBLS,
}

// MapTokenSymbol maps a Web2 token id to a ledger symbol. Unknown ids are
// upper-cased.
func MapTokenSymbol(tokenID string) string {
	if s, ok := tokenSymbols[strings.ToLower(tokenID)]; ok {
		return s
	}
	return strings.ToUpper(tokenID)
}

// ParseDueDate accepts RFC 3339 timestamps and plain dates (UTC midnight).
func ParseDueDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.Validation("invalid dueDate %q", s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (b *Bridge) publish(ctx context.Context, typ string, payload map[string]any) {
	if err := b.publisher.Publish(ctx, events.Stream, events.Event{Type: typ, Payload: payload}); err != nil {
		b.log.Warn("bridge event not published", zap.String("type", typ), zap.Error(err))
	}
}
