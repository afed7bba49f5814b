package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"lancerpay/internal/apperr"
	"lancerpay/internal/bridge"
	"lancerpay/internal/escrow"
	"lancerpay/internal/idempotency"
	"lancerpay/internal/models"
)

const (
	idempotencyHeader = "X-Idempotency-Key"
	replayHeader      = "X-Idempotent-Replay"
)

type paymentRequest struct {
	RequestID   string                 `json:"requestId" validate:"required"`
	Amount      string                 `json:"amount" validate:"required"`
	TokenSymbol string                 `json:"tokenSymbol" validate:"required"`
	FromAddress string                 `json:"fromAddress" validate:"required"`
	ToAddress   string                 `json:"toAddress" validate:"required"`
	Description string                 `json:"description,omitempty"`
	Metadata    models.PaymentMetadata `json:"metadata"`
}

func (p paymentRequest) intent() models.PaymentIntent {
	return models.PaymentIntent{
		RequestID:   p.RequestID,
		Amount:      p.Amount,
		TokenSymbol: p.TokenSymbol,
		FromAddress: p.FromAddress,
		ToAddress:   p.ToAddress,
		Description: p.Description,
		Metadata:    p.Metadata,
	}
}

type importWalletRequest struct {
	PrivateKey string `json:"privateKey" validate:"required"`
}

// walletResponse exposes the mnemonic once, on creation.
type walletResponse struct {
	*models.Wallet
	Mnemonic string `json:"mnemonic,omitempty"`
}

type submitMilestoneRequest struct {
	Deliverables []string `json:"deliverables" validate:"required,min=1,dive,required"`
}

type disputeRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type bridgeReleaseRequest struct {
	MilestoneID string `json:"milestoneId,omitempty"`
}

func paymentRoute(intent models.PaymentIntent) string {
	if intent.Metadata.IsEscrow() {
		return "escrow"
	}
	return "direct"
}

func (s *Server) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	intent := req.intent()
	route := paymentRoute(intent)
	ctx := r.Context()

	var storeKey string
	if key := r.Header.Get(idempotencyHeader); key != "" {
		storeKey = idempotency.RequestKey("payments", key)
		if s.replay(ctx, w, storeKey) {
			s.metrics.incPayment(route, "cached")
			return
		}
	}

	resp := s.svc.ProcessPayment(ctx, intent)
	if !resp.Success {
		s.metrics.incPayment(route, "failed")
		writeJSON(w, statusFor(resp.ErrorCode), resp)
		return
	}

	if storeKey != "" {
		s.remember(ctx, storeKey, http.StatusCreated, resp, resp.TransactionID)
	}
	s.metrics.incPayment(route, "created")
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.GetPaymentStatus(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.svc.CreateWallet(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, walletResponse{Wallet: wallet, Mnemonic: wallet.Mnemonic})
}

func (s *Server) handleImportWallet(w http.ResponseWriter, r *http.Request) {
	var req importWalletRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	wallet, err := s.svc.ImportWallet(r.Context(), req.PrivateKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, walletResponse{Wallet: wallet})
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	s.writeWallet(w, r, s.svc.GetWallet)
}

func (s *Server) handleRefreshWallet(w http.ResponseWriter, r *http.Request) {
	s.writeWallet(w, r, s.svc.RefreshWalletBalances)
}

func (s *Server) writeWallet(w http.ResponseWriter, r *http.Request, load func(context.Context, string) (*models.Wallet, error)) {
	address := chi.URLParam(r, "address")
	wallet, err := load(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	if wallet == nil {
		writeError(w, apperr.New(apperr.CodeNotFound, "wallet not found: "+address))
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{Wallet: wallet})
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req escrow.CreateEscrowRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp := s.svc.CreateEscrow(r.Context(), req)
	if !resp.Success {
		s.metrics.incEscrowOp("create", apperr.New(resp.ErrorCode, resp.Error))
		writeJSON(w, statusFor(resp.ErrorCode), resp)
		return
	}
	s.metrics.incEscrowOp("create", nil)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.GetEscrow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleEscrowStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetEscrowStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	tx, err := s.svc.ReleaseEscrow(r.Context(), chi.URLParam(r, "id"))
	s.writeEscrowTx(w, "release", tx, err)
}

func (s *Server) handleReleaseMilestone(w http.ResponseWriter, r *http.Request) {
	tx, err := s.svc.ReleaseMilestone(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "mid"))
	s.writeEscrowTx(w, "release_milestone", tx, err)
}

func (s *Server) handleCancelEscrow(w http.ResponseWriter, r *http.Request) {
	tx, err := s.svc.CancelEscrow(r.Context(), chi.URLParam(r, "id"))
	s.writeEscrowTx(w, "cancel", tx, err)
}

func (s *Server) writeEscrowTx(w http.ResponseWriter, op string, tx *models.TransactionRecord, err error) {
	s.metrics.incEscrowOp(op, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleSubmitMilestone(w http.ResponseWriter, r *http.Request) {
	var req submitMilestoneRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := s.svc.SubmitMilestone(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "mid"), req.Deliverables)
	s.metrics.incEscrowOp("submit_milestone", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDisputeEscrow(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.svc.DisputeEscrow(r.Context(), chi.URLParam(r, "id"), req.Reason)
	s.metrics.incEscrowOp("dispute", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleBridgeSync(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.SyncWeb2Payment(r.Context(), chi.URLParam(r, "id"))
	s.writeBridgePayment(w, "sync", resp, err)
}

func (s *Server) handleBridgeEscrow(w http.ResponseWriter, r *http.Request) {
	var req bridge.FreelancerEscrow
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.svc.CreateFreelancerEscrow(r.Context(), chi.URLParam(r, "id"), req)
	s.writeBridgePayment(w, "create_escrow", resp, err)
}

func (s *Server) writeBridgePayment(w http.ResponseWriter, op string, resp models.PaymentResponse, err error) {
	if err == nil && !resp.Success {
		err = apperr.New(resp.ErrorCode, resp.Error)
	}
	s.metrics.incBridgeOp(op, err)
	if err != nil {
		if resp.ErrorCode != "" {
			writeJSON(w, statusFor(resp.ErrorCode), resp)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBridgeRelease(w http.ResponseWriter, r *http.Request) {
	var req bridgeReleaseRequest
	if err := s.decodeOptional(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tx, err := s.svc.ReleaseFreelancerPayment(r.Context(), chi.URLParam(r, "id"), req.MilestoneID)
	s.metrics.incBridgeOp("release", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// handleBlessWebhook reconciles an inbound ledger payment. Deliveries are
// deduplicated on the payment's request id.
func (s *Server) handleBlessWebhook(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := s.decode(r, &req); err != nil {
		s.metrics.incWebhook("invalid")
		writeError(w, err)
		return
	}
	ctx := r.Context()

	key := idempotency.RequestKey("webhook", req.RequestID)
	if s.replay(ctx, w, key) {
		s.metrics.incWebhook("cached")
		return
	}

	resp, err := s.svc.HandleIncomingBlessPayment(ctx, req.intent())
	if err != nil {
		s.metrics.incWebhook("failed")
		writeError(w, err)
		return
	}
	if !resp.Success {
		s.metrics.incWebhook("failed")
		writeJSON(w, statusFor(resp.ErrorCode), resp)
		return
	}

	s.remember(ctx, key, http.StatusOK, resp, resp.TransactionID)
	s.metrics.incWebhook("processed")
	writeJSON(w, http.StatusOK, resp)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (s *Server) decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := s.decode(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// replay writes a stored response for key and reports whether it did.
func (s *Server) replay(ctx context.Context, w http.ResponseWriter, key string) bool {
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		s.log.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if rec == nil {
		return false
	}
	w.Header().Set(replayHeader, "true")
	writeRaw(w, rec.StatusCode, rec.Response)
	return true
}

func (s *Server) remember(ctx context.Context, key string, status int, v any, ref string) {
	rec, err := idempotency.NewRecord(status, v, ref, s.now(), s.cfg.IdempotencyWindow)
	if err == nil {
		err = s.store.Save(ctx, key, rec)
	}
	if err != nil {
		s.log.Warn("idempotency record not saved", zap.String("key", key), zap.Error(err))
	}
}
