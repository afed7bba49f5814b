// Package lancerpay is the single entry point over wallets, payments, escrows
// and the optional Web2 bridge.
package lancerpay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lancerpay/internal/apperr"
	"lancerpay/internal/bridge"
	"lancerpay/internal/config"
	"lancerpay/internal/dispatch"
	"lancerpay/internal/escrow"
	"lancerpay/internal/events"
	"lancerpay/internal/idempotency"
	"lancerpay/internal/models"
	"lancerpay/internal/network"
	"lancerpay/internal/payment"
	"lancerpay/internal/wallet"
	"lancerpay/internal/web2"
)

const defaultEscrowDescription = "Freelancer payment"

var ErrBridgeNotConfigured = apperr.New(apperr.CodeBridgeNotConfigured,
	"Bridge not configured. Initialize with bridgeConfig to use Web2 integration.")

// Options wires the service. Nil stores fall back to in-memory ones and a nil
// Network to the simulator.
type Options struct {
	Network     network.Client
	Wallets     wallet.Store
	Escrows     escrow.Store
	Idempotency idempotency.Store
	Publisher   events.Publisher
	// Bridge enables the Web2 integration when non-nil.
	Bridge *config.BridgeConfig
	// Web2 overrides the HTTP client built from Bridge.
	Web2         bridge.Web2Store
	Retry        config.RetryConfig
	PollInterval time.Duration
	Log          *zap.Logger
}

type PaymentStatus struct {
	Status        models.TxStatus `json:"status"`
	Confirmations int             `json:"confirmations"`
}

type Service struct {
	net       network.Client
	payments  *payment.Processor
	wallets   *wallet.Registry
	escrows   *escrow.Engine
	router    *dispatch.Dispatcher
	bridge    *bridge.Bridge
	publisher events.Publisher
	log       *zap.Logger
	poll      time.Duration
}

func New(opts Options) *Service {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	net := opts.Network
	if net == nil {
		net = network.NewSimClient(0)
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	walletStore := opts.Wallets
	if walletStore == nil {
		walletStore = wallet.NewMemoryStore()
	}
	escrowStore := opts.Escrows
	if escrowStore == nil {
		escrowStore = escrow.NewMemoryStore()
	}

	tokens := make([]string, 0, len(net.Config().SupportedTokens))
	for _, t := range net.Config().SupportedTokens {
		tokens = append(tokens, t.Symbol)
	}

	s := &Service{
		net:       net,
		payments:  payment.NewProcessor(net, log.Named("payment")),
		wallets:   wallet.NewRegistry(walletStore, tokens, log.Named("wallet")),
		escrows:   escrow.NewEngine(escrowStore, net, publisher, log.Named("escrow")),
		publisher: publisher,
		log:       log,
		poll:      opts.PollInterval,
	}
	s.router = dispatch.New(s.payments, s.escrows, dispatch.DefaultEscrowDuration, defaultEscrowDescription)

	if opts.Bridge != nil {
		store := opts.Web2
		if store == nil {
			store = web2.NewClient(opts.Bridge.Web2PayApp, opts.Retry, log.Named("web2"))
		}
		s.bridge = bridge.New(*opts.Bridge, bridge.Deps{
			Web2:        store,
			Payments:    s.payments,
			Escrows:     s.escrows,
			Idempotency: opts.Idempotency,
			Publisher:   publisher,
			Log:         log.Named("bridge"),
		})
	}
	return s
}

// Initialize checks the ledger is reachable.
func (s *Service) Initialize(ctx context.Context) error {
	s.log.Info("initializing LancerPay", zap.String("network", s.net.Config().NetworkName))
	if hc, ok := s.net.(network.HealthChecker); ok {
		if err := hc.Ping(ctx); err != nil {
			return apperr.Wrap(apperr.CodeUpstream, "network unreachable", err)
		}
	}
	s.log.Info("LancerPay initialized", zap.Bool("bridge", s.bridge != nil))
	return nil
}

// Ping reports ledger health for readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	if hc, ok := s.net.(network.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	_, err := s.net.BlockNumber(ctx)
	return err
}

func (s *Service) BridgeConfigured() bool {
	return s.bridge != nil
}

// ProcessPayment routes the intent to escrow creation or a direct transfer.
func (s *Service) ProcessPayment(ctx context.Context, intent models.PaymentIntent) models.PaymentResponse {
	s.log.Info("processing payment request", zap.String("request_id", intent.RequestID))
	resp := s.router.Route(ctx, intent)
	if resp.Success {
		payload := map[string]any{
			"requestId":     intent.RequestID,
			"transactionId": resp.TransactionID,
		}
		if resp.EscrowID != "" {
			payload["escrowId"] = resp.EscrowID
		}
		if err := s.publisher.Publish(ctx, events.Stream, events.Event{Type: events.EventPaymentProcessed, Payload: payload}); err != nil {
			s.log.Warn("payment event not published", zap.Error(err))
		}
	}
	return resp
}

func (s *Service) CreateWallet(ctx context.Context) (*models.Wallet, error) {
	return s.wallets.CreateWallet(ctx)
}

func (s *Service) ImportWallet(ctx context.Context, privateKeyHex string) (*models.Wallet, error) {
	return s.wallets.ImportWallet(ctx, privateKeyHex)
}

// GetWallet returns nil, nil for unknown addresses.
func (s *Service) GetWallet(ctx context.Context, address string) (*models.Wallet, error) {
	return s.wallets.GetWallet(ctx, address)
}

// RefreshWalletBalances reloads every token balance of a known wallet from
// the ledger.
func (s *Service) RefreshWalletBalances(ctx context.Context, address string) (*models.Wallet, error) {
	w, err := s.wallets.GetWallet(ctx, address)
	if err != nil || w == nil {
		return w, err
	}
	for token := range w.Balances {
		bal, err := s.net.Balance(ctx, address, token)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeUpstream, "read balance", err)
		}
		if err := s.wallets.UpdateWalletBalance(ctx, address, token, bal); err != nil {
			return nil, err
		}
	}
	return s.wallets.GetWallet(ctx, address)
}

// GetPaymentStatus reports unknown transactions as pending.
func (s *Service) GetPaymentStatus(ctx context.Context, txID string) (PaymentStatus, error) {
	rec, err := s.net.TransactionReceipt(ctx, txID)
	if err != nil {
		return PaymentStatus{}, apperr.Wrap(apperr.CodeUpstream, "read transaction receipt", err)
	}
	return s.statusOf(ctx, rec)
}

// AwaitPayment blocks until the transaction settles or ctx is done.
func (s *Service) AwaitPayment(ctx context.Context, txID string) (PaymentStatus, error) {
	rec, err := network.WaitForConfirmation(ctx, s.net, txID, s.poll)
	if err != nil {
		return PaymentStatus{Status: models.TxPending}, err
	}
	return s.statusOf(ctx, rec)
}

func (s *Service) statusOf(ctx context.Context, rec *models.TransactionRecord) (PaymentStatus, error) {
	if rec == nil {
		return PaymentStatus{Status: models.TxPending}, nil
	}
	if rec.Status != models.TxConfirmed {
		return PaymentStatus{Status: rec.Status}, nil
	}
	head, err := s.net.BlockNumber(ctx)
	if err != nil {
		return PaymentStatus{}, apperr.Wrap(apperr.CodeUpstream, "read block number", err)
	}
	return PaymentStatus{Status: rec.Status, Confirmations: network.Confirmations(rec, head)}, nil
}

func (s *Service) CreateEscrow(ctx context.Context, req escrow.CreateEscrowRequest) escrow.EscrowResponse {
	return s.escrows.CreateEscrow(ctx, req)
}

func (s *Service) GetEscrow(ctx context.Context, id string) (*models.EscrowContract, error) {
	return s.escrows.GetEscrow(ctx, id)
}

func (s *Service) GetEscrowStatus(ctx context.Context, id string) (*models.EscrowStatusView, error) {
	return s.escrows.GetEscrowStatus(ctx, id)
}

func (s *Service) SubmitMilestone(ctx context.Context, id, milestoneID string, deliverables []string) (*models.Milestone, error) {
	return s.escrows.SubmitMilestone(ctx, id, milestoneID, deliverables)
}

func (s *Service) ReleaseEscrow(ctx context.Context, id string) (*models.TransactionRecord, error) {
	return s.escrows.ReleaseEscrow(ctx, id)
}

func (s *Service) ReleaseMilestone(ctx context.Context, id, milestoneID string) (*models.TransactionRecord, error) {
	return s.escrows.ReleaseMilestone(ctx, id, milestoneID)
}

func (s *Service) DisputeEscrow(ctx context.Context, id, reason string) (*models.EscrowContract, error) {
	return s.escrows.DisputeEscrow(ctx, id, reason)
}

func (s *Service) CancelEscrow(ctx context.Context, id string) (*models.TransactionRecord, error) {
	return s.escrows.CancelEscrow(ctx, id)
}

func (s *Service) GetNetworkConfig() models.NetworkConfig {
	return s.net.Config()
}

// BridgeWeb2PaymentRequest maps a Web2 request onto an intent without
// touching the ledger. Works with or without a configured bridge.
func (s *Service) BridgeWeb2PaymentRequest(req web2.PaymentRequest) models.PaymentIntent {
	return bridge.ConvertWeb2Request(req)
}

func (s *Service) SyncWeb2Payment(ctx context.Context, requestID string) (models.PaymentResponse, error) {
	if s.bridge == nil {
		return models.PaymentResponse{}, ErrBridgeNotConfigured
	}
	return s.bridge.SyncWeb2PaymentRequest(ctx, requestID)
}

func (s *Service) CreateFreelancerEscrow(ctx context.Context, requestID string, fe bridge.FreelancerEscrow) (models.PaymentResponse, error) {
	if s.bridge == nil {
		return models.PaymentResponse{}, ErrBridgeNotConfigured
	}
	return s.bridge.CreateFreelancerEscrow(ctx, requestID, fe)
}

func (s *Service) ReleaseFreelancerPayment(ctx context.Context, escrowID, milestoneID string) (*models.TransactionRecord, error) {
	if s.bridge == nil {
		return nil, ErrBridgeNotConfigured
	}
	return s.bridge.ReleaseFreelancerPayment(ctx, escrowID, milestoneID)
}

func (s *Service) HandleIncomingBlessPayment(ctx context.Context, intent models.PaymentIntent) (models.PaymentResponse, error) {
	if s.bridge == nil {
		return models.PaymentResponse{}, ErrBridgeNotConfigured
	}
	return s.bridge.HandleBlessPayment(ctx, intent)
}
