// Package server exposes the LancerPay facade over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"lancerpay/internal/apperr"
	"lancerpay/internal/config"
	"lancerpay/internal/hmacauth"
	"lancerpay/internal/idempotency"
	"lancerpay/internal/lancerpay"
)

const serviceName = "LancerPayBless"

type Server struct {
	cfg        config.ServiceConfig
	svc        *lancerpay.Service
	store      idempotency.Store
	webhook    *hmacauth.Verifier
	validate   *validator.Validate
	metrics    *metricsRegistry
	log        *zap.Logger
	router     chi.Router
	httpServer *http.Server
	dbHealthFn func(context.Context) error
	now        func() time.Time
}

func NewServer(cfg config.ServiceConfig, svc *lancerpay.Service, store idempotency.Store, log *zap.Logger) *Server {
	if store == nil {
		store = idempotency.NewMemoryStore()
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		cfg:   cfg,
		svc:   svc,
		store: store,
		webhook: &hmacauth.Verifier{
			Secret:  cfg.WebhookSecret,
			MaxSkew: cfg.WebhookClockSkew,
			Log:     log.Named("webhook"),
		},
		validate: validator.New(),
		metrics:  newMetricsRegistry(),
		log:      log,
		now:      time.Now,
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/status", s.handleStatus)
		api.Get("/network", s.handleNetwork)

		api.Post("/payments", s.handleProcessPayment)
		api.Get("/payments/{txId}", s.handlePaymentStatus)

		api.Post("/wallets", s.handleCreateWallet)
		api.Post("/wallets/import", s.handleImportWallet)
		api.Get("/wallets/{address}", s.handleGetWallet)
		api.Post("/wallets/{address}/refresh", s.handleRefreshWallet)

		api.Route("/escrows", func(er chi.Router) {
			er.Post("/", s.handleCreateEscrow)
			er.Get("/{id}", s.handleGetEscrow)
			er.Get("/{id}/status", s.handleEscrowStatus)
			er.Post("/{id}/release", s.handleReleaseEscrow)
			er.Post("/{id}/milestones/{mid}/submit", s.handleSubmitMilestone)
			er.Post("/{id}/milestones/{mid}/release", s.handleReleaseMilestone)
			er.Post("/{id}/dispute", s.handleDisputeEscrow)
			er.Post("/{id}/cancel", s.handleCancelEscrow)
		})

		api.Route("/bridge", func(br chi.Router) {
			br.Post("/payment-requests/{id}/sync", s.handleBridgeSync)
			br.Post("/payment-requests/{id}/escrow", s.handleBridgeEscrow)
			br.Post("/escrows/{id}/release", s.handleBridgeRelease)
		})

		api.With(s.webhook.Middleware).Post("/webhooks/bless-payments", s.handleBlessWebhook)

		api.Method(http.MethodGet, "/metrics", s.metrics.handler())
		api.Get("/health", s.handleHealth)
	})
	return r
}

// Handler returns the routed handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetDBHealth overrides the database probe used by /health.
func (s *Server) SetDBHealth(fn func(context.Context) error) {
	s.dbHealthFn = fn
}

func (s *Server) Start() error {
	s.log.Info("API listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	net := s.svc.GetNetworkConfig()
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   serviceName,
		"status":    "active",
		"network":   net.NetworkName,
		"chainId":   net.ChainID,
		"bridge":    s.svc.BridgeConfigured(),
		"timestamp": s.now().UnixMilli(),
	})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetNetworkConfig())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	start := time.Now()
	rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.svc.Ping(rpcCtx); err != nil {
		rpcInfo.Error = err.Error()
		overallHealthy = false
	} else {
		rpcInfo.Connected = true
		rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, struct {
		Status   string `json:"status"`
		RPC      any    `json:"rpc"`
		Database any    `json:"database"`
		Bridge   bool   `json:"bridge"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
		Bridge:   s.svc.BridgeConfigured(),
	})
}

// decode reads a strict JSON body into v and runs struct validation.
func (s *Server) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "invalid json payload", err)
	}
	if err := s.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Namespace()+" failed on "+fe.Tag())
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

func statusFor(code string) int {
	switch code {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeAlreadyReleased, apperr.CodeInvalidTransition, apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeUpstream:
		return http.StatusBadGateway
	case apperr.CodeBridgeNotConfigured:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	writeJSON(w, statusFor(code), apperr.Error{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
