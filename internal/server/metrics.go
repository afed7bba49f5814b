package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry        *prometheus.Registry
	paymentsTotal   *prometheus.CounterVec
	escrowOpsTotal  *prometheus.CounterVec
	bridgeOpsTotal  *prometheus.CounterVec
	webhooksTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func newMetricsRegistry() *metricsRegistry {
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lancerpay_payments_total",
		Help: "Payment intents processed, by route and result",
	}, []string{"route", "result"})

	escrowOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lancerpay_escrow_ops_total",
		Help: "Escrow lifecycle operations, by operation and result",
	}, []string{"op", "result"})

	bridgeOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lancerpay_bridge_ops_total",
		Help: "Web2 bridge operations, by operation and result",
	}, []string{"op", "result"})

	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lancerpay_webhooks_total",
		Help: "Inbound Bless payment webhooks, by result",
	}, []string{"result"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lancerpay_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	r := prometheus.NewRegistry()
	r.MustRegister(payments, escrowOps, bridgeOps, webhooks, duration)

	return &metricsRegistry{
		registry:        r,
		paymentsTotal:   payments,
		escrowOpsTotal:  escrowOps,
		bridgeOpsTotal:  bridgeOps,
		webhooksTotal:   webhooks,
		requestDuration: duration,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incPayment(route, result string) {
	m.paymentsTotal.WithLabelValues(route, result).Inc()
}

func (m *metricsRegistry) incEscrowOp(op string, err error) {
	m.escrowOpsTotal.WithLabelValues(op, resultOf(err)).Inc()
}

func (m *metricsRegistry) incBridgeOp(op string, err error) {
	m.bridgeOpsTotal.WithLabelValues(op, resultOf(err)).Inc()
}

func (m *metricsRegistry) incWebhook(result string) {
	m.webhooksTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) observeRequest(method, route string, status int, elapsed time.Duration) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
