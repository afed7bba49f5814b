package web2

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"lancerpay/internal/apperr"
	"lancerpay/internal/config"
)

const maxErrorBody = 1 << 10

// Client talks to the Web2 payment-request API with bearer auth. Reads and
// write-backs are retried on transport errors, 5xx and 429.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      config.RetryConfig
	log        *zap.Logger
}

func NewClient(app config.Web2PayApp, retry config.RetryConfig, log *zap.Logger) *Client {
	timeout := retry.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(app.BaseURL, "/"),
		apiKey:  app.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry: retry,
		log:   log,
	}
}

func (c *Client) FetchPaymentRequest(ctx context.Context, requestID string) (*PaymentRequest, error) {
	status, body, err := c.doWithRetry(ctx, http.MethodGet, c.requestPath(requestID), nil, "")
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstream, "fetch Web2 payment request", err)
	}
	if status < 200 || status > 299 {
		return nil, &FetchError{RequestID: requestID, StatusCode: status, Body: string(body)}
	}

	var req PaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstream, "decode Web2 payment request", err)
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}
	return &req, nil
}

// UpdatePaymentRequest PATCHes the request. idempotencyKey is sent so the
// Web2 side can drop replays of the same write-back.
func (c *Client) UpdatePaymentRequest(ctx context.Context, requestID string, update PaymentUpdate, idempotencyKey string) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	status, body, err := c.doWithRetry(ctx, http.MethodPatch, c.requestPath(requestID), payload, idempotencyKey)
	if err != nil {
		return apperr.Wrap(apperr.CodeUpstream, "update Web2 payment request", err)
	}
	if status < 200 || status > 299 {
		return &UpdateError{RequestID: requestID, StatusCode: status, Body: string(body)}
	}
	return nil
}

// NotifyEscrowRelease is a single attempt; callers treat failure as a warning.
func (c *Client) NotifyEscrowRelease(ctx context.Context, n EscrowRelease) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	status, body, err := c.do(ctx, http.MethodPost, "/api/escrow/release", payload, "")
	if err != nil {
		return apperr.Wrap(apperr.CodeUpstream, "notify Web2 escrow release", err)
	}
	if status < 200 || status > 299 {
		return apperr.New(apperr.CodeUpstream, fmt.Sprintf("Failed to notify Web2 of escrow release: %d %s", status, strings.TrimSpace(string(body))))
	}
	return nil
}

func (c *Client) requestPath(requestID string) string {
	return "/api/payment-requests/" + url.PathEscape(requestID)
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, payload []byte, idempotencyKey string) (int, []byte, error) {
	attempts := c.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	backoff := c.retry.InitialBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	var (
		status int
		body   []byte
		err    error
	)
	for i := 1; i <= attempts; i++ {
		status, body, err = c.do(ctx, method, path, payload, idempotencyKey)
		if !isRetryable(ctx, status, err) || i == attempts {
			return status, body, err
		}

		sleep := backoff
		if c.retry.MaxBackoff > 0 && sleep > c.retry.MaxBackoff {
			sleep = c.retry.MaxBackoff
		}
		c.log.Warn("web2 request failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", i),
			zap.Int("status", status),
			zap.Duration("backoff", sleep),
			zap.Error(err),
		)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return status, body, ctx.Err()
		}

		if c.retry.BackoffMultiplier > 1 {
			backoff = backoff * time.Duration(c.retry.BackoffMultiplier)
		}
	}
	return status, body, err
}

func isRetryable(ctx context.Context, status int, err error) bool {
	if err != nil {
		return ctx.Err() == nil && !errors.Is(err, context.Canceled)
	}
	return status >= 500 || status == http.StatusTooManyRequests
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, idempotencyKey string) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("web2 service unavailable: %w", err)
	}
	defer resp.Body.Close()

	limit := int64(8 << 20)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		limit = maxErrorBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read web2 response: %w", err)
	}
	return resp.StatusCode, body, nil
}
