package web2

import (
	"fmt"
	"net/http"

	"lancerpay/internal/apperr"
)

// FetchError reports a non-2xx answer to a payment-request read.
type FetchError struct {
	RequestID  string
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("Failed to fetch Web2 payment request %s: %d %s", e.RequestID, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *FetchError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return apperr.Kind(apperr.CodeNotFound)
	}
	return apperr.Kind(apperr.CodeUpstream)
}

// UpdateError reports a non-2xx answer to a payment-request write-back.
type UpdateError struct {
	RequestID  string
	StatusCode int
	Body       string
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("Failed to update Web2 payment status %s: %d %s", e.RequestID, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *UpdateError) Unwrap() error {
	return apperr.Kind(apperr.CodeUpstream)
}
