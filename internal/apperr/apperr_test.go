package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCodeAndMessage(t *testing.T) {
	notFound := New(CodeNotFound, "escrow contract not found")
	wrapped := fmt.Errorf("release escrow: %w", notFound)

	assert.True(t, errors.Is(wrapped, notFound))
	assert.True(t, errors.Is(wrapped, Kind(CodeNotFound)))
	assert.False(t, errors.Is(wrapped, New(CodeNotFound, "milestone not found")))
	assert.False(t, errors.Is(wrapped, Kind(CodeValidation)))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeUpstream, CodeOf(fmt.Errorf("sync: %w", Wrap(CodeUpstream, "fetch failed", errors.New("502")))))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(CodeUpstream, "failed to fetch Web2 payment request", errors.New("404 Not Found"))
	assert.Equal(t, "failed to fetch Web2 payment request: 404 Not Found", err.Error())
}
