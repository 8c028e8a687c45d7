package util

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"volunteerreminder/pkg/circuitbreaker"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"breaker", fmt.Errorf("send: %w", circuitbreaker.ErrCircuitBreakerOpen), "circuit_open"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"canceled", context.Canceled, "context_canceled"},
		{"unique", &pgconn.PgError{Code: "23505"}, "duplicate_key"},
		{"rate limited", &ProviderError{StatusCode: 429}, "provider_rate_limited"},
		{"provider 503", &ProviderError{StatusCode: 503}, "provider_unavailable"},
		{"provider 400", &ProviderError{StatusCode: 400, Body: "bad"}, "provider_rejected"},
		{"connection", errors.New("connection refused"), "connection_error"},
		{"other", errors.New("weird"), "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&ProviderError{StatusCode: 502}))
	assert.True(t, IsRetryable(circuitbreaker.ErrCircuitBreakerOpen))
	assert.False(t, IsRetryable(&ProviderError{StatusCode: 400}))
	assert.False(t, IsRetryable(errors.New("weird")))
}

func TestProviderError_Message(t *testing.T) {
	err := &ProviderError{StatusCode: 401, Body: "unauthorized"}
	assert.Equal(t, "notification provider rejected request: status 401: unauthorized", err.Error())
}
