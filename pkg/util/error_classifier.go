package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"volunteerreminder/pkg/circuitbreaker"
)

// ProviderError is returned by senders when the provider answers with a
// non-success HTTP status.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("notification provider rejected request: status %d: %s", e.StatusCode, e.Body)
}

// uniqueViolation is the Postgres SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

// ClassifyError labels an error for logs and metrics.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return "circuit_open"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "context_canceled"
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return "not_found"
	}
	if IsUniqueViolation(err) {
		return "duplicate_key"
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch {
		case provErr.StatusCode == 429:
			return "provider_rate_limited"
		case provErr.StatusCode >= 500:
			return "provider_unavailable"
		default:
			return "provider_rejected"
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "network_timeout"
		}
		return "network_error"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return "network_timeout"
		}
		return "network_error"
	}

	if strings.Contains(err.Error(), "connection") {
		return "connection_error"
	}
	return "unknown_error"
}

// IsRetryable reports whether the next scheduled run may reasonably succeed
// where this attempt failed.
func IsRetryable(err error) bool {
	switch ClassifyError(err) {
	case "circuit_open", "timeout", "provider_rate_limited", "provider_unavailable",
		"network_timeout", "network_error", "connection_error":
		return true
	}
	return false
}

// IsUniqueViolation reports a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
