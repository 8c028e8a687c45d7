// Package notify delivers reminder and overdue alert messages through an
// external transactional email provider.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"volunteerreminder/pkg/circuitbreaker"
	"volunteerreminder/pkg/metrics"
	"volunteerreminder/pkg/util"
)

// ErrInvalidRecipient is returned when a message has no destination address.
var ErrInvalidRecipient = errors.New("message has no recipient address")

// Message is a rendered notification.
type Message struct {
	ToEmail   string
	ToName    string
	Subject   string
	PlainText string
	HTML      string
}

// Sender hands a message to the provider and returns its delivery id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
	Name() string
}

// LogSender only logs messages. It is selected with sender.provider=log for
// local runs and dry runs.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(_ context.Context, msg Message) (string, error) {
	if msg.ToEmail == "" {
		return "", ErrInvalidRecipient
	}
	s.logger.Info("Notification (log sender)",
		zap.String("to", msg.ToEmail),
		zap.String("subject", msg.Subject),
	)
	return "log-" + time.Now().UTC().Format("20060102T150405.000000000"), nil
}

// BreakerSender stops calling the provider after repeated failures so a
// provider outage fails the remaining items fast instead of waiting on each
// timeout. Only provider-health failures (5xx, 429, timeouts, network errors)
// count toward the breaker; a rejection of one message is returned to the
// caller without affecting later sends.
type BreakerSender struct {
	next    Sender
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewBreakerSender(next Sender, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *BreakerSender {
	return &BreakerSender{next: next, breaker: breaker, logger: logger}
}

func (s *BreakerSender) Name() string { return s.next.Name() }

func (s *BreakerSender) Send(ctx context.Context, msg Message) (string, error) {
	var (
		deliveryID string
		rejected   error
	)
	start := time.Now()
	err := s.breaker.Execute(func() error {
		var sendErr error
		deliveryID, sendErr = s.next.Send(ctx, msg)
		if sendErr != nil && !util.IsRetryable(sendErr) {
			rejected = sendErr
			return nil
		}
		return sendErr
	})
	if err == nil && rejected != nil {
		err = rejected
	}

	status := "ok"
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
		status = "circuit_open"
		s.logger.Warn("Sender circuit open, not calling provider",
			zap.String("sender", s.next.Name()),
			zap.String("to", msg.ToEmail),
		)
	case err != nil:
		status = "error"
	}
	metrics.RecordSendLatency(s.next.Name(), status, time.Since(start))
	return deliveryID, err
}
