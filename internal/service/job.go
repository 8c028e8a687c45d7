// Package service runs the reminder and overdue alert jobs: resolve eligible
// pairs, filter them through the dedup ledger, dispatch notifications with a
// bounded worker pool, and summarise the outcome.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	mqcontracts "volunteerreminder/contracts/mq"
	"volunteerreminder/internal/ledger"
	"volunteerreminder/internal/model"
	"volunteerreminder/pkg/metrics"
	"volunteerreminder/pkg/mq"
	"volunteerreminder/pkg/trace"
)

var (
	// ErrConfiguration aborts a run before any work because the service is
	// missing required configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrResolution aborts a run because eligibility could not be read from
	// the record store. Nothing is dispatched.
	ErrResolution = errors.New("eligibility resolution failed")
)

const DefaultConcurrency = 5

// Options are shared by both jobs.
type Options struct {
	// Concurrency is the dispatcher worker count.
	Concurrency int
	// Location is the time zone that defines calendar days.
	Location *time.Location
	// RunTimeout bounds a whole run. Zero means no limit.
	RunTimeout time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// EventPublisher receives a run-completed event after every finished run.
type EventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Summary is the outcome of one run.
type Summary struct {
	Kind      model.Kind
	StartedAt time.Time
	// Processed is the number of resolved volunteers (reminders) or overdue
	// pairs (alerts).
	Processed int
	Sent      int
	Failed    int
	Skipped   int
	// NotStarted counts items left undispatched because the run timed out.
	NotStarted int
	// LedgerErrors counts items skipped because the ledger could not be read
	// or claimed. They are included in Skipped.
	LedgerErrors int
	Errors       []string
	Duration     time.Duration
}

// Complete reports whether every item reached a final outcome without a
// send failure.
func (s Summary) Complete() bool {
	return s.Failed == 0 && s.NotStarted == 0 && s.LedgerErrors == 0
}

func (s Summary) status() string {
	if s.Complete() {
		return "completed"
	}
	return "partial"
}

// runState collects counters that workers update concurrently.
type runState struct {
	mu           sync.Mutex
	ledgerErrors int
	errors       []string
}

func (r *runState) ledgerError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgerErrors++
	r.errors = append(r.errors, msg)
}

// begin attaches a trace id and the run timeout to ctx.
func begin(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	ctx = trace.Ensure(ctx)
	if opts.RunTimeout > 0 {
		return context.WithTimeout(ctx, opts.RunTimeout)
	}
	return context.WithCancel(ctx)
}

// finish records metrics, logs the summary and publishes the completion
// event. It runs after the run context may have expired.
func finish(ctx context.Context, s *Summary, events EventPublisher, log *zap.Logger) {
	kind := string(s.Kind)
	metrics.AddNotifications(kind, "sent", s.Sent)
	metrics.AddNotifications(kind, "failed", s.Failed)
	metrics.AddNotifications(kind, "skipped", s.Skipped)
	metrics.AddNotifications(kind, "not_started", s.NotStarted)
	metrics.RecordRun(kind, s.status(), s.Duration)

	log.Info("Run completed",
		zap.Int("processed", s.Processed),
		zap.Int("sent", s.Sent),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Int("not_started", s.NotStarted),
		zap.Int("ledger_errors", s.LedgerErrors),
		zap.Duration("duration", s.Duration),
	)

	if events == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	evt := mqcontracts.RunCompletedPayload{
		Kind:         string(s.Kind),
		TraceID:      trace.FromContext(ctx),
		StartedAt:    s.StartedAt,
		Processed:    s.Processed,
		Sent:         s.Sent,
		Failed:       s.Failed,
		Skipped:      s.Skipped,
		NotStarted:   s.NotStarted,
		LedgerErrors: s.LedgerErrors,
		DurationMs:   s.Duration.Milliseconds(),
	}
	if err := events.PublishWithContext(pubCtx, mq.RoutingKeyRunCompleted, evt); err != nil {
		log.Warn("Failed to publish run completed event", zap.Error(err))
	}
}

func failRun(s *Summary, err error, log *zap.Logger) {
	s.Errors = append(s.Errors, err.Error())
	metrics.RecordRun(string(s.Kind), "failed", s.Duration)
	log.Error("Run aborted", zap.Error(err))
}

// releaseAll voids claims after a failed send. A release failure leaves the
// key claimed, so the item is not retried until the window rolls over.
func releaseAll(ctx context.Context, l ledger.Ledger, keys []ledger.Key, log *zap.Logger) {
	for _, k := range keys {
		if err := l.Release(ctx, k); err != nil {
			log.Error("Failed to release ledger claim after send failure",
				zap.String("key", k.String()),
				zap.Error(err),
			)
		}
	}
}

func describe(subject string, err error) string {
	return fmt.Sprintf("%s: %v", subject, err)
}
