package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"volunteerreminder/internal/dispatch"
	"volunteerreminder/internal/ledger"
	"volunteerreminder/internal/model"
	"volunteerreminder/internal/notify"
	"volunteerreminder/internal/resolver"
	"volunteerreminder/pkg/logger"
	"volunteerreminder/pkg/metrics"
	"volunteerreminder/pkg/util"
)

// OverdueResolver lists open pairs that are past due.
type OverdueResolver interface {
	OverduePairs(ctx context.Context) ([]model.Pair, error)
}

// OverdueAlertJob alerts every configured administrator about each overdue
// (task, volunteer) pair. Each (task, volunteer, admin) triple is deduped on
// its own.
type OverdueAlertJob struct {
	resolver OverdueResolver
	ledger   ledger.Ledger
	sender   notify.Sender
	events   EventPublisher
	admins   []string
	window   ledger.WindowPolicy
	opts     Options
	logger   *zap.Logger
}

// NewOverdueAlertJob builds the job. events may be nil.
func NewOverdueAlertJob(
	resolver OverdueResolver,
	l ledger.Ledger,
	sender notify.Sender,
	events EventPublisher,
	admins []string,
	window ledger.WindowPolicy,
	opts Options,
	logger *zap.Logger,
) *OverdueAlertJob {
	if window == "" {
		window = ledger.WindowOnce
	}
	return &OverdueAlertJob{
		resolver: resolver,
		ledger:   l,
		sender:   sender,
		events:   events,
		admins:   normalizeAdmins(admins),
		window:   window,
		opts:     opts.withDefaults(),
		logger:   logger.With(zap.String("job", string(model.KindOverdueAlert))),
	}
}

type alertItem struct {
	pair  model.Pair
	admin string
	key   ledger.Key
}

// Run executes one overdue alert pass.
func (j *OverdueAlertJob) Run(ctx context.Context) (Summary, error) {
	ctx, cancel := begin(ctx, j.opts)
	defer cancel()
	log := logger.WithTrace(ctx, j.logger)

	started := time.Now()
	now := j.opts.Now().In(j.opts.Location)
	window := j.window.Label(now)
	sum := Summary{Kind: model.KindOverdueAlert, StartedAt: now}

	if len(j.admins) == 0 {
		err := fmt.Errorf("%w: no admin recipients configured", ErrConfiguration)
		failRun(&sum, err, log)
		return sum, err
	}

	log.Info("Overdue alert run started",
		zap.String("window", window),
		zap.Int("admins", len(j.admins)),
	)

	pairs, err := j.resolver.OverduePairs(ctx)
	if err != nil {
		sum.Duration = time.Since(started)
		err = fmt.Errorf("%w: %w", ErrResolution, err)
		failRun(&sum, err, log)
		return sum, err
	}
	sum.Processed = len(pairs)

	state := &runState{}
	var items []alertItem
	total, visited := len(pairs)*len(j.admins), 0
	filtered := 0
filter:
	for _, p := range pairs {
		for _, admin := range j.admins {
			if ctx.Err() != nil {
				filtered = total - visited
				break filter
			}
			visited++
			key := ledger.Key{
				Kind:           model.KindOverdueAlert,
				TaskID:         p.Task.ID,
				VolunteerID:    p.Volunteer.ID,
				AdminRecipient: admin,
				Window:         window,
			}
			seen, err := j.ledger.WasNotified(ctx, key)
			if err != nil && ctx.Err() != nil {
				filtered = total - visited + 1
				break filter
			}
			if err != nil {
				log.Error("Ledger read failed, skipping alert",
					zap.String("key", key.String()),
					zap.Error(err),
				)
				sum.Skipped++
				state.ledgerError(describe(alertSubject(p, admin), err))
				continue
			}
			if seen {
				sum.Skipped++
				continue
			}
			items = append(items, alertItem{pair: p, admin: admin, key: key})
		}
	}

	report := dispatch.Run(ctx, items, j.opts.Concurrency, func(ctx context.Context, it alertItem) error {
		return j.deliver(ctx, it, now, state, log)
	})

	sum.Sent = report.Succeeded
	sum.Skipped += report.Skipped
	sum.Failed = report.Failed
	sum.NotStarted = report.NotStarted + filtered
	sum.LedgerErrors = state.ledgerErrors
	sum.Errors = append(sum.Errors, state.errors...)
	for _, e := range report.Errors {
		sum.Errors = append(sum.Errors, describe(alertSubject(items[e.Index].pair, items[e.Index].admin), e.Err))
	}
	if sum.NotStarted > 0 {
		sum.Errors = append(sum.Errors, fmt.Sprintf("run timed out: %d alerts not attempted", sum.NotStarted))
	}
	sum.Duration = time.Since(started)

	finish(ctx, &sum, j.events, log)
	return sum, nil
}

func (j *OverdueAlertJob) deliver(ctx context.Context, it alertItem, now time.Time, state *runState, log *zap.Logger) error {
	alog := log.With(
		zap.Int64("task_id", it.pair.Task.ID),
		zap.Int64("volunteer_id", it.pair.Volunteer.ID),
		zap.String("admin", it.admin),
	)

	ok, err := j.ledger.Claim(ctx, it.key)
	if err != nil {
		alog.Error("Ledger claim failed, skipping alert", zap.Error(err))
		state.ledgerError(describe(alertSubject(it.pair, it.admin), err))
		return dispatch.Skip("ledger unavailable")
	}
	if !ok {
		return dispatch.Skip("already alerted")
	}

	days := 0
	if due := it.pair.Task.DueDate; due != nil {
		days = resolver.DaysOverdue(*due, now)
	}
	deliveryID, err := j.sender.Send(ctx, notify.OverdueAlertMessage(it.admin, it.pair, days))
	if err != nil {
		metrics.IncrementSendError(string(model.KindOverdueAlert), util.ClassifyError(err))
		alog.Warn("Overdue alert send failed",
			zap.String("error_type", util.ClassifyError(err)),
			zap.Error(err),
		)
		releaseAll(ctx, j.ledger, []ledger.Key{it.key}, alog)
		return fmt.Errorf("send overdue alert: %w", err)
	}

	if err := j.ledger.Record(ctx, it.key, deliveryID); err != nil {
		alog.Warn("Overdue alert sent but delivery id not recorded", zap.Error(err))
	}

	alog.Info("Overdue alert sent",
		zap.Int("days_overdue", days),
		zap.String("delivery_id", deliveryID),
	)
	return nil
}

func alertSubject(p model.Pair, admin string) string {
	return fmt.Sprintf("task %d volunteer %d admin %s", p.Task.ID, p.Volunteer.ID, admin)
}

// normalizeAdmins lowercases, trims and dedups the recipient list.
func normalizeAdmins(admins []string) []string {
	seen := make(map[string]struct{}, len(admins))
	out := make([]string, 0, len(admins))
	for _, a := range admins {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
