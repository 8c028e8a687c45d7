package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"volunteerreminder/internal/dispatch"
	"volunteerreminder/internal/ledger"
	"volunteerreminder/internal/model"
	"volunteerreminder/internal/notify"
	"volunteerreminder/pkg/logger"
	"volunteerreminder/pkg/metrics"
	"volunteerreminder/pkg/util"
)

// ReminderResolver lists volunteers and their open tasks.
type ReminderResolver interface {
	ReminderGroups(ctx context.Context) ([]model.VolunteerGroup, error)
}

// VolunteerToucher stamps the time of the last reminder on a volunteer.
type VolunteerToucher interface {
	TouchLastReminderSent(ctx context.Context, volunteerID int64, at time.Time) error
}

// ReminderJob sends each volunteer one consolidated reminder per calendar day
// covering all of their open tasks.
type ReminderJob struct {
	resolver ReminderResolver
	ledger   ledger.Ledger
	sender   notify.Sender
	toucher  VolunteerToucher
	events   EventPublisher
	opts     Options
	logger   *zap.Logger
}

// NewReminderJob builds the job. toucher and events may be nil.
func NewReminderJob(
	resolver ReminderResolver,
	l ledger.Ledger,
	sender notify.Sender,
	toucher VolunteerToucher,
	events EventPublisher,
	opts Options,
	logger *zap.Logger,
) *ReminderJob {
	return &ReminderJob{
		resolver: resolver,
		ledger:   l,
		sender:   sender,
		toucher:  toucher,
		events:   events,
		opts:     opts.withDefaults(),
		logger:   logger.With(zap.String("job", string(model.KindReminder))),
	}
}

type reminderItem struct {
	volunteer model.Volunteer
	tasks     []model.Task
}

// Run executes one reminder pass. A returned error means the run aborted
// before dispatch; per-item failures are reported in the summary only.
func (j *ReminderJob) Run(ctx context.Context) (Summary, error) {
	ctx, cancel := begin(ctx, j.opts)
	defer cancel()
	log := logger.WithTrace(ctx, j.logger)

	started := time.Now()
	now := j.opts.Now().In(j.opts.Location)
	window := ledger.WindowDaily.Label(now)
	sum := Summary{Kind: model.KindReminder, StartedAt: now}

	log.Info("Reminder run started", zap.String("window", window))

	groups, err := j.resolver.ReminderGroups(ctx)
	if err != nil {
		sum.Duration = time.Since(started)
		err = fmt.Errorf("%w: %w", ErrResolution, err)
		failRun(&sum, err, log)
		return sum, err
	}
	sum.Processed = len(groups)

	state := &runState{}
	items := make([]reminderItem, 0, len(groups))
	filtered := 0
	for i, g := range groups {
		if ctx.Err() != nil {
			filtered = len(groups) - i
			break
		}
		vlog := log.With(zap.Int64("volunteer_id", g.Volunteer.ID))
		if _, ok := g.Volunteer.Address(); !ok {
			vlog.Info("Skipping volunteer without email")
			sum.Skipped++
			continue
		}
		if len(g.Tasks) == 0 {
			vlog.Debug("Skipping volunteer without open tasks")
			sum.Skipped++
			continue
		}

		pending, err := j.unnotified(ctx, g, window)
		if err != nil && ctx.Err() != nil {
			filtered = len(groups) - i
			break
		}
		if err != nil {
			vlog.Error("Ledger read failed, skipping volunteer", zap.Error(err))
			sum.Skipped++
			state.ledgerError(describe(fmt.Sprintf("volunteer %d", g.Volunteer.ID), err))
			continue
		}
		if len(pending) == 0 {
			vlog.Debug("Volunteer already reminded in this window")
			sum.Skipped++
			continue
		}
		items = append(items, reminderItem{volunteer: g.Volunteer, tasks: pending})
	}

	report := dispatch.Run(ctx, items, j.opts.Concurrency, func(ctx context.Context, it reminderItem) error {
		return j.deliver(ctx, it, window, state, log)
	})

	sum.Sent = report.Succeeded
	sum.Skipped += report.Skipped
	sum.Failed = report.Failed
	// Volunteers cut off while checking the ledger were never attempted either.
	sum.NotStarted = report.NotStarted + filtered
	sum.LedgerErrors = state.ledgerErrors
	sum.Errors = append(sum.Errors, state.errors...)
	for _, e := range report.Errors {
		sum.Errors = append(sum.Errors, describe(fmt.Sprintf("volunteer %d", items[e.Index].volunteer.ID), e.Err))
	}
	if sum.NotStarted > 0 {
		sum.Errors = append(sum.Errors, fmt.Sprintf("run timed out: %d volunteers not attempted", sum.NotStarted))
	}
	sum.Duration = time.Since(started)

	finish(ctx, &sum, j.events, log)
	return sum, nil
}

// unnotified returns the tasks in g that have no ledger entry in window.
func (j *ReminderJob) unnotified(ctx context.Context, g model.VolunteerGroup, window string) ([]model.Task, error) {
	var pending []model.Task
	for _, t := range g.Tasks {
		seen, err := j.ledger.WasNotified(ctx, reminderKey(t.ID, g.Volunteer.ID, window))
		if err != nil {
			return nil, err
		}
		if !seen {
			pending = append(pending, t)
		}
	}
	return pending, nil
}

// deliver claims every pending task, sends one message for the claimed ones
// and then records or releases the claims.
func (j *ReminderJob) deliver(ctx context.Context, it reminderItem, window string, state *runState, log *zap.Logger) error {
	vlog := log.With(zap.Int64("volunteer_id", it.volunteer.ID))

	var (
		keys    []ledger.Key
		claimed []model.Task
	)
	for _, t := range it.tasks {
		key := reminderKey(t.ID, it.volunteer.ID, window)
		ok, err := j.ledger.Claim(ctx, key)
		if err != nil {
			vlog.Error("Ledger claim failed, skipping volunteer", zap.Int64("task_id", t.ID), zap.Error(err))
			releaseAll(ctx, j.ledger, keys, vlog)
			state.ledgerError(describe(fmt.Sprintf("volunteer %d", it.volunteer.ID), err))
			return dispatch.Skip("ledger unavailable")
		}
		if !ok {
			vlog.Debug("Task already claimed by another run", zap.Int64("task_id", t.ID))
			continue
		}
		keys = append(keys, key)
		claimed = append(claimed, t)
	}
	if len(claimed) == 0 {
		return dispatch.Skip("already notified")
	}

	deliveryID, err := j.sender.Send(ctx, notify.ReminderMessage(it.volunteer, claimed))
	if err != nil {
		metrics.IncrementSendError(string(model.KindReminder), util.ClassifyError(err))
		vlog.Warn("Reminder send failed",
			zap.String("error_type", util.ClassifyError(err)),
			zap.Error(err),
		)
		releaseAll(ctx, j.ledger, keys, vlog)
		return fmt.Errorf("send reminder: %w", err)
	}

	for _, k := range keys {
		if err := j.ledger.Record(ctx, k, deliveryID); err != nil {
			// The claim still blocks a resend in this window.
			vlog.Warn("Reminder sent but delivery id not recorded",
				zap.String("key", k.String()),
				zap.Error(err),
			)
		}
	}

	if j.toucher != nil {
		if err := j.toucher.TouchLastReminderSent(ctx, it.volunteer.ID, j.opts.Now()); err != nil {
			vlog.Warn("Failed to update last_reminder_sent", zap.Error(err))
		}
	}

	vlog.Info("Reminder sent",
		zap.Int("tasks", len(claimed)),
		zap.String("delivery_id", deliveryID),
	)
	return nil
}

func reminderKey(taskID, volunteerID int64, window string) ledger.Key {
	return ledger.Key{
		Kind:        model.KindReminder,
		TaskID:      taskID,
		VolunteerID: volunteerID,
		Window:      window,
	}
}
