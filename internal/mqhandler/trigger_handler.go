package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "volunteerreminder/contracts/mq"
	"volunteerreminder/internal/service"
	"volunteerreminder/pkg/logger"
	"volunteerreminder/pkg/mq"
)

// TriggerHandler runs a job when a reminder.trigger message arrives. The
// broker is trusted, so no secret is checked.
type TriggerHandler struct {
	runner *service.Runner
	logger *zap.Logger
}

func NewTriggerHandler(runner *service.Runner, logger *zap.Logger) *TriggerHandler {
	return &TriggerHandler{runner: runner, logger: logger}
}

// Handle returns a permanent error for malformed messages and aborted runs
// so they are not redelivered; the next scheduled run covers the work.
func (h *TriggerHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.TriggerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal trigger payload", zap.Error(err))
		return fmt.Errorf("%w: %v", mq.ErrPermanent, err)
	}

	log.Info("Handling reminder.trigger event", zap.String("job", p.Job))

	var err error
	switch p.Job {
	case "reminders", "":
		var sum service.Summary
		sum, err = h.runner.Reminders.Run(ctx)
		if err == nil {
			log.Info("Triggered reminder run finished", zap.Int("sent", sum.Sent), zap.Int("failed", sum.Failed))
		}
	case "overdue":
		var sum service.Summary
		sum, err = h.runner.Overdue.Run(ctx)
		if err == nil {
			log.Info("Triggered overdue run finished", zap.Int("sent", sum.Sent), zap.Int("failed", sum.Failed))
		}
	case "daily":
		var out service.DailySummary
		out, err = h.runner.RunDaily(ctx)
		if err == nil {
			log.Info("Triggered daily run finished", zap.Int("sent", out.TotalSent()))
		}
	default:
		log.Warn("Unknown job in trigger payload", zap.String("job", p.Job))
		return fmt.Errorf("%w: unknown job %q", mq.ErrPermanent, p.Job)
	}

	if err != nil {
		log.Error("Triggered run failed", zap.String("job", p.Job), zap.Error(err))
		return fmt.Errorf("%w: %w", mq.ErrPermanent, err)
	}
	return nil
}
