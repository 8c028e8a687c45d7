// Package httpserver exposes the trigger endpoints an external scheduler
// calls, plus health and metrics endpoints.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"volunteerreminder/internal/service"
	"volunteerreminder/pkg/logger"
)

// SchedulerControl is the in-process scheduler as seen by the manual
// endpoints.
type SchedulerControl interface {
	Active() bool
	Schedule() string
	Reschedule(schedule string) (string, error)
}

type Handler struct {
	runner    *service.Runner
	scheduler SchedulerControl
	logger    *zap.Logger
}

// NewHandler builds the trigger handlers. scheduler may be nil.
func NewHandler(runner *service.Runner, scheduler SchedulerControl, logger *zap.Logger) *Handler {
	return &Handler{runner: runner, scheduler: scheduler, logger: logger}
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type runData struct {
	Timestamp           time.Time `json:"timestamp"`
	TotalTasksProcessed int       `json:"totalTasksProcessed"`
	TotalEmailsSent     int       `json:"totalEmailsSent"`
	TotalEmailsFailed   int       `json:"totalEmailsFailed"`
	TotalSkipped        int       `json:"totalSkipped"`
	Errors              []string  `json:"errors,omitempty"`
	DurationMs          int64     `json:"durationMs"`
}

type dailyData struct {
	runData
	ReminderEmailsSent int `json:"reminderEmailsSent"`
	OverdueAlertsSent  int `json:"overdueAlertsSent"`
}

func toRunData(s service.Summary) runData {
	return runData{
		Timestamp:           s.StartedAt,
		TotalTasksProcessed: s.Processed,
		TotalEmailsSent:     s.Sent,
		TotalEmailsFailed:   s.Failed,
		TotalSkipped:        s.Skipped,
		Errors:              s.Errors,
		DurationMs:          s.Duration.Milliseconds(),
	}
}

// runContext keeps the request's trace id but not its cancellation, so a
// caller that hangs up does not cut a run short. The job applies its own
// timeout.
func runContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (h *Handler) RunReminders(c *gin.Context) {
	ctx := runContext(c)
	sum, err := h.runner.Reminders.Run(ctx)
	if err != nil {
		h.fail(ctx, c, err)
		return
	}

	msg := "reminder run completed"
	if !sum.Complete() {
		msg = "reminder run completed with errors"
	}
	c.JSON(http.StatusOK, response{Success: sum.Complete(), Message: msg, Data: toRunData(sum)})
}

func (h *Handler) DailyRun(c *gin.Context) {
	ctx := runContext(c)
	out, err := h.runner.RunDaily(ctx)
	if err != nil {
		h.fail(ctx, c, err)
		return
	}

	data := dailyData{
		runData: runData{
			Timestamp:           out.Reminders.StartedAt,
			TotalTasksProcessed: out.Reminders.Processed + out.Overdue.Processed,
			TotalEmailsSent:     out.TotalSent(),
			TotalEmailsFailed:   out.Reminders.Failed + out.Overdue.Failed,
			TotalSkipped:        out.Reminders.Skipped + out.Overdue.Skipped,
			Errors:              append(append([]string(nil), out.Reminders.Errors...), out.Overdue.Errors...),
			DurationMs:          out.Duration.Milliseconds(),
		},
		ReminderEmailsSent: out.Reminders.Sent,
		OverdueAlertsSent:  out.Overdue.Sent,
	}
	msg := "daily run completed"
	if !out.Complete() {
		msg = "daily run completed with errors"
	}
	c.JSON(http.StatusOK, response{Success: out.Complete(), Message: msg, Data: data})
}

type manualTriggerRequest struct {
	Action   string `json:"action"`
	Schedule string `json:"schedule"`
}

func (h *Handler) ManualTrigger(c *gin.Context) {
	var req manualTriggerRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, response{Message: "invalid request body"})
		return
	}

	switch req.Action {
	case "trigger":
		h.RunReminders(c)
	case "reschedule":
		if h.scheduler == nil {
			c.JSON(http.StatusServiceUnavailable, response{Message: "scheduler not available"})
			return
		}
		spec, err := h.scheduler.Reschedule(req.Schedule)
		if err != nil {
			c.JSON(http.StatusBadRequest, response{Message: err.Error()})
			return
		}
		c.JSON(http.StatusOK, response{
			Success: true,
			Message: "schedule updated",
			Data:    statusData{Active: h.scheduler.Active(), Schedule: spec},
		})
	default:
		c.JSON(http.StatusBadRequest, response{Message: "unknown action"})
	}
}

type statusData struct {
	Active   bool   `json:"active"`
	Schedule string `json:"schedule,omitempty"`
}

func (h *Handler) ManualStatus(c *gin.Context) {
	data := statusData{}
	if h.scheduler != nil {
		data.Active = h.scheduler.Active()
		data.Schedule = h.scheduler.Schedule()
	}
	c.JSON(http.StatusOK, response{Success: true, Message: "ok", Data: data})
}

func (h *Handler) fail(ctx context.Context, c *gin.Context, err error) {
	log := logger.WithTrace(ctx, h.logger)
	msg := "internal error"
	switch {
	case errors.Is(err, service.ErrConfiguration):
		msg = "configuration error"
	case errors.Is(err, service.ErrResolution):
		msg = "failed to resolve eligible tasks"
	}
	log.Error("Run failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, response{Message: msg})
}
