package service

import (
	"context"
	"errors"
	"time"
)

// Job is either job.
type Job interface {
	Run(ctx context.Context) (Summary, error)
}

// DailySummary is the combined result of a reminder pass followed by an
// overdue alert pass.
type DailySummary struct {
	Reminders Summary
	Overdue   Summary
	Duration  time.Duration
}

func (d DailySummary) TotalSent() int {
	return d.Reminders.Sent + d.Overdue.Sent
}

func (d DailySummary) Complete() bool {
	return d.Reminders.Complete() && d.Overdue.Complete()
}

// Runner exposes the jobs to the HTTP, MQ and CLI triggers.
type Runner struct {
	Reminders Job
	Overdue   Job
}

func NewRunner(reminders, overdue Job) *Runner {
	return &Runner{Reminders: reminders, Overdue: overdue}
}

// RunDaily runs the reminder pass and then the overdue pass. The overdue
// pass still runs when the reminder pass aborts; the errors are joined.
func (r *Runner) RunDaily(ctx context.Context) (DailySummary, error) {
	start := time.Now()
	var out DailySummary
	var remErr, overdueErr error
	out.Reminders, remErr = r.Reminders.Run(ctx)
	out.Overdue, overdueErr = r.Overdue.Run(ctx)
	out.Duration = time.Since(start)
	return out, errors.Join(remErr, overdueErr)
}
