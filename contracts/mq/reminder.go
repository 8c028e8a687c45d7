package mq

import "time"

// TriggerPayload is consumed from reminder.trigger.
type TriggerPayload struct {
	Job string `json:"job"` // reminders / overdue / daily
}

// RunCompletedPayload is published on reminder.run.completed after every
// finished run.
type RunCompletedPayload struct {
	Kind         string    `json:"kind"`
	TraceID      string    `json:"trace_id"`
	StartedAt    time.Time `json:"started_at"`
	Processed    int       `json:"processed"`
	Sent         int       `json:"sent"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
	NotStarted   int       `json:"not_started"`
	LedgerErrors int       `json:"ledger_errors"`
	DurationMs   int64     `json:"duration_ms"`
}
