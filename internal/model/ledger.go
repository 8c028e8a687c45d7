package model

// Kind is the notification flow a ledger entry belongs to.
type Kind string

const (
	KindReminder     Kind = "reminder"
	KindOverdueAlert Kind = "overdue_alert"
)
