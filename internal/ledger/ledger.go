// Package ledger records which notifications have already been dispatched so
// that each (task, volunteer[, admin]) key is notified at most once per window.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"volunteerreminder/internal/model"
)

// ErrNotConfigured is returned by Check when the backing store lacks the
// tables or connectivity the ledger needs.
var ErrNotConfigured = errors.New("ledger backend not configured")

// Key identifies one ledger entry. AdminRecipient is empty for reminders.
type Key struct {
	Kind           model.Kind
	TaskID         int64
	VolunteerID    int64
	AdminRecipient string
	Window         string
}

func (k Key) String() string {
	if k.AdminRecipient != "" {
		return fmt.Sprintf("%s:%d:%d:%s:%s", k.Kind, k.TaskID, k.VolunteerID, strings.ToLower(k.AdminRecipient), k.Window)
	}
	return fmt.Sprintf("%s:%d:%d:%s", k.Kind, k.TaskID, k.VolunteerID, k.Window)
}

// Ledger is the dedup store shared by the reminder and overdue flows.
//
// Claim is the only operation that guards against duplicate sends: it is an
// atomic insert-if-absent, and a false result means another run already owns
// the key for this window. WasNotified is a cheap pre-filter read.
type Ledger interface {
	WasNotified(ctx context.Context, key Key) (bool, error)
	Claim(ctx context.Context, key Key) (bool, error)
	// Record stamps the provider delivery id on a claimed key, inserting the
	// entry if the claim is missing.
	Record(ctx context.Context, key Key, deliveryID string) error
	// Release voids a claim whose send failed. Entries that already carry a
	// delivery id are left untouched.
	Release(ctx context.Context, key Key) error
	// Check verifies the backend once at startup.
	Check(ctx context.Context) error
}

// WindowPolicy decides how long a ledger entry suppresses further sends.
type WindowPolicy string

const (
	// WindowDaily dedups per calendar day in the configured time zone.
	WindowDaily WindowPolicy = "daily"
	// WindowOnce dedups for the lifetime of the entry.
	WindowOnce WindowPolicy = "once"
)

const onceLabel = "once"

// ParseWindowPolicy validates a configured window name.
func ParseWindowPolicy(s string) (WindowPolicy, error) {
	switch p := WindowPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case WindowDaily, WindowOnce:
		return p, nil
	case "":
		return WindowDaily, nil
	default:
		return "", fmt.Errorf("unknown dedup window %q (want daily or once)", s)
	}
}

// Label returns the window key for now. now must already be in the service
// time zone so the calendar day matches what operators see.
func (p WindowPolicy) Label(now time.Time) string {
	if p == WindowOnce {
		return onceLabel
	}
	return now.Format(time.DateOnly)
}
