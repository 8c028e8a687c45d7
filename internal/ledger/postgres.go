package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"volunteerreminder/internal/model"
	"volunteerreminder/pkg/db"
)

// Postgres stores entries in reminder_ledger and overdue_alert_ledger. Both
// tables carry a UNIQUE constraint over the key columns plus window_key, which
// is what makes Claim atomic across overlapping runs.
type Postgres struct {
	db     db.Querier
	logger *zap.Logger
}

func NewPostgres(pool db.Querier, logger *zap.Logger) *Postgres {
	return &Postgres{db: pool, logger: logger}
}

func (p *Postgres) WasNotified(ctx context.Context, k Key) (bool, error) {
	var exists bool
	var err error
	switch k.Kind {
	case model.KindReminder:
		err = p.db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM reminder_ledger
				WHERE task_id = $1 AND volunteer_id = $2 AND window_key = $3
			)`, k.TaskID, k.VolunteerID, k.Window).Scan(&exists)
	case model.KindOverdueAlert:
		err = p.db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM overdue_alert_ledger
				WHERE task_id = $1 AND volunteer_id = $2 AND admin_recipient = $3 AND window_key = $4
			)`, k.TaskID, k.VolunteerID, k.AdminRecipient, k.Window).Scan(&exists)
	default:
		return false, fmt.Errorf("unknown ledger kind %q", k.Kind)
	}
	if err != nil {
		return false, fmt.Errorf("ledger lookup %s: %w", k, err)
	}
	return exists, nil
}

func (p *Postgres) Claim(ctx context.Context, k Key) (bool, error) {
	var query string
	var args []any
	switch k.Kind {
	case model.KindReminder:
		query = `
			INSERT INTO reminder_ledger (task_id, volunteer_id, window_key, sent_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (task_id, volunteer_id, window_key) DO NOTHING`
		args = []any{k.TaskID, k.VolunteerID, k.Window}
	case model.KindOverdueAlert:
		query = `
			INSERT INTO overdue_alert_ledger (task_id, volunteer_id, admin_recipient, window_key, sent_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (task_id, volunteer_id, admin_recipient, window_key) DO NOTHING`
		args = []any{k.TaskID, k.VolunteerID, k.AdminRecipient, k.Window}
	default:
		return false, fmt.Errorf("unknown ledger kind %q", k.Kind)
	}

	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("ledger claim %s: %w", k, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Record(ctx context.Context, k Key, deliveryID string) error {
	var query string
	var args []any
	switch k.Kind {
	case model.KindReminder:
		query = `
			INSERT INTO reminder_ledger (task_id, volunteer_id, window_key, sent_at, delivery_id)
			VALUES ($1, $2, $3, NOW(), $4)
			ON CONFLICT (task_id, volunteer_id, window_key)
			DO UPDATE SET delivery_id = EXCLUDED.delivery_id, sent_at = EXCLUDED.sent_at`
		args = []any{k.TaskID, k.VolunteerID, k.Window, deliveryID}
	case model.KindOverdueAlert:
		query = `
			INSERT INTO overdue_alert_ledger (task_id, volunteer_id, admin_recipient, window_key, sent_at, delivery_id)
			VALUES ($1, $2, $3, $4, NOW(), $5)
			ON CONFLICT (task_id, volunteer_id, admin_recipient, window_key)
			DO UPDATE SET delivery_id = EXCLUDED.delivery_id, sent_at = EXCLUDED.sent_at`
		args = []any{k.TaskID, k.VolunteerID, k.AdminRecipient, k.Window, deliveryID}
	default:
		return fmt.Errorf("unknown ledger kind %q", k.Kind)
	}

	if _, err := p.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("ledger record %s: %w", k, err)
	}
	return nil
}

func (p *Postgres) Release(ctx context.Context, k Key) error {
	var err error
	switch k.Kind {
	case model.KindReminder:
		_, err = p.db.Exec(ctx, `
			DELETE FROM reminder_ledger
			WHERE task_id = $1 AND volunteer_id = $2 AND window_key = $3 AND delivery_id IS NULL`,
			k.TaskID, k.VolunteerID, k.Window)
	case model.KindOverdueAlert:
		_, err = p.db.Exec(ctx, `
			DELETE FROM overdue_alert_ledger
			WHERE task_id = $1 AND volunteer_id = $2 AND admin_recipient = $3 AND window_key = $4 AND delivery_id IS NULL`,
			k.TaskID, k.VolunteerID, k.AdminRecipient, k.Window)
	default:
		return fmt.Errorf("unknown ledger kind %q", k.Kind)
	}
	if err != nil {
		return fmt.Errorf("ledger release %s: %w", k, err)
	}
	return nil
}

// Check verifies both ledger tables exist. It replaces probing for optional
// tables on every write.
func (p *Postgres) Check(ctx context.Context) error {
	for _, table := range []string{"reminder_ledger", "overdue_alert_ledger"} {
		var present bool
		if err := p.db.QueryRow(ctx, `SELECT to_regclass($1::text) IS NOT NULL`, table).Scan(&present); err != nil {
			return fmt.Errorf("%w: checking table %s: %v", ErrNotConfigured, table, err)
		}
		if !present {
			return fmt.Errorf("%w: table %s is missing (apply migrations/001_init.sql)", ErrNotConfigured, table)
		}
		p.logger.Debug("Ledger table present", zap.String("table", table))
	}
	return nil
}
