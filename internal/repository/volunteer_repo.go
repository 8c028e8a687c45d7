package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"volunteerreminder/internal/model"
	"volunteerreminder/pkg/db"
)

// VolunteerRepository is the read side of the record store used by the
// notification jobs, plus the single point update they perform.
type VolunteerRepository struct {
	db     db.Querier
	logger *zap.Logger
}

func NewVolunteerRepository(pool db.Querier, logger *zap.Logger) *VolunteerRepository {
	return &VolunteerRepository{
		db:     pool,
		logger: logger,
	}
}

// ListAssignedVolunteers returns every volunteer with at least one assignment,
// whatever the task status.
func (r *VolunteerRepository) ListAssignedVolunteers(ctx context.Context) ([]model.Volunteer, error) {
	query := `
        SELECT v.id, v.full_name, v.email, v.last_reminder_sent
        FROM volunteers v
        WHERE EXISTS (SELECT 1 FROM task_assignments a WHERE a.volunteer_id = v.id)
        ORDER BY v.id
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list assigned volunteers: %w", err)
	}
	defer rows.Close()

	var volunteers []model.Volunteer
	for rows.Next() {
		var v model.Volunteer
		if err := rows.Scan(&v.ID, &v.FullName, &v.Email, &v.LastReminderSent); err != nil {
			return nil, fmt.Errorf("scan volunteer: %w", err)
		}
		volunteers = append(volunteers, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assigned volunteers: %w", err)
	}
	return volunteers, nil
}

// ListOpenPairs returns every assignment whose task is not completed, joined
// with its task and volunteer.
func (r *VolunteerRepository) ListOpenPairs(ctx context.Context) ([]model.Pair, error) {
	query := `
        SELECT t.id, t.title, t.status, t.due_date,
               v.id, v.full_name, v.email, v.last_reminder_sent
        FROM task_assignments a
        JOIN tasks t ON t.id = a.task_id
        JOIN volunteers v ON v.id = a.volunteer_id
        WHERE t.status <> 'completed'
        ORDER BY v.id, t.id
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open assignments: %w", err)
	}
	defer rows.Close()

	var pairs []model.Pair
	for rows.Next() {
		var p model.Pair
		var status string
		if err := rows.Scan(
			&p.Task.ID,
			&p.Task.Title,
			&status,
			&p.Task.DueDate,
			&p.Volunteer.ID,
			&p.Volunteer.FullName,
			&p.Volunteer.Email,
			&p.Volunteer.LastReminderSent,
		); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		p.Task.Status = model.TaskStatus(status)
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list open assignments: %w", err)
	}
	return pairs, nil
}

// TouchLastReminderSent stamps the volunteer's last reminder time.
func (r *VolunteerRepository) TouchLastReminderSent(ctx context.Context, volunteerID int64, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE volunteers SET last_reminder_sent = $2 WHERE id = $1`,
		volunteerID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update last_reminder_sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("No volunteer row updated for last_reminder_sent",
			zap.Int64("volunteer_id", volunteerID),
		)
	}
	return nil
}

// Ping is used by the readiness probe.
func (r *VolunteerRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
