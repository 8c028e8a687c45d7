// Package resolver decides which (task, volunteer) pairs currently need a
// reminder or an overdue alert.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"volunteerreminder/internal/model"
)

// Store is the slice of the record store the resolver reads.
type Store interface {
	ListAssignedVolunteers(ctx context.Context) ([]model.Volunteer, error)
	ListOpenPairs(ctx context.Context) ([]model.Pair, error)
}

type Resolver struct {
	store    Store
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// New builds a resolver. Due dates are compared as calendar dates in loc.
func New(store Store, loc *time.Location, now func() time.Time, logger *zap.Logger) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		store:    store,
		location: loc,
		now:      now,
		logger:   logger,
	}
}

// ReminderGroups returns one group per assigned volunteer holding all of that
// volunteer's open tasks. Volunteers whose tasks are all completed are still
// returned with an empty task list so callers can count them as skipped.
// Any store error aborts the whole resolution.
func (r *Resolver) ReminderGroups(ctx context.Context) ([]model.VolunteerGroup, error) {
	volunteers, err := r.store.ListAssignedVolunteers(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve reminder volunteers: %w", err)
	}
	pairs, err := r.store.ListOpenPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve reminder tasks: %w", err)
	}

	index := make(map[int64]int, len(volunteers))
	groups := make([]model.VolunteerGroup, 0, len(volunteers))
	for _, v := range volunteers {
		if _, dup := index[v.ID]; dup {
			continue
		}
		index[v.ID] = len(groups)
		groups = append(groups, model.VolunteerGroup{Volunteer: v})
	}

	for _, p := range pairs {
		if !p.Task.Status.Open() {
			continue
		}
		i, ok := index[p.Volunteer.ID]
		if !ok {
			// Assignment created between the two reads.
			index[p.Volunteer.ID] = len(groups)
			groups = append(groups, model.VolunteerGroup{Volunteer: p.Volunteer})
			i = len(groups) - 1
		}
		groups[i].Tasks = append(groups[i].Tasks, p.Task)
	}

	sort.Slice(groups, func(a, b int) bool { return groups[a].Volunteer.ID < groups[b].Volunteer.ID })
	for i := range groups {
		tasks := groups[i].Tasks
		sort.Slice(tasks, func(a, b int) bool { return tasks[a].ID < tasks[b].ID })
	}

	r.logger.Debug("Resolved reminder groups",
		zap.Int("volunteers", len(groups)),
		zap.Int("open_pairs", len(pairs)),
	)
	return groups, nil
}

// OverduePairs returns open assigned pairs whose due date is strictly before
// the start of today.
func (r *Resolver) OverduePairs(ctx context.Context) ([]model.Pair, error) {
	pairs, err := r.store.ListOpenPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve overdue tasks: %w", err)
	}

	now := r.now().In(r.location)
	var overdue []model.Pair
	for _, p := range pairs {
		if p.Task.Status.Open() && IsOverdue(p.Task.DueDate, now) {
			overdue = append(overdue, p)
		}
	}

	sort.Slice(overdue, func(a, b int) bool {
		if overdue[a].Task.ID != overdue[b].Task.ID {
			return overdue[a].Task.ID < overdue[b].Task.ID
		}
		return overdue[a].Volunteer.ID < overdue[b].Volunteer.ID
	})

	r.logger.Debug("Resolved overdue pairs",
		zap.Int("open_pairs", len(pairs)),
		zap.Int("overdue", len(overdue)),
	)
	return overdue, nil
}

// IsOverdue reports whether due falls on a calendar date before now's date.
// Time of day is ignored on both sides; a nil due date is never overdue.
func IsOverdue(due *time.Time, now time.Time) bool {
	if due == nil {
		return false
	}
	dy, dm, dd := due.Date()
	dueDay := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	ny, nm, nd := now.Date()
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return dueDay.Before(today)
}

// DaysOverdue is the whole number of calendar days between due and now.
func DaysOverdue(due time.Time, now time.Time) int {
	dy, dm, dd := due.Date()
	ny, nm, nd := now.Date()
	a := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
