package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"volunteerreminder/internal/model"
)

type fakeStore struct {
	volunteers []model.Volunteer
	pairs      []model.Pair
	volErr     error
	pairErr    error
}

func (f *fakeStore) ListAssignedVolunteers(context.Context) ([]model.Volunteer, error) {
	return f.volunteers, f.volErr
}

func (f *fakeStore) ListOpenPairs(context.Context) ([]model.Pair, error) {
	return f.pairs, f.pairErr
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

var fixedNow = time.Date(2026, 10, 16, 14, 30, 0, 0, time.UTC)

func newResolver(store Store) *Resolver {
	return New(store, time.UTC, func() time.Time { return fixedNow }, zap.NewNop())
}

func TestIsOverdue_Boundaries(t *testing.T) {
	tests := []struct {
		name string
		due  *time.Time
		want bool
	}{
		{"no due date", nil, false},
		{"due today", date(2026, 10, 16), false},
		{"due today late evening", func() *time.Time { t := time.Date(2026, 10, 16, 23, 59, 0, 0, time.UTC); return &t }(), false},
		{"due yesterday", date(2026, 10, 15), true},
		{"due yesterday late evening", func() *time.Time { t := time.Date(2026, 10, 15, 23, 59, 0, 0, time.UTC); return &t }(), true},
		{"due tomorrow", date(2026, 10, 17), false},
		{"due last year", date(2025, 12, 31), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOverdue(tt.due, fixedNow))
		})
	}
}

func TestDaysOverdue(t *testing.T) {
	assert.Equal(t, 1, DaysOverdue(*date(2026, 10, 15), fixedNow))
	assert.Equal(t, 16, DaysOverdue(*date(2026, 9, 30), fixedNow))
	assert.Equal(t, 0, DaysOverdue(*date(2026, 10, 16), fixedNow))
}

func TestReminderGroups_ConsolidatesByVolunteer(t *testing.T) {
	v1 := model.Volunteer{ID: 1, FullName: "Ada"}
	v2 := model.Volunteer{ID: 2, FullName: "Grace"}
	store := &fakeStore{
		volunteers: []model.Volunteer{v2, v1},
		pairs: []model.Pair{
			{Task: model.Task{ID: 11, Status: model.TaskStatusPending}, Volunteer: v1},
			{Task: model.Task{ID: 10, Status: model.TaskStatusInProgress}, Volunteer: v1},
			{Task: model.Task{ID: 12, Status: model.TaskStatusCompleted}, Volunteer: v1},
		},
	}

	groups, err := newResolver(store).ReminderGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, int64(1), groups[0].Volunteer.ID)
	require.Len(t, groups[0].Tasks, 2)
	assert.Equal(t, int64(10), groups[0].Tasks[0].ID)
	assert.Equal(t, int64(11), groups[0].Tasks[1].ID)

	assert.Equal(t, int64(2), groups[1].Volunteer.ID)
	assert.Empty(t, groups[1].Tasks)
}

func TestReminderGroups_StoreErrorIsFatal(t *testing.T) {
	boom := errors.New("db down")

	_, err := newResolver(&fakeStore{volErr: boom}).ReminderGroups(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = newResolver(&fakeStore{pairErr: boom}).ReminderGroups(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestOverduePairs_FiltersByDueDate(t *testing.T) {
	v := model.Volunteer{ID: 1}
	store := &fakeStore{pairs: []model.Pair{
		{Task: model.Task{ID: 1, Status: model.TaskStatusPending, DueDate: date(2026, 10, 16)}, Volunteer: v},
		{Task: model.Task{ID: 2, Status: model.TaskStatusPending, DueDate: date(2026, 10, 15)}, Volunteer: v},
		{Task: model.Task{ID: 3, Status: model.TaskStatusPending}, Volunteer: v},
		{Task: model.Task{ID: 4, Status: model.TaskStatusCompleted, DueDate: date(2026, 1, 1)}, Volunteer: v},
	}}

	pairs, err := newResolver(store).OverduePairs(context.Background())
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, int64(2), pairs[0].Task.ID)
}

func TestOverduePairs_UsesConfiguredZone(t *testing.T) {
	// 02:00 on the 17th in UTC+10 is still the 16th in UTC.
	loc := time.FixedZone("AEST", 10*60*60)
	now := time.Date(2026, 10, 16, 16, 0, 0, 0, time.UTC)
	store := &fakeStore{pairs: []model.Pair{
		{Task: model.Task{ID: 1, Status: model.TaskStatusPending, DueDate: date(2026, 10, 16)}, Volunteer: model.Volunteer{ID: 1}},
	}}

	r := New(store, loc, func() time.Time { return now }, zap.NewNop())
	pairs, err := r.OverduePairs(context.Background())
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}
