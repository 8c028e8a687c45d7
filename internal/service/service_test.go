package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "volunteerreminder/contracts/mq"
	"volunteerreminder/internal/ledger"
	"volunteerreminder/internal/model"
	"volunteerreminder/internal/notify"
	"volunteerreminder/internal/resolver"
	"volunteerreminder/pkg/circuitbreaker"
	"volunteerreminder/pkg/mq"
	"volunteerreminder/pkg/util"
)

var fixedNow = time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func strPtr(s string) *string { return &s }

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

type fakeStore struct {
	volunteers []model.Volunteer
	pairs      []model.Pair
	err        error
}

func (f *fakeStore) ListAssignedVolunteers(context.Context) ([]model.Volunteer, error) {
	return f.volunteers, f.err
}

func (f *fakeStore) ListOpenPairs(context.Context) ([]model.Pair, error) {
	return f.pairs, f.err
}

type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Message
	fail map[string]error
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) Send(_ context.Context, msg notify.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[msg.ToEmail]; err != nil {
		return "", err
	}
	s.sent = append(s.sent, msg)
	return "msg-" + msg.ToEmail, nil
}

func (s *recordingSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.ToEmail)
	}
	return out
}

// faultyLedger wraps a Memory ledger and injects failures.
type faultyLedger struct {
	*ledger.Memory
	readErr   error
	claimErr  error
	recordErr error
}

func (f *faultyLedger) WasNotified(ctx context.Context, k ledger.Key) (bool, error) {
	if f.readErr != nil {
		return false, f.readErr
	}
	return f.Memory.WasNotified(ctx, k)
}

func (f *faultyLedger) Claim(ctx context.Context, k ledger.Key) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	return f.Memory.Claim(ctx, k)
}

func (f *faultyLedger) Record(ctx context.Context, k ledger.Key, id string) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	return f.Memory.Record(ctx, k, id)
}

// cancellingLedger cancels the run on the first ledger read, as a run
// timeout firing mid-filter would.
type cancellingLedger struct {
	*ledger.Memory
	cancel context.CancelFunc
}

func (c *cancellingLedger) WasNotified(ctx context.Context, _ ledger.Key) (bool, error) {
	c.cancel()
	return false, ctx.Err()
}

type touchRecorder struct {
	mu  sync.Mutex
	ids []int64
}

func (t *touchRecorder) TouchLastReminderSent(_ context.Context, id int64, _ time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = append(t.ids, id)
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	keys   []string
	events []mqcontracts.RunCompletedPayload
}

func (c *capturePublisher) PublishWithContext(_ context.Context, key string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	if evt, ok := payload.(mqcontracts.RunCompletedPayload); ok {
		c.events = append(c.events, evt)
	}
	return nil
}

func opts() Options {
	return Options{Concurrency: 2, Location: time.UTC, Now: clock}
}

func newReminderJob(store *fakeStore, l ledger.Ledger, s notify.Sender) *ReminderJob {
	res := resolver.New(store, time.UTC, clock, zap.NewNop())
	return NewReminderJob(res, l, s, nil, nil, opts(), zap.NewNop())
}

func vol(id int64, email string) model.Volunteer {
	v := model.Volunteer{ID: id, FullName: "Volunteer"}
	if email != "" {
		v.Email = strPtr(email)
	}
	return v
}

func task(id int64) model.Task {
	return model.Task{ID: id, Title: "Task", Status: model.TaskStatusPending}
}

func TestReminderJob_EndToEnd(t *testing.T) {
	v1, v2, v3 := vol(1, "v1@example.org"), vol(2, "v2@example.org"), vol(3, "v3@example.org")
	store := &fakeStore{
		volunteers: []model.Volunteer{v1, v2, v3},
		pairs: []model.Pair{
			{Task: task(10), Volunteer: v1},
			{Task: task(11), Volunteer: v1},
			{Task: task(30), Volunteer: v3},
		},
	}

	l := ledger.NewMemory()
	// V3 was reminded two hours ago, same calendar day.
	window := ledger.WindowDaily.Label(fixedNow.Add(-2 * time.Hour))
	_, err := l.Claim(context.Background(), reminderKey(30, 3, window))
	require.NoError(t, err)
	require.NoError(t, l.Record(context.Background(), reminderKey(30, 3, window), "earlier"))

	sender := &recordingSender{}
	toucher := &touchRecorder{}
	events := &capturePublisher{}
	res := resolver.New(store, time.UTC, clock, zap.NewNop())
	job := NewReminderJob(res, l, sender, toucher, events, opts(), zap.NewNop())

	sum, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 2, sum.Skipped)
	assert.Zero(t, sum.Failed)
	assert.True(t, sum.Complete())

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "v1@example.org", sender.sent[0].ToEmail)
	assert.Contains(t, sender.sent[0].Subject, "2 open volunteer tasks")
	assert.Equal(t, []int64{1}, toucher.ids)

	id, ok := l.DeliveryID(reminderKey(10, 1, window))
	assert.True(t, ok)
	assert.Equal(t, "msg-v1@example.org", id)

	require.Len(t, events.events, 1)
	assert.Equal(t, mq.RoutingKeyRunCompleted, events.keys[0])
	assert.Equal(t, 1, events.events[0].Sent)
	assert.NotEmpty(t, events.events[0].TraceID)
}

func TestReminderJob_SecondRunSendsNothing(t *testing.T) {
	v := vol(1, "v@example.org")
	store := &fakeStore{
		volunteers: []model.Volunteer{v},
		pairs:      []model.Pair{{Task: task(1), Volunteer: v}, {Task: task(2), Volunteer: v}},
	}
	l := ledger.NewMemory()
	sender := &recordingSender{}
	job := newReminderJob(store, l, sender)

	first, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sent)

	second, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Sent)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, sender.sent, 1)
}

func TestReminderJob_NewTaskSameDayOnlyMentionsNewTask(t *testing.T) {
	v := vol(1, "v@example.org")
	l := ledger.NewMemory()
	sender := &recordingSender{}

	store := &fakeStore{volunteers: []model.Volunteer{v}, pairs: []model.Pair{{Task: task(1), Volunteer: v}}}
	_, err := newReminderJob(store, l, sender).Run(context.Background())
	require.NoError(t, err)

	store.pairs = append(store.pairs, model.Pair{Task: model.Task{ID: 2, Title: "Fresh task"}, Volunteer: v})
	sum, err := newReminderJob(store, l, sender).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	require.Len(t, sender.sent, 2)
	assert.Contains(t, sender.sent[1].PlainText, "Fresh task")
	assert.Equal(t, "Reminder: you have an open volunteer task", sender.sent[1].Subject)
}

func TestReminderJob_NullEmailNeverDispatched(t *testing.T) {
	noEmail := vol(1, "")
	blank := vol(2, "   ")
	store := &fakeStore{
		volunteers: []model.Volunteer{noEmail, blank},
		pairs:      []model.Pair{{Task: task(1), Volunteer: noEmail}, {Task: task(2), Volunteer: blank}},
	}
	l := ledger.NewMemory()
	sender := &recordingSender{}

	sum, err := newReminderJob(store, l, sender).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 2, sum.Skipped)
	assert.Empty(t, sender.sent)
	assert.Zero(t, l.Len(), "no claims for skipped volunteers")
}

func TestReminderJob_SendFailureReleasesClaims(t *testing.T) {
	ok, bad := vol(1, "ok@example.org"), vol(2, "bad@example.org")
	store := &fakeStore{
		volunteers: []model.Volunteer{ok, bad},
		pairs:      []model.Pair{{Task: task(1), Volunteer: ok}, {Task: task(2), Volunteer: bad}},
	}
	l := ledger.NewMemory()
	sender := &recordingSender{fail: map[string]error{"bad@example.org": errors.New("provider timeout")}}

	sum, err := newReminderJob(store, l, sender).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 1, sum.Failed)
	assert.False(t, sum.Complete())
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "volunteer 2")

	window := ledger.WindowDaily.Label(fixedNow)
	_, held := l.DeliveryID(reminderKey(2, 2, window))
	assert.False(t, held, "failed send must not leave a ledger entry")

	// The next run retries the failed volunteer only.
	sender.fail = nil
	sum, err = newReminderJob(store, l, sender).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, []string{"ok@example.org", "bad@example.org"}, sender.recipients())
}

func TestReminderJob_RejectedAddressesDoNotBlockOthers(t *testing.T) {
	store := &fakeStore{}
	sender := &recordingSender{fail: map[string]error{}}
	for id := int64(1); id <= 6; id++ {
		v := vol(id, fmt.Sprintf("v%d@example.org", id))
		store.volunteers = append(store.volunteers, v)
		store.pairs = append(store.pairs, model.Pair{Task: task(id), Volunteer: v})
		if id < 6 {
			sender.fail[*v.Email] = &util.ProviderError{StatusCode: 400, Body: "invalid email"}
		}
	}
	breaker := notify.NewBreakerSender(sender, circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()), zap.NewNop())

	o := opts()
	o.Concurrency = 1
	job := NewReminderJob(resolver.New(store, time.UTC, clock, zap.NewNop()), ledger.NewMemory(), breaker, nil, nil, o, zap.NewNop())

	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Failed)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, []string{"v6@example.org"}, sender.recipients())
	for _, e := range sum.Errors {
		assert.NotContains(t, e, circuitbreaker.ErrCircuitBreakerOpen.Error())
	}
}

func TestReminderJob_LedgerReadErrorFailsClosed(t *testing.T) {
	v := vol(1, "v@example.org")
	store := &fakeStore{volunteers: []model.Volunteer{v}, pairs: []model.Pair{{Task: task(1), Volunteer: v}}}
	l := &faultyLedger{Memory: ledger.NewMemory(), readErr: errors.New("redis down")}
	sender := &recordingSender{}

	sum, err := newReminderJob(store, l, sender).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.LedgerErrors)
	assert.False(t, sum.Complete())
}

func TestReminderJob_ClaimErrorFailsClosed(t *testing.T) {
	v := vol(1, "v@example.org")
	store := &fakeStore{volunteers: []model.Volunteer{v}, pairs: []model.Pair{{Task: task(1), Volunteer: v}}}
	l := &faultyLedger{Memory: ledger.NewMemory(), claimErr: errors.New("redis down")}
	sender := &recordingSender{}

	sum, err := newReminderJob(store, l, sender).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.LedgerErrors)
}

func TestReminderJob_RecordFailureStillCountsAsSent(t *testing.T) {
	v := vol(1, "v@example.org")
	store := &fakeStore{volunteers: []model.Volunteer{v}, pairs: []model.Pair{{Task: task(1), Volunteer: v}}}
	l := &faultyLedger{Memory: ledger.NewMemory(), recordErr: errors.New("write failed")}
	sender := &recordingSender{}
	job := newReminderJob(store, l, sender)

	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	assert.Zero(t, sum.Failed)

	// The pending claim still suppresses a resend in the same window.
	sum, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Sent)
	assert.Len(t, sender.sent, 1)
}

func TestReminderJob_TimeoutDuringFilterIsNotStarted(t *testing.T) {
	store := &fakeStore{}
	for id := int64(1); id <= 3; id++ {
		v := vol(id, fmt.Sprintf("v%d@example.org", id))
		store.volunteers = append(store.volunteers, v)
		store.pairs = append(store.pairs, model.Pair{Task: task(id), Volunteer: v})
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := &recordingSender{}

	sum, err := newReminderJob(store, &cancellingLedger{Memory: ledger.NewMemory(), cancel: cancel}, sender).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.NotStarted)
	assert.Zero(t, sum.LedgerErrors)
	assert.Zero(t, sum.Skipped)
	assert.Empty(t, sender.sent)
	assert.False(t, sum.Complete())
}

func TestReminderJob_ResolutionFailureAborts(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	sender := &recordingSender{}

	_, err := newReminderJob(store, ledger.NewMemory(), sender).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResolution)
	assert.Empty(t, sender.sent)
}

type staticOverdue struct {
	pairs []model.Pair
	err   error
}

func (s staticOverdue) OverduePairs(context.Context) ([]model.Pair, error) { return s.pairs, s.err }

func overduePair(taskID, volID int64) model.Pair {
	return model.Pair{
		Task:      model.Task{ID: taskID, Title: "Late", Status: model.TaskStatusInProgress, DueDate: day(2026, 10, 12)},
		Volunteer: vol(volID, ""),
	}
}

func TestOverdueAlertJob_SendsOnlyToMissingAdmin(t *testing.T) {
	p := overduePair(5, 9)
	l := ledger.NewMemory()
	key := ledger.Key{
		Kind:           model.KindOverdueAlert,
		TaskID:         5,
		VolunteerID:    9,
		AdminRecipient: "a1@example.org",
		Window:         ledger.WindowOnce.Label(fixedNow),
	}
	_, err := l.Claim(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, l.Record(context.Background(), key, "earlier"))

	sender := &recordingSender{}
	job := NewOverdueAlertJob(staticOverdue{pairs: []model.Pair{p}}, l, sender, nil,
		[]string{"A1@example.org", "a2@example.org"}, ledger.WindowOnce, opts(), zap.NewNop())

	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, []string{"a2@example.org"}, sender.recipients())
	assert.Contains(t, sender.sent[0].PlainText, "4 days overdue")
}

func TestOverdueAlertJob_FanOutAndDedup(t *testing.T) {
	l := ledger.NewMemory()
	sender := &recordingSender{}
	job := NewOverdueAlertJob(staticOverdue{pairs: []model.Pair{overduePair(1, 1), overduePair(2, 1)}}, l, sender, nil,
		[]string{"a@example.org", "b@example.org", "a@example.org"}, ledger.WindowOnce, opts(), zap.NewNop())

	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 4, sum.Sent)

	sum, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Sent)
	assert.Equal(t, 4, sum.Skipped)
}

func TestOverdueAlertJob_DailyWindowRealertsNextDay(t *testing.T) {
	l := ledger.NewMemory()
	sender := &recordingSender{}
	now := fixedNow
	o := opts()
	o.Now = func() time.Time { return now }
	job := NewOverdueAlertJob(staticOverdue{pairs: []model.Pair{overduePair(1, 1)}}, l, sender, nil,
		[]string{"a@example.org"}, ledger.WindowDaily, o, zap.NewNop())

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	now = now.Add(24 * time.Hour)
	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	assert.Len(t, sender.sent, 2)
}

func TestOverdueAlertJob_TimeoutDuringFilterIsNotStarted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := &recordingSender{}
	job := NewOverdueAlertJob(staticOverdue{pairs: []model.Pair{overduePair(1, 1), overduePair(2, 1)}},
		&cancellingLedger{Memory: ledger.NewMemory(), cancel: cancel}, sender, nil,
		[]string{"a@example.org", "b@example.org"}, ledger.WindowOnce, opts(), zap.NewNop())

	sum, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.NotStarted)
	assert.Zero(t, sum.LedgerErrors)
	assert.Empty(t, sender.sent)
}

func TestOverdueAlertJob_NoAdminsIsConfigurationError(t *testing.T) {
	sender := &recordingSender{}
	job := NewOverdueAlertJob(staticOverdue{pairs: []model.Pair{overduePair(1, 1)}}, ledger.NewMemory(), sender, nil,
		[]string{" "}, ledger.WindowOnce, opts(), zap.NewNop())

	_, err := job.Run(context.Background())
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Empty(t, sender.sent)
}

func TestOverdueAlertJob_ResolutionFailure(t *testing.T) {
	job := NewOverdueAlertJob(staticOverdue{err: errors.New("db gone")}, ledger.NewMemory(), &recordingSender{}, nil,
		[]string{"a@example.org"}, ledger.WindowOnce, opts(), zap.NewNop())
	_, err := job.Run(context.Background())
	assert.ErrorIs(t, err, ErrResolution)
}

type stubJob struct {
	sum Summary
	err error
	ran bool
}

func (s *stubJob) Run(context.Context) (Summary, error) {
	s.ran = true
	return s.sum, s.err
}

func TestRunner_RunDaily(t *testing.T) {
	rem := &stubJob{err: ErrResolution}
	over := &stubJob{sum: Summary{Sent: 3}}
	out, err := NewRunner(rem, over).RunDaily(context.Background())

	assert.ErrorIs(t, err, ErrResolution)
	assert.True(t, over.ran, "overdue pass runs even if reminders abort")
	assert.Equal(t, 3, out.TotalSent())
}
