package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"volunteerreminder/internal/gate"
	"volunteerreminder/internal/service"
)

const secret = "cron-secret"

type stubJob struct {
	sum   service.Summary
	err   error
	calls int
}

func (s *stubJob) Run(context.Context) (service.Summary, error) {
	s.calls++
	return s.sum, s.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubScheduler struct {
	active   bool
	schedule string
}

func (s *stubScheduler) Active() bool     { return s.active }
func (s *stubScheduler) Schedule() string { return s.schedule }
func (s *stubScheduler) Reschedule(spec string) (string, error) {
	if spec == "bad" {
		return "", errors.New("invalid schedule")
	}
	s.schedule = spec
	return spec, nil
}

type fixture struct {
	router    *gin.Engine
	reminders *stubJob
	overdue   *stubJob
	scheduler *stubScheduler
}

func newFixture(t *testing.T, configuredSecret string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		reminders: &stubJob{sum: service.Summary{
			StartedAt: time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC),
			Processed: 3, Sent: 1, Skipped: 2, Duration: 1500 * time.Millisecond,
		}},
		overdue:   &stubJob{sum: service.Summary{Processed: 2, Sent: 4}},
		scheduler: &stubScheduler{schedule: "0 0 8 * * *"},
	}
	h := NewHandler(service.NewRunner(f.reminders, f.overdue), f.scheduler, zap.NewNop())
	f.router = NewRouter(h, gate.New(configuredSecret), stubPinger{}, zap.NewNop()).Engine
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRunReminders_Success(t *testing.T) {
	f := newFixture(t, secret)
	w := f.do(http.MethodGet, "/reminders/run?secret="+secret, "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 3, data["totalTasksProcessed"])
	assert.EqualValues(t, 1, data["totalEmailsSent"])
	assert.EqualValues(t, 0, data["totalEmailsFailed"])
	assert.EqualValues(t, 2, data["totalSkipped"])
	assert.EqualValues(t, 1500, data["durationMs"])
	assert.NotContains(t, data, "errors")
	assert.Equal(t, "2026-10-16T08:00:00Z", data["timestamp"])
}

func TestRunReminders_SecretInBody(t *testing.T) {
	f := newFixture(t, secret)
	w := f.do(http.MethodPost, "/reminders/run", `{"secret":"`+secret+`"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.reminders.calls)
}

func TestRunReminders_PartialFailureIs200(t *testing.T) {
	f := newFixture(t, secret)
	f.reminders.sum.Failed = 1
	f.reminders.sum.Errors = []string{"volunteer 4: provider timeout"}

	w := f.do(http.MethodGet, "/reminders/run?secret="+secret, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, []any{"volunteer 4: provider timeout"}, body["data"].(map[string]any)["errors"])
}

func TestRunReminders_Unauthorized(t *testing.T) {
	f := newFixture(t, secret)
	w := f.do(http.MethodGet, "/reminders/run?secret=wrong", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, f.reminders.calls, "no job work on auth failure")
}

func TestRunReminders_UnconfiguredSecret(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(http.MethodGet, "/reminders/run?secret=", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Zero(t, f.reminders.calls)
}

func TestRunReminders_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{service.ErrConfiguration, "configuration error"},
		{service.ErrResolution, "failed to resolve eligible tasks"},
		{errors.New("boom"), "internal error"},
	}
	for _, tt := range tests {
		f := newFixture(t, secret)
		f.reminders.err = tt.err
		w := f.do(http.MethodGet, "/reminders/run?secret="+secret, "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, tt.want, decode(t, w)["message"])
	}
}

func TestDailyRun(t *testing.T) {
	f := newFixture(t, secret)
	w := f.do(http.MethodGet, "/daily-run?key="+secret, "")

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.EqualValues(t, 1, data["reminderEmailsSent"])
	assert.EqualValues(t, 4, data["overdueAlertsSent"])
	assert.EqualValues(t, 5, data["totalEmailsSent"])
	assert.Equal(t, 1, f.reminders.calls)
	assert.Equal(t, 1, f.overdue.calls)
}

func TestManualTrigger(t *testing.T) {
	f := newFixture(t, secret)

	w := f.do(http.MethodPost, "/manual-trigger?secret="+secret, `{"action":"trigger"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.reminders.calls)

	w = f.do(http.MethodPost, "/manual-trigger", `{"secret":"`+secret+`","action":"reschedule","schedule":"0 0 9 * * *"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0 0 9 * * *", f.scheduler.schedule)

	w = f.do(http.MethodPost, "/manual-trigger?secret="+secret, `{"action":"reschedule","schedule":"bad"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/manual-trigger?secret="+secret, `{"action":"explode"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManualStatus(t *testing.T) {
	f := newFixture(t, secret)
	f.scheduler.active = true

	w := f.do(http.MethodGet, "/manual-status?secret="+secret, "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, true, data["active"])
	assert.Equal(t, "0 0 8 * * *", data["schedule"])
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t, secret)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/metrics", "").Code)

	h := NewHandler(service.NewRunner(&stubJob{}, &stubJob{}), nil, zap.NewNop())
	r := NewRouter(h, gate.New(secret), stubPinger{err: errors.New("down")}, zap.NewNop()).Engine
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
