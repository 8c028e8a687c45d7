// Package scheduler triggers the daily run in-process on a cron schedule.
// It is optional; deployments normally rely on an external scheduler calling
// the trigger endpoints.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"volunteerreminder/pkg/trace"
)

// RunFunc is invoked on every tick.
type RunFunc func(ctx context.Context)

type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	schedule string
	active   bool

	running  atomic.Bool
	inflight sync.WaitGroup
	location *time.Location
	run      RunFunc
	logger   *zap.Logger
}

// New validates schedule and returns a stopped scheduler.
func New(schedule string, loc *time.Location, run RunFunc, logger *zap.Logger) (*Scheduler, error) {
	spec, err := Normalize(schedule)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		schedule: spec,
		location: loc,
		run:      run,
		logger:   logger,
	}, nil
}

// Normalize accepts a standard five-field spec, a six-field spec with
// seconds, or a descriptor such as @daily, and returns the six-field form
// the cron parser expects.
func Normalize(schedule string) (string, error) {
	spec := strings.TrimSpace(schedule)
	if spec == "" {
		return "", fmt.Errorf("empty schedule")
	}
	if !strings.HasPrefix(spec, "@") && len(strings.Fields(spec)) == 5 {
		spec = "0 " + spec
	}
	if _, err := cron.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return spec, nil
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil
	}
	return s.startLocked()
}

func (s *Scheduler) startLocked() error {
	c := cron.NewWithLocation(s.location)
	if err := c.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}
	c.Start()
	s.cron = c
	s.active = true
	s.logger.Info("Scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts future ticks. A run already in progress is not interrupted; use
// Wait to block until it returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	if s.active {
		s.logger.Info("Scheduler stopped")
	}
	s.active = false
}

// Reschedule replaces the schedule. An invalid spec leaves the current one
// in place. The scheduler keeps its active state.
func (s *Scheduler) Reschedule(schedule string) (string, error) {
	spec, err := Normalize(schedule)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	wasActive := s.active
	s.stopLocked()
	s.schedule = spec
	s.logger.Info("Scheduler rescheduled", zap.String("schedule", spec))
	if wasActive {
		if err := s.startLocked(); err != nil {
			return "", err
		}
	}
	return spec, nil
}

// Wait blocks until the tick in progress, if any, has finished. Call it after
// Stop and before closing anything the run uses.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scheduler) Schedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

func (s *Scheduler) tick() {
	// Registering under mu orders every tick before or after Stop, so Wait
	// never misses a run.
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Previous scheduled run still in progress, skipping tick")
		return
	}
	defer s.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled run panicked", zap.Any("panic", r))
		}
	}()

	ctx := trace.WithContext(context.Background(), trace.GenerateTraceID())
	s.logger.Info("Scheduled run starting", zap.String("trace_id", trace.FromContext(ctx)))
	s.run(ctx)
}
