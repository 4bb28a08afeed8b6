package update

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// ControlStore persists the pause flag, interval and heartbeat
type ControlStore interface {
	Load(ctx context.Context) (*model.Control, error)
	Update(ctx context.Context, fn func(*model.Control)) (*model.Control, error)
}

// Scheduler runs the engine's cycle on a fixed interval. Interval and pause
// changes, whether made here or by another process through the control
// store, apply at the next cycle boundary.
type Scheduler struct {
	engine   *Engine
	control  ControlStore
	base     time.Duration
	now      func() time.Time
	pid      int
	sched    gocron.Scheduler
	resched  chan time.Duration
	done     chan struct{}
	mu       sync.Mutex
	job      gocron.Job
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

// SchedulerOption is a functional option for Scheduler
type SchedulerOption func(*Scheduler)

// WithInterval sets the interval used when the control store has none
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.base = d
		}
	}
}

// WithControlStore shares pause state, interval and heartbeat with other processes
func WithControlStore(c ControlStore) SchedulerOption {
	return func(s *Scheduler) {
		s.control = c
	}
}

// NewScheduler creates a stopped Scheduler for engine
func NewScheduler(engine *Engine, opts ...SchedulerOption) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create scheduler")
	}

	s := &Scheduler{
		engine:  engine,
		base:    model.DefaultInterval,
		now:     time.Now,
		pid:     os.Getpid(),
		sched:   sched,
		resched: make(chan time.Duration, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scheduler) jobOptions(startNow bool) []gocron.JobOption {
	opts := []gocron.JobOption{
		gocron.WithName("profile-update"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if startNow {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	return opts
}

// Start schedules the first cycle immediately. Cycles run until Stop is
// called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	interval := s.desiredInterval(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job != nil {
		return goerr.New("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.interval = interval

	job, err := s.sched.NewJob(gocron.DurationJob(s.interval), gocron.NewTask(s.tick), s.jobOptions(true)...)
	if err != nil {
		s.cancel()
		return goerr.Wrap(err, "failed to schedule update job", goerr.V("interval", s.interval))
	}
	s.job = job

	s.sched.Start()
	go s.rescheduleLoop()

	logging.From(ctx).Info("profile updates scheduled", "interval", s.interval)
	return nil
}

// Interval returns the interval the job currently runs at
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Scheduler) baseInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

func (s *Scheduler) desiredInterval(ctx context.Context) time.Duration {
	if s.control == nil {
		return s.baseInterval()
	}
	ctrl, err := s.control.Load(ctx)
	if err != nil || ctrl.Interval <= 0 {
		return s.baseInterval()
	}
	return ctrl.Interval
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if ctx.Err() != nil {
		return
	}
	logger := logging.From(ctx)

	desired := s.baseInterval()
	if s.control != nil {
		ctrl, err := s.control.Update(ctx, func(c *model.Control) {
			c.Heartbeat = s.now()
			c.PID = s.pid
		})
		if err != nil {
			logger.Warn("failed to write heartbeat", "error", err)
			desired = s.Interval()
		} else if ctrl.Interval > 0 {
			desired = ctrl.Interval
		}
	}

	stopHeartbeat := s.keepAlive(ctx, desired)
	result, err := s.engine.RunCycle(ctx)
	stopHeartbeat()

	logCycle(logger, result, err)

	if desired != s.Interval() {
		select {
		case s.resched <- desired:
		default:
		}
	}
}

// logCycle reports a finished cycle. A lost commit race is routine: the
// entry is picked up again after the winner's checkpoint.
func logCycle(logger *slog.Logger, result *CycleResult, err error) {
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		logger.Debug("update cycle cancelled")
	case err != nil && errors.Is(err, model.ErrOptimisticConflict):
		logger.Info("entry abandoned to a concurrent writer", "error", err)
	case err != nil:
		logger.Warn("update cycle ended early", "error", err)
	case result.Processed > 0:
		logger.Info("update cycle finished",
			"processed", result.Processed,
			"updated", result.Updated,
			"skipped", result.Skipped,
			"checkpoint", result.Checkpoint)
	}
}

// keepAlive refreshes the heartbeat every interval while a cycle runs, so a
// long completion does not make the daemon look dead. The returned func stops
// it and waits for the last write.
func (s *Scheduler) keepAlive(ctx context.Context, interval time.Duration) func() {
	if s.control == nil || interval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, err := s.control.Update(ctx, func(c *model.Control) {
					c.Heartbeat = s.now()
					c.PID = s.pid
				})
				if err != nil {
					logging.From(ctx).Warn("failed to write heartbeat", "error", err)
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-stopped
	}
}

// rescheduleLoop applies interval changes outside the running task
func (s *Scheduler) rescheduleLoop() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case d := <-s.resched:
			if err := s.reschedule(d); err != nil {
				logging.From(s.ctx).Warn("failed to change update interval", "error", err, "interval", d)
			}
		}
	}
}

func (s *Scheduler) reschedule(d time.Duration) error {
	s.mu.Lock()
	current, id := s.interval, s.job.ID()
	s.mu.Unlock()

	if d == current {
		return nil
	}
	job, err := s.sched.Update(id, gocron.DurationJob(d), gocron.NewTask(s.tick), s.jobOptions(false)...)
	if err != nil {
		return goerr.Wrap(err, "failed to update job")
	}

	s.mu.Lock()
	s.job, s.interval = job, d
	s.mu.Unlock()

	logging.From(s.ctx).Info("update interval changed", "from", current, "to", d)
	return nil
}

// Trigger runs a cycle now unless one is already running
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()

	if job == nil {
		return
	}
	if err := job.RunNow(); err != nil {
		logging.From(s.ctx).Debug("failed to trigger update cycle", "error", err)
	}
}

// SetInterval changes the cycle interval from the next cycle boundary
func (s *Scheduler) SetInterval(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return goerr.New("interval must be positive", goerr.V("interval", d))
	}
	if s.control != nil {
		if _, err := s.control.Update(ctx, func(c *model.Control) { c.Interval = d }); err != nil {
			return err
		}
		return nil
	}

	s.mu.Lock()
	s.base = d
	s.mu.Unlock()

	select {
	case s.resched <- d:
	default:
	}
	return nil
}

// Pause skips cycles from the next boundary until Resume
func (s *Scheduler) Pause(ctx context.Context) error {
	s.engine.Pause()
	if s.control != nil {
		if _, err := s.control.Update(ctx, func(c *model.Control) { c.Paused = true }); err != nil {
			return err
		}
	}
	return nil
}

// Resume undoes Pause
func (s *Scheduler) Resume(ctx context.Context) error {
	s.engine.Resume()
	if s.control != nil {
		if _, err := s.control.Update(ctx, func(c *model.Control) { c.Paused = false }); err != nil {
			return err
		}
	}
	return nil
}

// Stop cancels the running cycle at its next entry boundary, waits for it
// and clears the heartbeat.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	started := s.job != nil
	s.mu.Unlock()

	if !started {
		return s.sched.Shutdown()
	}

	s.cancel()
	<-s.done

	if err := s.sched.Shutdown(); err != nil {
		return goerr.Wrap(err, "failed to shut down scheduler")
	}

	if s.control != nil {
		_, err := s.control.Update(context.Background(), func(c *model.Control) {
			if c.PID == s.pid {
				c.PID = 0
				c.Heartbeat = time.Time{}
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
