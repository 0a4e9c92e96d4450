package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"questioner_bot/internal/domain/job"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var ErrUnknownHandler = errors.New("unknown job handler")

const (
	DefaultSweepSpec    = "@every 1s"
	DefaultMisfireGrace = 300 * time.Second
	DefaultJobTimeout   = time.Minute
)

type Options struct {
	SweepSpec    string         // e.g. "@every 1s"
	MisfireGrace time.Duration  // How late a firing may start before it is skipped
	JobTimeout   time.Duration  // Per-firing context deadline
	Location     *time.Location // Location for maintenance cron specs
	Now          func() time.Time
}

// Scheduler is the process-wide job engine. Job definitions live in a job.Store;
// a robfig/cron entry sweeps the store and dispatches due jobs to registered handlers.
type Scheduler struct {
	cronEngine   *cron.Cron
	store        job.Store
	logger       *logrus.Entry
	sweepSpec    string
	misfireGrace time.Duration
	jobTimeout   time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	handlers map[string]job.HandlerFunc

	running sync.WaitGroup
}

func NewScheduler(store job.Store, logger *logrus.Entry, opts Options) *Scheduler {
	if opts.SweepSpec == "" {
		opts.SweepSpec = DefaultSweepSpec
	}
	if opts.MisfireGrace <= 0 {
		opts.MisfireGrace = DefaultMisfireGrace
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cl := cronLogger{entry: logger}
	return &Scheduler{
		cronEngine: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		store:        store,
		logger:       logger,
		sweepSpec:    opts.SweepSpec,
		misfireGrace: opts.MisfireGrace,
		jobTimeout:   opts.JobTimeout,
		now:          opts.Now,
		handlers:     make(map[string]job.HandlerFunc),
	}
}

// Now is the scheduler clock. Callers computing run times should use it.
func (s *Scheduler) Now() time.Time {
	return s.now()
}

// Register binds a handler name to its body. Registering the same name again replaces it.
func (s *Scheduler) Register(name string, fn job.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = fn
}

func (s *Scheduler) handler(name string) (job.HandlerFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.handlers[name]
	return fn, ok
}

// ScheduleOnce stores a one-shot job, replacing any job with the same id.
func (s *Scheduler) ScheduleOnce(ctx context.Context, id string, runAt time.Time, name string, args any) error {
	return s.schedule(ctx, &job.Job{
		ID:        id,
		Func:      name,
		Kind:      job.KindOnce,
		NextRunAt: runAt,
	}, args)
}

// ScheduleRecurring stores an interval job whose first firing is firstRunAt.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, id string, interval time.Duration, firstRunAt time.Time, name string, args any) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s for job %s", interval, id)
	}
	return s.schedule(ctx, &job.Job{
		ID:        id,
		Func:      name,
		Kind:      job.KindInterval,
		Interval:  interval,
		NextRunAt: firstRunAt,
	}, args)
}

func (s *Scheduler) schedule(ctx context.Context, j *job.Job, args any) error {
	if _, ok := s.handler(j.Func); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, j.Func)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode args for job %s: %w", j.ID, err)
	}
	j.Args = raw
	j.CreatedAt = s.now()
	if err := s.store.Add(ctx, j); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"job_id":   j.ID,
		"job_kind": j.Func,
		"run_at":   j.NextRunAt.Format(time.RFC3339),
	}).Debug("Job scheduled")
	return nil
}

// Cancel removes the job if it exists. A missing job is not an error.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	err := s.store.Remove(ctx, id)
	if errors.Is(err, job.ErrJobNotFound) {
		s.logger.WithField("job_id", id).Debug("Cancel: job not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	s.logger.WithField("job_id", id).Debug("Job cancelled")
	return nil
}

func (s *Scheduler) ListActive(ctx context.Context) ([]*job.Job, error) {
	return s.store.List(ctx)
}

// AddMaintenanceFunc runs fn on a cron spec, on the same engine as the sweep.
func (s *Scheduler) AddMaintenanceFunc(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.cronEngine.AddFunc(spec, func() {
		s.logger.WithField("task", name).Info("Maintenance task triggered")
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.WithField("task", name).WithError(err).Error("Maintenance task failed")
		}
	})
	if err != nil {
		return fmt.Errorf("could not add maintenance task %s: %w", name, err)
	}
	return nil
}

// RunPending performs one sweep: every due job is claimed through Store.Advance
// and, unless it missed its grace window, dispatched on its own goroutine.
func (s *Scheduler) RunPending(ctx context.Context) error {
	now := s.now()
	due, err := s.store.DueJobs(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to load due jobs: %w", err)
	}

	for _, j := range due {
		// Stores with coarser run-time indexes may return a job slightly early.
		if j.NextRunAt.After(now) {
			continue
		}
		log := s.logger.WithFields(logrus.Fields{"job_id": j.ID, "job_kind": j.Func})

		next := j.NextAfter(now)
		claimed, err := s.store.Advance(ctx, j, next)
		if err != nil {
			log.WithError(err).Error("Failed to claim due job")
			continue
		}
		if !claimed {
			// Cancelled, replaced or taken by another process since DueJobs.
			continue
		}

		// Missed interval firings coalesce into the latest one, so grace is measured from it.
		scheduled := j.NextRunAt
		if j.Kind == job.KindInterval && !next.IsZero() {
			scheduled = next.Add(-j.Interval)
		}
		if late := now.Sub(scheduled); late > s.misfireGrace {
			log.WithField("late_by", late.String()).Warn("Job missed its run time, skipping")
			continue
		}

		fn, ok := s.handler(j.Func)
		if !ok {
			log.Error("No handler registered for job, dropping firing")
			continue
		}
		s.dispatch(j, fn, log)
	}
	return nil
}

func (s *Scheduler) dispatch(j *job.Job, fn job.HandlerFunc, log *logrus.Entry) {
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Errorf("Job panicked\n%s", debug.Stack())
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()

		start := s.now()
		if err := fn(ctx, j.Args); err != nil {
			log.WithError(err).Error("Job failed")
			return
		}
		log.WithField("took", s.now().Sub(start).String()).Debug("Job finished")
	}()
}

// Wait blocks until every dispatched job body has returned.
func (s *Scheduler) Wait() {
	s.running.Wait()
}

func (s *Scheduler) Start() error {
	s.logger.Info("Starting job scheduler...")
	_, err := s.cronEngine.AddFunc(s.sweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()
		if err := s.RunPending(ctx); err != nil {
			s.logger.WithError(err).Error("Job sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("could not add job sweep with spec %q: %w", s.sweepSpec, err)
	}
	s.cronEngine.Start()
	s.logger.WithField("sweep", s.sweepSpec).Info("Job scheduler started.")
	return nil
}

func (s *Scheduler) Stop() {
	s.logger.Info("Stopping job scheduler...")
	ctx := s.cronEngine.Stop() // Waits for a running sweep
	<-ctx.Done()
	s.running.Wait()
	s.logger.Info("Job scheduler gracefully stopped.")
}
