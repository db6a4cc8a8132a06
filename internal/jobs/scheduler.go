package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"
)

// Func is a scheduled job.
type Func func(ctx context.Context) error

// Schedule binds a job key to a cron expression.
type Schedule struct {
	Key  string `mapstructure:"key" json:"key"`
	Cron string `mapstructure:"cron" json:"cron"`
}

type entry struct {
	Schedule
	fn Func
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger routes job results to logger.
func WithLogger(logger zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler runs registered jobs on cron schedules at minute resolution.
type Scheduler struct {
	gron    *gronx.Gronx
	entries []entry
	logger  zerolog.Logger
	now     func() time.Time
}

// NewScheduler resolves every schedule against registry and validates its
// cron expression.
func NewScheduler(registry *Registry[Func], schedules []Schedule, opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{gron: gronx.New(), logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	for _, sc := range schedules {
		if !s.gron.IsValid(sc.Cron) {
			return nil, fmt.Errorf("jobs: %s: invalid cron expression %q", sc.Key, sc.Cron)
		}
		fn, err := registry.Resolve(sc.Key)
		if err != nil {
			return nil, err
		}
		s.entries = append(s.entries, entry{Schedule: sc, fn: fn})
	}
	return s, nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.entries)
}

// RunDue runs, in schedule order, every job due at the given minute and
// returns how many ran.
func (s *Scheduler) RunDue(ctx context.Context, at time.Time) int {
	ran := 0
	for _, e := range s.entries {
		due, err := s.gron.IsDue(e.Cron, at)
		if err != nil {
			s.logger.Error().Err(err).Str("job", e.Key).Msg("jobs: schedule check failed")
			continue
		}
		if !due {
			continue
		}
		ran++
		started := time.Now()
		if err := e.fn(ctx); err != nil {
			s.logger.Error().Err(err).Str("job", e.Key).Msg("jobs: run failed")
			continue
		}
		s.logger.Debug().Str("job", e.Key).Dur("took", time.Since(started)).Msg("jobs: run complete")
	}
	return ran
}

// Run checks schedules at every minute boundary until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.entries) == 0 {
		<-ctx.Done()
		return nil
	}
	for {
		now := s.now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		s.RunDue(ctx, next)
	}
}
