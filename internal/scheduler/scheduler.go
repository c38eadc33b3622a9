package scheduler

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per cycle.
type TickFunc func(ctx context.Context, started time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	Jitter       time.Duration
	StartupDelay time.Duration
}

// Scheduler drives non-overlapping publication cycles.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	jitter func(time.Duration) time.Duration
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		jitter: uniformJitter,
	}
}

// Run blocks until ctx is cancelled. The first tick fires after the startup
// delay; every following tick is scheduled only once the previous one returned.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	delay := s.opts.StartupDelay
	for {
		if delay > 0 {
			s.logger.Debug().Dur("delay", delay).Msg("waiting for next cycle")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		started := time.Now().UTC()
		s.logger.Info().Time("started", started).Msg("executing scheduled cycle")

		if err := tick(ctx, started); err != nil {
			s.logger.Error().Err(err).Time("started", started).Msg("cycle execution failed")
		}

		delay = s.nextDelay()
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	if s.opts.Jitter <= 0 {
		return s.opts.Interval
	}
	return s.opts.Interval + s.jitter(s.opts.Jitter)
}

func uniformJitter(limit time.Duration) time.Duration {
	return rand.N(limit + 1)
}
