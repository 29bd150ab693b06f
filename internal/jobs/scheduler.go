package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is one job execution.
type Task func(ctx context.Context) error

// Scheduler drives tasks from a context. Errors from a run are logged and
// the loop keeps going; only ctx ending stops it.
type Scheduler struct {
	Now func() time.Time
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// NextDaily returns the first instant after from that falls on hour:minute UTC.
func NextDaily(from time.Time, hour, minute int) time.Time {
	from = from.UTC()
	next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunDaily runs task every day at hour:minute UTC until ctx is done.
func (s *Scheduler) RunDaily(ctx context.Context, name string, hour, minute int, task Task) {
	for {
		next := NextDaily(s.now(), hour, minute)
		log.Debug().Str("job", name).Time("next_run", next).Msg("job scheduled")
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		run(ctx, name, task)
	}
}

// RunEvery runs task every interval until ctx is done. The first run
// happens one interval after the call.
func (s *Scheduler) RunEvery(ctx context.Context, name string, interval time.Duration, task Task) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx, name, task)
		}
	}
}

func run(ctx context.Context, name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job", name).Interface("panic", r).Msg("job panicked")
		}
	}()
	if err := task(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("job", name).Msg("job run failed")
	}
}
