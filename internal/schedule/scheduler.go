// Package schedule drives repeated download runs on a cron cadence.
// One scheduler owns one job: ticks that arrive while a run is still
// in flight are skipped, never queued.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ParseCron parses a standard five-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// Scheduler fires a run function on a cron cadence.
type Scheduler struct {
	expr     string
	schedule cron.Schedule
	logger   zerolog.Logger

	// tick is the polling granularity. Cron resolves to minutes, so
	// the default tick of one minute never misses a firing.
	tick time.Duration

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// New creates a scheduler for a cron expression. The first run happens
// at the expression's next firing after construction, not immediately.
func New(expr string, logger zerolog.Logger) (*Scheduler, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &Scheduler{
		expr:     expr,
		schedule: schedule,
		logger:   logger,
		tick:     time.Minute,
		lastRun:  time.Now(),
	}, nil
}

// NextRun returns the next firing after t.
func (s *Scheduler) NextRun(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// shouldRun reports whether a firing is due at now: the schedule fired
// since the last completed run and no run is in flight.
func (s *Scheduler) shouldRun(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	return now.After(s.schedule.Next(s.lastRun))
}

// markRunning flags a run as in flight. Returns false when one
// already is.
func (s *Scheduler) markRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	s.running = true
	return true
}

// markComplete clears the in-flight flag and records the run time.
func (s *Scheduler) markComplete(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRun = at
}

// Start polls the schedule and invokes runFunc on each due firing,
// blocking until ctx is done. Run errors are logged, never fatal: the
// next firing proceeds regardless.
func (s *Scheduler) Start(ctx context.Context, runFunc func(context.Context) error) {
	s.logger.Info().
		Str("cron", s.expr).
		Time("next_run", s.NextRun(time.Now())).
		Msg("Scheduler started")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopping")
			wg.Wait()
			return
		case <-ticker.C:
			now := time.Now()
			if !s.shouldRun(now) {
				continue
			}
			if !s.markRunning() {
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				started := time.Now()
				s.logger.Info().Msg("Scheduled run starting")

				if err := runFunc(ctx); err != nil {
					s.logger.Error().Err(err).Msg("Scheduled run failed")
				}

				s.markComplete(started)
				s.logger.Info().
					Dur("duration", time.Since(started)).
					Time("next_run", s.NextRun(time.Now())).
					Msg("Scheduled run finished")
			}()
		}
	}
}
