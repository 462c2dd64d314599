// Package sweeper evicts terminal ledger records past the retention window.
// In-flight records are never removed; stale ones are counted and exposed
// through metrics so a stuck envelope is visible to operators.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Ledger is the subset of the ledger the sweeper drives.
type Ledger interface {
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}

// StaleCounter is implemented by ledger backends that can report stuck
// in_flight records (memory, postgres). Redis relies on TTLs and cannot.
type StaleCounter interface {
	StaleInFlight(ctx context.Context, olderThan time.Time) (int, error)
}

// MetricsSink defines the interface for recording sweep metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SweepCompleted(removed int, duration time.Duration)
	StaleInFlightUpdate(count int)
}

// Config holds sweeper configuration.
type Config struct {
	// Interval is how often the sweeper runs when no Schedule is set.
	Interval time.Duration

	// Schedule is an optional cron expression overriding Interval.
	Schedule string

	// Retention is the age after which terminal records are removed.
	Retention time.Duration
}

type Sweeper struct {
	config  Config
	ledger  Ledger
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, ledger Ledger) *Sweeper {
	return &Sweeper{
		config: config,
		ledger: ledger,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the sweeper.
func (s *Sweeper) WithMetrics(sink MetricsSink) *Sweeper {
	s.metrics = sink
	return s
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.config.Schedule != "" {
		sched, err := cron.ParseStandard(s.config.Schedule)
		if err != nil {
			log.Printf("sweeper: invalid schedule %q, falling back to interval %s: %v",
				s.config.Schedule, s.config.Interval, err)
		} else {
			log.Printf("sweeper: started (schedule=%q, retention=%s)", s.config.Schedule, s.config.Retention)
			s.runCron(ctx, sched)
			return
		}
	}

	log.Printf("sweeper: started (interval=%s, retention=%s)", s.config.Interval, s.config.Retention)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper: stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Sweeper) runCron(ctx context.Context, sched cron.Schedule) {
	for {
		next := sched.Next(s.clock())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("sweeper: stopped")
			return
		case <-timer.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one sweep.
func (s *Sweeper) runCycle(ctx context.Context) {
	now := s.clock().UTC()
	olderThan := now.Add(-s.config.Retention)

	start := time.Now()
	removed, err := s.ledger.Sweep(ctx, olderThan)
	if err != nil {
		// Backend error: log and abort cycle. Will retry next run.
		log.Printf("sweeper: sweep failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("sweeper: removed %d records older than %s", removed, olderThan.Format(time.RFC3339))
	}
	if s.metrics != nil {
		s.metrics.SweepCompleted(removed, time.Since(start))
	}

	sc, ok := s.ledger.(StaleCounter)
	if !ok {
		return
	}
	stale, err := sc.StaleInFlight(ctx, olderThan)
	if err != nil {
		log.Printf("sweeper: stale count failed: %v", err)
		return
	}
	if stale > 0 {
		log.Printf("sweeper: %d in_flight records older than retention window (stuck?)", stale)
	}
	if s.metrics != nil {
		s.metrics.StaleInFlightUpdate(stale)
	}
}
