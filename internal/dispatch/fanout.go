// Package dispatch delivers one envelope to its resolved targets with
// bounded concurrency and partial-failure isolation.
package dispatch

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
)

const (
	DefaultMaxPerEnvelope  = 4
	DefaultMaxGlobal       = 64
	DefaultDeliveryTimeout = 30 * time.Second
)

// MetricsSink records fanout metrics. All methods must be non-blocking and
// fire-and-forget.
type MetricsSink interface {
	DeliveryAttemptCompleted(target, statusClass string, duration time.Duration)
	DeliveriesInFlightIncr()
	DeliveriesInFlightDecr()
}

// Result reports the outcome per target for one envelope.
type Result struct {
	Succeeded []string
	Failed    map[string]error
}

func (r Result) AllSucceeded() bool {
	return len(r.Failed) == 0
}

// FailedTargets returns the failed target names in stable order.
func (r Result) FailedTargets() []string {
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Config struct {
	// MaxPerEnvelope bounds concurrent deliveries for a single envelope.
	MaxPerEnvelope int
	// MaxGlobal bounds concurrent deliveries across all envelopes.
	MaxGlobal int
	// DeliveryTimeout applies to each individual attempt.
	DeliveryTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPerEnvelope:  DefaultMaxPerEnvelope,
		MaxGlobal:       DefaultMaxGlobal,
		DeliveryTimeout: DefaultDeliveryTimeout,
	}
}

// Fanout executes deliveries. One Fanout is shared by all in-flight
// envelopes so the global bound holds process-wide.
type Fanout struct {
	perEnvelope int
	timeout     time.Duration
	global      chan struct{}
	metrics     MetricsSink // optional, nil = disabled
}

func NewFanout(cfg Config) *Fanout {
	if cfg.MaxPerEnvelope <= 0 {
		cfg.MaxPerEnvelope = DefaultMaxPerEnvelope
	}
	if cfg.MaxGlobal <= 0 {
		cfg.MaxGlobal = DefaultMaxGlobal
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	return &Fanout{
		perEnvelope: cfg.MaxPerEnvelope,
		timeout:     cfg.DeliveryTimeout,
		global:      make(chan struct{}, cfg.MaxGlobal),
	}
}

// WithMetrics attaches a metrics sink to the fanout.
func (f *Fanout) WithMetrics(sink MetricsSink) *Fanout {
	f.metrics = sink
	return f
}

// Execute attempts delivery to every target independently: one target's
// failure never blocks or cancels the others, and every attempt is issued
// before the result is finalized. Caller cancellation does not abort
// attempts; partially sent side effects are never rolled back.
func (f *Fanout) Execute(ctx context.Context, env domain.Envelope, targets []Target) Result {
	base := context.WithoutCancel(ctx)

	local := make(chan struct{}, f.perEnvelope)
	var mu sync.Mutex
	result := Result{Failed: make(map[string]error)}

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()

			local <- struct{}{}
			defer func() { <-local }()
			f.global <- struct{}{}
			defer func() { <-f.global }()

			if f.metrics != nil {
				f.metrics.DeliveriesInFlightIncr()
				defer f.metrics.DeliveriesInFlightDecr()
			}

			err := f.attempt(base, env, t)

			mu.Lock()
			if err != nil {
				result.Failed[t.Name()] = err
			} else {
				result.Succeeded = append(result.Succeeded, t.Name())
			}
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	sort.Strings(result.Succeeded)
	return result
}

func (f *Fanout) attempt(ctx context.Context, env domain.Envelope, t Target) error {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	err := t.Deliver(attemptCtx, env)
	duration := time.Since(start)

	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		err = ErrTimeout
	}

	if f.metrics != nil {
		f.metrics.DeliveryAttemptCompleted(t.Name(), classifyError(err), duration)
	}

	if err != nil {
		log.Printf("dispatch: target=%s envelope=%s failed after %s: %v", t.Name(), env.ID, duration.Round(time.Millisecond), err)
		return &DeliveryError{Target: t.Name(), Err: err}
	}
	return nil
}

func classifyError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
