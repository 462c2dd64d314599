// Package engine composes normalization, ledger admission, routing and
// fanout into the per-envelope state machine:
//
//	Received -> Normalized -> Admitted -> Routed -> Dispatching ->
//	{Completed, PartiallyFailed, Unrouted, Rejected}
//
// Normalization and routing failures are recovered locally into terminal
// outcomes. Ledger faults abort only the current envelope and are returned
// as errors so the boundary can refuse acknowledgment.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/dispatch"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/ledger"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/router"
)

// Status is the terminal state reported to boundaries.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusBusy      Status = "busy"
	StatusUnrouted  Status = "unrouted"
	StatusRejected  Status = "rejected"
	StatusPartial   Status = "partial"
)

// Result is returned to the boundary adapter for one submission.
type Result struct {
	RequestID     string
	Filename      string
	SchemaVersion string
	Status        Status
	FailedTargets []string
	ProcessedAt   time.Time
	// Replayed is true when a duplicate submission was answered from the
	// ledger without re-dispatching.
	Replayed bool
}

// Terminal reports whether the result may be acknowledged upstream.
// Busy is not terminal: the first submission is still in flight.
func (r Result) Terminal() bool {
	return r.Status != StatusBusy
}

// Router resolves a schema version to an ordered list of target names.
type Router interface {
	Resolve(v domain.Version) ([]string, error)
}

// MetricsSink records engine metrics. All methods must be non-blocking and
// fire-and-forget.
type MetricsSink interface {
	SubmissionCompleted(status string)
	DuplicateSuppressed(kind string)
	EnvelopesInFlightIncr()
	EnvelopesInFlightDecr()
}

type Engine struct {
	ledger   ledger.Ledger
	router   Router
	registry *dispatch.Registry
	fanout   *dispatch.Fanout
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
}

func New(l ledger.Ledger, r Router, registry *dispatch.Registry, fanout *dispatch.Fanout) *Engine {
	return &Engine{
		ledger:   l,
		router:   r,
		registry: registry,
		fanout:   fanout,
		clock:    time.Now,
	}
}

// WithMetrics attaches a metrics sink to the engine.
func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

// Submit drives one raw event through the state machine. A non-nil error
// means an engine-internal fault: the envelope's state is unknown and the
// boundary must not acknowledge the message.
func (e *Engine) Submit(ctx context.Context, raw domain.RawEvent) (Result, error) {
	env, err := domain.Normalize(raw)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			// Malformed input never occupies a ledger slot.
			log.Printf("engine: rejected request=%q: %v", raw.RequestID, verr)
			e.recordStatus(StatusRejected)
			return Result{
				RequestID:   raw.RequestID,
				Filename:    raw.Filename,
				Status:      StatusRejected,
				ProcessedAt: e.clock().UTC(),
			}, nil
		}
		return Result{}, err
	}

	if e.metrics != nil {
		e.metrics.EnvelopesInFlightIncr()
		defer e.metrics.EnvelopesInFlightDecr()
	}

	admission, err := e.ledger.Admit(ctx, env.ID, e.clock().UTC())
	if err != nil {
		return Result{}, fmt.Errorf("ledger admit: %w", err)
	}

	switch admission.Decision {
	case ledger.AlreadyInFlight:
		log.Printf("engine: envelope=%s already in flight", env.ID)
		if e.metrics != nil {
			e.metrics.DuplicateSuppressed("in_flight")
		}
		return e.result(env, StatusBusy, nil, false), nil

	case ledger.AlreadyCompleted:
		log.Printf("engine: envelope=%s replayed prior outcome=%s", env.ID, admission.Outcome)
		if e.metrics != nil {
			e.metrics.DuplicateSuppressed("completed")
		}
		return e.result(env, statusForOutcome(admission.Outcome), admission.FailedTargets, true), nil
	}

	// From admission on the envelope runs to completion server-side. Caller
	// cancellation must not strand the record in flight: the terminal ledger
	// write uses the shielded context, same as dispatch.
	base := context.WithoutCancel(ctx)

	names, err := e.router.Resolve(env.SchemaVersion)
	if err != nil {
		var unrouted *router.UnroutedError
		if errors.As(err, &unrouted) {
			// Likely a missing configuration entry; flagged for operators.
			log.Printf("engine: envelope=%s unrouted schema=%s", env.ID, env.SchemaVersion)
			if cerr := e.complete(base, env.ID, domain.OutcomeUnrouted, nil); cerr != nil {
				return Result{}, cerr
			}
			e.recordStatus(StatusUnrouted)
			return e.result(env, StatusUnrouted, nil, false), nil
		}
		return Result{}, err
	}

	targets := make([]dispatch.Target, 0, len(names))
	for _, name := range names {
		t, ok := e.registry.Lookup(name)
		if !ok {
			// Routes are validated at load; a miss here is a wiring bug.
			return Result{}, fmt.Errorf("route references unknown target %q", name)
		}
		targets = append(targets, t)
	}

	fanoutResult := e.fanout.Execute(base, env, targets)

	status := StatusProcessed
	outcome := domain.OutcomeCompleted
	var failed []string
	if !fanoutResult.AllSucceeded() {
		status = StatusPartial
		outcome = domain.OutcomePartiallyFailed
		failed = fanoutResult.FailedTargets()
		log.Printf("engine: envelope=%s partial failure targets=%v", env.ID, failed)
	}

	if cerr := e.complete(base, env.ID, outcome, failed); cerr != nil {
		return Result{}, cerr
	}

	e.recordStatus(status)
	return e.result(env, status, failed, false), nil
}

func (e *Engine) complete(ctx context.Context, id string, outcome domain.Outcome, failed []string) error {
	if err := e.ledger.Complete(ctx, id, outcome, failed, e.clock().UTC()); err != nil {
		return fmt.Errorf("ledger complete: %w", err)
	}
	return nil
}

func (e *Engine) result(env domain.Envelope, status Status, failed []string, replayed bool) Result {
	return Result{
		RequestID:     env.ID,
		Filename:      env.Filename,
		SchemaVersion: env.SchemaVersion.String(),
		Status:        status,
		FailedTargets: failed,
		ProcessedAt:   e.clock().UTC(),
		Replayed:      replayed,
	}
}

func (e *Engine) recordStatus(status Status) {
	if e.metrics != nil {
		e.metrics.SubmissionCompleted(string(status))
	}
}

func statusForOutcome(outcome domain.Outcome) Status {
	switch outcome {
	case domain.OutcomeCompleted:
		return StatusProcessed
	case domain.OutcomePartiallyFailed:
		return StatusPartial
	case domain.OutcomeUnrouted:
		return StatusUnrouted
	default:
		return StatusProcessed
	}
}
