// Package ledger tracks per-identifier processing state so each envelope is
// handled at most once per retention window, despite at-least-once delivery
// from the upstream queue.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
)

// ErrUnknownRecord is returned by Complete for an identifier that was never
// admitted. It signals a caller bug and must never be swallowed.
var ErrUnknownRecord = errors.New("ledger: unknown record")

type State string

const (
	StateInFlight  State = "in_flight"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Record holds the processing state for one envelope identifier.
type Record struct {
	ID            string
	State         State
	Outcome       domain.Outcome // set once terminal
	FailedTargets []string       // set when Outcome is partial
	FirstSeen     time.Time
	LastUpdated   time.Time
}

// Decision is the admission result for one identifier.
type Decision int

const (
	Admitted Decision = iota
	AlreadyInFlight
	AlreadyCompleted
)

// Admission carries the admission decision and, on AlreadyCompleted, the
// prior terminal outcome so duplicates can be answered without re-dispatch.
type Admission struct {
	Decision      Decision
	Outcome       domain.Outcome
	FailedTargets []string
}

// Ledger is the only mutable shared resource in the engine. Admit must be
// atomic: exactly one caller observes Admitted for a given identifier per
// retention window.
type Ledger interface {
	Admit(ctx context.Context, id string, now time.Time) (Admission, error)
	Complete(ctx context.Context, id string, outcome domain.Outcome, failedTargets []string, now time.Time) error

	// Sweep removes terminal records older than the threshold. It never
	// removes an in_flight record regardless of age; stuck envelopes are
	// surfaced through observability instead.
	Sweep(ctx context.Context, olderThan time.Time) (int, error)

	Ping(ctx context.Context) error
}

// stateFor maps a terminal outcome to its ledger state.
func stateFor(outcome domain.Outcome) State {
	if outcome == domain.OutcomeCompleted {
		return StateSucceeded
	}
	return StateFailed
}
