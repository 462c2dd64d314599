package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate
// errors. If the metrics backend is unavailable, implementations log warnings
// and continue.
type Sink interface {
	// Engine metrics
	SubmissionCompleted(status string)
	DuplicateSuppressed(kind string)
	EnvelopesInFlightIncr()
	EnvelopesInFlightDecr()

	// Dispatch metrics
	DeliveryAttemptCompleted(target, statusClass string, duration time.Duration)
	DeliveriesInFlightIncr()
	DeliveriesInFlightDecr()

	// Queue bus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()

	// Consumer metrics
	MessageOutcome(status string)
	AckError()

	// Ledger metrics
	SweepCompleted(removed int, duration time.Duration)
	StaleInFlightUpdate(count int)
}

// Duplicate kinds for DuplicateSuppressed.
const (
	DuplicateInFlight  = "in_flight"
	DuplicateCompleted = "completed"
)
