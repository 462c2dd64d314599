package domain

// Outcome is a terminal processing result recorded in the ledger.
// Rejected input never reaches the ledger and therefore has no Outcome.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomePartiallyFailed Outcome = "partial"
	OutcomeUnrouted        Outcome = "unrouted"
)
