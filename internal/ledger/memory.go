package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
)

// MemoryLedger keeps records in process memory. It is the default backend
// and the reference for the admission semantics the other backends follow.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]*Record)}
}

func (l *MemoryLedger) Admit(ctx context.Context, id string, now time.Time) (Admission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		l.records[id] = &Record{
			ID:          id,
			State:       StateInFlight,
			FirstSeen:   now,
			LastUpdated: now,
		}
		return Admission{Decision: Admitted}, nil
	}

	if rec.State == StateInFlight {
		return Admission{Decision: AlreadyInFlight}, nil
	}

	return Admission{
		Decision:      AlreadyCompleted,
		Outcome:       rec.Outcome,
		FailedTargets: append([]string(nil), rec.FailedTargets...),
	}, nil
}

func (l *MemoryLedger) Complete(ctx context.Context, id string, outcome domain.Outcome, failedTargets []string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return ErrUnknownRecord
	}
	if rec.State != StateInFlight {
		// Terminal records never regress; a second Complete is a replay.
		return nil
	}

	rec.State = stateFor(outcome)
	rec.Outcome = outcome
	rec.FailedTargets = append([]string(nil), failedTargets...)
	rec.LastUpdated = now
	return nil
}

func (l *MemoryLedger) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, rec := range l.records {
		if rec.State == StateInFlight {
			continue
		}
		if rec.LastUpdated.Before(olderThan) {
			delete(l.records, id)
			removed++
		}
	}
	return removed, nil
}

// StaleInFlight counts in_flight records older than the threshold. These are
// never swept; the count feeds an operator-facing gauge.
func (l *MemoryLedger) StaleInFlight(ctx context.Context, olderThan time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, rec := range l.records {
		if rec.State == StateInFlight && rec.FirstSeen.Before(olderThan) {
			count++
		}
	}
	return count, nil
}

func (l *MemoryLedger) Ping(ctx context.Context) error {
	return nil
}

// Get returns a copy of the record for id, if present.
func (l *MemoryLedger) Get(id string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return Record{}, false
	}
	out := *rec
	out.FailedTargets = append([]string(nil), rec.FailedTargets...)
	return out, true
}

// Len returns the number of records currently held.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
