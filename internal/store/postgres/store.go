package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/ledger"
)

// Store implements ledger.Ledger on PostgreSQL. Admission relies on the
// primary key: INSERT ... ON CONFLICT DO NOTHING means exactly one session
// creates the in_flight row. Completion uses a guarded UPDATE so a terminal
// row never regresses under concurrency.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) Admit(ctx context.Context, id string, now time.Time) (ledger.Admission, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryAdmit, id, string(ledger.StateInFlight), now)
	if err != nil {
		return ledger.Admission{}, fmt.Errorf("admit insert: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return ledger.Admission{}, err
	}
	if inserted == 1 {
		return ledger.Admission{Decision: ledger.Admitted}, nil
	}

	var state, outcome string
	var failedTargets []string
	err = s.db.QueryRowContext(ctx, queryGetRecord, id).Scan(&state, &outcome, pq.Array(&failedTargets))
	if err == sql.ErrNoRows {
		// Row vanished between insert and select (swept). Caller retries
		// via upstream redelivery.
		return ledger.Admission{Decision: ledger.AlreadyInFlight}, nil
	}
	if err != nil {
		return ledger.Admission{}, fmt.Errorf("admit select: %w", err)
	}

	if ledger.State(state) == ledger.StateInFlight {
		return ledger.Admission{Decision: ledger.AlreadyInFlight}, nil
	}
	return ledger.Admission{
		Decision:      ledger.AlreadyCompleted,
		Outcome:       domain.Outcome(outcome),
		FailedTargets: failedTargets,
	}, nil
}

func (s *Store) Complete(ctx context.Context, id string, outcome domain.Outcome, failedTargets []string, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	state := ledger.StateSucceeded
	if outcome != domain.OutcomeCompleted {
		state = ledger.StateFailed
	}

	result, err := s.db.ExecContext(ctx, queryComplete,
		string(state), string(outcome), pq.Array(failedTargets), now, id)
	if err != nil {
		return fmt.Errorf("complete update: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, queryRecordExists, id).Scan(&exists); err != nil {
			return fmt.Errorf("complete exists check: %w", err)
		}
		if !exists {
			return ledger.ErrUnknownRecord
		}
		// Row exists but was not updated: already terminal, keep it.
		return nil
	}
	return nil
}

func (s *Store) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, querySweep, string(ledger.StateInFlight), olderThan)
	if err != nil {
		return 0, fmt.Errorf("sweep delete: %w", err)
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

// StaleInFlight counts in_flight rows older than the threshold for the
// stuck-envelope gauge.
func (s *Store) StaleInFlight(ctx context.Context, olderThan time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var count int
	err := s.db.QueryRowContext(ctx, queryStaleInFlight, string(ledger.StateInFlight), olderThan).Scan(&count)
	return count, err
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

var _ ledger.Ledger = (*Store)(nil)
