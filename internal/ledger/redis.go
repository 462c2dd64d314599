package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
)

const defaultKeyPrefix = "orchestrator:ledger:"

// RedisLedger stores records as JSON values keyed by envelope identifier.
// Admission is a single SETNX, which gives the exactly-one-Admitted guarantee
// across processes. Terminal records carry the retention window as a TTL so
// Redis evicts them itself; in_flight records have no TTL and are never
// evicted by age.
type RedisLedger struct {
	client    *redis.Client
	retention time.Duration
	prefix    string
}

func NewRedisLedger(client *redis.Client, retention time.Duration) *RedisLedger {
	return &RedisLedger{
		client:    client,
		retention: retention,
		prefix:    defaultKeyPrefix,
	}
}

func (l *RedisLedger) Admit(ctx context.Context, id string, now time.Time) (Admission, error) {
	key := l.prefix + id

	rec := Record{ID: id, State: StateInFlight, FirstSeen: now, LastUpdated: now}
	data, err := json.Marshal(rec)
	if err != nil {
		return Admission{}, fmt.Errorf("marshal record: %w", err)
	}

	// Two rounds cover the window where a terminal record expires between
	// the failed SETNX and the GET.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := l.client.SetNX(ctx, key, data, 0).Result()
		if err != nil {
			return Admission{}, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return Admission{Decision: Admitted}, nil
		}

		existing, err := l.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return Admission{}, fmt.Errorf("redis get: %w", err)
		}

		var prior Record
		if err := json.Unmarshal(existing, &prior); err != nil {
			return Admission{}, fmt.Errorf("unmarshal record: %w", err)
		}
		if prior.State == StateInFlight {
			return Admission{Decision: AlreadyInFlight}, nil
		}
		return Admission{
			Decision:      AlreadyCompleted,
			Outcome:       prior.Outcome,
			FailedTargets: prior.FailedTargets,
		}, nil
	}

	return Admission{Decision: AlreadyInFlight}, nil
}

func (l *RedisLedger) Complete(ctx context.Context, id string, outcome domain.Outcome, failedTargets []string, now time.Time) error {
	key := l.prefix + id

	existing, err := l.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrUnknownRecord
	}
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(existing, &rec); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	if rec.State != StateInFlight {
		// Already terminal; keep the first outcome.
		return nil
	}

	rec.State = stateFor(outcome)
	rec.Outcome = outcome
	rec.FailedTargets = failedTargets
	rec.LastUpdated = now

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := l.client.Set(ctx, key, data, l.retention).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Sweep is a no-op for Redis: terminal records expire via TTL and in_flight
// records are deliberately kept.
func (l *RedisLedger) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
}

func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

var _ Ledger = (*RedisLedger)(nil)
var _ Ledger = (*MemoryLedger)(nil)
