package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
)

// RedisTarget pushes the envelope payload onto a Redis list consumed by a
// downstream worker. The payload carries the request identifier, so the
// consumer can deduplicate repeated pushes.
type RedisTarget struct {
	name   string
	list   string
	client *redis.Client
}

func NewRedisTarget(name, list string, client *redis.Client) *RedisTarget {
	return &RedisTarget{name: name, list: list, client: client}
}

func (t *RedisTarget) Name() string {
	return t.name
}

func (t *RedisTarget) Deliver(ctx context.Context, env domain.Envelope) error {
	data, err := json.Marshal(newPayload(env))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := t.client.LPush(ctx, t.list, data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", t.list, err)
	}
	return nil
}

var _ Target = (*RedisTarget)(nil)
