package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
)

// ErrTimeout marks a delivery attempt that exceeded its timeout. Timeouts are
// not retried synchronously; upstream queue redelivery is the retry path.
var ErrTimeout = errors.New("delivery timed out")

// Target is a downstream sink. Implementations must be safe to call twice
// with the same envelope identifier: either deduplicating on the receiving
// side or being harmlessly repeatable.
type Target interface {
	Name() string
	Deliver(ctx context.Context, env domain.Envelope) error
}

// DeliveryError is a per-target delivery failure. Failures are isolated per
// target and aggregated into the fanout result.
type DeliveryError struct {
	Target string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Payload is the wire body handed to every target.
type Payload struct {
	RequestID     string `json:"request_id"`
	Filename      string `json:"filename"`
	SchemaVersion string `json:"schema_version"`
	Source        string `json:"source,omitempty"`
	ReceivedAt    string `json:"received_at"`
}

func newPayload(env domain.Envelope) Payload {
	return Payload{
		RequestID:     env.ID,
		Filename:      env.Filename,
		SchemaVersion: env.SchemaVersion.String(),
		Source:        env.Source,
		ReceivedAt:    env.ReceivedAt.UTC().Format(time.RFC3339),
	}
}

// Registry holds the configured targets by name. Built once at startup from
// the routes file; lookups after that are read-only.
type Registry struct {
	targets map[string]Target
}

func NewRegistry(targets ...Target) *Registry {
	r := &Registry{targets: make(map[string]Target, len(targets))}
	for _, t := range targets {
		r.targets[t.Name()] = t
	}
	return r
}

func (r *Registry) Lookup(name string) (Target, bool) {
	t, ok := r.targets[name]
	return t, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
