// Package channel provides the in-process queue boundary: a buffered message
// bus standing in for an external at-least-once queue. The transport-level
// queue protocol itself lives outside this service; adapters for it emit
// into this bus.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
)

// ErrBufferFull is returned when an emit cannot complete within the emit
// timeout because the buffer is saturated.
var ErrBufferFull = errors.New("queue bus buffer is full")

// DefaultEmitTimeout is the maximum time Emit waits for buffer space.
const DefaultEmitTimeout = 5 * time.Second

// MetricsSink defines the interface for recording bus metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

type Option func(*Bus)

// WithEmitTimeout overrides the default emit timeout.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *Bus) { b.emitTimeout = d }
}

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *Bus) { b.metrics = sink }
}

// Bus is a bounded in-memory message queue.
type Bus struct {
	ch          chan domain.QueueMessage
	emitTimeout time.Duration
	metrics     MetricsSink // optional, nil = disabled
}

func NewBus(buffer int, opts ...Option) *Bus {
	b := &Bus{
		ch:          make(chan domain.QueueMessage, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues a message, waiting up to the emit timeout for buffer space.
func (b *Bus) Emit(ctx context.Context, msg domain.QueueMessage) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- msg:
		b.updateGauges()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

// Channel exposes the consumer side of the bus.
func (b *Bus) Channel() <-chan domain.QueueMessage {
	return b.ch
}

// Ack satisfies the consumer's acknowledgment contract. In-memory messages
// leave the buffer on receive, so there is nothing to delete.
func (b *Bus) Ack(ctx context.Context, msg domain.QueueMessage) error {
	return nil
}

func (b *Bus) updateGauges() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	capacity := cap(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if capacity > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(capacity))
	}
}
