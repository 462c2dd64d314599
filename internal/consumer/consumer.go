// Package consumer drains the queue boundary into the orchestration engine
// and owns the acknowledgment decision: terminal outcomes are acknowledged,
// engine-internal faults are not, leaving the message for redelivery.
package consumer

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/engine"
)

// DefaultDrainTimeout is the maximum time to wait for buffered messages
// during shutdown.
const DefaultDrainTimeout = 30 * time.Second

const defaultWorkers = 4

// Engine accepts raw events for processing.
type Engine interface {
	Submit(ctx context.Context, raw domain.RawEvent) (engine.Result, error)
}

// Acknowledger deletes a message from the upstream queue. Implementations
// must tolerate acknowledging the same message twice.
type Acknowledger interface {
	Ack(ctx context.Context, msg domain.QueueMessage) error
}

// MetricsSink defines the interface for recording consumer metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	MessageOutcome(status string)
	AckError()
}

// messageBody is the minimum JSON shape of a queue message.
type messageBody struct {
	RequestID     string          `json:"requestId,omitempty"`
	Filename      string          `json:"filename"`
	SchemaVersion string          `json:"schemaVersion"`
	Source        string          `json:"source,omitempty"`
}

type Consumer struct {
	engine       Engine
	acker        Acknowledger
	workers      int
	drainTimeout time.Duration
	metrics      MetricsSink // optional, nil = disabled
}

func New(eng Engine, acker Acknowledger) *Consumer {
	return &Consumer{
		engine:       eng,
		acker:        acker,
		workers:      defaultWorkers,
		drainTimeout: DefaultDrainTimeout,
	}
}

// WithWorkers sets the number of concurrent message handlers.
func (c *Consumer) WithWorkers(n int) *Consumer {
	if n > 0 {
		c.workers = n
	}
	return c
}

// WithDrainTimeout overrides the shutdown drain timeout.
func (c *Consumer) WithDrainTimeout(d time.Duration) *Consumer {
	c.drainTimeout = d
	return c
}

// WithMetrics attaches a metrics sink to the consumer.
func (c *Consumer) WithMetrics(sink MetricsSink) *Consumer {
	c.metrics = sink
	return c
}

// Run processes messages until ctx is cancelled, then drains remaining
// buffered messages with a timeout. Queue-sourced processing is never
// caller-cancellable: each message runs to a terminal state.
func (c *Consumer) Run(ctx context.Context, ch <-chan domain.QueueMessage) {
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.loop(ctx, ch)
		}()
	}
	wg.Wait()
}

func (c *Consumer) loop(ctx context.Context, ch <-chan domain.QueueMessage) {
	for {
		select {
		case <-ctx.Done():
			c.drain(ch)
			return
		case msg := <-ch:
			c.handle(context.WithoutCancel(ctx), msg)
		}
	}
}

// drain processes remaining buffered messages after the shutdown signal.
// Uses a background context since the main context is already cancelled.
func (c *Consumer) drain(ch <-chan domain.QueueMessage) {
	drainCtx, cancel := context.WithTimeout(context.Background(), c.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("consumer: drain timeout, processed %d messages", count)
			}
			return
		case msg, ok := <-ch:
			if !ok {
				log.Printf("consumer: drain complete, processed %d messages", count)
				return
			}
			c.handle(drainCtx, msg)
			count++
		default:
			if count > 0 {
				log.Printf("consumer: drain complete, processed %d messages", count)
			}
			return
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg domain.QueueMessage) {
	var body messageBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		// Unparseable body: no identity to dedupe on, redelivery cannot
		// help. Acknowledge so it does not loop forever.
		log.Printf("consumer: message=%s malformed body: %v", msg.ID, err)
		c.recordOutcome(string(engine.StatusRejected))
		c.ack(ctx, msg)
		return
	}

	// The body's request id keeps the envelope identity stable across
	// redeliveries; the message id is the fallback.
	requestID := body.RequestID
	if requestID == "" {
		requestID = msg.ID
	}

	raw := domain.RawEvent{
		RequestID:     requestID,
		Filename:      body.Filename,
		SchemaVersion: body.SchemaVersion,
		Source:        body.Source,
		Payload:       msg.Body,
		ReceivedAt:    msg.Received,
	}

	result, err := c.engine.Submit(ctx, raw)
	if err != nil {
		// Engine-internal fault: leave the message unacknowledged so the
		// upstream queue redelivers it.
		log.Printf("consumer: message=%s engine fault, not acknowledged: %v", msg.ID, err)
		c.recordOutcome("fault")
		return
	}

	if !result.Terminal() {
		// Another worker holds this envelope; redelivery will find the
		// recorded outcome.
		log.Printf("consumer: message=%s busy, not acknowledged", msg.ID)
		c.recordOutcome(string(result.Status))
		return
	}

	c.recordOutcome(string(result.Status))
	c.ack(ctx, msg)
}

func (c *Consumer) ack(ctx context.Context, msg domain.QueueMessage) {
	if err := c.acker.Ack(ctx, msg); err != nil {
		log.Printf("consumer: message=%s ack failed: %v", msg.ID, err)
		if c.metrics != nil {
			c.metrics.AckError()
		}
	}
}

func (c *Consumer) recordOutcome(status string) {
	if c.metrics != nil {
		c.metrics.MessageOutcome(status)
	}
}
