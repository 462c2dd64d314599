package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) SubmissionCompleted(status string)                                        {}
func (n *NoopSink) DuplicateSuppressed(kind string)                                          {}
func (n *NoopSink) EnvelopesInFlightIncr()                                                   {}
func (n *NoopSink) EnvelopesInFlightDecr()                                                   {}
func (n *NoopSink) DeliveryAttemptCompleted(target, statusClass string, d time.Duration)     {}
func (n *NoopSink) DeliveriesInFlightIncr()                                                  {}
func (n *NoopSink) DeliveriesInFlightDecr()                                                  {}
func (n *NoopSink) BufferSizeUpdate(size int)                                                {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                           {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                                {}
func (n *NoopSink) EmitError()                                                               {}
func (n *NoopSink) MessageOutcome(status string)                                             {}
func (n *NoopSink) AckError()                                                                {}
func (n *NoopSink) SweepCompleted(removed int, duration time.Duration)                       {}
func (n *NoopSink) StaleInFlightUpdate(count int)                                            {}

var _ Sink = (*NoopSink)(nil)
