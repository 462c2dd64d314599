package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Engine metrics
	submissionsTotal  *prometheus.CounterVec
	duplicatesTotal   *prometheus.CounterVec
	envelopesInFlight prometheus.Gauge

	// Dispatch metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryDuration      prometheus.Histogram
	deliveriesInFlight    prometheus.Gauge

	// Queue bus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Consumer metrics
	messagesTotal  *prometheus.CounterVec
	ackErrorsTotal prometheus.Counter

	// Ledger metrics
	sweepRemovedTotal prometheus.Counter
	sweepDuration     prometheus.Histogram
	staleInFlight     prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initEngineMetrics(reg)
	s.initDispatchMetrics(reg)
	s.initBusMetrics(reg)
	s.initConsumerMetrics(reg)
	s.initLedgerMetrics(reg)
	return s
}

func (s *PrometheusSink) initEngineMetrics(reg prometheus.Registerer) {
	s.submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_engine_submissions_total",
		Help: "Total number of submissions by terminal status.",
	}, []string{"status"})
	s.duplicatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_engine_duplicates_suppressed_total",
		Help: "Total number of duplicate submissions answered from the ledger.",
	}, []string{"kind"})
	s.envelopesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_engine_envelopes_in_flight",
		Help: "Number of envelopes currently being processed.",
	})

	s.register(reg, s.submissionsTotal, "orchestrator_engine_submissions_total")
	s.register(reg, s.duplicatesTotal, "orchestrator_engine_duplicates_suppressed_total")
	s.register(reg, s.envelopesInFlight, "orchestrator_engine_envelopes_in_flight")
}

func (s *PrometheusSink) initDispatchMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_dispatch_delivery_attempts_total",
		Help: "Total number of delivery attempts per target and status class.",
	}, []string{"target", "status_class"})
	s.deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_dispatch_delivery_duration_seconds",
		Help:    "Delivery attempt latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.deliveriesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_dispatch_deliveries_in_flight",
		Help: "Number of deliveries currently in flight across all envelopes.",
	})

	s.register(reg, s.deliveryAttemptsTotal, "orchestrator_dispatch_delivery_attempts_total")
	s.register(reg, s.deliveryDuration, "orchestrator_dispatch_delivery_duration_seconds")
	s.register(reg, s.deliveriesInFlight, "orchestrator_dispatch_deliveries_in_flight")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_bus_buffer_size",
		Help: "Current number of messages in the queue bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_bus_buffer_capacity",
		Help: "Configured capacity of the queue bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_bus_buffer_saturation",
		Help: "Queue bus buffer fill ratio (0.0 to 1.0).",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_bus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "orchestrator_bus_buffer_size")
	s.register(reg, s.bufferCapacity, "orchestrator_bus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "orchestrator_bus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "orchestrator_bus_emit_errors_total")
}

func (s *PrometheusSink) initConsumerMetrics(reg prometheus.Registerer) {
	s.messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_consumer_messages_total",
		Help: "Total number of queue messages by processing status.",
	}, []string{"status"})
	s.ackErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_consumer_ack_errors_total",
		Help: "Total number of acknowledgment failures.",
	})

	s.register(reg, s.messagesTotal, "orchestrator_consumer_messages_total")
	s.register(reg, s.ackErrorsTotal, "orchestrator_consumer_ack_errors_total")
}

func (s *PrometheusSink) initLedgerMetrics(reg prometheus.Registerer) {
	s.sweepRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_ledger_sweep_removed_total",
		Help: "Total number of ledger records removed by retention sweeps.",
	})
	s.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_ledger_sweep_duration_seconds",
		Help:    "Duration of each ledger sweep in seconds.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	s.staleInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_ledger_stale_in_flight",
		Help: "Number of in_flight ledger records older than the retention window.",
	})

	s.register(reg, s.sweepRemovedTotal, "orchestrator_ledger_sweep_removed_total")
	s.register(reg, s.sweepDuration, "orchestrator_ledger_sweep_duration_seconds")
	s.register(reg, s.staleInFlight, "orchestrator_ledger_stale_in_flight")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Engine metrics implementation

func (s *PrometheusSink) SubmissionCompleted(status string) {
	s.submissionsTotal.WithLabelValues(status).Inc()
}

func (s *PrometheusSink) DuplicateSuppressed(kind string) {
	s.duplicatesTotal.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) EnvelopesInFlightIncr() {
	s.envelopesInFlight.Inc()
}

func (s *PrometheusSink) EnvelopesInFlightDecr() {
	s.envelopesInFlight.Dec()
}

// Dispatch metrics implementation

func (s *PrometheusSink) DeliveryAttemptCompleted(target, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(target, statusClass).Inc()
	s.deliveryDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveriesInFlightIncr() {
	s.deliveriesInFlight.Inc()
}

func (s *PrometheusSink) DeliveriesInFlightDecr() {
	s.deliveriesInFlight.Dec()
}

// Queue bus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Consumer metrics implementation

func (s *PrometheusSink) MessageOutcome(status string) {
	s.messagesTotal.WithLabelValues(status).Inc()
}

func (s *PrometheusSink) AckError() {
	s.ackErrorsTotal.Inc()
}

// Ledger metrics implementation

func (s *PrometheusSink) SweepCompleted(removed int, duration time.Duration) {
	s.sweepRemovedTotal.Add(float64(removed))
	s.sweepDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) StaleInFlightUpdate(count int) {
	s.staleInFlight.Set(float64(count))
}

var _ Sink = (*PrometheusSink)(nil)
