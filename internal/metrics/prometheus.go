package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink implements Sink using Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchDropped  prometheus.Counter
	queueDepth       prometheus.Gauge

	logWriteFailures prometheus.Counter
	logsPurged       prometheus.Counter

	reconcileTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initDispatchMetrics(reg)
	s.initLogMetrics(reg)
	s.initReceiverMetrics(reg)
	return s
}

func (s *PrometheusSink) initDispatchMetrics(reg prometheus.Registerer) {
	s.dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "syncbridge_webhook_dispatch_total",
		Help: "Total number of webhook dispatch attempts by mode and status class.",
	}, []string{"mode", "status_class"})

	s.dispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "syncbridge_webhook_dispatch_duration_seconds",
		Help:    "Webhook request latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"mode"})

	s.dispatchDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syncbridge_webhook_dispatch_dropped_total",
		Help: "Fire-and-forget sends rejected because the worker queue was full or stopped.",
	})

	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "syncbridge_webhook_queue_depth",
		Help: "Number of fire-and-forget sends waiting for a worker.",
	})

	s.register(reg, s.dispatchTotal, "syncbridge_webhook_dispatch_total")
	s.register(reg, s.dispatchDuration, "syncbridge_webhook_dispatch_duration_seconds")
	s.register(reg, s.dispatchDropped, "syncbridge_webhook_dispatch_dropped_total")
	s.register(reg, s.queueDepth, "syncbridge_webhook_queue_depth")
}

func (s *PrometheusSink) initLogMetrics(reg prometheus.Registerer) {
	s.logWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syncbridge_trigger_log_write_failures_total",
		Help: "Execution log rows that could not be written.",
	})
	s.logsPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syncbridge_trigger_logs_purged_total",
		Help: "Execution log rows deleted by retention purges.",
	})

	s.register(reg, s.logWriteFailures, "syncbridge_trigger_log_write_failures_total")
	s.register(reg, s.logsPurged, "syncbridge_trigger_logs_purged_total")
}

func (s *PrometheusSink) initReceiverMetrics(reg prometheus.Registerer) {
	s.reconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "syncbridge_receiver_reconcile_total",
		Help: "Receiver payloads applied by event type and outcome.",
	}, []string{"event_type", "success"})

	s.register(reg, s.reconcileTotal, "syncbridge_receiver_reconcile_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("WARN: metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) DispatchCompleted(mode, statusClass string, duration time.Duration) {
	s.dispatchTotal.WithLabelValues(mode, statusClass).Inc()
	s.dispatchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (s *PrometheusSink) DispatchDropped() {
	s.dispatchDropped.Inc()
}

func (s *PrometheusSink) QueueDepthUpdate(depth int) {
	s.queueDepth.Set(float64(depth))
}

func (s *PrometheusSink) LogWriteFailed() {
	s.logWriteFailures.Inc()
}

func (s *PrometheusSink) LogsPurged(count int64) {
	s.logsPurged.Add(float64(count))
}

func (s *PrometheusSink) ReconcileCompleted(eventType string, success bool) {
	s.reconcileTotal.WithLabelValues(eventType, strconv.FormatBool(success)).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

var (
	_ Sink = (*PrometheusSink)(nil)
	_ Sink = (*NoopSink)(nil)
)
