package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signalsTotal  *prometheus.CounterVec
	rejectsTotal  *prometheus.CounterVec
	ordersTotal   *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	holdings      prometheus.Gauge
	rateLimitWait *prometheus.HistogramVec
	latency       *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "khunter_signals_total",
				Help: "Total condition signals received from the stream",
			},
			[]string{"event", "condition"},
		),
		rejectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "khunter_signal_rejects_total",
				Help: "Signals rejected by the filter engine",
			},
			[]string{"reason"},
		),
		ordersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "khunter_orders_total",
				Help: "Orders dispatched to the execution provider",
			},
			[]string{"side", "result"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "khunter_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "khunter_dispatch_queue_depth",
				Help: "Current depth of the order dispatch queue",
			},
		),
		holdings: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "khunter_open_holdings",
				Help: "Number of currently open positions",
			},
		),
		rateLimitWait: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "khunter_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the provider rate limiter",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "khunter_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordSignal records a signal received from the stream.
func (r *Recorder) RecordSignal(event, condition string) {
	r.signalsTotal.WithLabelValues(event, condition).Inc()
}

// RecordReject records a filter-engine rejection.
func (r *Recorder) RecordReject(reason string) {
	r.rejectsTotal.WithLabelValues(reason).Inc()
}

// RecordOrder records a dispatched order outcome.
func (r *Recorder) RecordOrder(side, result string) {
	r.ordersTotal.WithLabelValues(side, result).Inc()
}

// RecordQueueDepth records the dispatch queue depth.
func (r *Recorder) RecordQueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

// RecordHoldings records the open position count.
func (r *Recorder) RecordHoldings(n int) {
	r.holdings.Set(float64(n))
}

// RecordRateLimitWait records time spent blocked on the limiter.
func (r *Recorder) RecordRateLimitWait(provider string, seconds float64) {
	r.rateLimitWait.WithLabelValues(provider).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
