package stats

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace prefixes every sprite metric.
	MetricsNamespace = "sprite"
)

// Metrics holds the Prometheus collectors of the crawl engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	ResponsesTotal  *prometheus.CounterVec
	ItemsTotal      *prometheus.CounterVec
	DroppedTotal    *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	DownloadSeconds *prometheus.HistogramVec
	QueueLength     *prometheus.GaugeVec
	InFlight        *prometheus.GaugeVec
	PoolWorkers     prometheus.Gauge
}

// NewMetrics creates and registers the collectors on reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "requests_total",
			Help:      "Downloads by result (success or failure)",
		}, []string{"spider", "result"}),
		ResponsesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "responses_total",
			Help:      "Responses by status code",
		}, []string{"spider", "status"}),
		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "items_total",
			Help:      "Items that passed the pipeline",
		}, []string{"spider"}),
		DroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "items_dropped_total",
			Help:      "Items dropped by the pipeline",
		}, []string{"spider"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "errors_total",
			Help:      "Callback and hook failures",
		}, []string{"spider"}),
		DownloadSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "download_duration_seconds",
			Help:      "Download latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"spider"}),
		QueueLength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "scheduler",
			Name:      "queue_length",
			Help:      "Requests waiting in the scheduler",
		}, []string{"spider"}),
		InFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "scheduler",
			Name:      "in_flight",
			Help:      "Requests checked out of the scheduler",
		}, []string{"spider"}),
		PoolWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "pool",
			Name:      "workers",
			Help:      "Live task execution pool workers",
		}),
	}
}

// ObserveDownload records one download.
func (m *Metrics) ObserveDownload(spider string, status int, elapsed time.Duration, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.RequestsTotal.WithLabelValues(spider, result).Inc()
	if status != 0 {
		m.ResponsesTotal.WithLabelValues(spider, strconv.Itoa(status)).Inc()
	}
	if elapsed > 0 {
		m.DownloadSeconds.WithLabelValues(spider).Observe(elapsed.Seconds())
	}
}

// ObserveItem records an item.
func (m *Metrics) ObserveItem(spider string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(spider).Inc()
}

// ObserveDropped records a dropped item.
func (m *Metrics) ObserveDropped(spider string) {
	if m == nil {
		return
	}
	m.DroppedTotal.WithLabelValues(spider).Inc()
}

// ObserveError records a callback or hook failure.
func (m *Metrics) ObserveError(spider string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(spider).Inc()
}

// SetQueue records the scheduler queue length and in-flight count.
func (m *Metrics) SetQueue(spider string, queued, inFlight int) {
	if m == nil {
		return
	}
	m.QueueLength.WithLabelValues(spider).Set(float64(queued))
	m.InFlight.WithLabelValues(spider).Set(float64(inFlight))
}

// SetWorkers records the pool worker count.
func (m *Metrics) SetWorkers(n int) {
	if m == nil {
		return
	}
	m.PoolWorkers.Set(float64(n))
}
