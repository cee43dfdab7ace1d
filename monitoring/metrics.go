package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tumordetect"

// DefaultLatencyBuckets are upper bounds in seconds.
var DefaultLatencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

// Metrics owns a private registry with the prediction service collectors.
type Metrics struct {
	registry *prometheus.Registry

	predictions  *prometheus.CounterVec
	failures     *prometheus.CounterVec
	latency      prometheus.Histogram
	modelVersion prometheus.Gauge
	reloads      prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predictions served, by label and source.",
		}, []string{"label", "source"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_failures_total",
			Help:      "Predictions that failed in the classifier.",
		}, []string{"source"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_seconds",
			Help:      "Time spent classifying one feature vector.",
			Buckets:   DefaultLatencyBuckets,
		}),
		modelVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_version",
			Help:      "Version of the model currently being served.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_reloads_total",
			Help:      "Successful model swaps.",
		}),
	}
	m.registry.MustRegister(
		m.predictions,
		m.failures,
		m.latency,
		m.modelVersion,
		m.reloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterHub exposes the stream counters of h. It must be called at most
// once per Metrics.
func (m *Metrics) RegisterHub(h *Hub) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected prediction stream clients.",
		}, func() float64 { return float64(h.Stats().ConnectedClients) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_dropped_messages_total",
			Help:      "Stream messages dropped because the queue or a client was full.",
		}, func() float64 { return float64(h.Stats().MessagesDropped) }),
	)
}

func (m *Metrics) ObservePrediction(label, source string, elapsed time.Duration) {
	m.predictions.WithLabelValues(label, source).Inc()
	m.latency.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveFailure(source string) {
	m.failures.WithLabelValues(source).Inc()
}

func (m *Metrics) SetModelVersion(version uint64) {
	m.modelVersion.Set(float64(version))
}

// ModelReloaded records a successful swap to version.
func (m *Metrics) ModelReloaded(version uint64) {
	m.reloads.Inc()
	m.modelVersion.Set(float64(version))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
