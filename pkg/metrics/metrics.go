// Package metrics exposes Prometheus instrumentation for the classifier.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threatcluster"

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	Classifications     *prometheus.CounterVec
	TrainingRuns        *prometheus.CounterVec
	TrainingDuration    prometheus.Histogram
	TrainingIterations  prometheus.Gauge
	TrainingSamples     prometheus.Gauge
	DegenerateDistances prometheus.Counter
	ModelTrained        prometheus.Gauge
	RetrainSkipped      *prometheus.CounterVec
	EventsRejected      *prometheus.CounterVec
	ModelReloads        *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Events classified, by primary category.",
		}, []string{"category"}),
		TrainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Training runs, by source and result.",
		}, []string{"source", "result"}),
		TrainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Wall time of successful training runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		TrainingIterations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_iterations",
			Help:      "Iterations used by the latest training run.",
		}),
		TrainingSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_samples",
			Help:      "Samples used by the latest training run.",
		}),
		DegenerateDistances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degenerate_distances_total",
			Help:      "Sample-to-center distances clamped during training.",
		}),
		ModelTrained: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_trained",
			Help:      "1 when the engine holds a trained model.",
		}),
		RetrainSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrain_skipped_total",
			Help:      "Scheduled retrains that were skipped, by reason.",
		}, []string{"reason"}),
		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Ingested events rejected by validation, by reason.",
		}, []string{"reason"}),
		ModelReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_reloads_total",
			Help:      "Model reloads from the store, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Classifications,
		m.TrainingRuns,
		m.TrainingDuration,
		m.TrainingIterations,
		m.TrainingSamples,
		m.DegenerateDistances,
		m.ModelTrained,
		m.RetrainSkipped,
		m.EventsRejected,
		m.ModelReloads,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
