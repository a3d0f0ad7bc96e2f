package core

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oceanbase/impression-go/pkg/llm"
)

const metricsNamespace = "impression"

// Metrics holds the Prometheus collectors of a pipeline.
//
// Every recording method is safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	messages          *prometheus.CounterVec
	classifierCalls   *prometheus.CounterVec
	classifierLatency *prometheus.HistogramVec
	profileUpdates    prometheus.Counter
	affectionUpdates  prometheus.Counter
	admissions        *prometheus.CounterVec
}

// NewMetrics creates the collectors on a registry of their own.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_total",
				Help:      "Total number of messages by pipeline outcome",
			},
			[]string{"outcome"},
		),
		classifierCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "classifier_calls_total",
				Help:      "Total number of classifier calls",
			},
			[]string{"purpose", "status"},
		),
		classifierLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "classifier_duration_seconds",
				Help:      "Classifier call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"purpose"},
		),
		profileUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "profile_updates_total",
				Help:      "Total number of successful profile merges",
			},
		),
		affectionUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "affection_updates_total",
				Help:      "Total number of successful affection updates",
			},
		),
		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "admission_total",
				Help:      "Total number of admission decisions",
			},
			[]string{"admitted"},
		),
	}

	registry.MustRegister(
		m.messages,
		m.classifierCalls,
		m.classifierLatency,
		m.profileUpdates,
		m.affectionUpdates,
		m.admissions,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveClassifier is an llm.Observer.
func (m *Metrics) ObserveClassifier(purpose llm.Purpose, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = string(KindOf(err))
	}
	m.classifierCalls.WithLabelValues(string(purpose), status).Inc()
	m.classifierLatency.WithLabelValues(string(purpose)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeResult(res *ProcessResult) {
	if m == nil || res == nil {
		return
	}
	m.messages.WithLabelValues(res.Outcome()).Inc()
	if res.Stage == StageDeduplicated {
		return
	}
	m.admissions.WithLabelValues(strconv.FormatBool(res.Admitted)).Inc()
	if res.Profile.Succeeded() {
		m.profileUpdates.Inc()
	}
	if res.Affection.Succeeded() {
		m.affectionUpdates.Inc()
	}
}
