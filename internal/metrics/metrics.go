// Package metrics holds the Prometheus collectors for callable invocations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeOK              = "ok"
	OutcomeInvalidArgument = "invalid_argument"
	OutcomeNotFound        = "not_found"
	OutcomeUpstreamError   = "upstream_error"
)

// Metrics groups the invocation collectors registered against one registry.
type Metrics struct {
	Invocations *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Tokens      *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg falls back to the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poetry_tutor_invocations_total",
				Help: "Total number of callable invocations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poetry_tutor_invocation_duration_seconds",
				Help:    "Duration of callable invocations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		Tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poetry_tutor_tokens_total",
				Help: "Tokens reported by the text-generation service",
			},
			[]string{"operation", "kind"},
		),
	}
}

// Observe records one finished invocation. Safe on a nil receiver.
func (m *Metrics) Observe(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(operation, outcome).Inc()
	m.Duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// AddTokens records token usage for a generative invocation.
func (m *Metrics) AddTokens(operation string, prompt, completion int) {
	if m == nil {
		return
	}
	m.Tokens.WithLabelValues(operation, "prompt").Add(float64(prompt))
	m.Tokens.WithLabelValues(operation, "completion").Add(float64(completion))
}
