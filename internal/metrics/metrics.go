package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/prompt-compliance/internal/provider"
)

// #region metrics-struct

// Metrics holds the Prometheus collectors for verification and ingestion.
// All methods are no-ops on a nil *Metrics.
type Metrics struct {
	verifications     *prometheus.CounterVec
	verificationError *prometheus.CounterVec
	duration          prometheus.Histogram
	providerAttempts  *prometheus.CounterVec
	malformed         prometheus.Counter
	policiesStored    prometheus.Gauge

	registry *prometheus.Registry
}

// #endregion metrics-struct

// #region constructor

// New creates the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliance_verifications_total",
				Help: "Completed verifications by resulting status",
			},
			[]string{"status"},
		),

		verificationError: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliance_verification_errors_total",
				Help: "Failed verifications by failure kind",
			},
			[]string{"kind"},
		),

		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "compliance_verification_duration_seconds",
				Help:    "End-to-end verification latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		providerAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliance_provider_attempts_total",
				Help: "External provider call attempts by operation and outcome",
			},
			[]string{"op", "outcome"},
		),

		malformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "compliance_reasoning_malformed_total",
				Help: "Reasoning responses that failed schema validation",
			},
		),

		policiesStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "compliance_policies_stored",
				Help: "Policies currently in the store",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.verifications,
		m.verificationError,
		m.duration,
		m.providerAttempts,
		m.malformed,
		m.policiesStored,
	)
	return m
}

// #endregion constructor

// #region observe

// ObserveVerification records a completed verification.
func (m *Metrics) ObserveVerification(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(status).Inc()
	m.duration.Observe(d.Seconds())
}

// ObserveFailure records a verification that produced no verdict.
func (m *Metrics) ObserveFailure(kind string, d time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.verificationError.WithLabelValues(kind).Inc()
	m.duration.Observe(d.Seconds())
}

// ObserveMalformed adds n malformed reasoning responses.
func (m *Metrics) ObserveMalformed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.malformed.Add(float64(n))
}

// SetPoliciesStored sets the stored-policy gauge.
func (m *Metrics) SetPoliciesStored(n int) {
	if m == nil {
		return
	}
	m.policiesStored.Set(float64(n))
}

// ObserveAttempt implements resilience.Observer.
func (m *Metrics) ObserveAttempt(op string, _ int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, provider.ErrTransient):
		outcome = "transient"
	default:
		outcome = "error"
	}
	m.providerAttempts.WithLabelValues(op, outcome).Inc()
}

// #endregion observe

// #region handler

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// #endregion handler
