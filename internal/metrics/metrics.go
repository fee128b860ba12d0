// Package metrics publishes Prometheus metrics for validator, matcher,
// dispatcher, and registry activity: CounterVec + HistogramVec pairs on a
// dedicated registry, exposed through a promhttp handler.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MatchResult labels the three matcher outcomes.
type MatchResult string

const (
	MatchResultNone     MatchResult = "none"
	MatchResultSingle   MatchResult = "single"
	MatchResultMultiple MatchResult = "multiple"
)

// DispatchOutcome labels the outcome of a dispatcher round trip.
type DispatchOutcome string

const (
	DispatchOutcomeOk               DispatchOutcome = "ok"
	DispatchOutcomeValidationFailed DispatchOutcome = "validation_failed"
	DispatchOutcomeTransportError   DispatchOutcome = "transport_error"
)

// Recorder publishes Prometheus metrics for the core components.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	validatorViolations *prometheus.CounterVec
	validatorLatency    *prometheus.HistogramVec

	matcherResults *prometheus.CounterVec

	dispatcherRequests *prometheus.CounterVec
	dispatcherLatency  *prometheus.HistogramVec

	registryScanDuration *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders (e.g. in tests) can
// coexist without conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	validatorViolations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draco_adapter",
		Subsystem: "validator",
		Name:      "violations_total",
		Help:      "Validator violations recorded per rule/violation type.",
	}, []string{"flow_id", "violation_type"})

	validatorLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "draco_adapter",
		Subsystem: "validator",
		Name:      "verify_duration_seconds",
		Help:      "Latency distribution for Verify calls.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"outcome"})

	matcherResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draco_adapter",
		Subsystem: "matcher",
		Name:      "results_total",
		Help:      "get_possible_flow_match outcomes by result class.",
	}, []string{"result"})

	dispatcherRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draco_adapter",
		Subsystem: "dispatcher",
		Name:      "requests_total",
		Help:      "Dispatcher validate_and_execute calls by outcome.",
	}, []string{"flow_id", "outcome"})

	dispatcherLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "draco_adapter",
		Subsystem: "dispatcher",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for dispatcher round trips.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"outcome"})

	registryScanDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "draco_adapter",
		Subsystem: "registry",
		Name:      "scan_duration_seconds",
		Help:      "Latency distribution for registry key-pattern scans.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
	}, []string{"result"})

	reg.MustRegister(
		validatorViolations, validatorLatency,
		matcherResults,
		dispatcherRequests, dispatcherLatency,
		registryScanDuration,
	)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:             reg,
		handler:              handler,
		validatorViolations:  validatorViolations,
		validatorLatency:     validatorLatency,
		matcherResults:       matcherResults,
		dispatcherRequests:   dispatcherRequests,
		dispatcherLatency:    dispatcherLatency,
		registryScanDuration: registryScanDuration,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveValidation records one violation-type occurrence and the overall
// Verify call latency/outcome.
func (r *Recorder) ObserveValidation(flowID string, violationTypes []string, ok bool, duration time.Duration) {
	if r == nil {
		return
	}
	flowLabel := normalizeLabel(flowID)
	for _, vt := range violationTypes {
		r.validatorViolations.WithLabelValues(flowLabel, normalizeLabel(vt)).Inc()
	}
	outcome := "ok"
	if !ok {
		outcome = "report"
	}
	r.validatorLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveMatch records the result class of a get_possible_flow_match call.
func (r *Recorder) ObserveMatch(result MatchResult) {
	if r == nil {
		return
	}
	r.matcherResults.WithLabelValues(string(result)).Inc()
}

// ObserveDispatch records the outcome and latency of a dispatcher round trip.
func (r *Recorder) ObserveDispatch(flowID string, outcome DispatchOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	r.dispatcherRequests.WithLabelValues(normalizeLabel(flowID), string(outcome)).Inc()
	r.dispatcherLatency.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

// ObserveRegistryScan records a registry key-pattern scan's duration,
// labeled by the resulting match class.
func (r *Recorder) ObserveRegistryScan(result MatchResult, duration time.Duration) {
	if r == nil {
		return
	}
	r.registryScanDuration.WithLabelValues(string(result)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
