// Package metrics provides Prometheus instrumentation for objective
// evaluation and numerical fallbacks.
//
// A nil *Recorder is valid and records nothing, so numerical code can take
// an optional recorder without checking for it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tundr_gp"

// Recorder holds the metric vectors.
type Recorder struct {
	// ObjectiveEvaluations counts objective evaluations.
	// Labels: model, objective (map, mle)
	ObjectiveEvaluations *prometheus.CounterVec

	// ObjectiveErrors counts failed objective evaluations.
	// Labels: model, objective
	ObjectiveErrors *prometheus.CounterVec

	// JitterRetries counts Cholesky factorisations that needed extra jitter.
	// Labels: model
	JitterRetries *prometheus.CounterVec

	// PriorDomainErrors counts log priors evaluated outside their support.
	// Labels: parameter
	PriorDomainErrors *prometheus.CounterVec

	// InvariantChecks counts invariant check outcomes.
	// Labels: check, result (pass, fail, error)
	InvariantChecks *prometheus.CounterVec
}

// New creates a Recorder and registers its metrics with reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		ObjectiveEvaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "objective",
			Name:      "evaluations_total",
			Help:      "Number of objective evaluations by model and objective kind.",
		}, []string{"model", "objective"}),
		ObjectiveErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "objective",
			Name:      "errors_total",
			Help:      "Number of failed objective evaluations by model and objective kind.",
		}, []string{"model", "objective"}),
		JitterRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cholesky",
			Name:      "jitter_retries_total",
			Help:      "Number of Cholesky factorisations retried with added jitter.",
		}, []string{"model"}),
		PriorDomainErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prior",
			Name:      "domain_errors_total",
			Help:      "Number of log prior evaluations outside the prior support.",
		}, []string{"parameter"}),
		InvariantChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invariant",
			Name:      "checks_total",
			Help:      "Invariant check outcomes by check name and result.",
		}, []string{"check", "result"}),
	}
}

// ObserveObjective records one objective evaluation.
func (r *Recorder) ObserveObjective(model, objective string, err error) {
	if r == nil {
		return
	}
	r.ObjectiveEvaluations.WithLabelValues(model, objective).Inc()
	if err != nil {
		r.ObjectiveErrors.WithLabelValues(model, objective).Inc()
	}
}

// ObserveJitterRetry records a Cholesky retry.
func (r *Recorder) ObserveJitterRetry(model string) {
	if r == nil {
		return
	}
	r.JitterRetries.WithLabelValues(model).Inc()
}

// ObservePriorDomainError records a log prior outside its support.
func (r *Recorder) ObservePriorDomainError(parameter string) {
	if r == nil {
		return
	}
	r.PriorDomainErrors.WithLabelValues(parameter).Inc()
}

// ObserveInvariant records the outcome of an invariant check.
func (r *Recorder) ObserveInvariant(check string, passed bool, err error) {
	if r == nil {
		return
	}
	result := "pass"
	switch {
	case err != nil:
		result = "error"
	case !passed:
		result = "fail"
	}
	r.InvariantChecks.WithLabelValues(check, result).Inc()
}
