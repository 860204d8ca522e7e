// Package models aggregates parameters into the objectives an optimiser
// minimises.
//
// A Model contributes a log likelihood and a set of parameters. The log
// prior of the model is the sum of its parameters' log priors, each of which
// is already a density over the unconstrained value (see params.Parameter).
// No further Jacobian term is added here.
package models

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/copyleftdev/TUNDR-gp/internal/metrics"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/params"
)

// Model is anything with a likelihood over its parameters.
type Model interface {
	// LogLikelihood returns log p(data | parameters) at the current
	// constrained parameter values.
	LogLikelihood() (float64, error)

	// Parameters returns every parameter the model owns, directly or via
	// sub-components, in a stable order.
	Parameters() []*params.Parameter
}

// LogPrior sums the log priors of every parameter of m.
// Parameters without a prior contribute exactly 0.
func LogPrior(m Model) (float64, error) {
	var sum float64
	for _, p := range m.Parameters() {
		lp, err := p.LogPrior()
		if err != nil {
			return lp, err
		}
		sum += lp
	}
	return sum, nil
}

// LogPosterior returns LogLikelihood + LogPrior (up to the evidence).
func LogPosterior(m Model) (float64, error) {
	ll, err := m.LogLikelihood()
	if err != nil {
		return ll, err
	}
	lp, err := LogPrior(m)
	if err != nil {
		return lp, err
	}
	return ll + lp, nil
}

// NegLogMarginalLikelihood returns -(LogLikelihood + LogPrior). With no
// priors this is the maximum likelihood objective; otherwise it is the MAP
// objective in the unconstrained space.
func NegLogMarginalLikelihood(m Model) (float64, error) {
	lpost, err := LogPosterior(m)
	if err != nil {
		return lpost, err
	}
	return -lpost, nil
}

// NegLogLikelihood returns -LogLikelihood, ignoring priors.
func NegLogLikelihood(m Model) (float64, error) {
	ll, err := m.LogLikelihood()
	if err != nil {
		return ll, err
	}
	return -ll, nil
}

// TrainableParameters returns the parameters of m an optimiser may move.
func TrainableParameters(m Model) []*params.Parameter {
	all := m.Parameters()
	out := make([]*params.Parameter, 0, len(all))
	for _, p := range all {
		if p.Trainable() {
			out = append(out, p)
		}
	}
	return out
}

// Unconstrained packs the raw values of the trainable parameters of m.
func Unconstrained(m Model) []float64 {
	ps := TrainableParameters(m)
	x := make([]float64, len(ps))
	for i, p := range ps {
		x[i] = p.Unconstrained()
	}
	return x
}

// SetUnconstrained unpacks x into the trainable parameters of m.
func SetUnconstrained(m Model, x []float64) error {
	ps := TrainableParameters(m)
	if len(x) != len(ps) {
		return optimization.NewErrorf("expected %d unconstrained values, got %d", len(ps), len(x)).
			WithComponent("models").WithOperation("SetUnconstrained")
	}
	for i, p := range ps {
		p.SetUnconstrained(x[i])
	}
	return nil
}

// ObjectiveOption configures Objective.
type ObjectiveOption func(*objectiveConfig)

type objectiveConfig struct {
	name     string
	logger   *zap.Logger
	recorder *metrics.Recorder
}

// WithModelName labels logs and metrics for the objective.
func WithModelName(name string) ObjectiveOption {
	return func(c *objectiveConfig) { c.name = name }
}

// WithLogger sets the logger used to report failed evaluations.
func WithLogger(logger *zap.Logger) ObjectiveOption {
	return func(c *objectiveConfig) { c.logger = logger }
}

// WithRecorder counts evaluations.
func WithRecorder(r *metrics.Recorder) ObjectiveOption {
	return func(c *objectiveConfig) { c.recorder = r }
}

// Objective returns a function of the packed unconstrained trainable values
// of m. The model's own raw values are restored after every call, so the
// returned function has no visible side effects.
func Objective(m Model, kind optimization.ObjectiveKind, opts ...ObjectiveOption) optimization.ObjectiveFunction {
	cfg := objectiveConfig{
		name:   fmt.Sprintf("%T", m),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger.Named("objective").With(
		zap.String("model", cfg.name),
		zap.Stringer("objective", kind),
	)

	return func(x []float64) (float64, error) {
		saved := Unconstrained(m)
		defer func() { _ = SetUnconstrained(m, saved) }()

		if err := SetUnconstrained(m, x); err != nil {
			cfg.recorder.ObserveObjective(cfg.name, kind.String(), err)
			return 0, err
		}
		for _, p := range TrainableParameters(m) {
			if err := p.Validate(); err != nil {
				cfg.recorder.ObserveObjective(cfg.name, kind.String(), err)
				logger.Debug("objective evaluated outside parameter domain",
					zap.Float64s("unconstrained", x),
					zap.Error(err),
				)
				return math.NaN(), err
			}
		}

		var (
			value float64
			err   error
		)
		switch kind {
		case optimization.ObjectiveMLE:
			value, err = NegLogLikelihood(m)
		default:
			value, err = NegLogMarginalLikelihood(m)
		}

		cfg.recorder.ObserveObjective(cfg.name, kind.String(), err)
		if err != nil {
			if errors.Is(err, optimization.ErrOutsideSupport) {
				if e, ok := optimization.IsOptimizationError(err); ok {
					cfg.recorder.ObservePriorDomainError(e.Component)
				}
			}
			logger.Debug("objective evaluation failed",
				zap.Float64s("unconstrained", x),
				zap.Error(err),
			)
			return value, err
		}
		return value, nil
	}
}
