package params

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/TUNDR-gp/internal/optimization"
)

// Prior is a probability distribution over a parameter value. Every
// univariate distribution in gonum's distuv package satisfies it.
type Prior interface {
	LogProb(x float64) float64
}

// PriorOn selects the space a prior density is defined on.
type PriorOn int

const (
	// PriorOnConstrained places the prior on the value the model reads.
	// LogPrior then adds log|J| of the transform so that the result is a
	// density over the unconstrained value the optimiser moves.
	PriorOnConstrained PriorOn = iota
	// PriorOnUnconstrained places the prior directly on the raw value.
	// No Jacobian term is added.
	PriorOnUnconstrained
)

func (p PriorOn) String() string {
	if p == PriorOnUnconstrained {
		return "unconstrained"
	}
	return "constrained"
}

func priorError(op, format string, args ...interface{}) error {
	return optimization.NewErrorf(format, args...).WithComponent("prior").WithOperation(op)
}

// Normal returns a Gaussian prior with mean mu and standard deviation sigma.
func Normal(mu, sigma float64) (distuv.Normal, error) {
	if !(sigma > 0) {
		return distuv.Normal{}, priorError("Normal", "sigma must be positive, got %v", sigma)
	}
	return distuv.Normal{Mu: mu, Sigma: sigma}, nil
}

// LogNormal returns a prior whose logarithm is Normal(mu, sigma).
func LogNormal(mu, sigma float64) (distuv.LogNormal, error) {
	if !(sigma > 0) {
		return distuv.LogNormal{}, priorError("LogNormal", "sigma must be positive, got %v", sigma)
	}
	return distuv.LogNormal{Mu: mu, Sigma: sigma}, nil
}

// Gamma returns a Gamma prior in the shape/rate parameterisation.
func Gamma(shape, rate float64) (distuv.Gamma, error) {
	if !(shape > 0) || !(rate > 0) {
		return distuv.Gamma{}, priorError("Gamma", "shape and rate must be positive, got %v, %v", shape, rate)
	}
	return distuv.Gamma{Alpha: shape, Beta: rate}, nil
}

// Beta returns a Beta prior on (0, 1).
func Beta(alpha, beta float64) (distuv.Beta, error) {
	if !(alpha > 0) || !(beta > 0) {
		return distuv.Beta{}, priorError("Beta", "alpha and beta must be positive, got %v, %v", alpha, beta)
	}
	return distuv.Beta{Alpha: alpha, Beta: beta}, nil
}

// Uniform returns a flat prior on [low, high].
func Uniform(low, high float64) (distuv.Uniform, error) {
	if !(high > low) {
		return distuv.Uniform{}, priorError("Uniform", "high (%v) must be greater than low (%v)", high, low)
	}
	return distuv.Uniform{Min: low, Max: high}, nil
}

// Exponential returns an exponential prior with the given rate.
func Exponential(rate float64) (distuv.Exponential, error) {
	if !(rate > 0) {
		return distuv.Exponential{}, priorError("Exponential", "rate must be positive, got %v", rate)
	}
	return distuv.Exponential{Rate: rate}, nil
}

// Laplace returns a Laplace prior with location mu and scale.
func Laplace(mu, scale float64) (distuv.Laplace, error) {
	if !(scale > 0) {
		return distuv.Laplace{}, priorError("Laplace", "scale must be positive, got %v", scale)
	}
	return distuv.Laplace{Mu: mu, Scale: scale}, nil
}

// StudentsT returns a Student's t prior.
func StudentsT(mu, sigma, nu float64) (distuv.StudentsT, error) {
	if !(sigma > 0) || !(nu > 0) {
		return distuv.StudentsT{}, priorError("StudentsT", "sigma and nu must be positive, got %v, %v", sigma, nu)
	}
	return distuv.StudentsT{Mu: mu, Sigma: sigma, Nu: nu}, nil
}

// inSupport reports whether a log density is usable in an objective.
func inSupport(lp float64) bool {
	return !math.IsNaN(lp) && !math.IsInf(lp, -1)
}
