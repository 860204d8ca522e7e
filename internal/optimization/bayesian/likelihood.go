package bayesian

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/TUNDR-gp/internal/optimization"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/params"
)

// Gaussian is the likelihood y = f + ε with ε ~ N(0, σ²).
type Gaussian struct {
	variance *params.Parameter
}

// NewGaussian creates a Gaussian likelihood. The variance is constrained to
// stay above minNoiseVariance by the positivity transform of settings.
func NewGaussian(variance float64, settings params.Settings) (*Gaussian, error) {
	if variance <= minNoiseVariance {
		return nil, &optimization.Error{
			Message:   fmt.Sprintf("variance must be greater than %g, got %g", minNoiseVariance, variance),
			Op:        "NewGaussian",
			Component: "likelihood",
			Err:       optimization.ErrDomain,
		}
	}
	transform, err := settings.PositiveTransformWithLower(minNoiseVariance)
	if err != nil {
		return nil, err
	}
	v, err := params.New(variance,
		params.WithName("likelihood.variance"),
		params.WithTransform(transform),
		params.WithPrecision(settings.Precision),
	)
	if err != nil {
		return nil, err
	}
	return &Gaussian{variance: v}, nil
}

// Variance returns the noise variance parameter.
func (g *Gaussian) Variance() *params.Parameter { return g.variance }

// SetVariance replaces the noise variance parameter, e.g. to attach a prior.
func (g *Gaussian) SetVariance(p *params.Parameter) error {
	if p == nil {
		return &optimization.Error{
			Message:   "variance parameter must not be nil",
			Op:        "SetVariance",
			Component: "likelihood",
			Err:       optimization.ErrInvalidData,
		}
	}
	g.variance = p
	return nil
}

// Parameters returns the likelihood parameters.
func (g *Gaussian) Parameters() []*params.Parameter {
	return []*params.Parameter{g.variance}
}

// LogDensity returns log N(y | f, σ²).
func (g *Gaussian) LogDensity(f, y float64) float64 {
	return distuv.Normal{Mu: f, Sigma: math.Sqrt(g.variance.Value())}.LogProb(y)
}
