package bayesian

import (
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/params"
)

// MeanFunction is the prior mean of a Gaussian process.
type MeanFunction interface {
	Eval(x []float64) float64
	Parameters() []*params.Parameter
}

// ZeroMean is m(x) = 0. It has no parameters.
type ZeroMean struct{}

func (ZeroMean) Eval([]float64) float64 { return 0 }

func (ZeroMean) Parameters() []*params.Parameter { return nil }

// ConstantMean is m(x) = c with a trainable, unconstrained c.
type ConstantMean struct {
	c *params.Parameter
}

// NewConstantMean creates a constant mean function.
func NewConstantMean(c float64, settings params.Settings) (*ConstantMean, error) {
	p, err := params.New(c,
		params.WithName("mean.constant"),
		params.WithPrecision(settings.Precision),
	)
	if err != nil {
		return nil, err
	}
	return &ConstantMean{c: p}, nil
}

// Constant returns the constant parameter.
func (m *ConstantMean) Constant() *params.Parameter { return m.c }

func (m *ConstantMean) Eval([]float64) float64 { return m.c.Value() }

func (m *ConstantMean) Parameters() []*params.Parameter {
	return []*params.Parameter{m.c}
}
