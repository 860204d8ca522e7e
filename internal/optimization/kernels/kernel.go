package kernels

import (
	"fmt"
	"math"

	"github.com/copyleftdev/TUNDR-gp/internal/optimization"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/params"
)

// Kernel represents a kernel function for Gaussian Processes
type Kernel interface {
	// Eval computes the kernel value between two points x1 and x2
	Eval(x1, x2 []float64) float64

	// Parameters returns the kernel's parameters in a stable order
	Parameters() []*params.Parameter

	// Hyperparameters returns the current constrained hyperparameter values
	Hyperparameters() []float64

	// SetHyperparameters assigns constrained hyperparameter values
	SetHyperparameters(values []float64) error
}

// profile maps a scaled distance r = |x1-x2|/lengthscale to a correlation.
type profile func(r float64) float64

// Stationary is a kernel of the form variance * profile(|x1-x2| / lengthscale).
// Both hyperparameters are positive by default.
type Stationary struct {
	name        string
	variance    *params.Parameter
	lengthscale *params.Parameter
	profile     profile
}

func newStationary(name string, variance, lengthscale float64, settings params.Settings, p profile) (*Stationary, error) {
	positive, err := settings.PositiveTransform()
	if err != nil {
		return nil, err
	}
	v, err := params.New(variance,
		params.WithName(name+".variance"),
		params.WithTransform(positive),
		params.WithPrecision(settings.Precision),
	)
	if err != nil {
		return nil, err
	}
	l, err := params.New(lengthscale,
		params.WithName(name+".lengthscale"),
		params.WithTransform(positive),
		params.WithPrecision(settings.Precision),
	)
	if err != nil {
		return nil, err
	}
	return &Stationary{
		name:        name,
		variance:    v,
		lengthscale: l,
		profile:     p,
	}, nil
}

// NewSquaredExponential creates a squared exponential (RBF) kernel:
// k(r) = variance * exp(-r²/2).
func NewSquaredExponential(variance, lengthscale float64, settings params.Settings) (*Stationary, error) {
	return newStationary("squared_exponential", variance, lengthscale, settings, func(r float64) float64 {
		return math.Exp(-0.5 * r * r)
	})
}

// NewRBF is an alias for NewSquaredExponential.
func NewRBF(variance, lengthscale float64, settings params.Settings) (*Stationary, error) {
	return NewSquaredExponential(variance, lengthscale, settings)
}

// NewMatern12 creates a Matérn 1/2 (exponential) kernel: k(r) = variance * exp(-r).
func NewMatern12(variance, lengthscale float64, settings params.Settings) (*Stationary, error) {
	return newStationary("matern12", variance, lengthscale, settings, func(r float64) float64 {
		return math.Exp(-r)
	})
}

// NewMatern32 creates a Matérn 3/2 kernel.
func NewMatern32(variance, lengthscale float64, settings params.Settings) (*Stationary, error) {
	return newStationary("matern32", variance, lengthscale, settings, func(r float64) float64 {
		s := math.Sqrt(3) * r
		return (1 + s) * math.Exp(-s)
	})
}

// NewMatern52 creates a Matérn 5/2 kernel.
func NewMatern52(variance, lengthscale float64, settings params.Settings) (*Stationary, error) {
	return newStationary("matern52", variance, lengthscale, settings, func(r float64) float64 {
		s := math.Sqrt(5) * r
		return (1 + s + s*s/3) * math.Exp(-s)
	})
}

// Eval computes the kernel value between x1 and x2
func (k *Stationary) Eval(x1, x2 []float64) float64 {
	sumSq := 0.0
	for i := range x1 {
		diff := x1[i] - x2[i]
		sumSq += diff * diff
	}
	r := math.Sqrt(sumSq) / k.lengthscale.Value()
	return k.variance.Value() * k.profile(r)
}

// Name returns the kernel family name.
func (k *Stationary) Name() string { return k.name }

// Variance returns the signal variance parameter.
func (k *Stationary) Variance() *params.Parameter { return k.variance }

// Lengthscale returns the lengthscale parameter.
func (k *Stationary) Lengthscale() *params.Parameter { return k.lengthscale }

// SetVariance replaces the variance parameter.
func (k *Stationary) SetVariance(p *params.Parameter) error {
	if p == nil {
		return invalidArgument(k.name, "SetVariance", "variance parameter must not be nil")
	}
	k.variance = p
	return nil
}

// SetLengthscale replaces the lengthscale parameter, for example with one
// that carries a different transform or a prior.
func (k *Stationary) SetLengthscale(p *params.Parameter) error {
	if p == nil {
		return invalidArgument(k.name, "SetLengthscale", "lengthscale parameter must not be nil")
	}
	k.lengthscale = p
	return nil
}

// Parameters returns variance and lengthscale, in that order.
func (k *Stationary) Parameters() []*params.Parameter {
	return []*params.Parameter{k.variance, k.lengthscale}
}

// Hyperparameters returns the current hyperparameters as [variance, lengthscale]
func (k *Stationary) Hyperparameters() []float64 {
	return []float64{k.variance.Value(), k.lengthscale.Value()}
}

// SetHyperparameters sets the kernel's hyperparameters from [variance, lengthscale].
// Either both values are assigned or neither is.
func (k *Stationary) SetHyperparameters(values []float64) error {
	if len(values) != 2 {
		return invalidArgument(k.name, "SetHyperparameters", fmt.Sprintf("expected 2 hyperparameters, got %d", len(values)))
	}
	oldVar := k.variance.Unconstrained()
	if err := k.variance.Assign(values[0]); err != nil {
		return err
	}
	if err := k.lengthscale.Assign(values[1]); err != nil {
		k.variance.SetUnconstrained(oldVar)
		return err
	}
	return nil
}

func invalidArgument(component, op, msg string) error {
	return &optimization.Error{
		Message:   msg,
		Op:        op,
		Component: component,
		Err:       optimization.ErrInvalidData,
	}
}
