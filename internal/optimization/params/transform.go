package params

import (
	"fmt"
	"math"
	"strings"

	"github.com/copyleftdev/TUNDR-gp/internal/optimization"
)

// Transform is a bijection from the unconstrained space an optimiser works in
// to the constrained space a model reads its parameters from.
type Transform interface {
	// Forward maps an unconstrained value to its constrained value.
	Forward(x float64) float64

	// Inverse maps a constrained value back to the unconstrained space.
	// It fails with optimization.ErrDomain when y is outside the range of
	// Forward.
	Inverse(y float64) (float64, error)

	// LogAbsDetJacobian returns log|dForward/dx| at the unconstrained value x.
	LogAbsDetJacobian(x float64) float64

	// Name identifies the transform in logs and errors.
	Name() string
}

func domainError(t Transform, y float64, format string, args ...interface{}) error {
	return &optimization.Error{
		Message:   fmt.Sprintf("%v: "+format, append([]interface{}{y}, args...)...),
		Op:        "Inverse",
		Component: t.Name(),
		Err:       optimization.ErrDomain,
	}
}

// Identity leaves values unchanged. A Parameter without a transform behaves
// as if it had this one.
type Identity struct{}

func (Identity) Forward(x float64) float64 { return x }

func (Identity) Inverse(y float64) (float64, error) { return y, nil }

func (Identity) LogAbsDetJacobian(x float64) float64 { return 0 }

func (Identity) Name() string { return "identity" }

// Exp maps the real line onto (Lower, +inf) with y = exp(x) + Lower.
type Exp struct {
	Lower float64
}

func (t Exp) Forward(x float64) float64 {
	return math.Exp(x) + t.Lower
}

func (t Exp) Inverse(y float64) (float64, error) {
	if !(y > t.Lower) {
		return math.NaN(), domainError(t, y, "must be greater than %v", t.Lower)
	}
	return math.Log(y - t.Lower), nil
}

func (t Exp) LogAbsDetJacobian(x float64) float64 {
	return x
}

func (t Exp) Name() string {
	if t.Lower == 0 {
		return "exp"
	}
	return fmt.Sprintf("exp(lower=%v)", t.Lower)
}

// Softplus maps the real line onto (Lower, +inf) with
// y = log(1 + exp(x)) + Lower. It grows linearly for large x, which keeps
// gradients well scaled for large constrained values.
type Softplus struct {
	Lower float64
}

func (t Softplus) Forward(x float64) float64 {
	return softplus(x) + t.Lower
}

func (t Softplus) Inverse(y float64) (float64, error) {
	v := y - t.Lower
	if !(v > 0) {
		return math.NaN(), domainError(t, y, "must be greater than %v", t.Lower)
	}
	// log(exp(v) - 1) written to stay finite for large v
	return v + math.Log(-math.Expm1(-v)), nil
}

// LogAbsDetJacobian is log(sigmoid(x)).
func (t Softplus) LogAbsDetJacobian(x float64) float64 {
	return -softplus(-x)
}

func (t Softplus) Name() string {
	if t.Lower == 0 {
		return "softplus"
	}
	return fmt.Sprintf("softplus(lower=%v)", t.Lower)
}

// AffineScalar computes y = Shift + Scale*x. Scale must be non-zero.
type AffineScalar struct {
	Shift float64
	Scale float64
}

// NewAffineScalar validates scale before building the transform.
func NewAffineScalar(shift, scale float64) (AffineScalar, error) {
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return AffineScalar{}, optimization.NewErrorf("scale must be finite and non-zero, got %v", scale).
			WithComponent("affine_scalar").WithOperation("NewAffineScalar")
	}
	return AffineScalar{Shift: shift, Scale: scale}, nil
}

func (t AffineScalar) Forward(x float64) float64 {
	return t.Shift + t.Scale*x
}

func (t AffineScalar) Inverse(y float64) (float64, error) {
	if t.Scale == 0 {
		return math.NaN(), domainError(t, y, "transform has zero scale")
	}
	return (y - t.Shift) / t.Scale, nil
}

func (t AffineScalar) LogAbsDetJacobian(x float64) float64 {
	return math.Log(math.Abs(t.Scale))
}

func (t AffineScalar) Name() string {
	return fmt.Sprintf("affine(shift=%v, scale=%v)", t.Shift, t.Scale)
}

// Sigmoid maps the real line onto the open interval (Low, High).
type Sigmoid struct {
	Low  float64
	High float64
}

// NewSigmoid validates the interval before building the transform.
func NewSigmoid(low, high float64) (Sigmoid, error) {
	if !(high > low) {
		return Sigmoid{}, optimization.NewErrorf("high (%v) must be greater than low (%v)", high, low).
			WithComponent("sigmoid").WithOperation("NewSigmoid")
	}
	return Sigmoid{Low: low, High: high}, nil
}

func (t Sigmoid) Forward(x float64) float64 {
	return t.Low + (t.High-t.Low)*sigmoid(x)
}

func (t Sigmoid) Inverse(y float64) (float64, error) {
	if !(y > t.Low && y < t.High) {
		return math.NaN(), domainError(t, y, "must lie in (%v, %v)", t.Low, t.High)
	}
	p := (y - t.Low) / (t.High - t.Low)
	return math.Log(p) - math.Log1p(-p), nil
}

func (t Sigmoid) LogAbsDetJacobian(x float64) float64 {
	return math.Log(t.High-t.Low) - softplus(-x) - softplus(x)
}

func (t Sigmoid) Name() string {
	return fmt.Sprintf("sigmoid(low=%v, high=%v)", t.Low, t.High)
}

// ChainTransform composes transforms. The last one is applied first.
type ChainTransform struct {
	parts []Transform
}

// Chain builds Forward(x) = parts[0](parts[1](...parts[n-1](x))).
func Chain(parts ...Transform) ChainTransform {
	return ChainTransform{parts: append([]Transform(nil), parts...)}
}

func (c ChainTransform) Forward(x float64) float64 {
	for i := len(c.parts) - 1; i >= 0; i-- {
		x = c.parts[i].Forward(x)
	}
	return x
}

func (c ChainTransform) Inverse(y float64) (float64, error) {
	for _, t := range c.parts {
		var err error
		if y, err = t.Inverse(y); err != nil {
			return math.NaN(), optimization.WrapErrorf(err, "chain %s", c.Name())
		}
	}
	return y, nil
}

func (c ChainTransform) LogAbsDetJacobian(x float64) float64 {
	var sum float64
	for i := len(c.parts) - 1; i >= 0; i-- {
		sum += c.parts[i].LogAbsDetJacobian(x)
		x = c.parts[i].Forward(x)
	}
	return sum
}

func (c ChainTransform) Name() string {
	names := make([]string, len(c.parts))
	for i, t := range c.parts {
		names[i] = t.Name()
	}
	return "chain(" + strings.Join(names, ", ") + ")"
}

// softplus is log(1 + exp(x)) without overflow.
func softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
