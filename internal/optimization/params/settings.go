package params

import (
	"fmt"
	"strings"
)

// Precision is the floating-point width parameter values are stored at.
type Precision int

const (
	// Float64 keeps full double precision. It is the default.
	Float64 Precision = iota
	// Float32 rounds every stored value to single precision.
	Float32
)

// ParsePrecision accepts "float64" or "float32" (case-insensitive).
// An empty string selects Float64.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "float64", "f64":
		return Float64, nil
	case "float32", "f32":
		return Float32, nil
	default:
		return Float64, fmt.Errorf("unknown float precision %q", s)
	}
}

// Cast rounds x to the precision.
func (p Precision) Cast(x float64) float64 {
	if p == Float32 {
		return float64(float32(x))
	}
	return x
}

func (p Precision) String() string {
	if p == Float32 {
		return "float32"
	}
	return "float64"
}

// Settings holds the library-wide numeric defaults used when building
// parameters that the caller did not configure explicitly.
type Settings struct {
	// Precision values are stored at.
	Precision Precision
	// Positive names the bijector used for positive parameters:
	// "softplus" or "exp".
	Positive string
	// PositiveMinimum is the lower bound of positive parameters.
	PositiveMinimum float64
}

// DefaultSettings returns float64 precision with a softplus positivity
// transform and no offset.
func DefaultSettings() Settings {
	return Settings{
		Precision:       Float64,
		Positive:        "softplus",
		PositiveMinimum: 0,
	}
}

// PositiveTransform builds the transform for a positive parameter.
func (s Settings) PositiveTransform() (Transform, error) {
	return s.PositiveTransformWithLower(s.PositiveMinimum)
}

// PositiveTransformWithLower builds the positivity transform with an
// explicit lower bound.
func (s Settings) PositiveTransformWithLower(lower float64) (Transform, error) {
	switch strings.ToLower(s.Positive) {
	case "", "softplus":
		return Softplus{Lower: lower}, nil
	case "exp":
		return Exp{Lower: lower}, nil
	default:
		return nil, fmt.Errorf("unknown positive bijector %q", s.Positive)
	}
}
