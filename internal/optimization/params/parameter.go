// Package params provides the Parameter type shared by kernels, likelihoods
// and models, together with the transforms and priors it is configured with.
//
// A Parameter stores a single unconstrained (raw) value. Its constrained
// value is derived from the raw one on every read, so the two can never
// disagree. Assigning a constrained value solves for the raw value through
// the transform's inverse.
//
// Priors are defined on the constrained value by default. LogPrior then
// returns the density of the raw value, which is the prior log density plus
// log|J| of the transform. A MAP objective built from LogPrior is therefore
// larger by exactly log|J| than the same objective with no transform.
package params

import (
	"fmt"
	"math"

	"github.com/copyleftdev/TUNDR-gp/internal/optimization"
)

// Parameter is a scalar model parameter with an optional transform and prior.
type Parameter struct {
	name      string
	raw       float64
	transform Transform
	prior     Prior
	priorOn   PriorOn
	trainable bool
	precision Precision
}

// Option configures a Parameter.
type Option func(*Parameter)

// WithName sets the name used in logs and errors.
func WithName(name string) Option {
	return func(p *Parameter) { p.name = name }
}

// WithTransform sets the bijection from raw to constrained space.
// A nil transform means identity.
func WithTransform(t Transform) Option {
	return func(p *Parameter) { p.transform = t }
}

// WithPrior sets the prior. A nil prior means none.
func WithPrior(prior Prior) Option {
	return func(p *Parameter) { p.prior = prior }
}

// WithPriorOn selects the space the prior is defined on.
func WithPriorOn(on PriorOn) Option {
	return func(p *Parameter) { p.priorOn = on }
}

// WithTrainable marks whether an optimiser may move the parameter.
func WithTrainable(trainable bool) Option {
	return func(p *Parameter) { p.trainable = trainable }
}

// WithPrecision sets the precision the raw value is stored at.
func WithPrecision(precision Precision) Option {
	return func(p *Parameter) { p.precision = precision }
}

// New creates a parameter whose constrained value is value.
// It fails with optimization.ErrDomain when value lies outside the range of
// the transform.
func New(value float64, opts ...Option) (*Parameter, error) {
	p := &Parameter{
		name:      "parameter",
		trainable: true,
		precision: Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Assign(value); err != nil {
		return nil, err
	}
	return p, nil
}

// Value returns the constrained value.
func (p *Parameter) Value() float64 {
	if p.transform == nil {
		return p.raw
	}
	return p.precision.Cast(p.transform.Forward(p.raw))
}

// Unconstrained returns the raw value an optimiser works on.
func (p *Parameter) Unconstrained() float64 {
	return p.raw
}

// SetUnconstrained replaces the raw value.
func (p *Parameter) SetUnconstrained(raw float64) {
	p.raw = p.precision.Cast(raw)
}

// Assign sets the constrained value. The parameter is left unchanged when
// value has no preimage under the transform.
func (p *Parameter) Assign(value float64) error {
	value = p.precision.Cast(value)
	if p.transform == nil {
		p.raw = value
		return nil
	}
	raw, err := p.transform.Inverse(value)
	if err != nil {
		return &optimization.Error{
			Message:   fmt.Sprintf("cannot assign %v", value),
			Op:        "Assign",
			Component: p.name,
			Err:       err,
		}
	}
	p.raw = p.precision.Cast(raw)
	return nil
}

// LogPrior returns the log prior density of the raw value.
//
// A parameter without a prior returns exactly 0 whatever its transform.
// When the density is NaN or -Inf the value is returned together with an
// error wrapping optimization.ErrOutsideSupport.
func (p *Parameter) LogPrior() (float64, error) {
	if p.prior == nil {
		return 0, nil
	}

	var lp float64
	switch {
	case p.priorOn == PriorOnUnconstrained:
		lp = p.prior.LogProb(p.raw)
	case p.transform == nil:
		lp = p.prior.LogProb(p.raw)
	default:
		lp = p.prior.LogProb(p.Value()) + p.transform.LogAbsDetJacobian(p.raw)
	}

	if !inSupport(lp) {
		return lp, &optimization.Error{
			Message:   fmt.Sprintf("log prior is %v at %v", lp, p.Value()),
			Op:        "LogPrior",
			Component: p.name,
			Err:       optimization.ErrOutsideSupport,
		}
	}
	return lp, nil
}

// Name returns the parameter name.
func (p *Parameter) Name() string { return p.name }

// Transform returns the transform, or nil for identity.
func (p *Parameter) Transform() Transform { return p.transform }

// Prior returns the prior, or nil.
func (p *Parameter) Prior() Prior { return p.prior }

// PriorOn returns the space the prior is defined on.
func (p *Parameter) PriorOn() PriorOn { return p.priorOn }

// Trainable reports whether an optimiser may move the parameter.
func (p *Parameter) Trainable() bool { return p.trainable }

// SetTrainable marks the parameter as trainable or fixed.
func (p *Parameter) SetTrainable(trainable bool) { p.trainable = trainable }

// Precision returns the precision the raw value is stored at.
func (p *Parameter) Precision() Precision { return p.precision }

func (p *Parameter) String() string {
	transform := "identity"
	if p.transform != nil {
		transform = p.transform.Name()
	}
	prior := "none"
	if p.prior != nil {
		prior = fmt.Sprintf("%T", p.prior)
	}
	return fmt.Sprintf("%s{value=%v, transform=%s, prior=%s, trainable=%t}",
		p.name, p.Value(), transform, prior, p.trainable)
}

// IsFinite reports whether both representations of the parameter are finite.
func (p *Parameter) IsFinite() bool {
	v := p.Value()
	return !math.IsNaN(p.raw) && !math.IsInf(p.raw, 0) && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate returns an error wrapping optimization.ErrDomain when the raw or
// constrained value is not finite, or when the constrained value has fallen
// onto the boundary of the transform's range. The latter happens when the
// forward map saturates, e.g. Exp at a very negative raw value gives 0.
func (p *Parameter) Validate() error {
	if !p.IsFinite() {
		return &optimization.Error{
			Message:   fmt.Sprintf("value %v (raw %v) is not finite", p.Value(), p.raw),
			Op:        "Validate",
			Component: p.name,
			Err:       optimization.ErrDomain,
		}
	}
	if p.transform == nil {
		return nil
	}
	if _, err := p.transform.Inverse(p.Value()); err != nil {
		return &optimization.Error{
			Message:   fmt.Sprintf("raw value %v maps outside the range of %s", p.raw, p.transform.Name()),
			Op:        "Validate",
			Component: p.name,
			Err:       err,
		}
	}
	return nil
}
