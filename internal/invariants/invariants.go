// Package invariants runs the numerical contracts between parameters,
// transforms and priors against live models and reports each as a Result.
package invariants

import (
	"errors"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats/scalar"

	apperrors "github.com/copyleftdev/TUNDR-gp/internal/errors"
	"github.com/copyleftdev/TUNDR-gp/internal/metrics"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/bayesian"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/kernels"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/models"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/params"
)

// Check names, used as metric labels.
const (
	CheckGPRObjective   = "gpr_objective_equivalence"
	CheckLogPriorNone   = "log_prior_without_prior"
	CheckMAPLogDetJacob = "map_contains_log_det_jacobian"
)

const (
	lengthscale    = 3.3
	priorlessValue = 5.3
	toyValue       = 3.3
	toyLogScale    = 0.4

	rtol = 1e-5
	atol = 1e-8
)

// Config controls the data and numerics the checks run with.
type Config struct {
	Settings       params.Settings
	Jitter         float64
	JitterAttempts int
	Seed           int64
	DataPoints     int
	DataScale      float64
}

// DefaultConfig returns five 1-D points, each 10·N(0, 1) drawn with seed 42,
// and the default parameter settings.
func DefaultConfig() Config {
	return Config{
		Settings:       params.DefaultSettings(),
		Jitter:         1e-6,
		JitterAttempts: 5,
		Seed:           42,
		DataPoints:     5,
		DataScale:      10.0,
	}
}

// Result is the outcome of one check.
type Result struct {
	Name   string
	Got    float64
	Want   float64
	Passed bool
}

func allClose(got, want float64) bool {
	return scalar.EqualWithinAbsOrRel(got, want, atol, rtol)
}

// GPRObjectiveEquivalence compares the GPR training objective when the
// lengthscale is a bare value and when it is a parameter under various
// transforms. The objective must not depend on the parametrisation.
// The first result is the bare identity parameter.
func GPRObjectiveEquivalence(cfg Config) ([]Result, error) {
	X, Y := bayesian.RandomData(rand.New(rand.NewSource(cfg.Seed)), cfg.DataPoints, 1, cfg.DataScale)

	objective := func(k *kernels.Stationary) (float64, error) {
		gp, err := bayesian.NewGPR(X, Y, k,
			bayesian.WithSettings(cfg.Settings),
			bayesian.WithJitter(cfg.Jitter, cfg.JitterAttempts),
		)
		if err != nil {
			return math.NaN(), err
		}
		return gp.NegLogMarginalLikelihood()
	}

	base, err := kernels.NewSquaredExponential(1.0, lengthscale, cfg.Settings)
	if err != nil {
		return nil, err
	}
	want, err := objective(base)
	if err != nil {
		return nil, err
	}

	affine, err := params.NewAffineScalar(0, math.Exp(toyLogScale))
	if err != nil {
		return nil, err
	}
	variants := []struct {
		name      string
		transform params.Transform
	}{
		{"identity", nil},
		{"softplus", params.Softplus{}},
		{"exp", params.Exp{}},
		{"affine", affine},
	}

	results := make([]Result, 0, len(variants))
	for _, v := range variants {
		k, err := kernels.NewSquaredExponential(1.0, lengthscale, cfg.Settings)
		if err != nil {
			return results, err
		}
		p, err := params.New(lengthscale,
			params.WithName("lengthscale"),
			params.WithTransform(v.transform),
			params.WithPrecision(cfg.Settings.Precision),
		)
		if err != nil {
			return results, err
		}
		if err := k.SetLengthscale(p); err != nil {
			return results, err
		}
		got, err := objective(k)
		if err != nil {
			return results, err
		}
		results = append(results, Result{
			Name:   CheckGPRObjective + "/" + v.name,
			Got:    got,
			Want:   want,
			Passed: allClose(got, want),
		})
	}
	return results, nil
}

// LogPriorWithoutPrior checks that a positive parameter with no prior has a
// log prior of exactly zero.
func LogPriorWithoutPrior(cfg Config) (Result, error) {
	transform, err := cfg.Settings.PositiveTransform()
	if err != nil {
		return Result{}, err
	}
	p, err := params.New(priorlessValue,
		params.WithTransform(transform),
		params.WithPrecision(cfg.Settings.Precision),
	)
	if err != nil {
		return Result{}, err
	}
	lp, err := p.LogPrior()
	if err != nil {
		return Result{}, err
	}
	return Result{Name: CheckLogPriorNone, Got: lp, Want: 0, Passed: lp == 0}, nil
}

// toyModel has one parameter theta and log likelihood (theta + 5)².
type toyModel struct {
	theta *params.Parameter
}

func newToyModel(cfg Config, transform params.Transform) (*toyModel, error) {
	prior, err := params.Normal(1.0, 1.0)
	if err != nil {
		return nil, err
	}
	theta, err := params.New(toyValue,
		params.WithName("theta"),
		params.WithPrior(prior),
		params.WithTransform(transform),
		params.WithPrecision(cfg.Settings.Precision),
	)
	if err != nil {
		return nil, err
	}
	return &toyModel{theta: theta}, nil
}

func (m *toyModel) LogLikelihood() (float64, error) {
	v := m.theta.Value() + 5
	return v * v, nil
}

func (m *toyModel) Parameters() []*params.Parameter {
	return []*params.Parameter{m.theta}
}

// MAPContainsLogDetJacobian checks that scaling a prior-carrying parameter
// by exp(0.4) raises the log posterior by exactly 0.4.
func MAPContainsLogDetJacobian(cfg Config) (Result, error) {
	affine, err := params.NewAffineScalar(0, math.Exp(toyLogScale))
	if err != nil {
		return Result{}, err
	}
	withTransform, err := newToyModel(cfg, affine)
	if err != nil {
		return Result{}, err
	}
	without, err := newToyModel(cfg, nil)
	if err != nil {
		return Result{}, err
	}

	nlml1, err := models.NegLogMarginalLikelihood(withTransform)
	if err != nil {
		return Result{}, err
	}
	nlml2, err := models.NegLogMarginalLikelihood(without)
	if err != nil {
		return Result{}, err
	}

	got, want := -nlml1, -nlml2+toyLogScale
	return Result{Name: CheckMAPLogDetJacob, Got: got, Want: want, Passed: allClose(got, want)}, nil
}

// RunAll runs every check, logs and records each outcome, and returns the
// results of the checks that completed. A check that fails to run does not
// stop the others; its error is included in the returned error.
func RunAll(cfg Config, logger *zap.Logger, recorder *metrics.Recorder) ([]Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("invariants")

	var (
		results []Result
		errs    []error
	)
	record := func(check string, rs []Result, err error) {
		if err != nil {
			recorder.ObserveInvariant(check, false, err)
			logger.Error("Check could not run", zap.String("check", check), zap.Error(err))
			errs = append(errs, apperrors.Wrap(err, "invariant check failed to run").
				WithOperation(check).
				WithComponent("invariants"))
			return
		}
		for _, r := range rs {
			recorder.ObserveInvariant(check, r.Passed, nil)
			fields := []zap.Field{
				zap.String("check", r.Name),
				zap.Float64("got", r.Got),
				zap.Float64("want", r.Want),
				zap.Bool("passed", r.Passed),
			}
			if r.Passed {
				logger.Info("Check passed", fields...)
			} else {
				logger.Warn("Check failed", fields...)
			}
		}
		results = append(results, rs...)
	}

	rs, err := GPRObjectiveEquivalence(cfg)
	record(CheckGPRObjective, rs, err)

	r, err := LogPriorWithoutPrior(cfg)
	record(CheckLogPriorNone, []Result{r}, err)

	r, err = MAPContainsLogDetJacobian(cfg)
	record(CheckMAPLogDetJacob, []Result{r}, err)

	return results, errors.Join(errs...)
}

// Failed returns the number of results that did not pass.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Passed {
			n++
		}
	}
	return n
}
