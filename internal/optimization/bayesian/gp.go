package bayesian

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/TUNDR-gp/internal/metrics"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/kernels"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/models"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/params"
)

const (
	// defaultNoiseVariance is the initial Gaussian likelihood variance.
	defaultNoiseVariance = 1.0
	// minNoiseVariance bounds the likelihood variance away from zero.
	minNoiseVariance = 1e-6
)

// GPR implements Gaussian process regression with a Gaussian likelihood.
// Every quantity is recomputed from the current parameter values on each
// call, so reassigning a parameter never leaves stale state behind.
type GPR struct {
	// Kernel function
	kernel kernels.Kernel

	// Mean function
	mean MeanFunction

	// Gaussian likelihood
	likelihood *Gaussian

	// Training data
	X *mat.Dense    // Input points (n_samples, n_features)
	Y *mat.VecDense // Target values (n_samples)

	// Jitter added when the covariance is not numerically positive definite
	jitter         float64
	jitterAttempts int

	// Matrix pool for reusing matrix allocations
	matrixPool *MatrixPool

	name     string
	logger   *zap.Logger
	recorder *metrics.Recorder
}

type gprConfig struct {
	noiseVariance  float64
	mean           MeanFunction
	logger         *zap.Logger
	recorder       *metrics.Recorder
	jitter         float64
	jitterAttempts int
	settings       params.Settings
	name           string
}

// Option configures a GPR.
type Option func(*gprConfig)

// WithNoiseVariance sets the initial likelihood variance.
func WithNoiseVariance(v float64) Option {
	return func(c *gprConfig) { c.noiseVariance = v }
}

// WithMeanFunction sets the prior mean. The default is ZeroMean.
func WithMeanFunction(m MeanFunction) Option {
	return func(c *gprConfig) { c.mean = m }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *gprConfig) { c.logger = logger }
}

// WithMetrics counts objective evaluations and jitter retries.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *gprConfig) { c.recorder = r }
}

// WithJitter sets the first jitter value and how many times it is
// increased tenfold before factorisation gives up.
func WithJitter(base float64, attempts int) Option {
	return func(c *gprConfig) {
		c.jitter = base
		c.jitterAttempts = attempts
	}
}

// WithSettings sets the numeric defaults for the likelihood parameters and
// the training data precision.
func WithSettings(s params.Settings) Option {
	return func(c *gprConfig) { c.settings = s }
}

// WithName labels logs and metrics.
func WithName(name string) Option {
	return func(c *gprConfig) { c.name = name }
}

// NewGPR creates a regression model over the training data (X, Y).
func NewGPR(X *mat.Dense, Y *mat.VecDense, kernel kernels.Kernel, opts ...Option) (*GPR, error) {
	const op = "NewGPR"

	cfg := gprConfig{
		noiseVariance:  defaultNoiseVariance,
		mean:           ZeroMean{},
		logger:         zap.NewNop(),
		jitter:         1e-6,
		jitterAttempts: 5,
		settings:       params.DefaultSettings(),
		name:           "gpr",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if kernel == nil {
		return nil, optimization.WrapError(fmt.Errorf("%w: kernel must not be nil", optimization.ErrInvalidData), "gaussian_process: "+op)
	}
	if err := validateData(X, Y); err != nil {
		return nil, optimization.WrapError(err, "gaussian_process: "+op)
	}

	likelihood, err := NewGaussian(cfg.noiseVariance, cfg.settings)
	if err != nil {
		return nil, optimization.WrapError(err, "gaussian_process: "+op)
	}

	gp := &GPR{
		kernel:         kernel,
		mean:           cfg.mean,
		likelihood:     likelihood,
		X:              castDense(X, cfg.settings.Precision),
		Y:              castVec(Y, cfg.settings.Precision),
		jitter:         cfg.jitter,
		jitterAttempts: cfg.jitterAttempts,
		matrixPool:     NewMatrixPool(),
		name:           cfg.name,
		logger:         cfg.logger.Named("gaussian_process"),
		recorder:       cfg.recorder,
	}

	n, d := gp.X.Dims()
	gp.logger.Debug("Created GP regression model",
		zap.Int("samples", n),
		zap.Int("features", d),
		zap.Float64("noise_var", likelihood.Variance().Value()),
		zap.Stringer("precision", cfg.settings.Precision),
	)
	return gp, nil
}

func validateData(X *mat.Dense, Y *mat.VecDense) error {
	if X == nil || Y == nil {
		return fmt.Errorf("%w: input matrices must not be nil", optimization.ErrInvalidData)
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return fmt.Errorf("%w: input matrix X must not be empty", optimization.ErrInvalidData)
	}
	if nSamples != Y.Len() {
		return fmt.Errorf("%w: dimension mismatch: X has %d samples but y has length %d",
			optimization.ErrInvalidData, nSamples, Y.Len())
	}
	return nil
}

// Kernel returns the covariance function.
func (gp *GPR) Kernel() kernels.Kernel { return gp.kernel }

// Likelihood returns the Gaussian likelihood.
func (gp *GPR) Likelihood() *Gaussian { return gp.likelihood }

// MeanFunction returns the prior mean.
func (gp *GPR) MeanFunction() MeanFunction { return gp.mean }

// Parameters returns kernel, mean function and likelihood parameters.
func (gp *GPR) Parameters() []*params.Parameter {
	ps := append([]*params.Parameter(nil), gp.kernel.Parameters()...)
	ps = append(ps, gp.mean.Parameters()...)
	return append(ps, gp.likelihood.Parameters()...)
}

// LogLikelihood is the log marginal likelihood; it makes GPR a models.Model.
func (gp *GPR) LogLikelihood() (float64, error) {
	return gp.LogMarginalLikelihood()
}

// LogMarginalLikelihood computes log N(Y | m(X), K(X, X) + σ²I).
func (gp *GPR) LogMarginalLikelihood() (float64, error) {
	const op = "GPR.LogMarginalLikelihood"

	if err := gp.validateParameters(); err != nil {
		return math.NaN(), optimization.WrapError(err, "gaussian_process: "+op)
	}

	n := gp.Y.Len()
	K := gp.trainCovariance()
	defer gp.matrixPool.PutSymDense(K)

	chol, err := gp.factorize(K)
	if err != nil {
		return math.NaN(), optimization.WrapError(err, "gaussian_process: "+op)
	}

	r := gp.residual()
	alpha := gp.matrixPool.GetVecDense(n)
	defer gp.matrixPool.PutVecDense(alpha)
	if err := chol.SolveVecTo(alpha, r); err != nil {
		return math.NaN(), optimization.WrapError(fmt.Errorf("failed to solve linear system: %w", err), "gaussian_process: "+op)
	}

	quad := mat.Dot(r, alpha)
	lml := -0.5*quad - 0.5*chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi)

	gp.logger.Debug("Computed log marginal likelihood",
		zap.Float64("log_marginal_likelihood", lml),
		zap.Float64("data_fit", -0.5*quad),
		zap.Float64("log_det", chol.LogDet()),
	)
	return lml, nil
}

// NegLogMarginalLikelihood returns the training objective: the negative log
// marginal likelihood minus the log prior of every parameter.
func (gp *GPR) NegLogMarginalLikelihood() (float64, error) {
	v, err := models.NegLogMarginalLikelihood(gp)
	gp.recorder.ObserveObjective(gp.name, optimization.ObjectiveMAP.String(), err)
	return v, err
}

// TrainingObjective returns the objective over packed unconstrained
// trainable values, for use by an external optimiser.
func (gp *GPR) TrainingObjective(kind optimization.ObjectiveKind) optimization.ObjectiveFunction {
	return models.Objective(gp, kind,
		models.WithModelName(gp.name),
		models.WithLogger(gp.logger),
		models.WithRecorder(gp.recorder),
	)
}

// PredictF returns the mean and variance of the latent function at Xnew.
func (gp *GPR) PredictF(Xnew *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GPR.PredictF"

	mean, cov, err := gp.posterior(Xnew, false)
	if err != nil {
		return nil, nil, optimization.WrapError(err, "gaussian_process: "+op)
	}
	m := mean.Len()
	variance := mat.NewVecDense(m, nil)
	for i := 0; i < m; i++ {
		v := cov.At(i, i)
		if v < 0 {
			gp.logger.Warn("Negative variance detected, clamping to zero",
				zap.Float64("variance", v),
				zap.Int("test_point", i),
			)
			v = 0
		}
		variance.SetVec(i, v)
	}
	return mean, variance, nil
}

// PredictY returns the mean and variance of new observations at Xnew,
// including the likelihood noise.
func (gp *GPR) PredictY(Xnew *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	mean, variance, err := gp.PredictF(Xnew)
	if err != nil {
		return nil, nil, err
	}
	noise := gp.likelihood.Variance().Value()
	for i := 0; i < variance.Len(); i++ {
		variance.SetVec(i, variance.AtVec(i)+noise)
	}
	return mean, variance, nil
}

// PredictLogDensity returns log p(Ynew[i] | Xnew[i], data) for every point.
func (gp *GPR) PredictLogDensity(Xnew *mat.Dense, Ynew *mat.VecDense) ([]float64, error) {
	const op = "GPR.PredictLogDensity"

	if err := validateData(Xnew, Ynew); err != nil {
		return nil, optimization.WrapError(err, "gaussian_process: "+op)
	}
	mean, variance, err := gp.PredictY(Xnew)
	if err != nil {
		return nil, err
	}
	out := make([]float64, mean.Len())
	for i := range out {
		out[i] = distuv.Normal{Mu: mean.AtVec(i), Sigma: math.Sqrt(variance.AtVec(i))}.LogProb(Ynew.AtVec(i))
	}
	return out, nil
}

// PredictFSamples draws nSamples joint samples of the latent function at
// Xnew from the posterior. Each column of the result is one sample.
func (gp *GPR) PredictFSamples(Xnew *mat.Dense, nSamples int, rng *rand.Rand) (*mat.Dense, error) {
	const op = "GPR.PredictFSamples"

	if nSamples <= 0 {
		return nil, optimization.WrapError(
			errors.New("number of samples must be positive"),
			"gaussian_process: "+op,
		)
	}
	if rng == nil {
		return nil, optimization.WrapError(
			errors.New("random source must not be nil"),
			"gaussian_process: "+op,
		)
	}

	mean, cov, err := gp.posterior(Xnew, true)
	if err != nil {
		return nil, optimization.WrapError(err, "gaussian_process: "+op)
	}

	chol, err := gp.factorize(cov)
	if err != nil {
		return nil, optimization.WrapError(err, "gaussian_process: "+op)
	}
	var L mat.TriDense
	chol.LTo(&L)

	nTest := mean.Len()
	stdNorm := mat.NewDense(nTest, nSamples, nil)
	for i := 0; i < nTest; i++ {
		for j := 0; j < nSamples; j++ {
			stdNorm.Set(i, j, rng.NormFloat64())
		}
	}

	// samples = mean + L * z
	samples := mat.NewDense(nTest, nSamples, nil)
	samples.Mul(&L, stdNorm)
	for i := 0; i < nTest; i++ {
		for j := 0; j < nSamples; j++ {
			samples.Set(i, j, samples.At(i, j)+mean.AtVec(i))
		}
	}
	return samples, nil
}

// posterior returns the latent mean at Xnew and either the full posterior
// covariance or a matrix whose diagonal holds the marginal variances.
func (gp *GPR) posterior(Xnew *mat.Dense, fullCov bool) (*mat.VecDense, *mat.SymDense, error) {
	if Xnew == nil {
		return nil, nil, errors.New("input matrix X is nil")
	}
	nTest, d := Xnew.Dims()
	nTrain, nFeatures := gp.X.Dims()
	if nTest == 0 || d != nFeatures {
		return nil, nil, fmt.Errorf("%w: expected test points with %d features, got %dx%d",
			optimization.ErrInvalidData, nFeatures, nTest, d)
	}
	if err := gp.validateParameters(); err != nil {
		return nil, nil, err
	}

	K := gp.trainCovariance()
	defer gp.matrixPool.PutSymDense(K)
	chol, err := gp.factorize(K)
	if err != nil {
		return nil, nil, err
	}

	// Compute kernel matrix between training and test points
	Kmn := gp.matrixPool.GetDense(nTrain, nTest)
	defer gp.matrixPool.PutDense(Kmn)
	for i := 0; i < nTrain; i++ {
		xTrain := gp.X.RawRowView(i)
		for j := 0; j < nTest; j++ {
			Kmn.Set(i, j, gp.kernel.Eval(xTrain, Xnew.RawRowView(j)))
		}
	}

	r := gp.residual()
	alpha := mat.NewVecDense(nTrain, nil)
	if err := chol.SolveVecTo(alpha, r); err != nil {
		return nil, nil, fmt.Errorf("failed to solve linear system: %w", err)
	}

	mean := mat.NewVecDense(nTest, nil)
	mean.MulVec(Kmn.T(), alpha)
	for j := 0; j < nTest; j++ {
		mean.SetVec(j, mean.AtVec(j)+gp.mean.Eval(Xnew.RawRowView(j)))
	}

	// A = K^-1 Kmn
	var A mat.Dense
	if err := chol.SolveTo(&A, Kmn); err != nil {
		return nil, nil, fmt.Errorf("failed to solve linear system: %w", err)
	}

	cov := mat.NewSymDense(nTest, nil)
	for i := 0; i < nTest; i++ {
		xi := Xnew.RawRowView(i)
		start, end := i, i+1
		if fullCov {
			end = nTest
		}
		for j := start; j < end; j++ {
			var reduction float64
			for k := 0; k < nTrain; k++ {
				reduction += Kmn.At(k, i) * A.At(k, j)
			}
			cov.SetSym(i, j, gp.kernel.Eval(xi, Xnew.RawRowView(j))-reduction)
		}
	}
	return mean, cov, nil
}

// validateParameters rejects parameters whose values left their domain, so a
// saturated lengthscale is reported as such instead of as a failed
// factorisation of a NaN covariance.
func (gp *GPR) validateParameters() error {
	for _, p := range gp.Parameters() {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// trainCovariance returns K(X, X) + σ²I in a pooled matrix.
func (gp *GPR) trainCovariance() *mat.SymDense {
	n, _ := gp.X.Dims()
	K := gp.matrixPool.GetSymDense(n)
	noise := gp.likelihood.Variance().Value()
	for i := 0; i < n; i++ {
		x1 := gp.X.RawRowView(i)
		K.SetSym(i, i, gp.kernel.Eval(x1, x1)+noise)
		for j := i + 1; j < n; j++ {
			K.SetSym(i, j, gp.kernel.Eval(x1, gp.X.RawRowView(j)))
		}
	}
	return K
}

// residual returns Y - m(X).
func (gp *GPR) residual() *mat.VecDense {
	n := gp.Y.Len()
	r := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		r.SetVec(i, gp.Y.AtVec(i)-gp.mean.Eval(gp.X.RawRowView(i)))
	}
	return r
}

// factorize computes the Cholesky factor of K. When K is not numerically
// positive definite it retries with jitter on the diagonal, increasing it
// tenfold per attempt. K is left unchanged.
func (gp *GPR) factorize(K *mat.SymDense) (*mat.Cholesky, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(K); ok {
		return &chol, nil
	}

	n := K.SymmetricDim()
	Kjittered := mat.NewSymDense(n, nil)
	jitter := gp.jitter
	for attempt := 0; attempt < gp.jitterAttempts; attempt++ {
		gp.recorder.ObserveJitterRetry(gp.name)
		gp.logger.Debug("Cholesky factorization failed, adding jitter",
			zap.Int("attempt", attempt+1),
			zap.Float64("jitter", jitter))

		Kjittered.CopySym(K)
		for i := 0; i < n; i++ {
			Kjittered.SetSym(i, i, K.At(i, i)+jitter)
		}
		if ok := chol.Factorize(Kjittered); ok {
			return &chol, nil
		}
		jitter *= 10
	}

	return nil, fmt.Errorf("%w: Cholesky decomposition failed after %d jitter attempts",
		optimization.ErrNotPositiveDefinite, gp.jitterAttempts)
}

// RandomData draws n inputs with d features and n targets, each
// scale * N(0, 1), from rng.
func RandomData(rng *rand.Rand, n, d int, scale float64) (*mat.Dense, *mat.VecDense) {
	X := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			X.Set(i, j, scale*rng.NormFloat64())
		}
	}
	Y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		Y.SetVec(i, scale*rng.NormFloat64())
	}
	return X, Y
}

func castDense(X *mat.Dense, p params.Precision) *mat.Dense {
	out := mat.DenseCopyOf(X)
	if p == params.Float64 {
		return out
	}
	out.Apply(func(_, _ int, v float64) float64 { return p.Cast(v) }, out)
	return out
}

func castVec(Y *mat.VecDense, p params.Precision) *mat.VecDense {
	out := mat.VecDenseCopyOf(Y)
	for i := 0; i < out.Len(); i++ {
		out.SetVec(i, p.Cast(out.AtVec(i)))
	}
	return out
}
