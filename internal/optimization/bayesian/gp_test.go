package bayesian

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/copyleftdev/TUNDR-gp/internal/metrics"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/kernels"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/models"
	"github.com/copyleftdev/TUNDR-gp/internal/optimization/params"
)

// allClose reports |a-b| <= atol + rtol*|b|.
func allClose(a, b float64) bool {
	const rtol, atol = 1e-5, 1e-8
	return math.Abs(a-b) <= atol+rtol*math.Abs(b)
}

func testData(t *testing.T) (*mat.Dense, *mat.VecDense) {
	t.Helper()
	return RandomData(rand.New(rand.NewSource(42)), 5, 1, 1.0)
}

func newSE(t *testing.T, lengthscale float64) *kernels.Stationary {
	t.Helper()
	k, err := kernels.NewSquaredExponential(1.0, lengthscale, params.DefaultSettings())
	require.NoError(t, err)
	return k
}

func TestGPRObjectiveIgnoresLengthscaleTransform(t *testing.T) {
	const lengthscale = 3.3
	X, Y := testData(t)

	m1, err := NewGPR(X, Y, newSE(t, lengthscale))
	require.NoError(t, err)

	k2 := newSE(t, lengthscale)
	bare, err := params.New(lengthscale, params.WithName("lengthscale"))
	require.NoError(t, err)
	require.NoError(t, k2.SetLengthscale(bare))
	m2, err := NewGPR(X, Y, k2)
	require.NoError(t, err)

	o1, err := m1.NegLogMarginalLikelihood()
	require.NoError(t, err)
	o2, err := m2.NegLogMarginalLikelihood()
	require.NoError(t, err)
	assert.True(t, allClose(o1, o2), "objectives differ: %v vs %v", o1, o2)
}

func TestGPRObjectiveAcrossTransforms(t *testing.T) {
	X, Y := testData(t)
	base, err := NewGPR(X, Y, newSE(t, 3.3))
	require.NoError(t, err)
	want, err := base.NegLogMarginalLikelihood()
	require.NoError(t, err)

	affine, err := params.NewAffineScalar(0, math.Exp(0.4))
	require.NoError(t, err)

	tests := []struct {
		name      string
		transform params.Transform
	}{
		{"identity", nil},
		{"softplus", params.Softplus{}},
		{"exp", params.Exp{}},
		{"affine", affine},
		{"chain", params.Chain(affine, params.Exp{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := newSE(t, 3.3)
			p, err := params.New(3.3, params.WithTransform(tt.transform))
			require.NoError(t, err)
			require.NoError(t, k.SetLengthscale(p))

			gp, err := NewGPR(X, Y, k)
			require.NoError(t, err)
			got, err := gp.NegLogMarginalLikelihood()
			require.NoError(t, err)
			assert.True(t, allClose(got, want), "got %v, want %v", got, want)
		})
	}
}

func TestLogMarginalLikelihoodMatchesMultivariateNormal(t *testing.T) {
	X, Y := testData(t)
	k := newSE(t, 0.7)
	gp, err := NewGPR(X, Y, k, WithNoiseVariance(0.1))
	require.NoError(t, err)

	n := Y.Len()
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := k.Eval(X.RawRowView(i), X.RawRowView(j))
			if i == j {
				v += 0.1
			}
			cov.SetSym(i, j, v)
		}
	}
	dist, ok := distmv.NewNormal(make([]float64, n), cov, nil)
	require.True(t, ok)

	lml, err := gp.LogMarginalLikelihood()
	require.NoError(t, err)
	assert.InDelta(t, dist.LogProb(Y.RawVector().Data), lml, 1e-9)
}

func TestNegLogMarginalLikelihoodIncludesPriors(t *testing.T) {
	X, Y := testData(t)
	k := newSE(t, 1.0)
	gp, err := NewGPR(X, Y, k)
	require.NoError(t, err)
	before, err := gp.NegLogMarginalLikelihood()
	require.NoError(t, err)

	prior, err := params.Gamma(2, 1)
	require.NoError(t, err)
	p, err := params.New(1.0,
		params.WithName("lengthscale"),
		params.WithTransform(params.Softplus{}),
		params.WithPrior(prior),
	)
	require.NoError(t, err)
	require.NoError(t, k.SetLengthscale(p))

	after, err := gp.NegLogMarginalLikelihood()
	require.NoError(t, err)
	lp, err := p.LogPrior()
	require.NoError(t, err)
	assert.InDelta(t, before-lp, after, 1e-10)
}

func TestGPRParameters(t *testing.T) {
	X, Y := testData(t)
	mean, err := NewConstantMean(0.5, params.DefaultSettings())
	require.NoError(t, err)
	gp, err := NewGPR(X, Y, newSE(t, 1.0), WithMeanFunction(mean))
	require.NoError(t, err)

	var names []string
	for _, p := range gp.Parameters() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{
		"squared_exponential.variance",
		"squared_exponential.lengthscale",
		"mean.constant",
		"likelihood.variance",
	}, names)
	assert.Len(t, models.Unconstrained(gp), 4)
}

func TestGPFitAndPredict(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := mat.NewVecDense(3, []float64{1, 2, 1})

	gp, err := NewGPR(X, y, newSE(t, 1.0), WithNoiseVariance(1e-4))
	require.NoError(t, err)

	mean, variance, err := gp.PredictF(X)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, y.AtVec(i), mean.AtVec(i), 1e-2, "near-noiseless GP should interpolate")
		assert.GreaterOrEqual(t, variance.AtVec(i), 0.0)
		assert.Less(t, variance.AtVec(i), 1e-3)
	}

	// far from the data the posterior reverts to the prior
	far := mat.NewDense(1, 1, []float64{100})
	mean, variance, err = gp.PredictF(far)
	require.NoError(t, err)
	assert.InDelta(t, 0, mean.AtVec(0), 1e-9)
	assert.InDelta(t, 1, variance.AtVec(0), 1e-9)
}

func TestGPWithNoise(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{-1, 0, 1})
	y := mat.NewVecDense(3, []float64{1, 0, 1})

	gp, err := NewGPR(X, y, newSE(t, 1.0), WithNoiseVariance(0.1))
	require.NoError(t, err)

	fMean, fVar, err := gp.PredictF(X)
	require.NoError(t, err)
	yMean, yVar, err := gp.PredictY(X)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.InDelta(t, y.AtVec(i), fMean.AtVec(i), 0.5, "prediction should be close to training data")
		assert.Greater(t, fVar.AtVec(i), 0.0, "variance should be positive")
		assert.Equal(t, fMean.AtVec(i), yMean.AtVec(i))
		assert.InDelta(t, fVar.AtVec(i)+0.1, yVar.AtVec(i), 1e-12)
	}
}

func TestPredictWithConstantMean(t *testing.T) {
	X, Y := testData(t)
	mean, err := NewConstantMean(3, params.DefaultSettings())
	require.NoError(t, err)
	gp, err := NewGPR(X, Y, newSE(t, 0.5), WithMeanFunction(mean))
	require.NoError(t, err)

	m, _, err := gp.PredictF(mat.NewDense(1, 1, []float64{1e3}))
	require.NoError(t, err)
	assert.InDelta(t, 3, m.AtVec(0), 1e-9)
}

func TestPredictLogDensity(t *testing.T) {
	X, Y := testData(t)
	gp, err := NewGPR(X, Y, newSE(t, 1.0), WithNoiseVariance(0.2))
	require.NoError(t, err)

	Xnew := mat.NewDense(2, 1, []float64{0.1, 0.9})
	Ynew := mat.NewVecDense(2, []float64{0.3, -0.2})
	got, err := gp.PredictLogDensity(Xnew, Ynew)
	require.NoError(t, err)
	require.Len(t, got, 2)

	mean, variance, err := gp.PredictY(Xnew)
	require.NoError(t, err)
	for i := range got {
		d := Ynew.AtVec(i) - mean.AtVec(i)
		want := -0.5*math.Log(2*math.Pi*variance.AtVec(i)) - 0.5*d*d/variance.AtVec(i)
		assert.InDelta(t, want, got[i], 1e-12)
	}

	_, err = gp.PredictLogDensity(Xnew, mat.NewVecDense(1, []float64{0}))
	assert.ErrorIs(t, err, optimization.ErrInvalidData)
}

func TestGPSampling(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := mat.NewVecDense(3, []float64{1, 2, 1})

	gp, err := NewGPR(X, y, newSE(t, 1.0), WithNoiseVariance(0.1))
	require.NoError(t, err)

	Xtest := mat.NewDense(4, 1, []float64{0.5, 1.5, 2.5, 3.5})
	samples, err := gp.PredictFSamples(Xtest, 5, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	nPoints, nSamples := samples.Dims()
	assert.Equal(t, 4, nPoints, "number of points should match input dimensions")
	assert.Equal(t, 5, nSamples, "number of samples should match")

	for i := 1; i < nSamples; i++ {
		same := true
		for j := 0; j < nPoints; j++ {
			if samples.At(j, i) != samples.At(j, 0) {
				same = false
				break
			}
		}
		assert.False(t, same, "samples should be different")
	}

	again, err := gp.PredictFSamples(Xtest, 5, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.True(t, mat.Equal(samples, again), "same seed should give the same samples")
}

func TestGPSampleMoments(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{0, 1})
	y := mat.NewVecDense(2, []float64{1, -1})
	gp, err := NewGPR(X, y, newSE(t, 1.0), WithNoiseVariance(0.05))
	require.NoError(t, err)

	Xtest := mat.NewDense(1, 1, []float64{0.5})
	mean, variance, err := gp.PredictF(Xtest)
	require.NoError(t, err)

	const n = 20000
	samples, err := gp.PredictFSamples(Xtest, n, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	var sum, sumSq float64
	for j := 0; j < n; j++ {
		v := samples.At(0, j)
		sum += v
		sumSq += v * v
	}
	m := sum / n
	assert.InDelta(t, mean.AtVec(0), m, 0.02)
	assert.InDelta(t, variance.AtVec(0), sumSq/n-m*m, 0.02)
}

func TestGPErrorHandling(t *testing.T) {
	k := newSE(t, 1.0)

	t.Run("empty input", func(t *testing.T) {
		var emptyX *mat.Dense
		var emptyY *mat.VecDense

		_, err := NewGPR(emptyX, emptyY, k)
		require.Error(t, err, "should error on nil input")
		assert.Contains(t, err.Error(), "input matrices must not be nil")
		assert.ErrorIs(t, err, optimization.ErrInvalidData)

		_, err = NewGPR(&mat.Dense{}, &mat.VecDense{}, k)
		require.Error(t, err, "should error on zero-length input")
		assert.Contains(t, err.Error(), "input matrix X must not be empty")
	})

	t.Run("mismatched dimensions", func(t *testing.T) {
		X := mat.NewDense(3, 1, []float64{1, 2, 3})
		y := mat.NewVecDense(2, []float64{1, 2})
		_, err := NewGPR(X, y, k)
		require.Error(t, err, "should error on mismatched dimensions")
		assert.Contains(t, err.Error(), "dimension mismatch: X has 3 samples but y has length 2")
	})

	t.Run("nil kernel", func(t *testing.T) {
		X, Y := testData(t)
		_, err := NewGPR(X, Y, nil)
		assert.ErrorIs(t, err, optimization.ErrInvalidData)
	})

	t.Run("noise variance at the bound", func(t *testing.T) {
		X, Y := testData(t)
		_, err := NewGPR(X, Y, k, WithNoiseVariance(minNoiseVariance))
		assert.ErrorIs(t, err, optimization.ErrDomain)
	})

	gp, err := NewGPR(mat.NewDense(2, 1, []float64{0, 1}), mat.NewVecDense(2, []float64{0, 1}), k)
	require.NoError(t, err)

	t.Run("predict with wrong features", func(t *testing.T) {
		_, _, err := gp.PredictF(mat.NewDense(1, 2, []float64{0, 0}))
		assert.ErrorIs(t, err, optimization.ErrInvalidData)
		_, _, err = gp.PredictF(nil)
		assert.Error(t, err)
	})

	t.Run("sample arguments", func(t *testing.T) {
		Xtest := mat.NewDense(1, 1, []float64{0})
		_, err := gp.PredictFSamples(Xtest, 0, rand.New(rand.NewSource(1)))
		assert.Error(t, err)
		_, err = gp.PredictFSamples(Xtest, 1, nil)
		assert.Error(t, err)
	})
}

func TestGPDuplicatePoints(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1.0, 1.0, 1.0})
	y := mat.NewVecDense(3, []float64{1.0, 1.0, 1.1})

	gp, err := NewGPR(X, y, newSE(t, 1.0), WithNoiseVariance(1e-5))
	require.NoError(t, err)

	lml, err := gp.LogMarginalLikelihood()
	require.NoError(t, err)
	assert.False(t, math.IsNaN(lml))

	_, variances, err := gp.PredictF(mat.NewDense(1, 1, []float64{1.0}))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, variances.AtVec(0), 0.0, "variance should be non-negative")
}

func TestFactorizeJitter(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	X, Y := testData(t)
	gp, err := NewGPR(X, Y, newSE(t, 1.0),
		WithJitter(1e-6, 3),
		WithMetrics(rec),
		WithName("jitter"),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)

	// rank one, so singular without jitter
	singular := mat.NewSymDense(2, []float64{1, 1, 1, 1})
	chol, err := gp.factorize(singular)
	require.NoError(t, err)
	require.NotNil(t, chol)
	assert.Equal(t, 1.0, singular.At(0, 0), "input should be left unchanged")
	assert.GreaterOrEqual(t, testutil.ToFloat64(rec.JitterRetries.WithLabelValues("jitter")), 1.0)

	negative := mat.NewSymDense(2, []float64{-1, 0, 0, -1})
	_, err = gp.factorize(negative)
	require.Error(t, err)
	assert.True(t, errors.Is(err, optimization.ErrNotPositiveDefinite))
}

func TestSaturatedLengthscaleIsDomainError(t *testing.T) {
	X, Y := testData(t)
	k := newSE(t, 1.0)
	ls, err := params.New(1.0, params.WithName("lengthscale"), params.WithTransform(params.Exp{}))
	require.NoError(t, err)
	require.NoError(t, k.SetLengthscale(ls))
	gp, err := NewGPR(X, Y, k)
	require.NoError(t, err)

	ls.SetUnconstrained(-800)
	require.Equal(t, 0.0, ls.Value())

	v, err := gp.LogMarginalLikelihood()
	assert.True(t, math.IsNaN(v))
	assert.ErrorIs(t, err, optimization.ErrDomain)
	assert.NotErrorIs(t, err, optimization.ErrNotPositiveDefinite)

	_, _, err = gp.PredictF(X)
	assert.ErrorIs(t, err, optimization.ErrDomain)

	f := gp.TrainingObjective(optimization.ObjectiveMAP)
	x := models.Unconstrained(gp)
	_, err = f(x)
	assert.ErrorIs(t, err, optimization.ErrDomain)
}

func TestTrainingObjective(t *testing.T) {
	rec := metrics.New(prometheus.NewRegistry())
	X, Y := testData(t)
	gp, err := NewGPR(X, Y, newSE(t, 1.0), WithMetrics(rec), WithName("toy"))
	require.NoError(t, err)

	f := gp.TrainingObjective(optimization.ObjectiveMAP)
	x := models.Unconstrained(gp)
	got, err := f(x)
	require.NoError(t, err)

	want, err := gp.NegLogMarginalLikelihood()
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-12)
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.ObjectiveEvaluations.WithLabelValues("toy", "map")))

	mle := gp.TrainingObjective(optimization.ObjectiveMLE)
	nll, err := mle(x)
	require.NoError(t, err)
	lml, err := gp.LogMarginalLikelihood()
	require.NoError(t, err)
	assert.InDelta(t, -lml, nll, 1e-12)
}

func TestFloat32Precision(t *testing.T) {
	settings := params.DefaultSettings()
	settings.Precision = params.Float32
	k, err := kernels.NewSquaredExponential(1.0, 0.3, settings)
	require.NoError(t, err)

	X, Y := testData(t)
	gp, err := NewGPR(X, Y, k, WithSettings(settings))
	require.NoError(t, err)

	for i := 0; i < Y.Len(); i++ {
		assert.Equal(t, float64(float32(Y.AtVec(i))), gp.Y.AtVec(i))
	}
	assert.Equal(t, params.Float32, gp.Likelihood().Variance().Precision())

	lml32, err := gp.LogMarginalLikelihood()
	require.NoError(t, err)

	gp64, err := NewGPR(X, Y, newSE(t, 0.3))
	require.NoError(t, err)
	lml64, err := gp64.LogMarginalLikelihood()
	require.NoError(t, err)
	assert.InDelta(t, lml64, lml32, 1e-4)
}

func TestRandomDataDeterministic(t *testing.T) {
	X1, Y1 := RandomData(rand.New(rand.NewSource(3)), 4, 2, 2.0)
	X2, Y2 := RandomData(rand.New(rand.NewSource(3)), 4, 2, 2.0)
	assert.True(t, mat.Equal(X1, X2))
	assert.True(t, mat.Equal(Y1, Y2))

	r, c := X1.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 4, Y1.Len())
}

func TestGaussianLikelihood(t *testing.T) {
	g, err := NewGaussian(0.5, params.DefaultSettings())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, g.Variance().Value(), 1e-12)
	assert.InDelta(t, -0.5*math.Log(2*math.Pi*0.5), g.LogDensity(1, 1), 1e-12)

	// the bound holds for any raw value
	g.Variance().SetUnconstrained(-1e3)
	assert.GreaterOrEqual(t, g.Variance().Value(), minNoiseVariance)

	assert.ErrorIs(t, g.SetVariance(nil), optimization.ErrInvalidData)
	_, err = NewGaussian(0, params.DefaultSettings())
	assert.ErrorIs(t, err, optimization.ErrDomain)
}
