// Package latent produces starting points for the latent inputs of a
// latent-variable model.
package latent

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/reggo/gpcheck/common"
	"github.com/reggo/gpcheck/scale"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Method selects how the latent inputs are initialised.
type Method string

const (
	PCA    Method = "PCA"
	Random Method = "random"

	// Deprecated: use Random.
	EmpiricalSamples Method = "empirical_samples"
)

// jitter is added to the diagonal of YYᵀ before sampling from it.
const jitter = 1e-6

// Initialize returns an N×inputDim matrix of latent inputs for the N×D data
// Y, and a variance of length inputDim.
//
// The latent inputs start as standard normal draws. PCA overwrites the
// leading columns with the projection of the standardised Y onto its top
// min(inputDim, D) principal components and sets the variance to 0.1 times
// the fraction of variance each component explains, zero beyond the
// components found. EmpiricalSamples overwrites the leading columns with
// draws from N(0, YYᵀ + 1e-6 I). Every other method, including Random, uses
// the population variance of each latent column. Methods other than PCA and
// Random are deprecated and log a warning.
//
// The returned columns always have zero mean and unit population standard
// deviation, and the variance is divided by its maximum. A nil rnd uses a
// fixed seed.
func Initialize(method Method, inputDim int, Y mat.Matrix, rnd *rand.Rand) (*mat.Dense, []float64, error) {
	if Y == nil {
		return nil, nil, common.ErrNoData
	}
	n, d := Y.Dims()
	if n == 0 {
		return nil, nil, fmt.Errorf("latent: %w", common.ErrNoData)
	}
	if inputDim < 1 {
		return nil, nil, fmt.Errorf("latent: input dimension %d: %w", inputDim, common.ErrInputDimension)
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(1, 2))
	}

	X := mat.NewDense(n, inputDim, nil)
	for i := 0; i < n; i++ {
		row := X.RawRowView(i)
		for j := range row {
			row[j] = rnd.NormFloat64()
		}
	}
	k := min(inputDim, d)

	var variance []float64
	switch method {
	case PCA:
		variance = principal(X, Y, k)
	case Random:
		variance = columnVariance(X)
	case EmpiricalSamples:
		common.Log.Warnf("Deprecated initialization method %q. Use %q instead.", EmpiricalSamples, Random)
		empirical(X, Y, k, rnd)
		variance = columnVariance(X)
	default:
		common.Log.Warnf("%q is not a valid initialization method. Support for anything other than %q or %q will be removed.", method, PCA, Random)
		variance = columnVariance(X)
	}

	var s scale.Normal
	if err := s.SetScale(X); err != nil {
		var unif *scale.UniformDimension
		if !errors.As(err, &unif) {
			return nil, nil, err
		}
		common.Log.Warnw("latent columns are constant", "dims", unif.Dims)
	}
	if err := scale.ScaleData(&s, X); err != nil {
		return nil, nil, err
	}

	if top := floats.Max(variance); top > 0 {
		for i := range variance {
			variance[i] /= top
		}
	}
	return X, variance, nil
}

// principal writes the projection of the standardised Y onto its top k
// principal components into the leading columns of X. It returns 0.1 times
// the explained fractions, padded with zeros to the width of X.
func principal(X *mat.Dense, Y mat.Matrix, k int) []float64 {
	n, q := X.Dims()
	variance := make([]float64, q)
	if k == 0 {
		return variance
	}
	if n < 2 {
		common.Log.Warnw("too few rows for principal components", "rows", n)
		return variance
	}

	std := mat.DenseCopyOf(Y)
	var s scale.Normal
	if err := s.SetScale(std); err != nil {
		var unif *scale.UniformDimension
		if !errors.As(err, &unif) {
			return variance
		}
	}
	if err := scale.ScaleData(&s, std); err != nil {
		return variance
	}

	var pc stat.PC
	if !pc.PrincipalComponents(std, nil) {
		common.Log.Warn("principal component decomposition failed")
		return variance
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)
	d, nvec := vecs.Dims()
	k = min(k, nvec)
	if k == 0 {
		return variance
	}

	total := floats.Sum(vars)
	if total > 0 {
		for j := 0; j < k; j++ {
			variance[j] = 0.1 * vars[j] / total
		}
	}

	X.Slice(0, n, 0, k).(*mat.Dense).Mul(std, vecs.Slice(0, d, 0, k))
	return variance
}

// empirical writes k draws from N(0, YYᵀ + 1e-6 I) into the leading columns
// of X.
func empirical(X *mat.Dense, Y mat.Matrix, k int, rnd *rand.Rand) {
	n, _ := Y.Dims()
	cov := mat.NewSymDense(n, nil)
	cov.SymOuterK(1, Y)
	for i := 0; i < n; i++ {
		cov.SetSym(i, i, cov.At(i, i)+jitter)
	}
	dist, ok := distmv.NewNormal(make([]float64, n), cov, rnd)
	if !ok {
		common.Log.Warn("empirical covariance is not positive definite; keeping standard normal draws")
		return
	}
	sample := make([]float64, n)
	for j := 0; j < k; j++ {
		dist.Rand(sample)
		X.SetCol(j, sample)
	}
}

// columnVariance returns the population variance of every column of X.
func columnVariance(X *mat.Dense) []float64 {
	n, q := X.Dims()
	col := make([]float64, n)
	v := make([]float64, q)
	for j := range v {
		mat.Col(col, j, X)
		v[j] = stat.PopVariance(col, nil)
	}
	return v
}
