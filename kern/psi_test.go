package kern_test

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/reggo/gpcheck/common"
	"github.com/reggo/gpcheck/common/regtest"
	"github.com/reggo/gpcheck/kern"
	"github.com/reggo/gpcheck/variational"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

func posterior(t *testing.T, rnd *rand.Rand, n, q int) *variational.NormalPosterior {
	t.Helper()
	qX, err := variational.NewNormalPosterior(
		regtest.RandomMat(n, q, rnd.NormFloat64),
		regtest.RandomMat(n, q, func() float64 { return rnd.Float64() + 0.1 }),
	)
	require.NoError(t, err)
	return qX
}

func psiKernels() map[string]kern.PsiKernel {
	return map[string]kern.PsiKernel{
		"rbf":    kern.NewRBF(3, kern.WithARD(), kern.WithLengthscale(0.7, 1.1, 1.9)),
		"linear": kern.NewLinear(3, kern.WithARD(), kern.WithVariance(0.3, 1, 2)),
		"bias":   kern.NewBias(3),
		"white":  kern.NewWhite(3),
		"sum": kern.NewAdd(
			kern.NewRBF(2),
			kern.NewLinear(1, kern.WithActiveDims(2)),
			kern.NewBias(3),
			kern.NewWhite(3),
		),
	}
}

func TestPsiShapes(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))
	n, m, q := 6, 4, 3
	qX := posterior(t, rnd, n, q)
	Z := regtest.RandomMat(m, q, rnd.NormFloat64)
	for name, k := range psiKernels() {
		psi0, err := k.Psi0(Z, qX)
		require.NoError(t, err, name)
		assert.Len(t, psi0, n, name)

		psi1, err := k.Psi1(Z, qX)
		require.NoError(t, err, name)
		r, c := psi1.Dims()
		assert.Equal(t, [2]int{n, m}, [2]int{r, c}, name)

		psi2n, err := k.Psi2n(Z, qX)
		require.NoError(t, err, name)
		assert.Equal(t, [3]int{n, m, m}, psi2n.Dims, name)

		psi2, err := k.Psi2(Z, qX)
		require.NoError(t, err, name)
		for j := 0; j < m; j++ {
			for o := 0; o < m; o++ {
				sum := 0.0
				for i := 0; i < n; i++ {
					sum += psi2n.At(i, j, o)
				}
				if !scalar.EqualWithinAbsOrRel(psi2.At(j, o), sum, 1e-12, 1e-12) {
					t.Errorf("%v: psi2[%d,%d] = %v, want %v", name, j, o, psi2.At(j, o), sum)
				}
				if !scalar.EqualWithinAbsOrRel(psi2.At(j, o), psi2.At(o, j), 1e-12, 1e-12) {
					t.Errorf("%v: psi2 not symmetric at [%d,%d]", name, j, o)
				}
			}
		}
	}
}

func TestPsiZeroVariance(t *testing.T) {
	// With a point-mass posterior the expectations reduce to covariances.
	rnd := rand.New(rand.NewPCG(3, 4))
	n, m, q := 5, 3, 3
	mean := regtest.RandomMat(n, q, rnd.NormFloat64)
	qX, err := variational.NewNormalPosterior(mean, mat.NewDense(n, q, nil))
	require.NoError(t, err)
	Z := regtest.RandomMat(m, q, rnd.NormFloat64)
	for _, name := range []string{"rbf", "linear", "bias"} {
		k := psiKernels()[name]
		psi0, err := k.Psi0(Z, qX)
		require.NoError(t, err)
		if !floats.EqualApprox(psi0, k.Kdiag(mean), 1e-12) {
			t.Errorf("%v: psi0 mismatch. expected %v, found %v", name, k.Kdiag(mean), psi0)
		}
		psi1, err := k.Psi1(Z, qX)
		require.NoError(t, err)
		K := k.K(mean, Z)
		if !mat.EqualApprox(psi1, K, 1e-12) {
			t.Errorf("%v: psi1 mismatch", name)
		}
		psi2n, err := k.Psi2n(Z, qX)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			for j := 0; j < m; j++ {
				for o := 0; o < m; o++ {
					want := K.At(i, j) * K.At(i, o)
					if !scalar.EqualWithinAbsOrRel(psi2n.At(i, j, o), want, 1e-12, 1e-12) {
						t.Errorf("%v: psi2n[%d,%d,%d] = %v, want %v", name, i, j, o, psi2n.At(i, j, o), want)
					}
				}
			}
		}
	}
}

func TestPsiDependentSum(t *testing.T) {
	rnd := rand.New(rand.NewPCG(5, 6))
	qX := posterior(t, rnd, 4, 2)
	Z := regtest.RandomMat(3, 2, rnd.NormFloat64)
	k := kern.NewAdd(kern.NewRBF(2), kern.NewLinear(1, kern.WithActiveDims(1)))

	_, err := k.Psi1(Z, qX)
	assert.ErrorIs(t, err, kern.ErrNotImplemented)
	_, err = k.Psi2(Z, qX)
	assert.ErrorIs(t, err, kern.ErrNotImplemented)
	_, err = k.GradientsZExpectations(make([]float64, 4), mat.NewDense(4, 3, nil), kern.Psi2Shared(mat.NewDense(3, 3, nil)), Z, qX)
	assert.ErrorIs(t, err, kern.ErrNotImplemented)

	// The covariance itself is unaffected.
	assert.NotNil(t, k.K(Z, nil))
}

func TestPsiShapeErrors(t *testing.T) {
	rnd := rand.New(rand.NewPCG(7, 8))
	qX := posterior(t, rnd, 4, 3)
	k := kern.NewRBF(3)

	_, err := k.Psi1(mat.NewDense(2, 2, nil), qX)
	assert.True(t, errors.As(err, new(common.ShapeMismatch)), "%v", err)
	_, err = k.Psi0(nil, qX)
	assert.ErrorIs(t, err, common.ErrNoData)

	small := posterior(t, rnd, 4, 2)
	_, err = k.Psi1(mat.NewDense(2, 2, nil), small)
	assert.ErrorIs(t, err, common.ErrInputDimension)

	Z := mat.NewDense(2, 3, nil)
	err = k.UpdateGradientsExpectations(make([]float64, 3), mat.NewDense(4, 2, nil), kern.Psi2Shared(mat.NewDense(2, 2, nil)), Z, qX)
	assert.ErrorIs(t, err, common.ErrInputDimension)
	err = k.UpdateGradientsExpectations(make([]float64, 4), mat.NewDense(4, 2, nil), kern.NewTensor3(4, 2, 3), Z, qX)
	assert.ErrorIs(t, err, common.ErrInputDimension)
	err = k.UpdateGradientsExpectations(make([]float64, 4), mat.NewDense(4, 2, nil), kern.Psi2Shared(mat.NewDense(3, 3, nil)), Z, qX)
	assert.True(t, errors.As(err, new(common.ShapeMismatch)), "%v", err)
	err = k.UpdateGradientsExpectations(make([]float64, 4), mat.NewDense(4, 2, nil), kern.NewTensor3(4, 2, 2), Z, qX)
	assert.NoError(t, err)
}
