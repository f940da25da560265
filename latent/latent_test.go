package latent

import (
	"math/rand/v2"
	"testing"

	"github.com/reggo/gpcheck/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func randomData(rnd *rand.Rand, n, d int) *mat.Dense {
	Y := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			Y.Set(i, j, rnd.NormFloat64()*float64(j+1)+float64(j))
		}
	}
	return Y
}

// checkStandard verifies every column of X has zero mean and unit population
// standard deviation.
func checkStandard(t *testing.T, X *mat.Dense, name string) {
	t.Helper()
	n, q := X.Dims()
	col := make([]float64, n)
	for j := 0; j < q; j++ {
		mat.Col(col, j, X)
		mean, std := stat.PopMeanStdDev(col, nil)
		if !scalar.EqualWithinAbsOrRel(mean, 0, 1e-12, 1e-12) {
			t.Errorf("%v: column %v mean %v", name, j, mean)
		}
		if !scalar.EqualWithinAbsOrRel(std, 1, 1e-12, 1e-12) {
			t.Errorf("%v: column %v std %v", name, j, std)
		}
	}
}

func TestInitialize(t *testing.T) {
	for _, test := range []struct {
		method   Method
		inputDim int
		n, d     int
		zeroFrom int // variance entries from here on must be zero
	}{
		{PCA, 2, 30, 5, 2},
		{PCA, 3, 30, 3, 3},
		{PCA, 5, 30, 2, 2},
		{Random, 4, 25, 3, 4},
		{EmpiricalSamples, 2, 15, 4, 2},
		{EmpiricalSamples, 4, 15, 2, 4},
		{"bogus", 3, 10, 3, 3},
	} {
		name := string(test.method)
		rnd := rand.New(rand.NewPCG(3, 4))
		Y := randomData(rnd, test.n, test.d)
		X, variance, err := Initialize(test.method, test.inputDim, Y, rnd)
		require.NoError(t, err, name)

		r, c := X.Dims()
		require.Equal(t, test.n, r, name)
		require.Equal(t, test.inputDim, c, name)
		require.Len(t, variance, test.inputDim, name)

		checkStandard(t, X, name)
		assert.Equal(t, 1.0, floats.Max(variance), name)
		for j, v := range variance {
			if j >= test.zeroFrom {
				assert.Zero(t, v, "%v: padding at %v", name, j)
			} else {
				assert.Positive(t, v, "%v: variance at %v", name, j)
			}
		}
	}
}

func TestInitializePCAProjection(t *testing.T) {
	// Y varies along a single direction, so the leading latent column is
	// perfectly correlated with it and the second carries no variance.
	n := 20
	Y := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		s := float64(i) - 7.5
		Y.Set(i, 0, s)
		Y.Set(i, 1, 2*s+1)
	}
	X, variance, err := Initialize(PCA, 3, Y, nil)
	require.NoError(t, err)

	x := mat.Col(nil, 0, X)
	y := mat.Col(nil, 0, Y)
	corr := stat.Correlation(x, y, nil)
	if !scalar.EqualWithinAbsOrRel(corr*corr, 1, 1e-10, 1e-10) {
		t.Errorf("leading column not aligned with the data, correlation %v", corr)
	}
	if !floats.EqualApprox(variance, []float64{1, 0, 0}, 1e-10) {
		t.Errorf("variance mismatch. expected %v, found %v", []float64{1, 0, 0}, variance)
	}
}

func TestInitializeReproducible(t *testing.T) {
	Y := randomData(rand.New(rand.NewPCG(5, 6)), 12, 3)
	for _, method := range []Method{PCA, Random, EmpiricalSamples} {
		X1, v1, err := Initialize(method, 2, Y, rand.New(rand.NewPCG(7, 8)))
		require.NoError(t, err)
		X2, v2, err := Initialize(method, 2, Y, rand.New(rand.NewPCG(7, 8)))
		require.NoError(t, err)
		assert.True(t, mat.Equal(X1, X2), "%v: latent inputs differ with the same seed", method)
		assert.Equal(t, v1, v2, "%v: variance differs with the same seed", method)
	}
}

func TestInitializeErrors(t *testing.T) {
	_, _, err := Initialize(PCA, 2, nil, nil)
	require.ErrorIs(t, err, common.ErrNoData)

	_, _, err = Initialize(PCA, 2, &mat.Dense{}, nil)
	require.ErrorIs(t, err, common.ErrNoData)

	_, _, err = Initialize(Random, 0, mat.NewDense(3, 2, nil), nil)
	require.ErrorIs(t, err, common.ErrInputDimension)
}
