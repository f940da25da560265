package regtest

import (
	"bytes"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/reggo/gpcheck/checkgrad"
	"github.com/reggo/gpcheck/kern"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/mat"
)

type driverTest struct {
	kernel kern.Kernel
	opts   []Option
	name   string
}

func driverTests() []driverTest {
	return []driverTest{
		{kernel: kern.NewRBF(1), name: "rbf"},
		{kernel: kern.NewRBF(3, kern.WithARD()), name: "rbf ard"},
		{kernel: kern.NewMatern32(2), name: "matern32"},
		{kernel: kern.NewMatern52(2, kern.WithARD(), kern.WithActiveDims(0, 2)), name: "matern52"},
		{kernel: kern.NewLinear(2, kern.WithARD()), name: "linear"},
		{kernel: kern.NewBias(2), name: "bias"},
		{kernel: kern.NewWhite(2), name: "white"},
		{
			kernel: kern.NewAdd(
				kern.NewRBF(2),
				kern.NewMatern32(1, kern.WithActiveDims(2)),
				kern.NewBias(3),
				kern.NewWhite(3),
			),
			name: "sum",
		},
		{
			kernel: kern.NewAdd(kern.NewLinear(2), kern.NewRBF(2)),
			name:   "sum with linear",
		},
		{
			kernel: kern.NewProd(kern.NewRBF(1), kern.NewMatern52(1, kern.WithActiveDims(1))),
			name:   "product",
		},
		{
			kernel: kern.NewCoregionalize(3, 2),
			opts:   []Option{WithOutputIndex(0, 3), WithFixedXDims(-1)},
			name:   "coregionalize",
		},
		{
			kernel: kern.NewProd(kern.NewRBF(1), kern.NewCoregionalize(2, 1, kern.WithActiveDims(1))),
			opts:   []Option{WithOutputIndex(1, 2), WithFixedXDims(-1)},
			name:   "intrinsic coregionalization",
		},
		{
			kernel: kern.NewIndependentOutputs([]kern.Kernel{kern.NewRBF(2)}, 2),
			opts:   []Option{WithOutputIndex(2, 3), WithFixedXDims(-1)},
			name:   "independent shared",
		},
		{
			kernel: kern.NewIndependentOutputs([]kern.Kernel{kern.NewRBF(1), kern.NewMatern32(1), kern.NewBias(1)}, 1),
			opts:   []Option{WithOutputIndex(1, 3), WithFixedXDims(-1)},
			name:   "independent list",
		},
	}
}

func TestCheckKernelGradientFunctions(t *testing.T) {
	for _, test := range driverTests() {
		var buf bytes.Buffer
		opts := append(test.opts, WithWriter(&buf))
		pass, err := CheckKernelGradientFunctions(test.kernel, opts...)
		require.NoError(t, err, test.name)
		if !pass {
			t.Errorf("%v: gradient check failed\n%s", test.name, buf.String())
		}
	}
}

func TestCheckKernelGradientFunctionsVerbose(t *testing.T) {
	var buf bytes.Buffer
	pass, err := CheckKernelGradientFunctions(kern.NewRBF(2), WithVerbose(), WithWriter(&buf))
	require.NoError(t, err)
	require.True(t, pass)
	assert.Contains(t, buf.String(), "rbf.lengthscale")
	assert.Contains(t, buf.String(), "X[0,1]")
}

func TestCheckKernelGradientFunctionsIdempotent(t *testing.T) {
	X := RandomMat(20, 1, rand.New(rand.NewPCG(9, 9)).NormFloat64)
	for i := 0; i < 2; i++ {
		k := kern.NewRBF(1)
		pass, err := CheckKernelGradientFunctions(k, WithX(X), WithRand(rand.New(rand.NewPCG(3, 4))), WithWriter(io.Discard))
		require.NoError(t, err)
		assert.True(t, pass)
	}

	// The same seed gives the same final parameters.
	run := func() []float64 {
		k := kern.NewMatern52(2)
		_, err := CheckKernelGradientFunctions(k, WithRand(rand.New(rand.NewPCG(5, 6))), WithWriter(io.Discard))
		require.NoError(t, err)
		return k.Params().Parameters(nil)
	}
	assert.Equal(t, run(), run())
}

// brokenGradient scales the hyperparameter gradient of an RBF kernel.
type brokenGradient struct {
	*kern.RBF
}

func (b brokenGradient) UpdateGradientsFull(dLdK, X, X2 mat.Matrix) error {
	if err := b.RBF.UpdateGradientsFull(dLdK, X, X2); err != nil {
		return err
	}
	g := b.Params().Gradient(nil)
	for i := range g {
		g[i] *= 1.5
	}
	b.Params().SetGradient(g)
	return nil
}

// brokenX drops the factor of two from the gradient with respect to X.
type brokenX struct {
	*kern.Linear
}

func (b brokenX) GradientsXDiag(dLdKdiag []float64, X mat.Matrix) (*mat.Dense, error) {
	g, err := b.Linear.GradientsXDiag(dLdKdiag, X)
	if err != nil {
		return nil, err
	}
	g.Scale(0.5, g)
	return g, nil
}

// negative flips the sign of the covariance.
type negative struct {
	*kern.RBF
}

func (n negative) K(X, X2 mat.Matrix) *mat.Dense {
	k := n.RBF.K(X, X2)
	k.Scale(-1, k)
	return k
}

func TestCheckKernelGradientFunctionsFails(t *testing.T) {
	for _, test := range []struct {
		kernel kern.Kernel
		table  string
		name   string
	}{
		{kernel: brokenGradient{kern.NewRBF(1)}, table: "rbf.variance", name: "hyperparameters"},
		{kernel: brokenX{kern.NewLinear(2)}, table: "X[0,0]", name: "locations"},
		{kernel: negative{kern.NewRBF(1)}, name: "not positive definite"},
	} {
		var buf bytes.Buffer
		pass, err := CheckKernelGradientFunctions(test.kernel, WithWriter(&buf))
		require.NoError(t, err, test.name)
		assert.False(t, pass, test.name)
		if test.table != "" {
			assert.Contains(t, buf.String(), test.table, test.name)
			assert.Contains(t, buf.String(), "false", test.name)
		} else {
			assert.Empty(t, buf.String(), test.name)
		}
	}
}

func TestFixedXDims(t *testing.T) {
	k := kern.NewRBF(3)
	X := RandomMat(6, 3, rand.New(rand.NewPCG(1, 1)).NormFloat64)
	a, err := NewDKdX(k, nil, X, nil, nil)
	require.NoError(t, err)
	a.FixXColumns(-1)

	fixed := a.Fixed()
	for i := 0; i < 6; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, j == 2, fixed[i*3+j], "[%d,%d]", i, j)
		}
	}
	before := a.Parameters(nil)
	res, err := checkgrad.Compare(a, checkgrad.DefaultSettings())
	require.NoError(t, err)
	assert.True(t, res.Pass)
	assert.Len(t, res.Rows, 6*2)
	for _, row := range res.Rows {
		assert.NotContains(t, row.Name, ",2]")
	}
	assert.Equal(t, before, a.Parameters(nil))

	th, err := NewDKdTheta(k, nil, X, nil, nil)
	require.NoError(t, err)
	assert.Panics(t, func() { th.FixXColumns(-1) })
}

func TestAdapterErrors(t *testing.T) {
	k := kern.NewLinear(1)
	X := RandomMat(4, 1, rand.New(rand.NewPCG(2, 2)).NormFloat64)
	_, err := NewD2KdXdX(k, nil, X, nil, nil)
	assert.ErrorIs(t, err, kern.ErrNotImplemented)
	_, err = NewD2KdiagdXdX(k, nil, X, nil)
	assert.ErrorIs(t, err, kern.ErrNotImplemented)

	// Shape errors surface from the constructor.
	_, err = NewDKdTheta(k, mat.NewDense(3, 3, nil), X, nil, nil)
	assert.Error(t, err)
}

func TestModel(t *testing.T) {
	m := NewModel(nil, nil, nil, nil, nil)
	r, c := m.X.Dims()
	assert.Equal(t, 20, r)
	assert.Equal(t, 1, c)
	r, c = m.DLdK.Dims()
	assert.Equal(t, [2]int{20, 20}, [2]int{r, c})
	assert.True(t, m.IsPositiveSemiDefinite())

	X2 := RandomMat(7, 1, rand.New(rand.NewPCG(1, 3)).NormFloat64)
	m = NewModel(nil, nil, nil, X2, nil)
	r, c = m.DLdK.Dims()
	assert.Equal(t, [2]int{20, 7}, [2]int{r, c})

	n := NewModel(negative{kern.NewRBF(1)}, nil, nil, nil, nil)
	assert.False(t, n.IsPositiveSemiDefinite())
}

func TestParameterNodes(t *testing.T) {
	for _, test := range driverTests() {
		TestGetAndSetParameters(t, test.kernel.Params(), test.name)
	}
}
