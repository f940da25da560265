package kern_test

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/reggo/gpcheck/common"
	"github.com/reggo/gpcheck/common/regtest"
	"github.com/reggo/gpcheck/kern"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

type kernIniter struct {
	kernel kern.Kernel
	index  int // output index column, -1 if none
	nOut   int
	name   string
}

func testKernels() []kernIniter {
	return []kernIniter{
		{kernel: kern.NewRBF(1), index: -1, name: "rbf"},
		{kernel: kern.NewRBF(3, kern.WithARD(), kern.WithLengthscale(0.5, 1, 2)), index: -1, name: "rbf ard"},
		{kernel: kern.NewMatern32(2, kern.WithActiveDims(1, 3)), index: -1, name: "matern32"},
		{kernel: kern.NewMatern52(2, kern.WithARD()), index: -1, name: "matern52"},
		{kernel: kern.NewLinear(2, kern.WithARD(), kern.WithVariance(0.5, 2)), index: -1, name: "linear"},
		{kernel: kern.NewBias(2), index: -1, name: "bias"},
		{kernel: kern.NewWhite(2), index: -1, name: "white"},
		{kernel: kern.NewAdd(kern.NewRBF(2), kern.NewLinear(2), kern.NewBias(2)), index: -1, name: "sum"},
		{kernel: kern.NewProd(kern.NewRBF(1), kern.NewMatern32(1, kern.WithActiveDims(1))), index: -1, name: "product"},
		{kernel: kern.NewCoregionalize(3, 2), index: 0, nOut: 3, name: "coregionalize"},
		{
			kernel: kern.NewIndependentOutputs([]kern.Kernel{kern.NewRBF(2)}, 2),
			index:  2, nOut: 3, name: "independent shared",
		},
		{
			kernel: kern.NewIndependentOutputs([]kern.Kernel{kern.NewRBF(1), kern.NewLinear(1)}, 1),
			index:  1, nOut: 2, name: "independent list",
		},
	}
}

func inputs(rnd *rand.Rand, n int, ki kernIniter) *mat.Dense {
	X := regtest.RandomMat(n, kern.Width(ki.kernel), rnd.NormFloat64)
	if ki.index >= 0 {
		for i := 0; i < n; i++ {
			X.Set(i, ki.index, float64(rnd.IntN(ki.nOut)))
		}
	}
	return X
}

func TestActiveDims(t *testing.T) {
	a := kern.NewRBF(2)
	b := kern.NewLinear(2, kern.WithActiveDims(2, 3))
	prod := kern.NewProd(a, b)
	regtest.TestActiveDims(t, prod, []int{0, 1, 2, 3}, "product")

	c := kern.NewBias(2, kern.WithActiveDims(9, 7))
	regtest.TestActiveDims(t, c, []int{7, 9}, "bias")

	sum := kern.NewAdd(prod, c, kern.NewWhite(2, kern.WithActiveDims(1, 2)))
	regtest.TestActiveDims(t, sum, []int{0, 1, 2, 3, 7, 9}, "sum")
	assert.Equal(t, 10, kern.Width(sum))

	regtest.TestActiveDims(t, kern.NewCoregionalize(2, 1, kern.WithActiveDims(4)), []int{4}, "coregionalize")
	regtest.TestActiveDims(t, kern.NewIndependentOutputs([]kern.Kernel{kern.NewRBF(2)}, 5), []int{0, 1, 5}, "independent")

	assert.Panics(t, func() { kern.NewRBF(2, kern.WithActiveDims(1)) })
}

func TestFlatten(t *testing.T) {
	a, b, c := kern.NewRBF(1), kern.NewBias(1), kern.NewWhite(1)
	inner := kern.NewAdd(a, b)
	sum := kern.NewAdd(inner, c)
	require.Len(t, sum.Parts(), 3)
	assert.Zero(t, inner.Params().NumParameters())
	assert.Empty(t, inner.Parts())
	assert.Equal(t, 4, sum.Params().NumParameters())
	assert.Equal(t, []string{
		"sum.rbf.variance",
		"sum.rbf.lengthscale",
		"sum.bias.variance",
		"sum.white.variance",
	}, sum.Params().ParameterNames())

	// Parameters of the composite are the parameters of the parts.
	x := sum.Params().Parameters(nil)
	x[0] = 3
	sum.Params().SetParameters(x)
	assert.Equal(t, 3.0, a.Variance())

	prod := kern.NewProd(kern.NewRBF(1), kern.NewProd(kern.NewBias(1), kern.NewWhite(1)))
	require.Len(t, prod.Parts(), 3)
	assert.Equal(t, 4, prod.Params().NumParameters())
}

func TestRelink(t *testing.T) {
	r := kern.NewRBF(1)
	assert.Panics(t, func() { kern.NewAdd(r, r) })

	r = kern.NewRBF(1)
	sum := kern.NewAdd(r, kern.NewBias(1))
	assert.Panics(t, func() { kern.NewProd(r, kern.NewWhite(1)) })
	assert.Panics(t, func() { kern.NewIndependentOutputs([]kern.Kernel{r}, 1) })

	// A sum inside another composite keeps its parts.
	outer := kern.NewProd(sum, kern.NewLinear(1))
	assert.Len(t, sum.Parts(), 2)
	assert.Equal(t, 4, outer.Params().NumParameters())
	assert.Panics(t, func() { kern.NewAdd(sum, kern.NewWhite(1)) })

	// Every value of the composite reaches a part.
	x := outer.Params().Parameters(nil)
	for i := range x {
		x[i] = float64(i + 2)
	}
	outer.Params().SetParameters(x)
	assert.Equal(t, 2.0, r.Variance())
}

func TestKParts(t *testing.T) {
	rbf := kern.NewRBF(2, kern.WithActiveDims(0, 2))
	linear := kern.NewLinear(2, kern.WithActiveDims(3, 9))
	matern := kern.NewMatern32(3, kern.WithActiveDims(1, 7, 9))
	sum := kern.NewAdd(kern.NewAdd(rbf, linear), matern)
	sum.Params().Randomize(rand.New(rand.NewPCG(1, 1)), 1, 0.1)

	X := regtest.RandomMat(30, 10, rand.New(rand.NewPCG(2, 2)).NormFloat64)
	for _, test := range []struct {
		parts []kern.Kernel
		name  string
	}{
		{[]kern.Kernel{linear, matern}, "linear + matern"},
		{[]kern.Kernel{linear, rbf}, "linear + rbf"},
		{[]kern.Kernel{sum.Parts()[0]}, "first part"},
		{sum.Parts(), "all"},
	} {
		want := mat.NewDense(30, 30, nil)
		wantDiag := make([]float64, 30)
		for _, p := range test.parts {
			want.Add(want, p.K(X, nil))
			floats.Add(wantDiag, p.Kdiag(X))
		}
		if !mat.EqualApprox(sum.KParts(X, nil, test.parts...), want, 1e-12) {
			t.Errorf("%v: KParts mismatch", test.name)
		}
		if !floats.EqualApprox(sum.KdiagParts(X, test.parts...), wantDiag, 1e-12) {
			t.Errorf("%v: KdiagParts mismatch", test.name)
		}
	}
	assert.True(t, mat.EqualApprox(sum.KParts(X, nil, sum.Parts()...), sum.K(X, nil), 1e-12))
	assert.Panics(t, func() { sum.KParts(X, nil, kern.NewBias(1)) })
	assert.Panics(t, func() { sum.KParts(X, nil) })
}

func TestParameters(t *testing.T) {
	for _, ki := range testKernels() {
		regtest.TestGetAndSetParameters(t, ki.kernel.Params(), ki.name)
	}
}

func TestCovariance(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))
	for _, ki := range testKernels() {
		X := inputs(rnd, 8, ki)
		X2 := inputs(rnd, 5, ki)
		k := ki.kernel.K(X, nil)
		r, c := k.Dims()
		require.Equal(t, 8, r, ki.name)
		require.Equal(t, 8, c, ki.name)
		if !mat.EqualApprox(k, k.T(), 1e-14) {
			t.Errorf("%v: K(X, X) not symmetric", ki.name)
		}
		diag := make([]float64, r)
		for i := range diag {
			diag[i] = k.At(i, i)
		}
		if !floats.EqualApprox(diag, ki.kernel.Kdiag(X), 1e-14) {
			t.Errorf("%v: Kdiag mismatch. expected %v, found %v", ki.name, diag, ki.kernel.Kdiag(X))
		}
		r, c = ki.kernel.K(X, X2).Dims()
		assert.Equal(t, 8, r, ki.name)
		assert.Equal(t, 5, c, ki.name)
	}
}

func TestWhite(t *testing.T) {
	k := kern.NewWhite(1, kern.WithVariance(2))
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	assert.True(t, mat.Equal(k.K(X, nil), mat.NewDiagDense(3, []float64{2, 2, 2})))
	assert.Zero(t, mat.Sum(k.K(X, X)))
}

func TestCoregionalize(t *testing.T) {
	k := kern.NewCoregionalize(2, 1)
	// W is 2×1 followed by κ.
	k.Params().SetParameters([]float64{1, 2, 0.5, 0.25})
	want := mat.NewDense(2, 2, []float64{1.5, 2, 2, 4.25})
	if !mat.EqualApprox(k.B(), want, 1e-14) {
		t.Errorf("B mismatch. expected %v, found %v", mat.Formatted(want), mat.Formatted(k.B()))
	}
	X := mat.NewDense(3, 1, []float64{1, 0, 1})
	wantK := mat.NewDense(3, 3, []float64{
		4.25, 2, 4.25,
		2, 1.5, 2,
		4.25, 2, 4.25,
	})
	assert.True(t, mat.EqualApprox(k.K(X, nil), wantK, 1e-14))
	assert.Equal(t, 2, k.OutputDim())

	assert.Panics(t, func() { k.K(mat.NewDense(1, 1, []float64{2}), nil) })
	assert.Panics(t, func() { k.Kdiag(mat.NewDense(1, 1, []float64{-1})) })
}

func TestIndependentOutputs(t *testing.T) {
	inner := kern.NewRBF(1)
	k := kern.NewIndependentOutputs([]kern.Kernel{inner}, 1)
	X := mat.NewDense(4, 2, []float64{
		0.1, 0,
		0.5, 1,
		-0.3, 0,
		1.2, 1,
	})
	K := k.K(X, nil)
	full := inner.K(X, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if X.At(i, 1) == X.At(j, 1) {
				want = full.At(i, j)
			}
			if !scalar.EqualWithinAbsOrRel(K.At(i, j), want, 1e-14, 1e-14) {
				t.Errorf("K[%d,%d] = %v, want %v", i, j, K.At(i, j), want)
			}
		}
	}

	// Gradients of a shared kernel sum over the outputs.
	dL := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			dL.Set(i, j, 1)
		}
	}
	require.NoError(t, k.UpdateGradientsFull(dL, X, nil))
	grad := k.Params().Gradient(nil)

	var masked mat.Dense
	masked.Apply(func(i, j int, v float64) float64 {
		if X.At(i, 1) == X.At(j, 1) {
			return v
		}
		return 0
	}, dL)
	require.NoError(t, inner.UpdateGradientsFull(&masked, X, nil))
	want := inner.Params().Gradient(nil)
	if !floats.EqualApprox(grad, want, 1e-12) {
		t.Errorf("shared gradient mismatch. expected %v, found %v", want, grad)
	}
}

func TestNotImplemented(t *testing.T) {
	X := mat.NewDense(3, 2, nil)
	dL := mat.NewDense(3, 3, nil)
	for _, k := range []kern.Kernel{
		kern.NewLinear(2),
		kern.NewProd(kern.NewRBF(1), kern.NewLinear(1, kern.WithActiveDims(1))),
	} {
		_, err := k.GradientsXX(dL, X, nil)
		assert.ErrorIs(t, err, kern.ErrNotImplemented, k.Name())
		_, err = k.GradientsXXDiag(make([]float64, 3), X)
		assert.ErrorIs(t, err, kern.ErrNotImplemented, k.Name())
	}
}

func TestShapeErrors(t *testing.T) {
	X := mat.NewDense(3, 2, nil)
	X2 := mat.NewDense(4, 2, nil)
	for _, ki := range testKernels() {
		if ki.index >= 0 {
			continue
		}
		k := ki.kernel
		w := kern.Width(k)
		X, X2 := X, X2
		if w > 2 {
			X, X2 = mat.NewDense(3, w, nil), mat.NewDense(4, w, nil)
		}
		err := k.UpdateGradientsFull(mat.NewDense(3, 3, nil), X, X2)
		assert.True(t, errors.As(err, new(common.ShapeMismatch)), "%v: %v", ki.name, err)
		_, err = k.GradientsX(mat.NewDense(4, 4, nil), X, nil)
		assert.True(t, errors.As(err, new(common.ShapeMismatch)), "%v: %v", ki.name, err)
		err = k.UpdateGradientsDiag(make([]float64, 2), X)
		assert.ErrorIs(t, err, common.ErrInputDimension, ki.name)
	}
}
