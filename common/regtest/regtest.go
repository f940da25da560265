// Package regtest contains helpers for testing kernels and their gradients.
//
// Model and its adapters expose one derivative of a kernel as a
// checkgrad.Model. CheckKernelGradientFunctions runs the full battery of
// adapters against a kernel, and PsiChecker does the same for the
// expectations of a kern.PsiKernel.
package regtest

import (
	"math/rand/v2"
	"testing"

	"github.com/reggo/gpcheck/kern"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// defaultRand is the source used when a caller does not provide one.
func defaultRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func panics(f func()) (b bool) {
	defer func() {
		err := recover()
		if err != nil {
			b = true
		}
	}()
	f()
	return
}

// RandomMat returns an r×c matrix with every element drawn from f.
func RandomMat(r, c int, f func() float64) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, f())
		}
	}
	return m
}

type ParameterGetterSetter interface {
	NumParameters() int
	Parameters([]float64) []float64
	SetParameters([]float64)
}

// TestGetAndSetParameters checks the copy and length contracts of a
// parameter vector.
func TestGetAndSetParameters(t *testing.T, p ParameterGetterSetter, name string) {
	rnd := defaultRand()

	// Test that we can get parameters from nil
	var nilParam []float64
	f := func() {
		nilParam = p.Parameters(nil)
	}

	if panics(f) {
		t.Errorf("%v: Parameters panicked with nil input", name)
		return
	}

	if len(nilParam) != p.NumParameters() {
		t.Errorf("%v: On nil input, incorrect length returned from Parameters()", name)
	}
	nilParamCopy := make([]float64, p.NumParameters())
	copy(nilParamCopy, nilParam)
	nonNilParam := make([]float64, p.NumParameters())
	p.Parameters(nonNilParam)
	if !floats.Equal(nilParam, nonNilParam) {
		t.Errorf("%v: Return from Parameters() with nil argument and non nil argument are different", name)
	}
	for i := range nonNilParam {
		nonNilParam[i] = rnd.NormFloat64()
	}
	if !floats.Equal(nilParam, nilParamCopy) {
		t.Errorf("%v: Modifying the return from Parameters modified the underlying parameters", name)
	}
	setParam := make([]float64, p.NumParameters())
	copy(setParam, nonNilParam)
	p.SetParameters(setParam)
	if !floats.Equal(setParam, nonNilParam) {
		t.Errorf("%v: Input slice modified during call to SetParameters", name)
	}

	afterParam := p.Parameters(nil)
	if !floats.Equal(afterParam, setParam) {
		t.Errorf("%v: Set parameters followed by Parameters don't return the same argument", name)
	}
	setParam[0] += 1
	if floats.Equal(p.Parameters(nil), setParam) {
		t.Errorf("%v: Modifying the input to SetParameters modified the underlying parameters", name)
	}

	// Test that there are panics on bad length arguments
	badLength := make([]float64, p.NumParameters()+3)

	f = func() {
		p.Parameters(badLength)
	}
	if !panics(f) {
		t.Errorf("%v: Parameters did not panic given a slice too long", name)
	}
	f = func() {
		p.SetParameters(badLength)
	}
	if !panics(f) {
		t.Errorf("%v: SetParameters did not panic given a slice too long", name)
	}
	if p.NumParameters() == 0 {
		return
	}
	badLength = badLength[:p.NumParameters()-1]
	f = func() {
		p.Parameters(badLength)
	}
	if !panics(f) {
		t.Errorf("%v: Parameters did not panic given a slice too short", name)
	}
	f = func() {
		p.SetParameters(badLength)
	}
	if !panics(f) {
		t.Errorf("%v: SetParameters did not panic given a slice too short", name)
	}
}

// TestActiveDims checks the input dimension and active columns of a kernel.
func TestActiveDims(t *testing.T, k kern.Kernel, trueActive []int, name string) {
	if k.InputDim() != len(trueActive) {
		t.Errorf("%v: Mismatch in input dimension. expected %v, found %v", name, len(trueActive), k.InputDim())
	}
	active := k.ActiveDims()
	if len(active) != len(trueActive) {
		t.Errorf("%v: Mismatch in active dims. expected %v, found %v", name, trueActive, active)
		return
	}
	for i := range active {
		if active[i] != trueActive[i] {
			t.Errorf("%v: Mismatch in active dims. expected %v, found %v", name, trueActive, active)
			return
		}
	}
}
