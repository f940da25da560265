package scale

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func flatten(data [][]float64) *mat.Dense {
	nSamples := len(data)
	nDim := len(data[0])
	m := mat.NewDense(nSamples, nDim, nil)
	for i := range data {
		if len(data[i]) != nDim {
			panic("bad flatten")
		}
		for j := range data[i] {
			m.Set(i, j, data[i][j])
		}
	}
	return m
}

func testScaling(t *testing.T, u Scaler, data *mat.Dense, scaledData *mat.Dense, name string) {
	err := ScaleData(u, data)
	if err != nil {
		t.Errorf("Error found in ScaleData for case " + name + ": " + err.Error())
	}
	if !mat.EqualApprox(data, scaledData, 1e-14) {
		t.Errorf("Improper scaling for case "+name+". Expected: %v, Found: %v", mat.Formatted(scaledData), mat.Formatted(data))
	}
}

type normalTest struct {
	data       [][]float64
	scaledData [][]float64
	mu         []float64
	sigma      []float64
	name       string
	eqDim      []int
}

func testNormal(t *testing.T, kind normalTest) {
	u := &Normal{}
	data := flatten(kind.data)
	err := u.SetScale(data)

	if kind.eqDim == nil && err != nil {
		t.Errorf("Error where there shouldn't be for case " + kind.name + ": " + err.Error())
	}
	if kind.eqDim != nil {
		var unif *UniformDimension
		if !errors.As(err, &unif) {
			t.Errorf("Expected UniformDimension for case %v, found %v", kind.name, err)
		} else if len(unif.Dims) != len(kind.eqDim) {
			t.Errorf("Uniform dims mismatch for case %v. Expected: %v, Found: %v", kind.name, kind.eqDim, unif.Dims)
		}
	}
	if !u.IsScaled() || u.Dimensions() != len(kind.mu) {
		t.Errorf("Scale not set for case " + kind.name)
	}
	if !floats.EqualApprox(u.Mu, kind.mu, 1e-14) {
		t.Errorf("Mu doesn't match for case "+kind.name+". Expected: %v, Found: %v", kind.mu, u.Mu)
	}
	if !floats.EqualApprox(u.Sigma, kind.sigma, 1e-14) {
		t.Errorf("Sigma doesn't match for case "+kind.name+". Expected: %v, Found: %v", kind.sigma, u.Sigma)
	}
	testScaling(t, u, data, flatten(kind.scaledData), kind.name)
}

func TestNormal(t *testing.T) {
	cases := []normalTest{
		{
			data: [][]float64{
				{1},
				{2},
				{-3},
				{-4},
			},
			scaledData: [][]float64{
				{2 / math.Sqrt(6.5)},
				{3 / math.Sqrt(6.5)},
				{-2 / math.Sqrt(6.5)},
				{-3 / math.Sqrt(6.5)},
			},
			mu:    []float64{-1},
			sigma: []float64{math.Sqrt(6.5)},
			name:  "OneD",
		},
		{
			data: [][]float64{
				{1, 4},
				{2, 9},
				{-3, 12},
				{-4, 15},
			},
			scaledData: [][]float64{
				{2 / math.Sqrt(6.5), -6 / math.Sqrt(16.5)},
				{3 / math.Sqrt(6.5), -1 / math.Sqrt(16.5)},
				{-2 / math.Sqrt(6.5), 2 / math.Sqrt(16.5)},
				{-3 / math.Sqrt(6.5), 5 / math.Sqrt(16.5)},
			},
			mu:    []float64{-1, 10},
			sigma: []float64{math.Sqrt(6.5), math.Sqrt(16.5)},
			name:  "TwoD",
		},
		{
			data: [][]float64{
				{1, 4},
				{2, 4},
				{-3, 4},
				{-4, 4},
			},
			scaledData: [][]float64{
				{2 / math.Sqrt(6.5), 0},
				{3 / math.Sqrt(6.5), 0},
				{-2 / math.Sqrt(6.5), 0},
				{-3 / math.Sqrt(6.5), 0},
			},
			mu:    []float64{-1, 4},
			sigma: []float64{math.Sqrt(6.5), 1},
			name:  "EqDim",
			eqDim: []int{1},
		},
		{
			data:       [][]float64{{3, -2}},
			scaledData: [][]float64{{0, 0}},
			mu:         []float64{3, -2},
			sigma:      []float64{1, 1},
			name:       "OneRow",
			eqDim:      []int{0, 1},
		},
	}
	for i := range cases {
		testNormal(t, cases[i])
	}
}

func TestNormalBadInput(t *testing.T) {
	u := &Normal{}
	require.Error(t, u.SetScale(&mat.Dense{}))
	require.False(t, u.IsScaled())

	require.NoError(t, u.SetScale(flatten([][]float64{{1, 2}, {3, 5}})))
	require.ErrorIs(t, u.Scale([]float64{1}), UnequalLength{})
	require.ErrorIs(t, u.Scale([]float64{1, 2, 3}), UnequalLength{})

	err := ScaleData(u, mat.NewDense(3, 1, nil))
	var list ErrorList
	require.ErrorAs(t, err, &list)
	require.Len(t, list, 3)
}
