// Package scale standardises the columns of a data matrix.
package scale

import (
	"errors"
	"fmt"
	"sync"

	"github.com/reggo/gpcheck/common"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// UniformDimension is returned when every value in a dimension is the same.
// Dims lists those dimensions.
type UniformDimension struct {
	Dims []int
}

func (i *UniformDimension) Error() string {
	return fmt.Sprintf("scale: dimensions %v are uniform", i.Dims)
}

type UnequalLength struct{}

func (u UnequalLength) Error() string {
	return "scale: data length mismatch"
}

// Scaler transforms data points so they are on a common scale. SetScale
// fixes the transformation from a data set, one point per row.
type Scaler interface {
	Scale(point []float64) error // Scales the point in place
	IsScaled() bool              // True once the scale has been set
	Dimensions() int             // Length of the points
	SetScale(data mat.Matrix) error
}

type SliceError struct {
	Header string
	Idx    int
	Err    error
}

func (s *SliceError) Error() string {
	return fmt.Sprintf("%v: element %v, error %v", s.Header, s.Idx, s.Err)
}

type ErrorList []*SliceError

func (e ErrorList) Error() string {
	return fmt.Sprintf("%v errors found", len(e))
}

// ScaleData scales the rows of data in parallel.
func ScaleData(scaler Scaler, data *mat.Dense) error {
	return apply("scale", scaler.Scale, data)
}

func apply(header string, fn func([]float64) error, data *mat.Dense) error {
	m := &sync.Mutex{}
	var e ErrorList
	f := func(start, end int) {
		for r := start; r < end; r++ {
			if err := fn(data.RawRowView(r)); err != nil {
				m.Lock()
				e = append(e, &SliceError{Header: header, Idx: r, Err: err})
				m.Unlock()
			}
		}
	}

	nSamples, _ := data.Dims()
	grain := common.GetGrainSize(nSamples, 1, 500)
	common.ParallelFor(nSamples, grain, f)
	if len(e) != 0 {
		return e
	}
	return nil
}

// Normal scales the data to have a mean of 0 and a population variance of 1
// in each dimension.
type Normal struct {
	Mu     []float64
	Sigma  []float64
	Dim    int
	Scaled bool
}

// IsScaled returns true if the scale has been set
func (n *Normal) IsScaled() bool {
	return n.Scaled
}

// Dimensions returns the length of the data point
func (n *Normal) Dimensions() int {
	return n.Dim
}

// SetScale finds the mean and the population standard deviation of every
// column of data. If a column has zero deviation its Sigma is set to 1 and a
// *UniformDimension error is returned; the scale is still set.
func (n *Normal) SetScale(data mat.Matrix) error {
	rows, dim := data.Dims()
	if rows == 0 {
		return errors.New("scale: no data")
	}

	n.Mu = make([]float64, dim)
	n.Sigma = make([]float64, dim)
	col := make([]float64, rows)
	var unifError *UniformDimension
	for j := 0; j < dim; j++ {
		mat.Col(col, j, data)
		n.Mu[j], n.Sigma[j] = stat.PopMeanStdDev(col, nil)
		if n.Sigma[j] == 0 {
			if unifError == nil {
				unifError = &UniformDimension{}
			}
			unifError.Dims = append(unifError.Dims, j)
			n.Sigma[j] = 1.0
		}
	}
	n.Scaled = true
	n.Dim = dim

	if unifError != nil {
		return unifError
	}
	return nil
}

// Scale scales the data point
func (n *Normal) Scale(point []float64) error {
	if len(point) != n.Dim {
		return UnequalLength{}
	}
	for i := range point {
		point[i] = (point[i] - n.Mu[i]) / n.Sigma[i]
	}
	return nil
}
