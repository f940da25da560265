package kern

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tensor3 is a dense row-major three-way array.
type Tensor3 struct {
	Dims [3]int
	Data []float64
}

// NewTensor3 returns a zeroed a×b×c tensor.
func NewTensor3(a, b, c int) *Tensor3 {
	return &Tensor3{
		Dims: [3]int{a, b, c},
		Data: make([]float64, a*b*c),
	}
}

func (t *Tensor3) index(i, j, k int) int {
	if i < 0 || i >= t.Dims[0] || j < 0 || j >= t.Dims[1] || k < 0 || k >= t.Dims[2] {
		panic("kern: tensor index out of range")
	}
	return (i*t.Dims[1]+j)*t.Dims[2] + k
}

func (t *Tensor3) At(i, j, k int) float64     { return t.Data[t.index(i, j, k)] }
func (t *Tensor3) Set(i, j, k int, v float64) { t.Data[t.index(i, j, k)] = v }
func (t *Tensor3) Add(i, j, k int, v float64) { t.Data[t.index(i, j, k)] += v }

// Tensor4 is a dense row-major four-way array.
type Tensor4 struct {
	Dims [4]int
	Data []float64
}

// NewTensor4 returns a zeroed a×b×c×d tensor.
func NewTensor4(a, b, c, d int) *Tensor4 {
	return &Tensor4{
		Dims: [4]int{a, b, c, d},
		Data: make([]float64, a*b*c*d),
	}
}

func (t *Tensor4) index(i, j, k, l int) int {
	if i < 0 || i >= t.Dims[0] || j < 0 || j >= t.Dims[1] || k < 0 || k >= t.Dims[2] || l < 0 || l >= t.Dims[3] {
		panic("kern: tensor index out of range")
	}
	return ((i*t.Dims[1]+j)*t.Dims[2]+k)*t.Dims[3] + l
}

func (t *Tensor4) At(i, j, k, l int) float64     { return t.Data[t.index(i, j, k, l)] }
func (t *Tensor4) Set(i, j, k, l int, v float64) { t.Data[t.index(i, j, k, l)] = v }
func (t *Tensor4) Add(i, j, k, l int, v float64) { t.Data[t.index(i, j, k, l)] += v }

// AddTensor adds u to t in place. The dimensions must match.
func (t *Tensor4) AddTensor(u *Tensor4) {
	if t.Dims != u.Dims {
		panic("kern: tensor dimension mismatch")
	}
	for i, v := range u.Data {
		t.Data[i] += v
	}
}

// AddTensor adds u to t in place. The dimensions must match.
func (t *Tensor3) AddTensor(u *Tensor3) {
	if t.Dims != u.Dims {
		panic("kern: tensor dimension mismatch")
	}
	for i, v := range u.Data {
		t.Data[i] += v
	}
}

// sumFirst returns the sum over the first axis as a b×c matrix.
func (t *Tensor3) sumFirst() *mat.Dense {
	b, c := t.Dims[1], t.Dims[2]
	out := mat.NewDense(b, c, nil)
	raw := out.RawMatrix().Data
	for i := 0; i < t.Dims[0]; i++ {
		floats.Add(raw, t.Data[i*b*c:(i+1)*b*c])
	}
	return out
}
