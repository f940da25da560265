// Package kern implements covariance functions and their derivatives.
//
// Every kernel reads the columns listed by ActiveDims from the location
// matrices it is given and reports gradients with respect to locations at the
// full width of those matrices. A nil X2 means the covariance of X with
// itself. Methods that a kernel cannot provide return ErrNotImplemented.
package kern

import (
	"errors"
	"sort"

	"github.com/reggo/gpcheck/param"

	"gonum.org/v1/gonum/mat"
)

// ErrNotImplemented is returned by kernel methods that are not applicable to
// a kernel.
var ErrNotImplemented = errors.New("kern: not implemented")

// Kernel is a covariance function with derivatives.
type Kernel interface {
	Name() string

	// InputDim is the number of columns the kernel reads.
	InputDim() int

	// ActiveDims lists the columns the kernel reads, in increasing order.
	ActiveDims() []int

	// Params is the parameter node holding the hyperparameters.
	Params() *param.Node

	// K returns the covariance between the rows of X and X2.
	K(X, X2 mat.Matrix) *mat.Dense

	// Kdiag returns the variance at every row of X.
	Kdiag(X mat.Matrix) []float64

	// UpdateGradientsFull sets the hyperparameter gradient of
	// sum(dLdK ⊙ K(X, X2)).
	UpdateGradientsFull(dLdK, X, X2 mat.Matrix) error

	// UpdateGradientsDiag sets the hyperparameter gradient of
	// sum(dLdKdiag ⊙ Kdiag(X)).
	UpdateGradientsDiag(dLdKdiag []float64, X mat.Matrix) error

	// GradientsX returns the gradient of sum(dLdK ⊙ K(X, X2)) with respect
	// to X. When X2 is nil both arguments move with X.
	GradientsX(dLdK, X, X2 mat.Matrix) (*mat.Dense, error)

	// GradientsXDiag returns the gradient of sum(dLdKdiag ⊙ Kdiag(X)) with
	// respect to X.
	GradientsXDiag(dLdKdiag []float64, X mat.Matrix) (*mat.Dense, error)

	// GradientsXX returns dLdK[n,m] * ∂²k(x_n, x2_m)/∂x_n[q]∂x2_m[p] as an
	// N×M×Q×Q tensor. A nil X2 means X2 = X with dLdK taken as given.
	GradientsXX(dLdK, X, X2 mat.Matrix) (*Tensor4, error)

	// GradientsXXDiag returns dLdKdiag[n] * ∂²k(x, x')/∂x[q]∂x'[p] at
	// x = x' = x_n as an N×Q×Q tensor.
	GradientsXXDiag(dLdKdiag []float64, X mat.Matrix) (*Tensor3, error)
}

// Width returns the number of columns a location matrix needs for k.
func Width(k Kernel) int {
	dims := k.ActiveDims()
	if len(dims) == 0 {
		return 0
	}
	return dims[len(dims)-1] + 1
}

// Option configures a kernel at construction.
type Option func(*options)

type options struct {
	name        string
	activeDims  []int
	ard         bool
	variance    []float64
	lengthscale []float64
}

// WithName overrides the default kernel name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithActiveDims sets the columns the kernel reads. The number of columns
// must equal the input dimension of the kernel.
func WithActiveDims(dims ...int) Option {
	return func(o *options) {
		o.activeDims = append([]int(nil), dims...)
	}
}

// WithARD gives every input dimension its own lengthscale or variance.
func WithARD() Option {
	return func(o *options) { o.ard = true }
}

// WithVariance sets the initial variance (or variances for ARD Linear).
func WithVariance(v ...float64) Option {
	return func(o *options) { o.variance = append([]float64(nil), v...) }
}

// WithLengthscale sets the initial lengthscale (or lengthscales for ARD).
func WithLengthscale(l ...float64) Option {
	return func(o *options) { o.lengthscale = append([]float64(nil), l...) }
}

func gatherOptions(name string, inputDim int, opts []Option) *options {
	o := &options{name: name}
	for _, opt := range opts {
		opt(o)
	}
	if o.activeDims == nil {
		o.activeDims = make([]int, inputDim)
		for i := range o.activeDims {
			o.activeDims[i] = i
		}
	}
	if len(o.activeDims) != inputDim {
		panic("kern: number of active dims does not match input dimension")
	}
	return o
}

// fill returns vals if it has length n, a slice of n copies of vals[0] if it
// has length one, and n copies of def otherwise.
func fill(vals []float64, n int, def float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		switch len(vals) {
		case n:
			out[i] = vals[i]
		case 1:
			out[i] = vals[0]
		case 0:
			out[i] = def
		default:
			panic("kern: wrong number of initial values")
		}
	}
	return out
}

// base holds the fields shared by all kernels.
type base struct {
	name   string
	active []int
	node   *param.Node
}

func newBase(name string, active []int, items ...param.Linkable) base {
	return base{
		name:   name,
		active: active,
		node:   param.NewNode(name, items...),
	}
}

func (b *base) Name() string        { return b.name }
func (b *base) InputDim() int       { return len(b.active) }
func (b *base) Params() *param.Node { return b.node }

func (b *base) ActiveDims() []int {
	dims := make([]int, len(b.active))
	copy(dims, b.active)
	sort.Ints(dims)
	return dims
}

// slice gathers the active columns of X.
func (b *base) slice(X mat.Matrix) *mat.Dense {
	r, _ := X.Dims()
	out := mat.NewDense(r, len(b.active), nil)
	for i := 0; i < r; i++ {
		for j, c := range b.active {
			out.Set(i, j, X.At(i, c))
		}
	}
	return out
}

// scatter places the columns of g at the active columns of a matrix with
// width columns.
func (b *base) scatter(g *mat.Dense, width int) *mat.Dense {
	r, _ := g.Dims()
	out := mat.NewDense(r, width, nil)
	for i := 0; i < r; i++ {
		for j, c := range b.active {
			out.Set(i, c, out.At(i, c)+g.At(i, j))
		}
	}
	return out
}

func (b *base) scatter4(g *Tensor4, width int) *Tensor4 {
	out := NewTensor4(g.Dims[0], g.Dims[1], width, width)
	for n := 0; n < g.Dims[0]; n++ {
		for m := 0; m < g.Dims[1]; m++ {
			for q, cq := range b.active {
				for p, cp := range b.active {
					out.Add(n, m, cq, cp, g.At(n, m, q, p))
				}
			}
		}
	}
	return out
}

func (b *base) scatter3(g *Tensor3, width int) *Tensor3 {
	out := NewTensor3(g.Dims[0], width, width)
	for n := 0; n < g.Dims[0]; n++ {
		for q, cq := range b.active {
			for p, cp := range b.active {
				out.Add(n, cq, cp, g.At(n, q, p))
			}
		}
	}
	return out
}

// unionDims returns the sorted, duplicate-free union of the active dims of
// the kernels.
func unionDims(parts []Kernel, extra ...int) []int {
	seen := make(map[int]bool)
	var dims []int
	add := func(d int) {
		if !seen[d] {
			seen[d] = true
			dims = append(dims, d)
		}
	}
	for _, p := range parts {
		for _, d := range p.ActiveDims() {
			add(d)
		}
	}
	for _, d := range extra {
		add(d)
	}
	sort.Ints(dims)
	return dims
}

func cols(X mat.Matrix) int {
	_, c := X.Dims()
	return c
}

func rows(X mat.Matrix) int {
	r, _ := X.Dims()
	return r
}

// other returns X2, or X when X2 is nil.
func other(X, X2 mat.Matrix) mat.Matrix {
	if X2 == nil {
		return X
	}
	return X2
}

// symmetrize returns dLdK + dLdKᵀ when X2 is nil and dLdK otherwise. This is
// the weight seen by the gradient with respect to X when both arguments move.
func symmetrize(dLdK, X2 mat.Matrix) mat.Matrix {
	if X2 != nil {
		return dLdK
	}
	var s mat.Dense
	s.Add(dLdK, dLdK.T())
	return &s
}
