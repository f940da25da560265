// Package param implements trees of named parameter blocks whose values and
// gradients live in flat shared buffers.
//
// A Param owns a contiguous block of values and a matching gradient block.
// A Node groups Params and child Nodes; linking an item into a Node rebinds
// the item's storage to a view into the Node's buffers, so the root of a tree
// exposes every value beneath it as a single flat vector. Kernels read and
// write their Params directly; optimisers and gradient checkers work on the
// flat vector of the root.
package param

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Linkable is an item that can be linked into a Node.
type Linkable interface {
	Name() string
	NumParameters() int

	parent() *Node
	setParent(p *Node)
	bind(value, grad []float64, fixed []bool)
	names(prefix string, dst []string) []string
	randomize(rnd *rand.Rand, loc, scale float64)
}

// Param is a named block of parameter values with a matching gradient.
// Values are stored row major when the block represents a matrix.
type Param struct {
	name     string
	rows     int
	cols     int
	positive bool
	up       *Node

	value []float64
	grad  []float64
	fixed []bool
}

// New returns a vector parameter holding a copy of values.
func New(name string, values ...float64) *Param {
	p := &Param{
		name:  name,
		rows:  len(values),
		cols:  1,
		value: make([]float64, len(values)),
		grad:  make([]float64, len(values)),
		fixed: make([]bool, len(values)),
	}
	copy(p.value, values)
	return p
}

// NewMatrix returns a matrix parameter holding a copy of m.
func NewMatrix(name string, m mat.Matrix) *Param {
	r, c := m.Dims()
	p := &Param{
		name:  name,
		rows:  r,
		cols:  c,
		value: make([]float64, r*c),
		grad:  make([]float64, r*c),
		fixed: make([]bool, r*c),
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			p.value[i*c+j] = m.At(i, j)
		}
	}
	return p
}

// Positive marks the parameter as strictly positive. Randomize only produces
// positive values for such parameters.
func (p *Param) Positive() *Param {
	p.positive = true
	return p
}

func (p *Param) Name() string       { return p.name }
func (p *Param) NumParameters() int { return len(p.value) }
func (p *Param) Dims() (r, c int)   { return p.rows, p.cols }

// Values returns the live value storage. The slice is invalidated when the
// parameter is linked into a Node.
func (p *Param) Values() []float64 { return p.value }

// Grad returns the live gradient storage. The slice is invalidated when the
// parameter is linked into a Node.
func (p *Param) Grad() []float64 { return p.grad }

func (p *Param) At(i int) float64     { return p.value[i] }
func (p *Param) Set(i int, v float64) { p.value[i] = v }

// Matrix returns a view of the values as a rows×cols matrix. Modifying the
// view modifies the parameter.
func (p *Param) Matrix() *mat.Dense {
	if p.rows == 0 || p.cols == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(p.rows, p.cols, p.value)
}

// GradMatrix returns a view of the gradient as a rows×cols matrix.
func (p *Param) GradMatrix() *mat.Dense {
	if p.rows == 0 || p.cols == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(p.rows, p.cols, p.grad)
}

// SetGrad copies g into the gradient. SetGrad panics if the lengths differ.
func (p *Param) SetGrad(g []float64) {
	if len(g) != len(p.grad) {
		panic("param: gradient length mismatch")
	}
	copy(p.grad, g)
}

// SetGradMatrix copies m into the gradient. The dimensions of m must match
// the parameter.
func (p *Param) SetGradMatrix(m mat.Matrix) {
	r, c := m.Dims()
	if r != p.rows || c != p.cols {
		panic("param: gradient shape mismatch")
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			p.grad[i*c+j] = m.At(i, j)
		}
	}
}

// ZeroGrad sets the gradient to zero.
func (p *Param) ZeroGrad() {
	for i := range p.grad {
		p.grad[i] = 0
	}
}

// Fix holds the listed elements constant during gradient checks.
func (p *Param) Fix(idx ...int) {
	for _, i := range idx {
		p.fixed[i] = true
	}
}

// FixColumns holds every element of the listed columns constant. Negative
// columns count from the right, so -1 is the last column.
func (p *Param) FixColumns(cols ...int) {
	for _, c := range cols {
		if c < 0 {
			c += p.cols
		}
		if c < 0 || c >= p.cols {
			panic(fmt.Sprintf("param: column %d out of range for %s", c, p.name))
		}
		for i := 0; i < p.rows; i++ {
			p.fixed[i*p.cols+c] = true
		}
	}
}

// Fixed returns whether element i is held constant.
func (p *Param) Fixed(i int) bool { return p.fixed[i] }

// Parent returns the Node the Param is linked into, or nil.
func (p *Param) Parent() *Node { return p.up }

func (p *Param) parent() *Node      { return p.up }
func (p *Param) setParent(n *Node) { p.up = n }

func (p *Param) bind(value, grad []float64, fixed []bool) {
	copy(value, p.value)
	copy(grad, p.grad)
	copy(fixed, p.fixed)
	p.value = value
	p.grad = grad
	p.fixed = fixed
}

func (p *Param) names(prefix string, dst []string) []string {
	name := prefix + p.name
	if len(p.value) == 1 {
		return append(dst, name)
	}
	for i := range p.value {
		if p.cols > 1 {
			dst = append(dst, fmt.Sprintf("%s[%d,%d]", name, i/p.cols, i%p.cols))
			continue
		}
		dst = append(dst, fmt.Sprintf("%s[%d]", name, i))
	}
	return dst
}

func (p *Param) randomize(rnd *rand.Rand, loc, scale float64) {
	for i := range p.value {
		if p.fixed[i] {
			continue
		}
		v := loc + scale*rnd.NormFloat64()
		if p.positive {
			v = math.Abs(v)
			if v == 0 {
				v = math.SmallestNonzeroFloat64
			}
		}
		p.value[i] = v
	}
}
