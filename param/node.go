package param

import (
	"fmt"
	"math/rand/v2"
)

// Node is a named group of Params and child Nodes. The values of every item
// beneath a Node are views into the Node's flat buffers.
type Node struct {
	name  string
	items []Linkable
	up    *Node

	value []float64
	grad  []float64
	fixed []bool
}

// NewNode returns a Node containing the given items.
func NewNode(name string, items ...Linkable) *Node {
	n := &Node{name: name}
	n.Link(items...)
	return n
}

func (n *Node) Name() string { return n.name }

// NumParameters returns the total number of values beneath the Node.
func (n *Node) NumParameters() int { return len(n.value) }

// Link appends items to the Node and rebinds all storage beneath the Node
// into freshly allocated buffers. Current values, gradients and fixes are
// preserved. Link panics if an item already belongs to a Node; an item has
// a single owner, so it must be unlinked before it is linked elsewhere.
func (n *Node) Link(items ...Linkable) {
	for i, it := range items {
		if it == Linkable(n) || it.parent() != nil {
			panic(fmt.Sprintf("param: %s is already linked", it.Name()))
		}
		for _, other := range items[:i] {
			if other == it {
				panic(fmt.Sprintf("param: %s is already linked", it.Name()))
			}
		}
	}
	for _, it := range items {
		it.setParent(n)
	}
	n.items = append(n.items, items...)
	size := 0
	for _, it := range n.items {
		size += it.NumParameters()
	}
	n.bind(make([]float64, size), make([]float64, size), make([]bool, size))
}

// Unlink detaches every child of the Node. Each child keeps its current
// values in storage of its own and may then be linked into another Node.
func (n *Node) Unlink() {
	for _, it := range n.items {
		l := it.NumParameters()
		it.bind(make([]float64, l), make([]float64, l), make([]bool, l))
		it.setParent(nil)
	}
	n.items = nil
	n.value, n.grad, n.fixed = nil, nil, nil
}

// Parent returns the Node the receiver is linked into, or nil.
func (n *Node) Parent() *Node { return n.up }

func (n *Node) parent() *Node     { return n.up }
func (n *Node) setParent(p *Node) { n.up = p }

// Items returns the direct children of the Node.
func (n *Node) Items() []Linkable {
	items := make([]Linkable, len(n.items))
	copy(items, n.items)
	return items
}

func (n *Node) bind(value, grad []float64, fixed []bool) {
	offset := 0
	for _, it := range n.items {
		l := it.NumParameters()
		it.bind(value[offset:offset+l:offset+l], grad[offset:offset+l:offset+l], fixed[offset:offset+l:offset+l])
		offset += l
	}
	n.value = value
	n.grad = grad
	n.fixed = fixed
}

// Parameters copies the values beneath the Node into dst. If dst is nil a new
// slice is allocated. Parameters panics if dst is non-nil and has the wrong
// length.
func (n *Node) Parameters(dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(n.value))
	}
	if len(dst) != len(n.value) {
		panic("param: parameter length mismatch")
	}
	copy(dst, n.value)
	return dst
}

// SetParameters copies x into the values beneath the Node. SetParameters
// panics if len(x) != NumParameters().
func (n *Node) SetParameters(x []float64) {
	if len(x) != len(n.value) {
		panic("param: parameter length mismatch")
	}
	copy(n.value, x)
}

// Gradient copies the gradient beneath the Node into dst, allocating if dst
// is nil.
func (n *Node) Gradient(dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(n.grad))
	}
	if len(dst) != len(n.grad) {
		panic("param: gradient length mismatch")
	}
	copy(dst, n.grad)
	return dst
}

// SetGradient copies g into the gradient beneath the Node.
func (n *Node) SetGradient(g []float64) {
	if len(g) != len(n.grad) {
		panic("param: gradient length mismatch")
	}
	copy(n.grad, g)
}

// ZeroGradient sets the gradient beneath the Node to zero.
func (n *Node) ZeroGradient() {
	for i := range n.grad {
		n.grad[i] = 0
	}
}

// Fixed returns a copy of the fixed mask beneath the Node.
func (n *Node) Fixed() []bool {
	f := make([]bool, len(n.fixed))
	copy(f, n.fixed)
	return f
}

// ParameterNames returns a dotted name for every value beneath the Node.
func (n *Node) ParameterNames() []string {
	return n.names("", make([]string, 0, len(n.value)))
}

func (n *Node) names(prefix string, dst []string) []string {
	prefix += n.name + "."
	for _, it := range n.items {
		dst = it.names(prefix, dst)
	}
	return dst
}

// Randomize draws every free value from a normal distribution with the given
// location and scale. Positive parameters take the absolute value of the draw.
func (n *Node) Randomize(rnd *rand.Rand, loc, scale float64) {
	n.randomize(rnd, loc, scale)
}

func (n *Node) randomize(rnd *rand.Rand, loc, scale float64) {
	for _, it := range n.items {
		it.randomize(rnd, loc, scale)
	}
}
