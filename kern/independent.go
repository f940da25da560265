package kern

import (
	"math"

	"github.com/reggo/gpcheck/common"
	"github.com/reggo/gpcheck/param"

	"gonum.org/v1/gonum/mat"
)

// IndependentOutputs is a block-diagonal kernel. The output of a point is
// read from the index column; points with different outputs are
// uncorrelated and points with output i are compared by kernel i. A single
// kernel is shared by every output.
type IndependentOutputs struct {
	base
	kernels  []Kernel
	indexDim int
	shared   bool
}

var _ Kernel = (*IndependentOutputs)(nil)

// NewIndependentOutputs returns a block-diagonal kernel over len(kernels)
// outputs, or over any number of outputs when a single kernel is given.
func NewIndependentOutputs(kernels []Kernel, indexDim int) *IndependentOutputs {
	if len(kernels) == 0 {
		panic("kern: no kernels for independent outputs")
	}
	nodes := make([]param.Linkable, len(kernels))
	for i, k := range kernels {
		nodes[i] = k.Params()
	}
	return &IndependentOutputs{
		base:     newBase("independ", unionDims(kernels, indexDim), nodes...),
		kernels:  append([]Kernel(nil), kernels...),
		indexDim: indexDim,
		shared:   len(kernels) == 1,
	}
}

// group is the set of rows of X and X2 that belong to one output.
type group struct {
	kern   int
	rows   []int
	others []int
}

// groups splits the rows of X and X2 (X when X2 is nil) by output.
func (k *IndependentOutputs) groups(X, X2 mat.Matrix) []group {
	outputs := len(k.kernels)
	if k.shared {
		outputs = maxIndex(X, k.indexDim) + 1
		if X2 != nil {
			outputs = max(outputs, maxIndex(X2, k.indexDim)+1)
		}
	}
	gs := make([]group, outputs)
	for i := range gs {
		gs[i].kern = i
		if k.shared {
			gs[i].kern = 0
		}
	}
	for i, c := range outputIndex(X, k.indexDim, outputs) {
		gs[c].rows = append(gs[c].rows, i)
	}
	if X2 == nil {
		for i := range gs {
			gs[i].others = gs[i].rows
		}
		return gs
	}
	for i, c := range outputIndex(X2, k.indexDim, outputs) {
		gs[c].others = append(gs[c].others, i)
	}
	return gs
}

func maxIndex(X mat.Matrix, col int) int {
	m := 0
	for i := 0; i < rows(X); i++ {
		m = max(m, int(math.Round(X.At(i, col))))
	}
	return m
}

func pickRows(X mat.Matrix, idx []int) *mat.Dense {
	out := mat.NewDense(len(idx), cols(X), nil)
	for i, r := range idx {
		for j := 0; j < cols(X); j++ {
			out.Set(i, j, X.At(r, j))
		}
	}
	return out
}

func pickBlock(m mat.Matrix, r, c []int) *mat.Dense {
	out := mat.NewDense(len(r), len(c), nil)
	for i, ri := range r {
		for j, cj := range c {
			out.Set(i, j, m.At(ri, cj))
		}
	}
	return out
}

func pick(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, r := range idx {
		out[i] = v[r]
	}
	return out
}

// args returns the arguments of one group, keeping a nil X2 nil.
func (g group) args(X, X2 mat.Matrix) (mat.Matrix, mat.Matrix) {
	if X2 == nil {
		return pickRows(X, g.rows), nil
	}
	return pickRows(X, g.rows), pickRows(X2, g.others)
}

func (g group) empty() bool { return len(g.rows) == 0 || len(g.others) == 0 }

func (k *IndependentOutputs) K(X, X2 mat.Matrix) *mat.Dense {
	out := mat.NewDense(rows(X), rows(other(X, X2)), nil)
	for _, g := range k.groups(X, X2) {
		if g.empty() {
			continue
		}
		x, x2 := g.args(X, X2)
		kg := k.kernels[g.kern].K(x, x2)
		for i, r := range g.rows {
			for j, c := range g.others {
				out.Set(r, c, kg.At(i, j))
			}
		}
	}
	return out
}

func (k *IndependentOutputs) Kdiag(X mat.Matrix) []float64 {
	out := make([]float64, rows(X))
	for _, g := range k.groups(X, nil) {
		if g.empty() {
			continue
		}
		for i, v := range k.kernels[g.kern].Kdiag(pickRows(X, g.rows)) {
			out[g.rows[i]] = v
		}
	}
	return out
}

// accumulate runs update for every non-empty group and sums the resulting
// gradients of each kernel, since every call overwrites them.
func (k *IndependentOutputs) accumulate(gs []group, update func(g group) error) error {
	acc := make([][]float64, len(k.kernels))
	for i, kk := range k.kernels {
		acc[i] = make([]float64, kk.Params().NumParameters())
	}
	for _, g := range gs {
		if g.empty() {
			continue
		}
		if err := update(g); err != nil {
			return err
		}
		grad := k.kernels[g.kern].Params().Gradient(nil)
		for i, v := range grad {
			acc[g.kern][i] += v
		}
	}
	for i, kk := range k.kernels {
		kk.Params().SetGradient(acc[i])
	}
	return nil
}

func (k *IndependentOutputs) UpdateGradientsFull(dLdK, X, X2 mat.Matrix) error {
	if err := common.VerifyInputs("kern: independent outputs", dLdK, X, X2); err != nil {
		return err
	}
	return k.accumulate(k.groups(X, X2), func(g group) error {
		x, x2 := g.args(X, X2)
		return k.kernels[g.kern].UpdateGradientsFull(pickBlock(dLdK, g.rows, g.others), x, x2)
	})
}

func (k *IndependentOutputs) UpdateGradientsDiag(dLdKdiag []float64, X mat.Matrix) error {
	if len(dLdKdiag) != rows(X) {
		return common.ErrInputDimension
	}
	return k.accumulate(k.groups(X, nil), func(g group) error {
		return k.kernels[g.kern].UpdateGradientsDiag(pick(dLdKdiag, g.rows), pickRows(X, g.rows))
	})
}

func (k *IndependentOutputs) GradientsX(dLdK, X, X2 mat.Matrix) (*mat.Dense, error) {
	if err := common.VerifyInputs("kern: independent outputs", dLdK, X, X2); err != nil {
		return nil, err
	}
	out := zerosLike(X)
	for _, g := range k.groups(X, X2) {
		if g.empty() {
			continue
		}
		x, x2 := g.args(X, X2)
		gx, err := k.kernels[g.kern].GradientsX(pickBlock(dLdK, g.rows, g.others), x, x2)
		if err != nil {
			return nil, err
		}
		for i, r := range g.rows {
			out.SetRow(r, gx.RawRowView(i))
		}
	}
	return out, nil
}

func (k *IndependentOutputs) GradientsXDiag(dLdKdiag []float64, X mat.Matrix) (*mat.Dense, error) {
	if len(dLdKdiag) != rows(X) {
		return nil, common.ErrInputDimension
	}
	out := zerosLike(X)
	for _, g := range k.groups(X, nil) {
		if g.empty() {
			continue
		}
		gx, err := k.kernels[g.kern].GradientsXDiag(pick(dLdKdiag, g.rows), pickRows(X, g.rows))
		if err != nil {
			return nil, err
		}
		for i, r := range g.rows {
			out.SetRow(r, gx.RawRowView(i))
		}
	}
	return out, nil
}

func (k *IndependentOutputs) GradientsXX(dLdK, X, X2 mat.Matrix) (*Tensor4, error) {
	if err := common.VerifyInputs("kern: independent outputs", dLdK, X, X2); err != nil {
		return nil, err
	}
	w := cols(X)
	out := NewTensor4(rows(X), rows(other(X, X2)), w, w)
	for _, g := range k.groups(X, X2) {
		if g.empty() {
			continue
		}
		x, x2 := g.args(X, X2)
		gx, err := k.kernels[g.kern].GradientsXX(pickBlock(dLdK, g.rows, g.others), x, x2)
		if err != nil {
			return nil, err
		}
		for i, r := range g.rows {
			for j, c := range g.others {
				for q := 0; q < w; q++ {
					for p := 0; p < w; p++ {
						out.Set(r, c, q, p, gx.At(i, j, q, p))
					}
				}
			}
		}
	}
	return out, nil
}

func (k *IndependentOutputs) GradientsXXDiag(dLdKdiag []float64, X mat.Matrix) (*Tensor3, error) {
	if len(dLdKdiag) != rows(X) {
		return nil, common.ErrInputDimension
	}
	w := cols(X)
	out := NewTensor3(rows(X), w, w)
	for _, g := range k.groups(X, nil) {
		if g.empty() {
			continue
		}
		gx, err := k.kernels[g.kern].GradientsXXDiag(pick(dLdKdiag, g.rows), pickRows(X, g.rows))
		if err != nil {
			return nil, err
		}
		for i, r := range g.rows {
			for q := 0; q < w; q++ {
				for p := 0; p < w; p++ {
					out.Set(r, q, p, gx.At(i, q, p))
				}
			}
		}
	}
	return out, nil
}
