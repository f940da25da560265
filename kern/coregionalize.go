package kern

import (
	"fmt"
	"math"

	"github.com/reggo/gpcheck/common"
	"github.com/reggo/gpcheck/param"

	"gonum.org/v1/gonum/mat"
)

// Coregionalize is the kernel B[i, j] between outputs i and j, where
// B = W·Wᵀ + diag(κ) and the output of a point is read from its single
// active column.
type Coregionalize struct {
	base
	outputDim int
	w         *param.Param
	kappa     *param.Param
}

var _ Kernel = (*Coregionalize)(nil)

// NewCoregionalize returns a coregionalization kernel over outputDim outputs
// with a rank-rank W. The index column defaults to column 0 and can be moved
// with WithActiveDims.
func NewCoregionalize(outputDim, rank int, opts ...Option) *Coregionalize {
	if outputDim < 1 || rank < 1 {
		panic("kern: coregionalize needs a positive output dimension and rank")
	}
	o := gatherOptions("coregion", 1, opts)
	w := mat.NewDense(outputDim, rank, nil)
	fillDense(w, 0.5/math.Sqrt(float64(rank)))
	wp := param.NewMatrix("W", w)
	kappa := param.New("kappa", fill(o.variance, outputDim, 0.5)...).Positive()
	return &Coregionalize{
		base:      newBase(o.name, o.activeDims, wp, kappa),
		outputDim: outputDim,
		w:         wp,
		kappa:     kappa,
	}
}

// OutputDim returns the number of outputs.
func (k *Coregionalize) OutputDim() int { return k.outputDim }

// B returns the output covariance W·Wᵀ + diag(κ).
func (k *Coregionalize) B() *mat.Dense {
	var b mat.Dense
	w := k.w.Matrix()
	b.Mul(w, w.T())
	for i := 0; i < k.outputDim; i++ {
		b.Set(i, i, b.At(i, i)+k.kappa.At(i))
	}
	return &b
}

func (k *Coregionalize) index(X mat.Matrix) []int {
	return outputIndex(X, k.active[0], k.outputDim)
}

func (k *Coregionalize) K(X, X2 mat.Matrix) *mat.Dense {
	b := k.B()
	ix := k.index(X)
	iy := k.index(other(X, X2))
	out := mat.NewDense(len(ix), len(iy), nil)
	for i, a := range ix {
		for j, c := range iy {
			out.Set(i, j, b.At(a, c))
		}
	}
	return out
}

func (k *Coregionalize) Kdiag(X mat.Matrix) []float64 {
	b := k.B()
	ix := k.index(X)
	out := make([]float64, len(ix))
	for i, a := range ix {
		out[i] = b.At(a, a)
	}
	return out
}

// setGrads sets the W and κ gradients from the gradient with respect to B.
func (k *Coregionalize) setGrads(dB *mat.Dense) {
	var sym, dW mat.Dense
	sym.Add(dB, dB.T())
	dW.Mul(&sym, k.w.Matrix())
	k.w.SetGradMatrix(&dW)
	dk := make([]float64, k.outputDim)
	for i := range dk {
		dk[i] = dB.At(i, i)
	}
	k.kappa.SetGrad(dk)
}

func (k *Coregionalize) UpdateGradientsFull(dLdK, X, X2 mat.Matrix) error {
	if err := common.VerifyInputs("kern: coregionalize", dLdK, X, X2); err != nil {
		return err
	}
	ix := k.index(X)
	iy := k.index(other(X, X2))
	dB := mat.NewDense(k.outputDim, k.outputDim, nil)
	for i, a := range ix {
		for j, c := range iy {
			dB.Set(a, c, dB.At(a, c)+dLdK.At(i, j))
		}
	}
	k.setGrads(dB)
	return nil
}

func (k *Coregionalize) UpdateGradientsDiag(dLdKdiag []float64, X mat.Matrix) error {
	if len(dLdKdiag) != rows(X) {
		return common.ErrInputDimension
	}
	dB := mat.NewDense(k.outputDim, k.outputDim, nil)
	for i, a := range k.index(X) {
		dB.Set(a, a, dB.At(a, a)+dLdKdiag[i])
	}
	k.setGrads(dB)
	return nil
}

func (k *Coregionalize) GradientsX(dLdK, X, X2 mat.Matrix) (*mat.Dense, error) {
	if err := common.VerifyInputs("kern: coregionalize", dLdK, X, X2); err != nil {
		return nil, err
	}
	return zerosLike(X), nil
}

func (k *Coregionalize) GradientsXDiag(dLdKdiag []float64, X mat.Matrix) (*mat.Dense, error) {
	if len(dLdKdiag) != rows(X) {
		return nil, common.ErrInputDimension
	}
	return zerosLike(X), nil
}

func (k *Coregionalize) GradientsXX(dLdK, X, X2 mat.Matrix) (*Tensor4, error) {
	if err := common.VerifyInputs("kern: coregionalize", dLdK, X, X2); err != nil {
		return nil, err
	}
	w := cols(X)
	return NewTensor4(rows(X), rows(other(X, X2)), w, w), nil
}

func (k *Coregionalize) GradientsXXDiag(dLdKdiag []float64, X mat.Matrix) (*Tensor3, error) {
	if len(dLdKdiag) != rows(X) {
		return nil, common.ErrInputDimension
	}
	w := cols(X)
	return NewTensor3(rows(X), w, w), nil
}

// outputIndex reads the integer codes in column col of X. It panics if a
// code is outside [0, outputDim).
func outputIndex(X mat.Matrix, col, outputDim int) []int {
	r, _ := X.Dims()
	idx := make([]int, r)
	for i := range idx {
		v := X.At(i, col)
		c := int(math.Round(v))
		if math.IsNaN(v) || c < 0 || c >= outputDim {
			panic(fmt.Sprintf("kern: output index %v out of range [0, %d)", v, outputDim))
		}
		idx[i] = c
	}
	return idx
}
