package kern

import (
	"github.com/reggo/gpcheck/common"
	"github.com/reggo/gpcheck/param"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Bias is the constant kernel k(x, x') = v.
type Bias struct {
	base
	expectations
	variance *param.Param
}

var _ PsiKernel = (*Bias)(nil)

func NewBias(inputDim int, opts ...Option) *Bias {
	o := gatherOptions("bias", inputDim, opts)
	v := param.New("variance", fill(o.variance, 1, 1)...).Positive()
	k := &Bias{
		base:     newBase(o.name, o.activeDims, v),
		variance: v,
	}
	k.expectations = expectations{k}
	return k
}

func (k *Bias) Variance() float64 { return k.variance.At(0) }

func (k *Bias) K(X, X2 mat.Matrix) *mat.Dense {
	out := mat.NewDense(rows(X), rows(other(X, X2)), nil)
	fillDense(out, k.Variance())
	return out
}

func (k *Bias) Kdiag(X mat.Matrix) []float64 {
	out := make([]float64, rows(X))
	floats.AddConst(k.Variance(), out)
	return out
}

func (k *Bias) UpdateGradientsFull(dLdK, X, X2 mat.Matrix) error {
	if err := common.VerifyInputs("kern: bias", dLdK, X, X2); err != nil {
		return err
	}
	k.variance.SetGrad([]float64{mat.Sum(dLdK)})
	return nil
}

func (k *Bias) UpdateGradientsDiag(dLdKdiag []float64, X mat.Matrix) error {
	if len(dLdKdiag) != rows(X) {
		return common.ErrInputDimension
	}
	k.variance.SetGrad([]float64{floats.Sum(dLdKdiag)})
	return nil
}

func (k *Bias) GradientsX(dLdK, X, X2 mat.Matrix) (*mat.Dense, error) {
	if err := common.VerifyInputs("kern: bias", dLdK, X, X2); err != nil {
		return nil, err
	}
	return zerosLike(X), nil
}

func (k *Bias) GradientsXDiag(dLdKdiag []float64, X mat.Matrix) (*mat.Dense, error) {
	if len(dLdKdiag) != rows(X) {
		return nil, common.ErrInputDimension
	}
	return zerosLike(X), nil
}

func (k *Bias) GradientsXX(dLdK, X, X2 mat.Matrix) (*Tensor4, error) {
	if err := common.VerifyInputs("kern: bias", dLdK, X, X2); err != nil {
		return nil, err
	}
	w := cols(X)
	return NewTensor4(rows(X), rows(other(X, X2)), w, w), nil
}

func (k *Bias) GradientsXXDiag(dLdKdiag []float64, X mat.Matrix) (*Tensor3, error) {
	if len(dLdKdiag) != rows(X) {
		return nil, common.ErrInputDimension
	}
	w := cols(X)
	return NewTensor3(rows(X), w, w), nil
}

func (k *Bias) psi0(Z, mu, S mat.Matrix) []float64 {
	return k.Kdiag(mu)
}

func (k *Bias) psi1(Z, mu, S mat.Matrix) *mat.Dense {
	return k.K(mu, Z)
}

func (k *Bias) psi2n(Z, mu, S mat.Matrix) *Tensor3 {
	out := NewTensor3(rows(mu), rows(Z), rows(Z))
	floats.AddConst(k.Variance()*k.Variance(), out.Data)
	return out
}

func (k *Bias) psiGradients(dL0 []float64, dL1 mat.Matrix, dL2 Psi2Grad, Z, mu, S mat.Matrix) (*psiGrad, error) {
	n, m := rows(mu), rows(Z)
	sum2 := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			for o := 0; o < m; o++ {
				sum2 += dL2.At(i, j, o)
			}
		}
	}
	g := newPsiGrad(1, Z, mu)
	g.theta[0] = floats.Sum(dL0) + mat.Sum(dL1) + 2*k.Variance()*sum2
	return g, nil
}

// White is the noise kernel k(x, x') = v·[x and x' are the same point]. The
// covariance between two distinct sets of inputs is zero.
type White struct {
	base
	expectations
	variance *param.Param
}

var _ PsiKernel = (*White)(nil)

func NewWhite(inputDim int, opts ...Option) *White {
	o := gatherOptions("white", inputDim, opts)
	v := param.New("variance", fill(o.variance, 1, 1)...).Positive()
	k := &White{
		base:     newBase(o.name, o.activeDims, v),
		variance: v,
	}
	k.expectations = expectations{k}
	return k
}

func (k *White) Variance() float64 { return k.variance.At(0) }

func (k *White) K(X, X2 mat.Matrix) *mat.Dense {
	out := mat.NewDense(rows(X), rows(other(X, X2)), nil)
	if X2 == nil {
		for i := 0; i < rows(X); i++ {
			out.Set(i, i, k.Variance())
		}
	}
	return out
}

func (k *White) Kdiag(X mat.Matrix) []float64 {
	out := make([]float64, rows(X))
	floats.AddConst(k.Variance(), out)
	return out
}

func (k *White) UpdateGradientsFull(dLdK, X, X2 mat.Matrix) error {
	if err := common.VerifyInputs("kern: white", dLdK, X, X2); err != nil {
		return err
	}
	g := 0.0
	if X2 == nil {
		g = mat.Trace(dLdK)
	}
	k.variance.SetGrad([]float64{g})
	return nil
}

func (k *White) UpdateGradientsDiag(dLdKdiag []float64, X mat.Matrix) error {
	if len(dLdKdiag) != rows(X) {
		return common.ErrInputDimension
	}
	k.variance.SetGrad([]float64{floats.Sum(dLdKdiag)})
	return nil
}

func (k *White) GradientsX(dLdK, X, X2 mat.Matrix) (*mat.Dense, error) {
	if err := common.VerifyInputs("kern: white", dLdK, X, X2); err != nil {
		return nil, err
	}
	return zerosLike(X), nil
}

func (k *White) GradientsXDiag(dLdKdiag []float64, X mat.Matrix) (*mat.Dense, error) {
	if len(dLdKdiag) != rows(X) {
		return nil, common.ErrInputDimension
	}
	return zerosLike(X), nil
}

func (k *White) GradientsXX(dLdK, X, X2 mat.Matrix) (*Tensor4, error) {
	if err := common.VerifyInputs("kern: white", dLdK, X, X2); err != nil {
		return nil, err
	}
	w := cols(X)
	return NewTensor4(rows(X), rows(other(X, X2)), w, w), nil
}

func (k *White) GradientsXXDiag(dLdKdiag []float64, X mat.Matrix) (*Tensor3, error) {
	if len(dLdKdiag) != rows(X) {
		return nil, common.ErrInputDimension
	}
	w := cols(X)
	return NewTensor3(rows(X), w, w), nil
}

func (k *White) psi0(Z, mu, S mat.Matrix) []float64 {
	return k.Kdiag(mu)
}

func (k *White) psi1(Z, mu, S mat.Matrix) *mat.Dense {
	return mat.NewDense(rows(mu), rows(Z), nil)
}

func (k *White) psi2n(Z, mu, S mat.Matrix) *Tensor3 {
	return NewTensor3(rows(mu), rows(Z), rows(Z))
}

func (k *White) psiGradients(dL0 []float64, dL1 mat.Matrix, dL2 Psi2Grad, Z, mu, S mat.Matrix) (*psiGrad, error) {
	g := newPsiGrad(1, Z, mu)
	g.theta[0] = floats.Sum(dL0)
	return g, nil
}

func zerosLike(X mat.Matrix) *mat.Dense {
	r, c := X.Dims()
	return mat.NewDense(r, c, nil)
}

func fillDense(m *mat.Dense, v float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] = v
		}
	}
}
