package kern

import (
	"github.com/reggo/gpcheck/common"
	"github.com/reggo/gpcheck/param"

	"gonum.org/v1/gonum/mat"
)

// Prod is the elementwise product of its parts. It has no second
// derivatives.
type Prod struct {
	base
	parts []Kernel
}

var _ Kernel = (*Prod)(nil)

// NewProd returns the product of the kernels. Nested products are flattened
// and left without parameters. NewProd panics if a kernel is already part of
// another composite.
func NewProd(kernels ...Kernel) *Prod {
	var parts []Kernel
	for _, k := range kernels {
		if p, ok := k.(*Prod); ok && p.node.Parent() == nil {
			p.node.Unlink()
			parts = append(parts, p.parts...)
			p.parts = nil
			continue
		}
		parts = append(parts, k)
	}
	nodes := make([]param.Linkable, len(parts))
	for i, p := range parts {
		nodes[i] = p.Params()
	}
	return &Prod{
		base:  newBase("mul", unionDims(parts), nodes...),
		parts: parts,
	}
}

// Parts returns the factors.
func (k *Prod) Parts() []Kernel {
	parts := make([]Kernel, len(k.parts))
	copy(parts, k.parts)
	return parts
}

func (k *Prod) K(X, X2 mat.Matrix) *mat.Dense {
	var out mat.Dense
	for i, p := range k.parts {
		if i == 0 {
			out.CloneFrom(p.K(X, X2))
			continue
		}
		out.MulElem(&out, p.K(X, X2))
	}
	return &out
}

func (k *Prod) Kdiag(X mat.Matrix) []float64 {
	out := make([]float64, rows(X))
	for i, p := range k.parts {
		for j, v := range p.Kdiag(X) {
			if i == 0 {
				out[j] = v
				continue
			}
			out[j] *= v
		}
	}
	return out
}

// others returns dLdK times the covariance of every part except skip.
func (k *Prod) others(dLdK mat.Matrix, ks []*mat.Dense, skip int) *mat.Dense {
	out := mat.DenseCopyOf(dLdK)
	for i, kk := range ks {
		if i != skip {
			out.MulElem(out, kk)
		}
	}
	return out
}

func (k *Prod) othersDiag(dLdKdiag []float64, ks [][]float64, skip int) []float64 {
	out := make([]float64, len(dLdKdiag))
	copy(out, dLdKdiag)
	for i, kk := range ks {
		if i == skip {
			continue
		}
		for j, v := range kk {
			out[j] *= v
		}
	}
	return out
}

func (k *Prod) covs(X, X2 mat.Matrix) []*mat.Dense {
	ks := make([]*mat.Dense, len(k.parts))
	for i, p := range k.parts {
		ks[i] = p.K(X, X2)
	}
	return ks
}

func (k *Prod) diags(X mat.Matrix) [][]float64 {
	ks := make([][]float64, len(k.parts))
	for i, p := range k.parts {
		ks[i] = p.Kdiag(X)
	}
	return ks
}

func (k *Prod) UpdateGradientsFull(dLdK, X, X2 mat.Matrix) error {
	if err := common.VerifyInputs("kern: prod", dLdK, X, X2); err != nil {
		return err
	}
	ks := k.covs(X, X2)
	for i, p := range k.parts {
		if err := p.UpdateGradientsFull(k.others(dLdK, ks, i), X, X2); err != nil {
			return err
		}
	}
	return nil
}

func (k *Prod) UpdateGradientsDiag(dLdKdiag []float64, X mat.Matrix) error {
	if len(dLdKdiag) != rows(X) {
		return common.ErrInputDimension
	}
	ks := k.diags(X)
	for i, p := range k.parts {
		if err := p.UpdateGradientsDiag(k.othersDiag(dLdKdiag, ks, i), X); err != nil {
			return err
		}
	}
	return nil
}

func (k *Prod) GradientsX(dLdK, X, X2 mat.Matrix) (*mat.Dense, error) {
	if err := common.VerifyInputs("kern: prod", dLdK, X, X2); err != nil {
		return nil, err
	}
	ks := k.covs(X, X2)
	out := zerosLike(X)
	for i, p := range k.parts {
		g, err := p.GradientsX(k.others(dLdK, ks, i), X, X2)
		if err != nil {
			return nil, err
		}
		out.Add(out, g)
	}
	return out, nil
}

func (k *Prod) GradientsXDiag(dLdKdiag []float64, X mat.Matrix) (*mat.Dense, error) {
	if len(dLdKdiag) != rows(X) {
		return nil, common.ErrInputDimension
	}
	ks := k.diags(X)
	out := zerosLike(X)
	for i, p := range k.parts {
		g, err := p.GradientsXDiag(k.othersDiag(dLdKdiag, ks, i), X)
		if err != nil {
			return nil, err
		}
		out.Add(out, g)
	}
	return out, nil
}

func (k *Prod) GradientsXX(dLdK, X, X2 mat.Matrix) (*Tensor4, error) {
	return nil, ErrNotImplemented
}

func (k *Prod) GradientsXXDiag(dLdKdiag []float64, X mat.Matrix) (*Tensor3, error) {
	return nil, ErrNotImplemented
}
