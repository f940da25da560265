package kern

import (
	"errors"

	"github.com/reggo/gpcheck/param"
	"github.com/reggo/gpcheck/variational"

	"gonum.org/v1/gonum/mat"
)

// Add is the sum of its parts. Nested sums are flattened at construction.
type Add struct {
	base
	expectations
	parts []Kernel
}

var _ PsiKernel = (*Add)(nil)

// NewAdd returns the sum of the kernels. The active dims of the sum are the
// union of the active dims of the parts. A nested sum gives up its parts to
// the new sum and is left without parameters. NewAdd panics if a kernel is
// already part of another composite.
func NewAdd(kernels ...Kernel) *Add {
	var parts []Kernel
	for _, k := range kernels {
		if a, ok := k.(*Add); ok && a.node.Parent() == nil {
			a.node.Unlink()
			parts = append(parts, a.parts...)
			a.parts = nil
			continue
		}
		parts = append(parts, k)
	}
	nodes := make([]param.Linkable, len(parts))
	for i, p := range parts {
		nodes[i] = p.Params()
	}
	k := &Add{
		base:  newBase("sum", unionDims(parts), nodes...),
		parts: parts,
	}
	k.expectations = expectations{k}
	return k
}

// Parts returns the summands.
func (k *Add) Parts() []Kernel {
	parts := make([]Kernel, len(k.parts))
	copy(parts, k.parts)
	return parts
}

func (k *Add) K(X, X2 mat.Matrix) *mat.Dense {
	return sumK(k.parts, X, X2)
}

func (k *Add) Kdiag(X mat.Matrix) []float64 {
	return sumKdiag(k.parts, X)
}

// KParts returns the covariance summed over the given parts only. It panics
// if a kernel is not a part of k.
func (k *Add) KParts(X, X2 mat.Matrix, parts ...Kernel) *mat.Dense {
	return sumK(k.which(parts), X, X2)
}

// KdiagParts returns the diagonal of KParts(X, nil, parts...).
func (k *Add) KdiagParts(X mat.Matrix, parts ...Kernel) []float64 {
	return sumKdiag(k.which(parts), X)
}

func (k *Add) which(parts []Kernel) []Kernel {
	if len(parts) == 0 {
		panic("kern: no parts selected")
	}
	for _, p := range parts {
		found := false
		for _, q := range k.parts {
			if p == q {
				found = true
				break
			}
		}
		if !found {
			panic("kern: " + p.Name() + " is not a part of the sum")
		}
	}
	return parts
}

func sumK(parts []Kernel, X, X2 mat.Matrix) *mat.Dense {
	var out mat.Dense
	for i, p := range parts {
		if i == 0 {
			out.CloneFrom(p.K(X, X2))
			continue
		}
		out.Add(&out, p.K(X, X2))
	}
	return &out
}

func sumKdiag(parts []Kernel, X mat.Matrix) []float64 {
	out := make([]float64, rows(X))
	for _, p := range parts {
		for i, v := range p.Kdiag(X) {
			out[i] += v
		}
	}
	return out
}

func (k *Add) UpdateGradientsFull(dLdK, X, X2 mat.Matrix) error {
	for _, p := range k.parts {
		if err := p.UpdateGradientsFull(dLdK, X, X2); err != nil {
			return err
		}
	}
	return nil
}

func (k *Add) UpdateGradientsDiag(dLdKdiag []float64, X mat.Matrix) error {
	for _, p := range k.parts {
		if err := p.UpdateGradientsDiag(dLdKdiag, X); err != nil {
			return err
		}
	}
	return nil
}

func (k *Add) GradientsX(dLdK, X, X2 mat.Matrix) (*mat.Dense, error) {
	out := zerosLike(X)
	for _, p := range k.parts {
		g, err := p.GradientsX(dLdK, X, X2)
		if err != nil {
			return nil, err
		}
		out.Add(out, g)
	}
	return out, nil
}

func (k *Add) GradientsXDiag(dLdKdiag []float64, X mat.Matrix) (*mat.Dense, error) {
	out := zerosLike(X)
	for _, p := range k.parts {
		g, err := p.GradientsXDiag(dLdKdiag, X)
		if err != nil {
			return nil, err
		}
		out.Add(out, g)
	}
	return out, nil
}

func (k *Add) GradientsXX(dLdK, X, X2 mat.Matrix) (*Tensor4, error) {
	var out *Tensor4
	for _, p := range k.parts {
		g, err := p.GradientsXX(dLdK, X, X2)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = g
			continue
		}
		out.AddTensor(g)
	}
	return out, nil
}

func (k *Add) GradientsXXDiag(dLdKdiag []float64, X mat.Matrix) (*Tensor3, error) {
	var out *Tensor3
	for _, p := range k.parts {
		g, err := p.GradientsXXDiag(dLdKdiag, X)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = g
			continue
		}
		out.AddTensor(g)
	}
	return out, nil
}

// errCrossTerm is wrapped when two summands are correlated under q(X).
var errCrossTerm = errors.New("kern: psi2 cross term between dependent summands")

// psiParts returns the parts as psiImpl, or an error when some part has no
// expectations or two parts are not independent under q(X).
func (k *Add) psiParts() ([]psiImpl, error) {
	parts := make([]psiImpl, len(k.parts))
	for i, p := range k.parts {
		pi, ok := p.(psiImpl)
		if !ok {
			return nil, ErrNotImplemented
		}
		parts[i] = pi
	}
	for i := range parts {
		for j := i + 1; j < len(parts); j++ {
			if !independent(parts[i], parts[j]) {
				return nil, errors.Join(ErrNotImplemented, errCrossTerm)
			}
		}
	}
	return parts, nil
}

// independent reports whether the expectation of the product of a and b
// factorises. This holds when either is constant in x or when they read
// disjoint columns.
func independent(a, b Kernel) bool {
	switch a.(type) {
	case *Bias, *White:
		return true
	}
	switch b.(type) {
	case *Bias, *White:
		return true
	}
	seen := make(map[int]bool)
	for _, d := range a.ActiveDims() {
		seen[d] = true
	}
	for _, d := range b.ActiveDims() {
		if seen[d] {
			return false
		}
	}
	return true
}

// The exported expectations check that every part supports them before
// delegating.

func (k *Add) Psi0(Z mat.Matrix, qX *variational.NormalPosterior) ([]float64, error) {
	if _, err := k.psiParts(); err != nil {
		return nil, err
	}
	return k.expectations.Psi0(Z, qX)
}

func (k *Add) Psi1(Z mat.Matrix, qX *variational.NormalPosterior) (*mat.Dense, error) {
	if _, err := k.psiParts(); err != nil {
		return nil, err
	}
	return k.expectations.Psi1(Z, qX)
}

func (k *Add) Psi2n(Z mat.Matrix, qX *variational.NormalPosterior) (*Tensor3, error) {
	if _, err := k.psiParts(); err != nil {
		return nil, err
	}
	return k.expectations.Psi2n(Z, qX)
}

func (k *Add) Psi2(Z mat.Matrix, qX *variational.NormalPosterior) (*mat.Dense, error) {
	if _, err := k.psiParts(); err != nil {
		return nil, err
	}
	return k.expectations.Psi2(Z, qX)
}

func (k *Add) psi0(Z, mu, S mat.Matrix) []float64 {
	out := make([]float64, rows(mu))
	for _, p := range k.parts {
		for i, v := range p.(psiImpl).psi0(Z, mu, S) {
			out[i] += v
		}
	}
	return out
}

func (k *Add) psi1(Z, mu, S mat.Matrix) *mat.Dense {
	out := mat.NewDense(rows(mu), rows(Z), nil)
	for _, p := range k.parts {
		out.Add(out, p.(psiImpl).psi1(Z, mu, S))
	}
	return out
}

func (k *Add) psi2n(Z, mu, S mat.Matrix) *Tensor3 {
	n, m := rows(mu), rows(Z)
	out := NewTensor3(n, m, m)
	p1 := make([]*mat.Dense, len(k.parts))
	for i, p := range k.parts {
		out.AddTensor(p.(psiImpl).psi2n(Z, mu, S))
		p1[i] = p.(psiImpl).psi1(Z, mu, S)
	}
	for a := range p1 {
		for b := a + 1; b < len(p1); b++ {
			for i := 0; i < n; i++ {
				for j := 0; j < m; j++ {
					for o := 0; o < m; o++ {
						out.Add(i, j, o, p1[a].At(i, j)*p1[b].At(i, o)+p1[b].At(i, j)*p1[a].At(i, o))
					}
				}
			}
		}
	}
	return out
}

func (k *Add) psiGradients(dL0 []float64, dL1 mat.Matrix, dL2 Psi2Grad, Z, mu, S mat.Matrix) (*psiGrad, error) {
	parts, err := k.psiParts()
	if err != nil {
		return nil, err
	}
	n, m := rows(mu), rows(Z)
	p1 := make([]*mat.Dense, len(parts))
	for i, p := range parts {
		p1[i] = p.psi1(Z, mu, S)
	}

	g := newPsiGrad(0, Z, mu)
	for a, p := range parts {
		// The cross terms reach part a through its psi1.
		eff := mat.DenseCopyOf(dL1)
		for b := range parts {
			if b == a {
				continue
			}
			for i := 0; i < n; i++ {
				row := eff.RawRowView(i)
				for j := 0; j < m; j++ {
					for o := 0; o < m; o++ {
						row[j] += (dL2.At(i, j, o) + dL2.At(i, o, j)) * p1[b].At(i, o)
					}
				}
			}
		}
		pg, err := p.psiGradients(dL0, eff, dL2, Z, mu, S)
		if err != nil {
			return nil, err
		}
		g.theta = append(g.theta, pg.theta...)
		g.dZ.Add(g.dZ, pg.dZ)
		g.dMean.Add(g.dMean, pg.dMean)
		g.dVar.Add(g.dVar, pg.dVar)
	}
	return g, nil
}
