package kern

import (
	"github.com/reggo/gpcheck/common"
	"github.com/reggo/gpcheck/param"

	"gonum.org/v1/gonum/mat"
)

// Linear is the kernel Σ_q v_q x_q x'_q. Without ARD all v_q are equal.
type Linear struct {
	base
	expectations
	ard       bool
	variances *param.Param
}

var _ PsiKernel = (*Linear)(nil)

// NewLinear returns a linear kernel with unit variances unless set by
// WithVariance.
func NewLinear(inputDim int, opts ...Option) *Linear {
	o := gatherOptions("linear", inputDim, opts)
	nv := 1
	if o.ard {
		nv = inputDim
	}
	v := param.New("variances", fill(o.variance, nv, 1)...).Positive()
	k := &Linear{
		base:      newBase(o.name, o.activeDims, v),
		ard:       o.ard,
		variances: v,
	}
	k.expectations = expectations{k}
	return k
}

// Variance returns the variance of active input q.
func (k *Linear) Variance(q int) float64 { return k.variances.At(k.vIndex(q)) }

func (k *Linear) vIndex(q int) int {
	if k.ard {
		return q
	}
	return 0
}

func (k *Linear) K(X, X2 mat.Matrix) *mat.Dense {
	xs := k.slice(X)
	ys := k.slice(other(X, X2))
	n, q := xs.Dims()
	m, _ := ys.Dims()
	out := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		x := xs.RawRowView(i)
		for j := 0; j < m; j++ {
			y := ys.RawRowView(j)
			v := 0.0
			for d := 0; d < q; d++ {
				v += k.Variance(d) * x[d] * y[d]
			}
			out.Set(i, j, v)
		}
	}
	return out
}

func (k *Linear) Kdiag(X mat.Matrix) []float64 {
	xs := k.slice(X)
	n, q := xs.Dims()
	out := make([]float64, n)
	for i := range out {
		x := xs.RawRowView(i)
		for d := 0; d < q; d++ {
			out[i] += k.Variance(d) * x[d] * x[d]
		}
	}
	return out
}

func (k *Linear) UpdateGradientsFull(dLdK, X, X2 mat.Matrix) error {
	if err := common.VerifyInputs("kern: linear", dLdK, X, X2); err != nil {
		return err
	}
	xs := k.slice(X)
	ys := k.slice(other(X, X2))
	n, q := xs.Dims()
	m, _ := ys.Dims()
	dv := make([]float64, k.variances.NumParameters())
	for i := 0; i < n; i++ {
		x := xs.RawRowView(i)
		for j := 0; j < m; j++ {
			y := ys.RawRowView(j)
			w := dLdK.At(i, j)
			for d := 0; d < q; d++ {
				dv[k.vIndex(d)] += w * x[d] * y[d]
			}
		}
	}
	k.variances.SetGrad(dv)
	return nil
}

func (k *Linear) UpdateGradientsDiag(dLdKdiag []float64, X mat.Matrix) error {
	if len(dLdKdiag) != rows(X) {
		return common.ErrInputDimension
	}
	xs := k.slice(X)
	n, q := xs.Dims()
	dv := make([]float64, k.variances.NumParameters())
	for i := 0; i < n; i++ {
		x := xs.RawRowView(i)
		for d := 0; d < q; d++ {
			dv[k.vIndex(d)] += dLdKdiag[i] * x[d] * x[d]
		}
	}
	k.variances.SetGrad(dv)
	return nil
}

func (k *Linear) GradientsX(dLdK, X, X2 mat.Matrix) (*mat.Dense, error) {
	if err := common.VerifyInputs("kern: linear", dLdK, X, X2); err != nil {
		return nil, err
	}
	ys := k.slice(other(X, X2))
	var g mat.Dense
	g.Mul(symmetrize(dLdK, X2), ys)
	n, q := g.Dims()
	for i := 0; i < n; i++ {
		row := g.RawRowView(i)
		for d := 0; d < q; d++ {
			row[d] *= k.Variance(d)
		}
	}
	return k.scatter(&g, cols(X)), nil
}

func (k *Linear) GradientsXDiag(dLdKdiag []float64, X mat.Matrix) (*mat.Dense, error) {
	if len(dLdKdiag) != rows(X) {
		return nil, common.ErrInputDimension
	}
	xs := k.slice(X)
	n, q := xs.Dims()
	g := mat.NewDense(n, q, nil)
	for i := 0; i < n; i++ {
		x := xs.RawRowView(i)
		row := g.RawRowView(i)
		for d := 0; d < q; d++ {
			row[d] = 2 * dLdKdiag[i] * k.Variance(d) * x[d]
		}
	}
	return k.scatter(g, cols(X)), nil
}

// GradientsXX is not provided. The cross derivative of a linear kernel does
// not equal minus its second derivative in one argument, which the
// second-derivative checks rely on.
func (k *Linear) GradientsXX(dLdK, X, X2 mat.Matrix) (*Tensor4, error) {
	return nil, ErrNotImplemented
}

func (k *Linear) GradientsXXDiag(dLdKdiag []float64, X mat.Matrix) (*Tensor3, error) {
	return nil, ErrNotImplemented
}

func (k *Linear) psi0(Z, mu, S mat.Matrix) []float64 {
	m, s := k.slice(mu), k.slice(S)
	n, q := m.Dims()
	out := make([]float64, n)
	for i := range out {
		mi, si := m.RawRowView(i), s.RawRowView(i)
		for d := 0; d < q; d++ {
			out[i] += k.Variance(d) * (mi[d]*mi[d] + si[d])
		}
	}
	return out
}

func (k *Linear) psi1(Z, mu, S mat.Matrix) *mat.Dense {
	// E[x] = μ, so psi1 is the covariance at the means.
	return k.K(mu, Z)
}

func (k *Linear) psi2n(Z, mu, S mat.Matrix) *Tensor3 {
	z, s := k.slice(Z), k.slice(S)
	p1 := k.psi1(Z, mu, S)
	n, nz := p1.Dims()
	q := cols(z)
	out := NewTensor3(n, nz, nz)
	for i := 0; i < n; i++ {
		si := s.RawRowView(i)
		for j := 0; j < nz; j++ {
			zj := z.RawRowView(j)
			for o := 0; o < nz; o++ {
				zo := z.RawRowView(o)
				v := p1.At(i, j) * p1.At(i, o)
				for d := 0; d < q; d++ {
					vd := k.Variance(d)
					v += vd * vd * si[d] * zj[d] * zo[d]
				}
				out.Set(i, j, o, v)
			}
		}
	}
	return out
}

func (k *Linear) psiGradients(dL0 []float64, dL1 mat.Matrix, dL2 Psi2Grad, Z, mu, S mat.Matrix) (*psiGrad, error) {
	z, m, s := k.slice(Z), k.slice(mu), k.slice(S)
	n, q := m.Dims()
	nz := rows(z)
	p1 := k.psi1(Z, mu, S)

	// The product psi1[n,m]·psi1[n,o] in psi2n contributes through psi1, so
	// it is folded into an effective dL1.
	eff := mat.DenseCopyOf(dL1)
	for i := 0; i < n; i++ {
		row := eff.RawRowView(i)
		for j := 0; j < nz; j++ {
			for o := 0; o < nz; o++ {
				row[j] += (dL2.At(i, j, o) + dL2.At(i, o, j)) * p1.At(i, o)
			}
		}
	}

	dv := make([]float64, q)
	dZ := mat.NewDense(nz, q, nil)
	dMu := mat.NewDense(n, q, nil)
	dS := mat.NewDense(n, q, nil)
	ww := make([]float64, q)
	for i := 0; i < n; i++ {
		mi, si := m.RawRowView(i), s.RawRowView(i)
		gm, gs := dMu.RawRowView(i), dS.RawRowView(i)
		for d := 0; d < q; d++ {
			vd := k.Variance(d)
			dv[d] += dL0[i] * (mi[d]*mi[d] + si[d])
			gm[d] += 2 * dL0[i] * vd * mi[d]
			gs[d] += dL0[i] * vd
		}
		for j := 0; j < nz; j++ {
			zj := z.RawRowView(j)
			gz := dZ.RawRowView(j)
			w := eff.At(i, j)
			for d := 0; d < q; d++ {
				vd := k.Variance(d)
				dv[d] += w * mi[d] * zj[d]
				gm[d] += w * vd * zj[d]
				gz[d] += w * vd * mi[d]
			}
		}
		// Σ_{m,o} W[n,m,o] v_q² S_q z_mq z_oq
		for d := range ww {
			ww[d] = 0
		}
		for j := 0; j < nz; j++ {
			zj := z.RawRowView(j)
			gz := dZ.RawRowView(j)
			for o := 0; o < nz; o++ {
				zo := z.RawRowView(o)
				w := dL2.At(i, j, o)
				w2 := w + dL2.At(i, o, j)
				for d := 0; d < q; d++ {
					vd := k.Variance(d)
					ww[d] += w * zj[d] * zo[d]
					gz[d] += w2 * vd * vd * si[d] * zo[d]
				}
			}
		}
		for d := 0; d < q; d++ {
			vd := k.Variance(d)
			dv[d] += 2 * vd * si[d] * ww[d]
			gs[d] += vd * vd * ww[d]
		}
	}

	theta := make([]float64, k.variances.NumParameters())
	for d, v := range dv {
		theta[k.vIndex(d)] += v
	}
	return &psiGrad{
		theta: theta,
		dZ:    k.scatter(dZ, cols(Z)),
		dMean: k.scatter(dMu, cols(mu)),
		dVar:  k.scatter(dS, cols(S)),
	}, nil
}
