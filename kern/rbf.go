package kern

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RBF is the exponentiated quadratic kernel σ²·exp(-r²/2). It has closed-form
// expectations under a Gaussian q(X).
type RBF struct {
	*Stationary
	expectations
}

var _ PsiKernel = (*RBF)(nil)

// NewRBF returns an RBF kernel with unit variance and lengthscale unless set
// by the options.
func NewRBF(inputDim int, opts ...Option) *RBF {
	k := &RBF{Stationary: newStationary("rbf", expQuad{}, inputDim, opts)}
	k.expectations = expectations{k}
	return k
}

// logPsi1 is log(psi1/σ²) for one sample and one inducing input.
func (k *RBF) logPsi1(mu, S, z []float64) float64 {
	v := 0.0
	for q := range mu {
		l := k.Lengthscale(q)
		a := l * l
		d := mu[q] - z[q]
		v -= 0.5*math.Log1p(S[q]/a) + d*d/(2*(a+S[q]))
	}
	return v
}

// logPsi2 is log(psi2n/σ⁴) for one sample and two inducing inputs.
func (k *RBF) logPsi2(mu, S, zm, zo []float64) float64 {
	v := 0.0
	for q := range mu {
		l := k.Lengthscale(q)
		a := l * l
		dz := zm[q] - zo[q]
		d := mu[q] - 0.5*(zm[q]+zo[q])
		v -= 0.5*math.Log1p(2*S[q]/a) + dz*dz/(4*a) + d*d/(a+2*S[q])
	}
	return v
}

func (k *RBF) psi0(Z, mu, S mat.Matrix) []float64 {
	out := make([]float64, rows(mu))
	floats.AddConst(k.Variance(), out)
	return out
}

func (k *RBF) psi1(Z, mu, S mat.Matrix) *mat.Dense {
	z, m, s := k.slice(Z), k.slice(mu), k.slice(S)
	n, nz := rows(m), rows(z)
	s2 := k.Variance()
	out := mat.NewDense(n, nz, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < nz; j++ {
			out.Set(i, j, s2*math.Exp(k.logPsi1(m.RawRowView(i), s.RawRowView(i), z.RawRowView(j))))
		}
	}
	return out
}

func (k *RBF) psi2n(Z, mu, S mat.Matrix) *Tensor3 {
	z, m, s := k.slice(Z), k.slice(mu), k.slice(S)
	n, nz := rows(m), rows(z)
	s4 := k.Variance() * k.Variance()
	out := NewTensor3(n, nz, nz)
	for i := 0; i < n; i++ {
		for j := 0; j < nz; j++ {
			for o := 0; o < nz; o++ {
				out.Set(i, j, o, s4*math.Exp(k.logPsi2(m.RawRowView(i), s.RawRowView(i), z.RawRowView(j), z.RawRowView(o))))
			}
		}
	}
	return out
}

func (k *RBF) psiGradients(dL0 []float64, dL1 mat.Matrix, dL2 Psi2Grad, Z, mu, S mat.Matrix) (*psiGrad, error) {
	z, m, s := k.slice(Z), k.slice(mu), k.slice(S)
	n, q := m.Dims()
	nz := rows(z)
	s2 := k.Variance()

	dVar := floats.Sum(dL0)
	dLen := make([]float64, k.lengthscale.NumParameters())
	dZ := mat.NewDense(nz, q, nil)
	dMu := mat.NewDense(n, q, nil)
	dS := mat.NewDense(n, q, nil)

	for i := 0; i < n; i++ {
		mi, si := m.RawRowView(i), s.RawRowView(i)
		gm, gs := dMu.RawRowView(i), dS.RawRowView(i)
		for j := 0; j < nz; j++ {
			zj := z.RawRowView(j)
			c := dL1.At(i, j) * s2 * math.Exp(k.logPsi1(mi, si, zj))
			dVar += c / s2
			gz := dZ.RawRowView(j)
			for d := 0; d < q; d++ {
				l := k.Lengthscale(d)
				a := l * l
				den := a + si[d]
				diff := mi[d] - zj[d]
				dLen[k.lsIndex(d)] += c * l * (si[d]/(a*den) + diff*diff/(den*den))
				gm[d] -= c * diff / den
				gz[d] += c * diff / den
				gs[d] += c * (diff*diff/(den*den) - 1/den) / 2
			}
		}
		for j := 0; j < nz; j++ {
			zj := z.RawRowView(j)
			gzj := dZ.RawRowView(j)
			for o := 0; o < nz; o++ {
				zo := z.RawRowView(o)
				gzo := dZ.RawRowView(o)
				c := dL2.At(i, j, o) * s2 * s2 * math.Exp(k.logPsi2(mi, si, zj, zo))
				dVar += 2 * c / s2
				for d := 0; d < q; d++ {
					l := k.Lengthscale(d)
					a := l * l
					den := a + 2*si[d]
					dz := zj[d] - zo[d]
					diff := mi[d] - 0.5*(zj[d]+zo[d])
					dLen[k.lsIndex(d)] += 2 * c * l * (si[d]/(a*den) + dz*dz/(4*a*a) + diff*diff/(den*den))
					gm[d] -= 2 * c * diff / den
					gs[d] += c * (2*diff*diff/(den*den) - 1/den)
					gzj[d] += c * (diff/den - dz/(2*a))
					gzo[d] += c * (diff/den + dz/(2*a))
				}
			}
		}
	}

	return &psiGrad{
		theta: append([]float64{dVar}, dLen...),
		dZ:    k.scatter(dZ, cols(Z)),
		dMean: k.scatter(dMu, cols(mu)),
		dVar:  k.scatter(dS, cols(S)),
	}, nil
}
