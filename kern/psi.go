package kern

import (
	"github.com/reggo/gpcheck/common"
	"github.com/reggo/gpcheck/variational"

	"gonum.org/v1/gonum/mat"
)

// PsiKernel is a Kernel that also provides the expectations of its
// covariance under a factorised Gaussian q(X), as used by sparse variational
// models with inducing inputs Z:
//
//	psi0[n]      = E[k(x_n, x_n)]
//	psi1[n,m]    = E[k(x_n, z_m)]
//	psi2n[n,m,o] = E[k(z_m, x_n) k(x_n, z_o)]
//	psi2[m,o]    = Σ_n psi2n[n,m,o]
//
// The gradient methods take the derivatives of some scalar L with respect to
// the three statistics. dLdpsi2 is either a per-sample N×M×M tensor or a
// shared M×M matrix wrapped by Psi2Shared.
type PsiKernel interface {
	Kernel

	Psi0(Z mat.Matrix, qX *variational.NormalPosterior) ([]float64, error)
	Psi1(Z mat.Matrix, qX *variational.NormalPosterior) (*mat.Dense, error)
	Psi2(Z mat.Matrix, qX *variational.NormalPosterior) (*mat.Dense, error)
	Psi2n(Z mat.Matrix, qX *variational.NormalPosterior) (*Tensor3, error)

	// UpdateGradientsExpectations sets the hyperparameter gradient of L.
	UpdateGradientsExpectations(dLdpsi0 []float64, dLdpsi1 mat.Matrix, dLdpsi2 Psi2Grad, Z mat.Matrix, qX *variational.NormalPosterior) error

	// GradientsZExpectations returns the gradient of L with respect to Z.
	GradientsZExpectations(dLdpsi0 []float64, dLdpsi1 mat.Matrix, dLdpsi2 Psi2Grad, Z mat.Matrix, qX *variational.NormalPosterior) (*mat.Dense, error)

	// GradientsQXExpectations returns the gradient of L with respect to the
	// mean and variance of q(X).
	GradientsQXExpectations(dLdpsi0 []float64, dLdpsi1 mat.Matrix, dLdpsi2 Psi2Grad, Z mat.Matrix, qX *variational.NormalPosterior) (dMean, dVariance *mat.Dense, err error)
}

// Psi2Grad is the derivative of L with respect to psi2n, indexed by sample
// and the two inducing inputs.
type Psi2Grad interface {
	At(n, m, o int) float64
}

// Psi2Shared returns the Psi2Grad of an L that depends on the aggregate
// psi2 through the M×M matrix dLdpsi2. Every sample sees the same weights.
func Psi2Shared(dLdpsi2 mat.Matrix) Psi2Grad {
	return shared{dLdpsi2}
}

type shared struct{ m mat.Matrix }

func (s shared) At(n, m, o int) float64 { return s.m.At(m, o) }

// psiGrad is the full derivative of L for one kernel.
type psiGrad struct {
	theta []float64 // in the order of Params()
	dZ    *mat.Dense
	dMean *mat.Dense
	dVar  *mat.Dense
}

// psiImpl is implemented by the kernels that have closed-form expectations.
// Z, mu and S are at the full width of the inputs.
type psiImpl interface {
	Kernel
	psi0(Z, mu, S mat.Matrix) []float64
	psi1(Z, mu, S mat.Matrix) *mat.Dense
	psi2n(Z, mu, S mat.Matrix) *Tensor3
	psiGradients(dL0 []float64, dL1 mat.Matrix, dL2 Psi2Grad, Z, mu, S mat.Matrix) (*psiGrad, error)
}

// expectations provides the exported PsiKernel methods on top of a psiImpl.
type expectations struct {
	impl psiImpl
}

func (e expectations) verify(Z mat.Matrix, qX *variational.NormalPosterior) error {
	if Z == nil || qX == nil {
		return common.ErrNoData
	}
	_, q := qX.Dims()
	if q < Width(e.impl) {
		return common.ErrInputDimension
	}
	return common.VerifyShape("kern: inducing inputs", Z, -1, q)
}

func (e expectations) verifyGrad(dL0 []float64, dL1 mat.Matrix, dL2 Psi2Grad, Z mat.Matrix, qX *variational.NormalPosterior) error {
	if err := e.verify(Z, qX); err != nil {
		return err
	}
	n, _ := qX.Dims()
	m := rows(Z)
	if len(dL0) != n {
		return common.ErrInputDimension
	}
	if dL1 == nil || dL2 == nil {
		return common.ErrNoData
	}
	if err := common.VerifyShape("kern: dLdpsi1", dL1, n, m); err != nil {
		return err
	}
	if t, ok := dL2.(*Tensor3); ok && t.Dims != [3]int{n, m, m} {
		return common.ErrInputDimension
	}
	if s, ok := dL2.(shared); ok {
		return common.VerifyShape("kern: dLdpsi2", s.m, m, m)
	}
	return nil
}

func (e expectations) Psi0(Z mat.Matrix, qX *variational.NormalPosterior) ([]float64, error) {
	if err := e.verify(Z, qX); err != nil {
		return nil, err
	}
	return e.impl.psi0(Z, qX.Mean(), qX.Variance()), nil
}

func (e expectations) Psi1(Z mat.Matrix, qX *variational.NormalPosterior) (*mat.Dense, error) {
	if err := e.verify(Z, qX); err != nil {
		return nil, err
	}
	return e.impl.psi1(Z, qX.Mean(), qX.Variance()), nil
}

func (e expectations) Psi2n(Z mat.Matrix, qX *variational.NormalPosterior) (*Tensor3, error) {
	if err := e.verify(Z, qX); err != nil {
		return nil, err
	}
	return e.impl.psi2n(Z, qX.Mean(), qX.Variance()), nil
}

func (e expectations) Psi2(Z mat.Matrix, qX *variational.NormalPosterior) (*mat.Dense, error) {
	t, err := e.Psi2n(Z, qX)
	if err != nil {
		return nil, err
	}
	return t.sumFirst(), nil
}

func (e expectations) gradients(dL0 []float64, dL1 mat.Matrix, dL2 Psi2Grad, Z mat.Matrix, qX *variational.NormalPosterior) (*psiGrad, error) {
	if err := e.verifyGrad(dL0, dL1, dL2, Z, qX); err != nil {
		return nil, err
	}
	return e.impl.psiGradients(dL0, dL1, dL2, Z, qX.Mean(), qX.Variance())
}

func (e expectations) UpdateGradientsExpectations(dL0 []float64, dL1 mat.Matrix, dL2 Psi2Grad, Z mat.Matrix, qX *variational.NormalPosterior) error {
	g, err := e.gradients(dL0, dL1, dL2, Z, qX)
	if err != nil {
		return err
	}
	e.impl.Params().SetGradient(g.theta)
	return nil
}

func (e expectations) GradientsZExpectations(dL0 []float64, dL1 mat.Matrix, dL2 Psi2Grad, Z mat.Matrix, qX *variational.NormalPosterior) (*mat.Dense, error) {
	g, err := e.gradients(dL0, dL1, dL2, Z, qX)
	if err != nil {
		return nil, err
	}
	return g.dZ, nil
}

func (e expectations) GradientsQXExpectations(dL0 []float64, dL1 mat.Matrix, dL2 Psi2Grad, Z mat.Matrix, qX *variational.NormalPosterior) (dMean, dVariance *mat.Dense, err error) {
	g, err := e.gradients(dL0, dL1, dL2, Z, qX)
	if err != nil {
		return nil, nil, err
	}
	return g.dMean, g.dVar, nil
}

// newPsiGrad returns a zeroed psiGrad for a kernel with np parameters.
func newPsiGrad(np int, Z, mu mat.Matrix) *psiGrad {
	m, w := Z.Dims()
	n, _ := mu.Dims()
	return &psiGrad{
		theta: make([]float64, np),
		dZ:    mat.NewDense(m, w, nil),
		dMean: mat.NewDense(n, w, nil),
		dVar:  mat.NewDense(n, w, nil),
	}
}
