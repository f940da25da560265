package regtest

import (
	"math/rand/v2"

	"github.com/reggo/gpcheck/checkgrad"
	"github.com/reggo/gpcheck/kern"
	"github.com/reggo/gpcheck/param"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Adapter exposes one derivative of a kernel as a checkgrad.Model. The free
// parameters are either the kernel hyperparameters or the locations X.
type Adapter struct {
	*Model
	name string
	node *param.Node
	x    *param.Param // nil when the free parameters are the hyperparameters

	objective func() (float64, error)
	update    func() error
}

var _ checkgrad.Model = (*Adapter)(nil)

// Name describes the derivative under test.
func (a *Adapter) Name() string { return a.name }

func (a *Adapter) NumParameters() int                 { return a.node.NumParameters() }
func (a *Adapter) Parameters(dst []float64) []float64 { return a.node.Parameters(dst) }
func (a *Adapter) Gradient(dst []float64) []float64   { return a.node.Gradient(dst) }
func (a *Adapter) Fixed() []bool                      { return a.node.Fixed() }
func (a *Adapter) ParameterNames() []string           { return a.node.ParameterNames() }
func (a *Adapter) Objective() (float64, error)        { return a.objective() }

// SetParameters sets the free parameters and recomputes the analytic
// gradient.
func (a *Adapter) SetParameters(x []float64) error {
	a.node.SetParameters(x)
	return a.update()
}

// FixXColumns holds the listed columns of X constant. Negative columns count
// from the right. It panics if the free parameters are not locations.
func (a *Adapter) FixXColumns(cols ...int) {
	if a.x == nil {
		panic("regtest: " + a.name + " has no location parameters")
	}
	a.x.FixColumns(cols...)
}

// xv is the current value of the free locations.
func (a *Adapter) xv() *mat.Dense { return a.x.Matrix() }

func newThetaAdapter(name string, m *Model) *Adapter {
	return &Adapter{
		Model: m,
		name:  name,
		node:  m.Kernel.Params(),
	}
}

func newXAdapter(name string, m *Model) *Adapter {
	x := param.NewMatrix("X", m.X)
	return &Adapter{
		Model: m,
		name:  name,
		node:  param.NewNode("kernel_test_model", x),
		x:     x,
	}
}

// init computes the first analytic gradient, surfacing any error of the
// kernel routine.
func (a *Adapter) init() (*Adapter, error) {
	if err := a.update(); err != nil {
		return nil, err
	}
	return a, nil
}

// NewDKdTheta checks UpdateGradientsFull against Σ dLdK ⊙ K(X, X2).
func NewDKdTheta(k kern.Kernel, dLdK, X, X2 *mat.Dense, rnd *rand.Rand) (*Adapter, error) {
	a := newThetaAdapter("dK/dθ", NewModel(k, dLdK, X, X2, rnd))
	a.objective = func() (float64, error) { return a.LogLikelihood(), nil }
	a.update = func() error {
		return a.Kernel.UpdateGradientsFull(a.DLdK, a.X, a.x2())
	}
	return a.init()
}

// NewDKdiagdTheta checks UpdateGradientsDiag against Σ diag(dLdK) ⊙ Kdiag(X).
func NewDKdiagdTheta(k kern.Kernel, dLdK, X *mat.Dense, rnd *rand.Rand) (*Adapter, error) {
	a := newThetaAdapter("dKdiag/dθ", NewModel(k, dLdK, X, nil, rnd))
	a.objective = func() (float64, error) {
		return floats.Dot(a.diag(), a.Kernel.Kdiag(a.X)), nil
	}
	a.update = func() error {
		return a.Kernel.UpdateGradientsDiag(a.diag(), a.X)
	}
	return a.init()
}

// NewDKdX checks GradientsX against Σ dLdK ⊙ K(X, X2).
func NewDKdX(k kern.Kernel, dLdK, X, X2 *mat.Dense, rnd *rand.Rand) (*Adapter, error) {
	a := newXAdapter("dK/dX", NewModel(k, dLdK, X, X2, rnd))
	a.objective = func() (float64, error) {
		var p mat.Dense
		p.MulElem(a.DLdK, a.Kernel.K(a.xv(), a.x2()))
		return mat.Sum(&p), nil
	}
	a.update = func() error {
		g, err := a.Kernel.GradientsX(a.DLdK, a.xv(), a.x2())
		if err != nil {
			return err
		}
		a.x.SetGradMatrix(g)
		return nil
	}
	return a.init()
}

// NewDKdiagdX checks GradientsXDiag against Σ diag(dLdK) ⊙ Kdiag(X).
func NewDKdiagdX(k kern.Kernel, dLdK, X *mat.Dense, rnd *rand.Rand) (*Adapter, error) {
	a := newXAdapter("dKdiag/dX", NewModel(k, dLdK, X, nil, rnd))
	a.objective = func() (float64, error) {
		return floats.Dot(a.diag(), a.Kernel.Kdiag(a.xv())), nil
	}
	a.update = func() error {
		g, err := a.Kernel.GradientsXDiag(a.diag(), a.xv())
		if err != nil {
			return err
		}
		a.x.SetGradMatrix(g)
		return nil
	}
	return a.init()
}

// NewD2KdXdX checks GradientsXX against the derivative of
// Σ GradientsX(dLdK, X, X2). With a nil X2 the second argument is a fixed
// copy of the starting X, and the analytic gradient is
// -Σ_{m,q} GradientsXX(dLdK, X)[n,m,q,p]. Otherwise it is
// -Σ_{m,q} GradientsXX(dLdKᵀ, X2, X)[m,n,q,p].
func NewD2KdXdX(k kern.Kernel, dLdK, X, X2 *mat.Dense, rnd *rand.Rand) (*Adapter, error) {
	m := NewModel(k, dLdK, X, X2, rnd)
	a := newXAdapter("d2K/dXdX", m)
	xc := mat.DenseCopyOf(m.X)
	a.objective = func() (float64, error) {
		var other mat.Matrix = xc
		if a.X2 != nil {
			other = a.X2
		}
		g, err := a.Kernel.GradientsX(a.DLdK, a.xv(), other)
		if err != nil {
			return 0, err
		}
		return mat.Sum(g), nil
	}
	a.update = func() error {
		n, w := a.xv().Dims()
		grad := mat.NewDense(n, w, nil)
		if a.X2 == nil {
			g, err := a.Kernel.GradientsXX(a.DLdK, a.xv(), nil)
			if err != nil {
				return err
			}
			for i := 0; i < g.Dims[0]; i++ {
				row := grad.RawRowView(i)
				for j := 0; j < g.Dims[1]; j++ {
					for q := 0; q < w; q++ {
						for p := 0; p < w; p++ {
							row[p] -= g.At(i, j, q, p)
						}
					}
				}
			}
		} else {
			g, err := a.Kernel.GradientsXX(a.DLdK.T(), a.X2, a.xv())
			if err != nil {
				return err
			}
			for j := 0; j < g.Dims[0]; j++ {
				for i := 0; i < g.Dims[1]; i++ {
					row := grad.RawRowView(i)
					for q := 0; q < w; q++ {
						for p := 0; p < w; p++ {
							row[p] -= g.At(j, i, q, p)
						}
					}
				}
			}
		}
		a.x.SetGradMatrix(grad)
		return nil
	}
	return a.init()
}

// NewD2KdiagdXdX checks GradientsXXDiag against the derivative of
// Σ_i Σ GradientsX(dLdK[i,i], x_i, c_i), where c is a fixed copy of the
// starting X.
func NewD2KdiagdXdX(k kern.Kernel, dLdK, X *mat.Dense, rnd *rand.Rand) (*Adapter, error) {
	m := NewModel(k, dLdK, X, nil, rnd)
	a := newXAdapter("d2Kdiag/dXdX", m)
	xc := mat.DenseCopyOf(m.X)
	a.objective = func() (float64, error) {
		xv := a.xv()
		n, w := xv.Dims()
		l := 0.0
		for i := 0; i < n; i++ {
			dl := mat.NewDense(1, 1, []float64{a.DLdK.At(i, i)})
			g, err := a.Kernel.GradientsX(dl, xv.Slice(i, i+1, 0, w), xc.Slice(i, i+1, 0, w))
			if err != nil {
				return 0, err
			}
			l += mat.Sum(g)
		}
		return l, nil
	}
	a.update = func() error {
		g, err := a.Kernel.GradientsXXDiag(a.diag(), a.xv())
		if err != nil {
			return err
		}
		n, w := a.xv().Dims()
		grad := mat.NewDense(n, w, nil)
		for i := 0; i < n; i++ {
			row := grad.RawRowView(i)
			for q := 0; q < w; q++ {
				for p := 0; p < w; p++ {
					row[q] -= g.At(i, q, p)
				}
			}
		}
		a.x.SetGradMatrix(grad)
		return nil
	}
	return a.init()
}
