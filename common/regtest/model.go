package regtest

import (
	"math"
	"math/rand/v2"

	"github.com/reggo/gpcheck/common"
	"github.com/reggo/gpcheck/kern"

	"gonum.org/v1/gonum/mat"
)

// psdTol is the most negative eigenvalue accepted in a covariance matrix.
const psdTol = -1e-10

// Model holds a kernel, the locations it is evaluated at, and the weights
// dLdK that turn its covariance into the scalar Σ dLdK ⊙ K(X, X2).
type Model struct {
	Kernel kern.Kernel
	X      *mat.Dense
	X2     *mat.Dense // nil means X
	DLdK   *mat.Dense
}

// NewModel returns a Model for k. The parameters of k are always redrawn from
// N(1, 0.1²) using rnd. A nil k is a one-dimensional RBF kernel, a nil X is
// 20 standard normal rows and a nil dLdK is uniform on [0, 1). A nil rnd uses
// a fixed seed.
func NewModel(k kern.Kernel, dLdK, X, X2 *mat.Dense, rnd *rand.Rand) *Model {
	if rnd == nil {
		rnd = defaultRand()
	}
	if k == nil {
		k = kern.NewRBF(1)
	}
	k.Params().Randomize(rnd, 1, 0.1)
	if X == nil {
		X = RandomMat(20, kern.Width(k), rnd.NormFloat64)
	}
	if dLdK == nil {
		c := rows(X)
		if X2 != nil {
			c = rows(X2)
		}
		dLdK = RandomMat(rows(X), c, rnd.Float64)
	}
	return &Model{
		Kernel: k,
		X:      X,
		X2:     X2,
		DLdK:   dLdK,
	}
}

// x2 returns X2 as a mat.Matrix, keeping a nil X2 an untyped nil.
func (m *Model) x2() mat.Matrix {
	if m.X2 == nil {
		return nil
	}
	return m.X2
}

// IsPositiveSemiDefinite reports whether every eigenvalue of K(X, X) has a
// real part of at least -1e-10.
func (m *Model) IsPositiveSemiDefinite() bool {
	var eig mat.Eigen
	if !eig.Factorize(m.Kernel.K(m.X, nil), mat.EigenNone) {
		common.Log.Warnw("eigendecomposition failed", "kernel", m.Kernel.Name())
		return false
	}
	least := math.Inf(1)
	for _, v := range eig.Values(nil) {
		least = math.Min(least, real(v))
	}
	if least < psdTol {
		common.Log.Infow("negative eigenvalue", "kernel", m.Kernel.Name(), "min", least)
		return false
	}
	return true
}

// LogLikelihood returns Σ dLdK ⊙ K(X, X2).
func (m *Model) LogLikelihood() float64 {
	var p mat.Dense
	p.MulElem(m.DLdK, m.Kernel.K(m.X, m.x2()))
	return mat.Sum(&p)
}

// diag returns the diagonal of dLdK.
func (m *Model) diag() []float64 {
	r, c := m.DLdK.Dims()
	n := min(r, c)
	d := make([]float64, n)
	for i := range d {
		d[i] = m.DLdK.At(i, i)
	}
	return d
}

func rows(X mat.Matrix) int {
	r, _ := X.Dims()
	return r
}
