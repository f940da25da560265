package kern

import (
	"math"

	"github.com/reggo/gpcheck/common"
	"github.com/reggo/gpcheck/param"

	"gonum.org/v1/gonum/mat"
)

// profile is the unit-variance radial shape f(r) of a stationary kernel,
// where r is the lengthscale-scaled distance.
type profile interface {
	value(r float64) float64
	// drOverR is f'(r)/r, including its limit at r = 0.
	drOverR(r float64) float64
	// curv is (f''(r) - f'(r)/r)/r². It is only ever multiplied by terms
	// that vanish at r = 0, where it returns 0.
	curv(r float64) float64
}

// Stationary is a kernel σ²·f(r) with r = |(x - x')/ℓ|.
type Stationary struct {
	base
	prof        profile
	ard         bool
	variance    *param.Param
	lengthscale *param.Param
}

var (
	stationary *Stationary
	_          Kernel = stationary // Check that Stationary respects the Kernel interface.
)

func newStationary(name string, prof profile, inputDim int, opts []Option) *Stationary {
	o := gatherOptions(name, inputDim, opts)
	nl := 1
	if o.ard {
		nl = inputDim
	}
	variance := param.New("variance", fill(o.variance, 1, 1)...).Positive()
	lengthscale := param.New("lengthscale", fill(o.lengthscale, nl, 1)...).Positive()
	return &Stationary{
		base:        newBase(o.name, o.activeDims, variance, lengthscale),
		prof:        prof,
		ard:         o.ard,
		variance:    variance,
		lengthscale: lengthscale,
	}
}

// NewMatern32 returns a Matérn 3/2 kernel.
func NewMatern32(inputDim int, opts ...Option) *Stationary {
	return newStationary("Mat32", matern32{}, inputDim, opts)
}

// NewMatern52 returns a Matérn 5/2 kernel.
func NewMatern52(inputDim int, opts ...Option) *Stationary {
	return newStationary("Mat52", matern52{}, inputDim, opts)
}

// Variance returns the signal variance σ².
func (k *Stationary) Variance() float64 { return k.variance.At(0) }

// Lengthscale returns the lengthscale of active input q.
func (k *Stationary) Lengthscale(q int) float64 { return k.lengthscale.At(k.lsIndex(q)) }

func (k *Stationary) lsIndex(q int) int {
	if k.ard {
		return q
	}
	return 0
}

func (k *Stationary) dist(x, y []float64) float64 {
	return scaledDist(x, y, k.Lengthscale)
}

func (k *Stationary) K(X, X2 mat.Matrix) *mat.Dense {
	xs := k.slice(X)
	ys := k.slice(other(X, X2))
	n, _ := xs.Dims()
	m, _ := ys.Dims()
	out := mat.NewDense(n, m, nil)
	s2 := k.Variance()
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			out.Set(i, j, s2*k.prof.value(k.dist(xs.RawRowView(i), ys.RawRowView(j))))
		}
	}
	return out
}

func (k *Stationary) Kdiag(X mat.Matrix) []float64 {
	out := make([]float64, rows(X))
	for i := range out {
		out[i] = k.Variance()
	}
	return out
}

func (k *Stationary) UpdateGradientsFull(dLdK, X, X2 mat.Matrix) error {
	if err := common.VerifyInputs("kern: stationary", dLdK, X, X2); err != nil {
		return err
	}
	xs := k.slice(X)
	ys := k.slice(other(X, X2))
	n, q := xs.Dims()
	m, _ := ys.Dims()
	s2 := k.Variance()
	dVar := 0.0
	dLen := make([]float64, k.lengthscale.NumParameters())
	for i := 0; i < n; i++ {
		x := xs.RawRowView(i)
		for j := 0; j < m; j++ {
			y := ys.RawRowView(j)
			w := dLdK.At(i, j)
			r := k.dist(x, y)
			dVar += w * k.prof.value(r)
			c := -w * s2 * k.prof.drOverR(r)
			for d := 0; d < q; d++ {
				l := k.Lengthscale(d)
				diff := x[d] - y[d]
				dLen[k.lsIndex(d)] += c * diff * diff / (l * l * l)
			}
		}
	}
	k.variance.SetGrad([]float64{dVar})
	k.lengthscale.SetGrad(dLen)
	return nil
}

func (k *Stationary) UpdateGradientsDiag(dLdKdiag []float64, X mat.Matrix) error {
	if len(dLdKdiag) != rows(X) {
		return common.ErrInputDimension
	}
	dVar := 0.0
	for _, v := range dLdKdiag {
		dVar += v
	}
	k.variance.SetGrad([]float64{dVar})
	k.lengthscale.ZeroGrad()
	return nil
}

func (k *Stationary) GradientsX(dLdK, X, X2 mat.Matrix) (*mat.Dense, error) {
	if err := common.VerifyInputs("kern: stationary", dLdK, X, X2); err != nil {
		return nil, err
	}
	w := symmetrize(dLdK, X2)
	xs := k.slice(X)
	ys := k.slice(other(X, X2))
	n, q := xs.Dims()
	m, _ := ys.Dims()
	s2 := k.Variance()
	g := mat.NewDense(n, q, nil)
	for i := 0; i < n; i++ {
		x := xs.RawRowView(i)
		row := g.RawRowView(i)
		for j := 0; j < m; j++ {
			y := ys.RawRowView(j)
			c := w.At(i, j) * s2 * k.prof.drOverR(k.dist(x, y))
			for d := 0; d < q; d++ {
				l := k.Lengthscale(d)
				row[d] += c * (x[d] - y[d]) / (l * l)
			}
		}
	}
	return k.scatter(g, cols(X)), nil
}

func (k *Stationary) GradientsXDiag(dLdKdiag []float64, X mat.Matrix) (*mat.Dense, error) {
	if len(dLdKdiag) != rows(X) {
		return nil, common.ErrInputDimension
	}
	r, c := X.Dims()
	return mat.NewDense(r, c, nil), nil
}

func (k *Stationary) GradientsXX(dLdK, X, X2 mat.Matrix) (*Tensor4, error) {
	if err := common.VerifyInputs("kern: stationary", dLdK, X, X2); err != nil {
		return nil, err
	}
	xs := k.slice(X)
	ys := k.slice(other(X, X2))
	n, q := xs.Dims()
	m, _ := ys.Dims()
	s2 := k.Variance()
	g := NewTensor4(n, m, q, q)
	d := make([]float64, q)
	for i := 0; i < n; i++ {
		x := xs.RawRowView(i)
		for j := 0; j < m; j++ {
			y := ys.RawRowView(j)
			w := dLdK.At(i, j) * s2
			r := k.dist(x, y)
			curv := k.prof.curv(r)
			dor := k.prof.drOverR(r)
			for a := 0; a < q; a++ {
				l := k.Lengthscale(a)
				d[a] = (x[a] - y[a]) / (l * l)
			}
			for a := 0; a < q; a++ {
				for b := 0; b < q; b++ {
					v := curv * d[a] * d[b]
					if a == b {
						l := k.Lengthscale(b)
						v += dor / (l * l)
					}
					g.Set(i, j, a, b, -w*v)
				}
			}
		}
	}
	return k.scatter4(g, cols(X)), nil
}

func (k *Stationary) GradientsXXDiag(dLdKdiag []float64, X mat.Matrix) (*Tensor3, error) {
	if len(dLdKdiag) != rows(X) {
		return nil, common.ErrInputDimension
	}
	n := rows(X)
	q := k.InputDim()
	s2 := k.Variance()
	dor := k.prof.drOverR(0)
	g := NewTensor3(n, q, q)
	for i := 0; i < n; i++ {
		for a := 0; a < q; a++ {
			l := k.Lengthscale(a)
			g.Set(i, a, a, -dLdKdiag[i]*s2*dor/(l*l))
		}
	}
	return k.scatter3(g, cols(X)), nil
}

type expQuad struct{}

func (expQuad) value(r float64) float64   { return math.Exp(-0.5 * r * r) }
func (expQuad) drOverR(r float64) float64 { return -math.Exp(-0.5 * r * r) }
func (expQuad) curv(r float64) float64    { return math.Exp(-0.5 * r * r) }

type matern32 struct{}

var sqrt3 = math.Sqrt(3)

func (matern32) value(r float64) float64   { return (1 + sqrt3*r) * math.Exp(-sqrt3*r) }
func (matern32) drOverR(r float64) float64 { return -3 * math.Exp(-sqrt3*r) }
func (matern32) curv(r float64) float64 {
	if r == 0 {
		return 0
	}
	return 3 * sqrt3 * math.Exp(-sqrt3*r) / r
}

type matern52 struct{}

var sqrt5 = math.Sqrt(5)

func (matern52) value(r float64) float64 {
	return (1 + sqrt5*r + 5.0/3*r*r) * math.Exp(-sqrt5*r)
}
func (matern52) drOverR(r float64) float64 {
	return -5.0 / 3 * (1 + sqrt5*r) * math.Exp(-sqrt5*r)
}
func (matern52) curv(r float64) float64 { return 25.0 / 3 * math.Exp(-sqrt5*r) }
