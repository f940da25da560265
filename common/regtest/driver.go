package regtest

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/reggo/gpcheck/checkgrad"
	"github.com/reggo/gpcheck/common"
	"github.com/reggo/gpcheck/kern"

	"gonum.org/v1/gonum/mat"
)

// Option configures CheckKernelGradientFunctions.
type Option func(*config)

type config struct {
	x, x2     *mat.Dense
	outputCol int
	outputDim int
	verbose   bool
	fixed     []int
	rnd       *rand.Rand
	settings  checkgrad.Settings
	writer    io.Writer
}

// WithX sets the first set of locations. The default is 10 standard normal
// rows.
func WithX(X *mat.Dense) Option {
	return func(c *config) { c.x = X }
}

// WithX2 sets the second set of locations. The default is 20 standard normal
// rows.
func WithX2(X2 *mat.Dense) Option {
	return func(c *config) { c.x2 = X2 }
}

// WithOutputIndex marks column col of generated locations as an output index
// and fills it with integer codes in [0, outputDim). Locations given by WithX
// and WithX2 are left alone.
func WithOutputIndex(col, outputDim int) Option {
	return func(c *config) {
		c.outputCol = col
		c.outputDim = outputDim
	}
}

// WithVerbose logs the progress of every check and prints every comparison
// table.
func WithVerbose() Option {
	return func(c *config) { c.verbose = true }
}

// WithFixedXDims holds the listed columns of X constant in the checks with
// respect to X. Negative columns count from the right.
func WithFixedXDims(dims ...int) Option {
	return func(c *config) { c.fixed = append([]int(nil), dims...) }
}

// WithRand sets the source of all random draws. The default uses a fixed
// seed.
func WithRand(rnd *rand.Rand) Option {
	return func(c *config) { c.rnd = rnd }
}

// WithSettings sets the finite-difference step and tolerance.
func WithSettings(s checkgrad.Settings) Option {
	return func(c *config) { c.settings = s }
}

// WithWriter sets the destination of comparison tables. The default is
// os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(c *config) { c.writer = w }
}

// check is one entry of the battery. build returns a fresh adapter, which
// also re-randomises the kernel.
type check struct {
	desc      string
	mandatory bool
	build     func() (*Adapter, error)
	fixX      bool
}

// CheckKernelGradientFunctions checks that K(X, X) is positive semi-definite
// and that every derivative k provides agrees with central differences. The
// checks run in order and stop at the first failure, after which the failing
// check is repeated with its comparison table written out.
//
// Derivatives that k reports as kern.ErrNotImplemented are skipped, except
// the hyperparameter gradient of K(X, X), which every kernel must provide.
// Other errors are returned.
func CheckKernelGradientFunctions(k kern.Kernel, opts ...Option) (bool, error) {
	c := &config{
		settings:  checkgrad.DefaultSettings(),
		outputCol: -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rnd == nil {
		c.rnd = defaultRand()
	}
	if c.writer == nil {
		c.writer = os.Stdout
	}
	width := kern.Width(k)
	X, X2 := c.x, c.x2
	if X == nil {
		X = RandomMat(10, width, c.rnd.NormFloat64)
		c.fillIndex(X)
	}
	if X2 == nil {
		X2 = RandomMat(20, width, c.rnd.NormFloat64)
		c.fillIndex(X2)
	}
	log := common.Log.With("kernel", k.Name())

	if c.verbose {
		log.Info("Checking covariance function is positive definite.")
	}
	if !NewModel(k, nil, X, nil, c.rnd).IsPositiveSemiDefinite() {
		log.Errorf("Positive definite check failed for %s covariance function.", k.Name())
		return false, nil
	}
	if c.verbose {
		log.Info("Check passed.")
	}

	checks := []check{
		{
			desc:      "K(X, X) wrt theta",
			mandatory: true,
			build:     func() (*Adapter, error) { return NewDKdTheta(k, nil, X, nil, c.rnd) },
		},
		{
			desc:  "K(X, X2) wrt theta",
			build: func() (*Adapter, error) { return NewDKdTheta(k, nil, X, X2, c.rnd) },
		},
		{
			desc:  "Kdiag(X) wrt theta",
			build: func() (*Adapter, error) { return NewDKdiagdTheta(k, nil, X, c.rnd) },
		},
		{
			desc:  "K(X, X) wrt X",
			build: func() (*Adapter, error) { return NewDKdX(k, nil, X, nil, c.rnd) },
			fixX:  true,
		},
		{
			desc:  "K(X, X2) wrt X",
			build: func() (*Adapter, error) { return NewDKdX(k, nil, X, X2, c.rnd) },
			fixX:  true,
		},
		{
			desc:  "Kdiag(X) wrt X",
			build: func() (*Adapter, error) { return NewDKdiagdX(k, nil, X, c.rnd) },
			fixX:  true,
		},
		{
			desc:  "dK(X, X2) wrt X with full cov in dimensions",
			build: func() (*Adapter, error) { return NewD2KdXdX(k, nil, X, X2, c.rnd) },
			fixX:  true,
		},
		{
			desc:  "dK(X, X) wrt X with full cov in dimensions",
			build: func() (*Adapter, error) { return NewD2KdXdX(k, nil, X, nil, c.rnd) },
			fixX:  true,
		},
		{
			desc:  "dKdiag(X, X) wrt X with cov in dimensions",
			build: func() (*Adapter, error) { return NewD2KdiagdXdX(k, nil, X, c.rnd) },
			fixX:  true,
		},
	}

	for _, ch := range checks {
		if c.verbose {
			log.Infof("Checking gradients of %s.", ch.desc)
		}
		a, pass, err := c.run(ch, c.settings)
		if err != nil {
			if errors.Is(err, kern.ErrNotImplemented) && !ch.mandatory {
				if c.verbose {
					log.Infof("Gradient of %s not implemented for %s.", ch.desc, k.Name())
				}
				continue
			}
			return false, fmt.Errorf("regtest: %s: %w", ch.desc, err)
		}
		if !pass {
			log.Errorf("Gradient of %s failed for %s covariance function. Gradient values as follows:", ch.desc, k.Name())
			s := c.settings
			s.Verbose = true
			s.Writer = c.writer
			if _, err := checkgrad.Check(a, s); err != nil {
				return false, err
			}
			return false, nil
		}
		if c.verbose {
			log.Info("Check passed.")
		}
	}
	return true, nil
}

// run builds the adapter of ch and checks it.
func (c *config) run(ch check, s checkgrad.Settings) (*Adapter, bool, error) {
	a, err := ch.build()
	if err != nil {
		return nil, false, err
	}
	if ch.fixX && len(c.fixed) > 0 {
		a.FixXColumns(c.fixed...)
	}
	if c.verbose {
		s.Verbose = true
		s.Writer = c.writer
	}
	pass, err := checkgrad.Check(a, s)
	return a, pass, err
}

// fillIndex overwrites the output index column of X with uniform integer
// codes.
func (c *config) fillIndex(X *mat.Dense) {
	if c.outputCol < 0 || c.outputDim < 1 {
		return
	}
	r, _ := X.Dims()
	for i := 0; i < r; i++ {
		X.Set(i, c.outputCol, float64(c.rnd.IntN(c.outputDim)))
	}
}
