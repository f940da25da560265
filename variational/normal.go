// Package variational holds variational distributions over latent inputs.
package variational

import (
	"github.com/reggo/gpcheck/common"
	"github.com/reggo/gpcheck/param"

	"gonum.org/v1/gonum/mat"
)

// NormalPosterior is a factorised Gaussian q(X) with one mean and one
// variance per latent coordinate. Its parameter vector is the row-major mean
// followed by the row-major variance.
type NormalPosterior struct {
	node     *param.Node
	mean     *param.Param
	variance *param.Param
}

// NewNormalPosterior returns a posterior holding copies of mean and variance,
// which must have the same dimensions.
func NewNormalPosterior(mean, variance mat.Matrix) (*NormalPosterior, error) {
	r, c := mean.Dims()
	if err := common.VerifyShape("variational", variance, r, c); err != nil {
		return nil, err
	}
	mu := param.NewMatrix("mean", mean)
	s := param.NewMatrix("variance", variance).Positive()
	return &NormalPosterior{
		node:     param.NewNode("latent space", mu, s),
		mean:     mu,
		variance: s,
	}, nil
}

// Params returns the parameter node of the posterior.
func (q *NormalPosterior) Params() *param.Node { return q.node }

// Dims returns the number of samples and latent dimensions.
func (q *NormalPosterior) Dims() (n, d int) { return q.mean.Dims() }

// Mean returns a view of the means.
func (q *NormalPosterior) Mean() *mat.Dense { return q.mean.Matrix() }

// Variance returns a view of the variances.
func (q *NormalPosterior) Variance() *mat.Dense { return q.variance.Matrix() }

// SetGradients stores the gradients with respect to the mean and variance.
func (q *NormalPosterior) SetGradients(dMean, dVariance mat.Matrix) {
	q.mean.SetGradMatrix(dMean)
	q.variance.SetGradMatrix(dVariance)
}
