package benefit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// distribution is a running mean/covariance estimate over feature
// vectors, updated incrementally (Welford-style for the mean, a simple
// accumulate-then-invert for the covariance since predictor retraining
// is infrequent relative to prediction calls).
type distribution struct {
	n     int
	mean  []float64
	accum *mat.SymDense // sum of outer products of centered samples
	dims  int
}

func newDistribution(dims int) *distribution {
	return &distribution{
		mean:  make([]float64, dims),
		accum: mat.NewSymDense(dims, nil),
		dims:  dims,
	}
}

// add folds x into the running mean/covariance accumulator.
func (d *distribution) add(x []float64) {
	if len(x) != d.dims {
		return
	}
	d.n++
	delta := make([]float64, d.dims)
	for i := range x {
		delta[i] = x[i] - d.mean[i]
		d.mean[i] += delta[i] / float64(d.n)
	}
	delta2 := make([]float64, d.dims)
	for i := range x {
		delta2[i] = x[i] - d.mean[i]
	}
	for i := 0; i < d.dims; i++ {
		for j := i; j < d.dims; j++ {
			d.accum.SetSym(i, j, d.accum.At(i, j)+delta[i]*delta2[j])
		}
	}
}

// covariance returns the sample covariance matrix, or nil if fewer than
// two samples have been observed.
func (d *distribution) covariance() *mat.SymDense {
	if d.n < 2 {
		return nil
	}
	cov := mat.NewSymDense(d.dims, nil)
	for i := 0; i < d.dims; i++ {
		for j := i; j < d.dims; j++ {
			cov.SetSym(i, j, d.accum.At(i, j)/float64(d.n-1))
		}
	}
	return cov
}

// mahalanobisDistance computes the Mahalanobis distance of x from the
// distribution's mean under its covariance, grounded on the teacher's
// anomaly-engine distance computation. Returns 0 if the distribution
// has too few samples to invert, or if the covariance is singular
// (treated as "not enough evidence of correlation yet", not an error).
func (d *distribution) mahalanobisDistance(x []float64) float64 {
	cov := d.covariance()
	if cov == nil || len(x) != d.dims {
		return 0
	}

	var inv mat.SymDense
	if err := inv.InverseSym(cov); err != nil {
		return 0
	}

	delta := mat.NewVecDense(d.dims, nil)
	for i := range x {
		delta.SetVec(i, x[i]-d.mean[i])
	}

	var tmp mat.VecDense
	tmp.MulVec(&inv, delta)
	sq := mat.Dot(delta, &tmp)
	if sq < 0 {
		sq = 0
	}
	return math.Sqrt(sq)
}

// compositeOutlierScore combines the Mahalanobis distance over the
// feature vector with an entropy-drift term, following the teacher's
// anomaly engine composite formula
//
//	A = mahalanobis(x, mu, Sigma) + entropyWeight*|deltaEntropy|
//
// repurposed here from metric-drift detection to candidate-novelty
// detection: deltaEntropy is the change in type-distribution entropy
// implied by this candidate relative to the training set's average, a
// proxy signal fed in by the caller (e.g. from internal/profile's
// TypeFeedback.Stability) rather than recomputed here.
func compositeOutlierScore(mahal, deltaEntropy, entropyWeight float64) float64 {
	return mahal + entropyWeight*math.Abs(deltaEntropy)
}
