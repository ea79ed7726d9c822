// Package normalizer implements running normalization of value
// targets.
//
// Critics in policy-gradient methods are easier to train when their
// regression targets are standardized, but the distribution of returns
// drifts as the policy improves. A Normalizer tracks the running mean
// and mean-of-squares of observed returns with exponentially weighted
// moving averages, together with a debiasing term that corrects for
// the zero initialization of both statistics. Targets are normalized
// with the debiased statistics before the critic loss is computed, and
// critic outputs are denormalized back to return scale before
// advantages are estimated.
package normalizer

import (
	"fmt"
	"math"
)

const (
	// DefaultDecay is the decay rate of the running statistics used
	// by NewDefault. Values close to 1 integrate over many batches.
	DefaultDecay float64 = 0.999

	// VarFloor is the minimum debiased variance used as a divisor.
	// Estimation noise can drive the raw estimate to zero or below;
	// the floor keeps normalization finite rather than surfacing an
	// error.
	VarFloor float64 = 1e-2

	// BetaFloor is the minimum debiasing term used as a divisor
	BetaFloor float64 = 1e-5
)

// Normalizer tracks running, debiased mean and variance estimates of
// a stream of value targets, one estimate per target dimension.
//
// A Normalizer is owned by a single training run and is not safe for
// concurrent use: Update must be called exactly once per minibatch,
// from a single goroutine, before that minibatch's targets are
// normalized.
type Normalizer struct {
	dims  int
	decay float64

	mean   []float64
	meanSq []float64
	beta   float64
}

// New returns a Normalizer over targets of the given dimensionality.
// The decay parameter controls the effective averaging window of the
// running statistics and must be in (0, 1).
func New(dims int, decay float64) (*Normalizer, error) {
	if dims < 1 {
		return nil, fmt.Errorf("new: dims must be positive \n\thave(%v)",
			dims)
	}
	if decay <= 0 || decay >= 1 {
		return nil, fmt.Errorf("new: decay must be in (0, 1) \n\thave(%v)",
			decay)
	}

	return &Normalizer{
		dims:   dims,
		decay:  decay,
		mean:   make([]float64, dims),
		meanSq: make([]float64, dims),
	}, nil
}

// NewDefault returns a scalar Normalizer with the default decay rate
func NewDefault() *Normalizer {
	n, err := New(1, DefaultDecay)
	if err != nil {
		panic(fmt.Sprintf("newdefault: %v", err))
	}
	return n
}

// Update folds one minibatch of targets into the running statistics.
// The batch is laid out in row major order and its length must be a
// positive multiple of the Normalizer's dimensionality. The running
// mean, mean-of-squares, and debiasing term are updated together;
// there is no partial update.
func (n *Normalizer) Update(batch []float64) error {
	if len(batch) == 0 {
		return fmt.Errorf("update: empty batch")
	}
	if len(batch)%n.dims != 0 {
		return fmt.Errorf("update: batch length must be a multiple of the "+
			"target dimensionality \n\twant multiple of(%v)\n\thave(%v)",
			n.dims, len(batch))
	}

	rows := float64(len(batch) / n.dims)
	batchMean := make([]float64, n.dims)
	batchMeanSq := make([]float64, n.dims)
	for i, v := range batch {
		batchMean[i%n.dims] += v / rows
		batchMeanSq[i%n.dims] += v * v / rows
	}

	w := n.decay
	for d := 0; d < n.dims; d++ {
		n.mean[d] = w*n.mean[d] + (1-w)*batchMean[d]
		n.meanSq[d] = w*n.meanSq[d] + (1-w)*batchMeanSq[d]
	}
	n.beta = w*n.beta + (1 - w)

	return nil
}

// Normalize standardizes values with the current debiased statistics.
// The values are laid out in row major order and are not mutated; the
// standardized values are returned in a new slice. Normalize returns
// an error if called before the first Update.
func (n *Normalizer) Normalize(values []float64) ([]float64, error) {
	mean, std, err := n.moments("normalize", len(values))
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(values))
	for i, v := range values {
		d := i % n.dims
		out[i] = (v - mean[d]) / std[d]
	}
	return out, nil
}

// Denormalize is the inverse of Normalize, mapping standardized values
// back to return scale. Denormalize returns an error if called before
// the first Update.
func (n *Normalizer) Denormalize(values []float64) ([]float64, error) {
	mean, std, err := n.moments("denormalize", len(values))
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(values))
	for i, v := range values {
		d := i % n.dims
		out[i] = v*std[d] + mean[d]
	}
	return out, nil
}

// Initialized returns whether the Normalizer has seen at least one
// Update
func (n *Normalizer) Initialized() bool {
	return n.beta > 0
}

// Dims returns the target dimensionality of the Normalizer
func (n *Normalizer) Dims() int {
	return n.dims
}

// Beta returns the current debiasing term
func (n *Normalizer) Beta() float64 {
	return n.beta
}

// Mean returns the current debiased mean estimate
func (n *Normalizer) Mean() []float64 {
	mean := make([]float64, n.dims)
	beta := math.Max(n.beta, BetaFloor)
	for d := 0; d < n.dims; d++ {
		mean[d] = n.mean[d] / beta
	}
	return mean
}

// Var returns the current debiased variance estimate, clamped below
// at the variance floor
func (n *Normalizer) Var() []float64 {
	variance := make([]float64, n.dims)
	beta := math.Max(n.beta, BetaFloor)
	for d := 0; d < n.dims; d++ {
		mean := n.mean[d] / beta
		variance[d] = math.Max(n.meanSq[d]/beta-mean*mean, VarFloor)
	}
	return variance
}

// moments validates a Normalize or Denormalize call and returns the
// debiased mean and standard deviation per dimension
func (n *Normalizer) moments(op string, length int) ([]float64, []float64,
	error) {
	if !n.Initialized() {
		return nil, nil, fmt.Errorf("%v: normalizer not initialized: Update "+
			"must be called at least once", op)
	}
	if length%n.dims != 0 {
		return nil, nil, fmt.Errorf("%v: length must be a multiple of the "+
			"target dimensionality \n\twant multiple of(%v)\n\thave(%v)",
			op, n.dims, length)
	}

	mean := n.Mean()
	std := n.Var()
	for d := range std {
		std[d] = math.Sqrt(std[d])
	}
	return mean, std, nil
}
