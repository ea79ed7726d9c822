package initwfn

import G "gorgonia.org/gorgonia"

// GaussianConfig describes a weight initializer that draws weights
// from a normal distribution
type GaussianConfig struct {
	Mean   float64
	StdDev float64
}

// NewGaussian returns a new normally distributed weight initializer
// with the given mean and standard deviation
func NewGaussian(mean, stddev float64) (*InitWFn, error) {
	return newInitWFn(GaussianConfig{Mean: mean, StdDev: stddev})
}

// Type returns the type of initialization algorithm described by
// the configuration.
func (g GaussianConfig) Type() Type {
	return Gaussian
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn
func (g GaussianConfig) Create() G.InitWFn {
	return G.Gaussian(g.Mean, g.StdDev)
}
