package initwfn

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// OrthogonalConfig implements a configuration of the orthogonal
// weight initialization algorithm. Weight matrices are initialized to
// a (semi) orthogonal matrix scaled by Gain, obtained from the QR
// decomposition of a random Gaussian matrix. Vectors (e.g. bias
// weights) are initialized to zero.
type OrthogonalConfig struct {
	Gain float64
	Seed uint64
}

// NewOrthogonal returns a new orthogonal weight initializer with the
// given gain
func NewOrthogonal(gain float64, seed uint64) (*InitWFn, error) {
	config := OrthogonalConfig{
		Gain: gain,
		Seed: seed,
	}

	return newInitWFn(config)
}

// Type returns the type of initialization algorithm described by
// the configuration.
func (o OrthogonalConfig) Type() Type {
	return Orthogonal
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn
func (o OrthogonalConfig) Create() G.InitWFn {
	normal := distuv.Normal{
		Mu:    0,
		Sigma: 1,
		Src:   rand.NewSource(o.Seed),
	}

	return func(dt tensor.Dtype, s ...int) interface{} {
		size := 1
		for _, dim := range s {
			size *= dim
		}

		// Only matrices can be orthogonal
		if len(s) != 2 {
			return make([]float64, size)
		}

		return orthogonal(s[0], s[1], o.Gain, normal)
	}
}

// orthogonal returns the row major backing of a (semi) orthogonal
// rows x cols matrix scaled by gain
func orthogonal(rows, cols int, gain float64, normal distuv.Normal) []float64 {
	// QR factorization requires at least as many rows as columns; for
	// wide matrices, factorize the transpose and transpose back
	transposed := rows < cols
	r, c := rows, cols
	if transposed {
		r, c = cols, rows
	}

	data := make([]float64, r*c)
	for i := range data {
		data[i] = normal.Rand()
	}
	a := mat.NewDense(r, c, data)

	var qr mat.QR
	qr.Factorize(a)

	var q, rFactor mat.Dense
	qr.QTo(&q)
	qr.RTo(&rFactor)

	// Make the decomposition unique by fixing the signs of the
	// diagonal of R, so that initialization is unbiased
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			qi, qj := i, j
			if transposed {
				qi, qj = j, i
			}
			sign := 1.0
			if rFactor.At(qj, qj) < 0 {
				sign = -1.0
			}
			out[i*cols+j] = gain * sign * q.At(qi, qj)
		}
	}

	return out
}
