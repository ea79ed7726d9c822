package normalizer

import (
	"math"
	"testing"
)

const tolerance = 1e-10

func closeTo(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// TestConstantStreamConvergence checks that for a constant stream of
// returns r, the debiased mean converges to r and the debiased
// variance collapses to the variance floor.
func TestConstantStreamConvergence(t *testing.T) {
	decays := []float64{0.5, 0.9, 0.99}
	r := 3.5

	for _, decay := range decays {
		n, err := New(1, decay)
		if err != nil {
			t.Fatalf("could not construct normalizer: %v", err)
		}

		for i := 0; i < 5000; i++ {
			if err := n.Update([]float64{r, r, r}); err != nil {
				t.Fatalf("update failed: %v", err)
			}
		}

		if mean := n.Mean()[0]; !closeTo(mean, r, 1e-6) {
			t.Errorf("decay %v: debiased mean did not converge "+
				"\n\twant(%v)\n\thave(%v)", decay, r, mean)
		}
		if v := n.Var()[0]; v != VarFloor {
			t.Errorf("decay %v: variance of constant stream should clamp "+
				"to floor \n\twant(%v)\n\thave(%v)", decay, VarFloor, v)
		}
	}
}

// TestRoundTrip checks that Denormalize inverts Normalize for
// arbitrary values and states.
func TestRoundTrip(t *testing.T) {
	n, err := New(1, 0.99)
	if err != nil {
		t.Fatalf("could not construct normalizer: %v", err)
	}

	batches := [][]float64{
		{1, 2, 3, 4},
		{-10, 0, 10},
		{100, 150, 125, 175, 110},
	}
	for _, batch := range batches {
		if err := n.Update(batch); err != nil {
			t.Fatalf("update failed: %v", err)
		}

		values := []float64{-50, -1, 0, 0.5, 3, 1e6}
		normalized, err := n.Normalize(values)
		if err != nil {
			t.Fatalf("normalize failed: %v", err)
		}
		restored, err := n.Denormalize(normalized)
		if err != nil {
			t.Fatalf("denormalize failed: %v", err)
		}

		for i := range values {
			tol := tolerance * math.Max(1, math.Abs(values[i]))
			if !closeTo(values[i], restored[i], tol) {
				t.Errorf("round trip not exact \n\twant(%v)\n\thave(%v)",
					values[i], restored[i])
			}
		}
	}
}

// TestBiasCorrectionAfterOneUpdate checks that, from zero state, a
// single update with batch mean m yields beta == 1-w and a debiased
// mean of exactly m.
func TestBiasCorrectionAfterOneUpdate(t *testing.T) {
	w := 0.99
	m := 7.25

	n, err := New(1, w)
	if err != nil {
		t.Fatalf("could not construct normalizer: %v", err)
	}
	if err := n.Update([]float64{m, m, m, m}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if !closeTo(n.Beta(), 1-w, tolerance) {
		t.Errorf("beta after one update \n\twant(%v)\n\thave(%v)", 1-w,
			n.Beta())
	}
	if mean := n.Mean()[0]; !closeTo(mean, m, tolerance) {
		t.Errorf("debiased mean after one update \n\twant(%v)\n\thave(%v)",
			m, mean)
	}
}

// TestExponentialAverageScenario follows the running statistics
// through two minibatches and compares against the recurrence
// evaluated symbolically.
func TestExponentialAverageScenario(t *testing.T) {
	w := 0.99

	n, err := New(1, w)
	if err != nil {
		t.Fatalf("could not construct normalizer: %v", err)
	}

	if err := n.Update([]float64{10, 10, 10}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !closeTo(n.Beta(), 0.01, tolerance) {
		t.Errorf("beta \n\twant(%v)\n\thave(%v)", 0.01, n.Beta())
	}
	if mean := n.Mean()[0]; !closeTo(mean, 10, 1e-9) {
		t.Errorf("debiased mean \n\twant(%v)\n\thave(%v)", 10.0, mean)
	}

	if err := n.Update([]float64{20, 20, 20}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// mean   = w·((1−w)·10) + (1−w)·20
	// beta   = w·(1−w) + (1−w)
	runningMean := w*((1-w)*10) + (1-w)*20
	beta := w*(1-w) + (1 - w)
	want := runningMean / beta

	mean := n.Mean()[0]
	if !closeTo(mean, want, 1e-9) {
		t.Errorf("debiased mean after second update "+
			"\n\twant(%v)\n\thave(%v)", want, mean)
	}
	if mean <= 10 || mean >= 20 {
		t.Errorf("debiased mean should lie between old and new batch "+
			"means \n\thave(%v)", mean)
	}
}

// TestMeanSqIsDistinctAccumulator checks that the mean-of-squares
// statistic is updated from its own previous value, not from the mean.
func TestMeanSqIsDistinctAccumulator(t *testing.T) {
	w := 0.9

	n, err := New(1, w)
	if err != nil {
		t.Fatalf("could not construct normalizer: %v", err)
	}

	// Batch with mean 2 and mean square 5
	if err := n.Update([]float64{1, 3}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	// Batch with mean 4 and mean square 20
	if err := n.Update([]float64{2, 6}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	beta := w*(1-w) + (1 - w)
	wantMean := (w*((1-w)*2) + (1-w)*4) / beta
	wantMeanSq := (w*((1-w)*5) + (1-w)*20) / beta
	wantVar := math.Max(wantMeanSq-wantMean*wantMean, VarFloor)

	if mean := n.Mean()[0]; !closeTo(mean, wantMean, tolerance) {
		t.Errorf("debiased mean \n\twant(%v)\n\thave(%v)", wantMean, mean)
	}
	if v := n.Var()[0]; !closeTo(v, wantVar, tolerance) {
		t.Errorf("debiased variance \n\twant(%v)\n\thave(%v)", wantVar, v)
	}
}

// TestZeroReturnsStayFinite checks that a long all-zero return stream
// neither crashes nor produces non-finite normalized values.
func TestZeroReturnsStayFinite(t *testing.T) {
	n, err := New(1, 0.99)
	if err != nil {
		t.Fatalf("could not construct normalizer: %v", err)
	}

	for i := 0; i < 10000; i++ {
		if err := n.Update([]float64{0, 0, 0, 0}); err != nil {
			t.Fatalf("update failed: %v", err)
		}
	}

	normalized, err := n.Normalize([]float64{0, 0, 0})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	for _, v := range normalized {
		if v != 0 {
			t.Errorf("normalized all-zero stream \n\twant(0)\n\thave(%v)", v)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("normalized value is not finite \n\thave(%v)", v)
		}
	}
	if v := n.Var()[0]; v < VarFloor {
		t.Errorf("variance below floor \n\thave(%v)", v)
	}
}

// TestAdversarialBatchesNeverDivideByZero feeds batches engineered to
// produce near-zero or cancelling empirical variance and checks the
// normalization divisor stays strictly positive.
func TestAdversarialBatchesNeverDivideByZero(t *testing.T) {
	batches := [][]float64{
		{1e8, 1e8, 1e8},
		{1e-12, 1e-12},
		{-1e8, -1e8, -1e8, -1e8},
		{5, 5, 5, 5, 5, 5},
	}

	n, err := New(1, 0.5)
	if err != nil {
		t.Fatalf("could not construct normalizer: %v", err)
	}

	for _, batch := range batches {
		if err := n.Update(batch); err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if v := n.Var()[0]; v <= 0 {
			t.Fatalf("variance divisor must be strictly positive "+
				"\n\thave(%v)", v)
		}
		normalized, err := n.Normalize(batch)
		if err != nil {
			t.Fatalf("normalize failed: %v", err)
		}
		for _, v := range normalized {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("normalized value is not finite \n\thave(%v)", v)
			}
		}
	}
}

// TestBetaMonotoneAndBounded checks the debiasing term is monotone
// non-decreasing and stays in [0, 1).
func TestBetaMonotoneAndBounded(t *testing.T) {
	n, err := New(1, 0.9)
	if err != nil {
		t.Fatalf("could not construct normalizer: %v", err)
	}

	last := n.Beta()
	if last != 0 {
		t.Fatalf("beta must start at zero \n\thave(%v)", last)
	}
	for i := 0; i < 1000; i++ {
		if err := n.Update([]float64{float64(i)}); err != nil {
			t.Fatalf("update failed: %v", err)
		}
		beta := n.Beta()
		if beta < last {
			t.Fatalf("beta decreased from %v to %v", last, beta)
		}
		if beta < 0 || beta >= 1 {
			t.Fatalf("beta out of [0, 1) \n\thave(%v)", beta)
		}
		last = beta
	}
}

// TestUseBeforeUpdate checks that Normalize and Denormalize fail fast
// on an uninitialized normalizer.
func TestUseBeforeUpdate(t *testing.T) {
	n, err := New(1, 0.99)
	if err != nil {
		t.Fatalf("could not construct normalizer: %v", err)
	}

	if _, err := n.Normalize([]float64{1}); err == nil {
		t.Error("normalize before update should fail")
	}
	if _, err := n.Denormalize([]float64{1}); err == nil {
		t.Error("denormalize before update should fail")
	}
	if n.Initialized() {
		t.Error("normalizer should not report initialized before update")
	}
}

// TestShapeValidation checks per-dimension batches are validated
// against the configured dimensionality.
func TestShapeValidation(t *testing.T) {
	n, err := New(2, 0.99)
	if err != nil {
		t.Fatalf("could not construct normalizer: %v", err)
	}

	if err := n.Update([]float64{1, 2, 3}); err == nil {
		t.Error("update with mismatched batch length should fail")
	}
	if err := n.Update(nil); err == nil {
		t.Error("update with empty batch should fail")
	}
	if err := n.Update([]float64{1, 2, 3, 4}); err != nil {
		t.Errorf("update with matching batch length failed: %v", err)
	}
	if _, err := n.Normalize([]float64{1, 2, 3}); err == nil {
		t.Error("normalize with mismatched length should fail")
	}
}

// TestPerDimensionStatistics checks that each target dimension is
// normalized with its own statistics.
func TestPerDimensionStatistics(t *testing.T) {
	n, err := New(2, 0.5)
	if err != nil {
		t.Fatalf("could not construct normalizer: %v", err)
	}

	// Two rows: first dimension always 10, second always -4
	if err := n.Update([]float64{10, -4, 10, -4}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	mean := n.Mean()
	if !closeTo(mean[0], 10, tolerance) || !closeTo(mean[1], -4, tolerance) {
		t.Errorf("per-dimension debiased means \n\twant(10, -4)"+
			"\n\thave(%v, %v)", mean[0], mean[1])
	}
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(0, 0.9); err == nil {
		t.Error("dims of zero should be rejected")
	}
	if _, err := New(1, 0); err == nil {
		t.Error("decay of zero should be rejected")
	}
	if _, err := New(1, 1); err == nil {
		t.Error("decay of one should be rejected")
	}
}
