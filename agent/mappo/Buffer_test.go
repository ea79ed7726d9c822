package mappo

import (
	"math"
	"testing"
)

const bufferTolerance float64 = 1e-12

// TestBufferComputeReturns ensures advantages and returns follow the
// GAE recurrence, with episode ends masking the bootstrap
func TestBufferComputeReturns(t *testing.T) {
	buffer := newRolloutBuffer(1, 2, 2, 3)

	// Transition at t = 1 ends its episode
	rewards := []float64{1.0, 2.0, 3.0}
	values := []float64{0.5, 0.4, 0.3}
	dones := []bool{false, true, false}

	for i := range rewards {
		err := buffer.store(
			[]float64{float64(i), float64(-i)},
			[]float64{float64(i), float64(i)},
			[]float64{0, 1},
			[]float64{-0.5, -0.7},
			rewards[i],
			dones[i],
			values[i],
		)
		if err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if !buffer.full() {
		t.Fatal("buffer should be full after storing numSteps transitions")
	}

	gamma, lambda, lastValue := 0.9, 0.8, 0.2
	if err := buffer.computeReturns(lastValue, gamma, lambda); err != nil {
		t.Fatalf("computeReturns: %v", err)
	}

	// delta2 = 3 + 0.9*0.2 - 0.3            = 2.88
	// delta1 = 2 + 0 - 0.4                  = 1.6  (episode end)
	// delta0 = 1 + 0.9*0.4 - 0.5            = 0.86
	// A2 = 2.88
	// A1 = 1.6
	// A0 = 0.86 + 0.9*0.8*1.6               = 2.012
	expectedAdv := []float64{2.012, 1.6, 2.88}
	for i, want := range expectedAdv {
		if math.Abs(buffer.advantages[i]-want) > bufferTolerance {
			t.Errorf("advantage at step %v \n\twant(%v) \n\thave(%v)",
				i, want, buffer.advantages[i])
		}
		wantReturn := want + values[i]
		if math.Abs(buffer.returns[i]-wantReturn) > bufferTolerance {
			t.Errorf("return at step %v \n\twant(%v) \n\thave(%v)",
				i, wantReturn, buffer.returns[i])
		}
	}
}

// TestBufferGet ensures the flattened samples repeat each timestep's
// shared state, advantage, and return once per agent, in agent order
func TestBufferGet(t *testing.T) {
	buffer := newRolloutBuffer(1, 2, 2, 2)

	transitions := []struct {
		obs     []float64
		state   []float64
		actions []float64
		reward  float64
		value   float64
	}{
		{[]float64{1, 2}, []float64{10, 20}, []float64{0, 3}, 1.0, 0.1},
		{[]float64{3, 4}, []float64{30, 40}, []float64{1, 2}, 2.0, 0.2},
	}
	for _, tr := range transitions {
		err := buffer.store(tr.obs, tr.state, tr.actions,
			[]float64{-1, -2}, tr.reward, false, tr.value)
		if err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if err := buffer.computeReturns(0.0, 1.0, 1.0); err != nil {
		t.Fatalf("computeReturns: %v", err)
	}

	obs, states, actions, logProbs, advantages, returns, err := buffer.get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	expectedObs := []float64{1, 2, 3, 4}
	expectedStates := []float64{10, 20, 10, 20, 30, 40, 30, 40}
	expectedActions := []float64{0, 3, 1, 2}
	expectedLogProbs := []float64{-1, -2, -1, -2}
	for i := range expectedObs {
		if obs[i] != expectedObs[i] {
			t.Errorf("observation %v \n\twant(%v) \n\thave(%v)", i,
				expectedObs[i], obs[i])
		}
		if actions[i] != expectedActions[i] {
			t.Errorf("action %v \n\twant(%v) \n\thave(%v)", i,
				expectedActions[i], actions[i])
		}
		if logProbs[i] != expectedLogProbs[i] {
			t.Errorf("log probability %v \n\twant(%v) \n\thave(%v)", i,
				expectedLogProbs[i], logProbs[i])
		}
	}
	for i := range expectedStates {
		if states[i] != expectedStates[i] {
			t.Errorf("state element %v \n\twant(%v) \n\thave(%v)", i,
				expectedStates[i], states[i])
		}
	}

	// Both agents of a timestep share that timestep's advantage
	for b := 0; b < 4; b++ {
		step := b / 2
		if advantages[b] != buffer.advantages[step] {
			t.Errorf("advantage of sample %v \n\twant(%v) \n\thave(%v)",
				b, buffer.advantages[step], advantages[b])
		}
		if returns[b] != buffer.returns[step] {
			t.Errorf("return of sample %v \n\twant(%v) \n\thave(%v)",
				b, buffer.returns[step], returns[b])
		}
	}
}

// TestBufferValidation ensures the buffer rejects malformed transitions
func TestBufferValidation(t *testing.T) {
	buffer := newRolloutBuffer(2, 3, 2, 1)

	err := buffer.store([]float64{1, 2, 3}, []float64{1, 2, 3},
		[]float64{0, 1}, []float64{0, 0}, 0, false, 0)
	if err == nil {
		t.Error("expected error for invalid observation length")
	}

	err = buffer.store([]float64{1, 2, 3, 4}, []float64{1, 2},
		[]float64{0, 1}, []float64{0, 0}, 0, false, 0)
	if err == nil {
		t.Error("expected error for invalid state length")
	}

	err = buffer.store([]float64{1, 2, 3, 4}, []float64{1, 2, 3},
		[]float64{0}, []float64{0, 0}, 0, false, 0)
	if err == nil {
		t.Error("expected error for invalid action length")
	}

	if err := buffer.computeReturns(0, 0.9, 0.95); err == nil {
		t.Error("expected error computing returns of incomplete rollout")
	}

	err = buffer.store([]float64{1, 2, 3, 4}, []float64{1, 2, 3},
		[]float64{0, 1}, []float64{0, 0}, 0, false, 0)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	err = buffer.store([]float64{1, 2, 3, 4}, []float64{1, 2, 3},
		[]float64{0, 1}, []float64{0, 0}, 0, false, 0)
	if err == nil {
		t.Error("expected error storing into a full buffer")
	}

	buffer.reset()
	if buffer.full() {
		t.Error("buffer should be empty after reset")
	}
}
