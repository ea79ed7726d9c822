package spread

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	env "github.com/gomarl/mappo/environment"
)

// TestObservationShapes ensures observation, state, and action
// specifications agree with the vectors the environment produces
func TestObservationShapes(t *testing.T) {
	for _, numAgents := range []int{1, 2, 3, 5} {
		s, firstStep, err := New(numAgents, DefaultMaxSteps, 0.99, 42)
		if err != nil {
			t.Fatalf("new: %v", err)
		}

		wantObsDim := 4 + 2*numAgents + 2*(numAgents-1)
		if s.ObsDim() != wantObsDim {
			t.Errorf("observation dimension \n\twant(%v) \n\thave(%v)",
				wantObsDim, s.ObsDim())
		}
		if s.ObservationSpec().Shape.Len() != wantObsDim {
			t.Errorf("observation spec length \n\twant(%v) \n\thave(%v)",
				wantObsDim, s.ObservationSpec().Shape.Len())
		}

		if len(firstStep.Observations) != numAgents {
			t.Errorf("number of observations \n\twant(%v) \n\thave(%v)",
				numAgents, len(firstStep.Observations))
		}
		for i, obs := range firstStep.Observations {
			if obs.Len() != wantObsDim {
				t.Errorf("agent %v observation length \n\twant(%v) "+
					"\n\thave(%v)", i, wantObsDim, obs.Len())
			}
		}

		wantStateDim := numAgents * wantObsDim
		if firstStep.State.Len() != wantStateDim {
			t.Errorf("state length \n\twant(%v) \n\thave(%v)",
				wantStateDim, firstStep.State.Len())
		}
		if s.StateSpec().Shape.Len() != wantStateDim {
			t.Errorf("state spec length \n\twant(%v) \n\thave(%v)",
				wantStateDim, s.StateSpec().Shape.Len())
		}

		if s.ActionSpec().Cardinality != env.Discrete {
			t.Error("actions should be discrete")
		}
		numActions := int(s.ActionSpec().UpperBound.AtVec(0)) + 1
		if numActions != 5 {
			t.Errorf("number of actions \n\twant(%v) \n\thave(%v)", 5,
				numActions)
		}
	}
}

// TestSharedReward ensures the reward is shared between all agents and
// is never positive
func TestSharedReward(t *testing.T) {
	numAgents := 3
	s, _, err := New(numAgents, DefaultMaxSteps, 0.99, 13)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	actions := mat.NewVecDense(numAgents, []float64{1, 3, 0})
	for i := 0; i < 10; i++ {
		step, _ := s.Step(actions)

		for j := 1; j < numAgents; j++ {
			if step.Rewards[j] != step.Rewards[0] {
				t.Errorf("rewards should be shared \n\thave(%v, %v)",
					step.Rewards[0], step.Rewards[j])
			}
		}
		if step.SharedReward() > 0 {
			t.Errorf("reward should never be positive \n\thave(%v)",
				step.SharedReward())
		}
	}
}

// TestStepLimit ensures episodes are cut off at the step limit
func TestStepLimit(t *testing.T) {
	maxSteps := 10
	s, firstStep, err := New(2, maxSteps, 0.99, 7)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !firstStep.First() {
		t.Error("reset should produce the first timestep of an episode")
	}

	actions := mat.NewVecDense(2, nil)
	for i := 1; i <= maxSteps; i++ {
		step, done := s.Step(actions)
		if done != step.Last() {
			t.Error("done flag should agree with the timestep type")
		}
		if i < maxSteps && step.Last() {
			t.Errorf("episode ended early at step %v", i)
		}
		if i == maxSteps && !step.Last() {
			t.Errorf("episode should end at step %v", maxSteps)
		}
		if step.Number != i {
			t.Errorf("timestep number \n\twant(%v) \n\thave(%v)", i,
				step.Number)
		}
	}
}

// TestDeterministicStarts ensures environments with equal seeds
// produce equal starting states
func TestDeterministicStarts(t *testing.T) {
	_, step1, err := New(3, DefaultMaxSteps, 0.99, 1234)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, step2, err := New(3, DefaultMaxSteps, 0.99, 1234)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if !mat.Equal(step1.State, step2.State) {
		t.Error("environments with equal seeds should have equal " +
			"starting states")
	}

	_, step3, err := New(3, DefaultMaxSteps, 0.99, 4321)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if mat.Equal(step1.State, step3.State) {
		t.Error("environments with different seeds should have " +
			"different starting states")
	}
}

// TestControlForces ensures actions accelerate agents in the commanded
// direction
func TestControlForces(t *testing.T) {
	numAgents := 2
	s, _, err := New(numAgents, DefaultMaxSteps, 0.99, 99)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// Separate the agents so that contact forces cannot act
	s.World().Agents[0].Pos = [2]float64{-0.5, 0}
	s.World().Agents[1].Pos = [2]float64{0.5, 0}
	s.World().Agents[0].Vel = [2]float64{}
	s.World().Agents[1].Vel = [2]float64{}

	// Agent 0 accelerates right, agent 1 accelerates down
	actions := mat.NewVecDense(numAgents, []float64{1, 4})
	step, _ := s.Step(actions)

	// Velocity is the first observation feature pair
	if vx := step.Observations[0].AtVec(0); vx <= 0 {
		t.Errorf("agent 0 should move right \n\thave x velocity(%v)", vx)
	}
	if vy := step.Observations[1].AtVec(1); vy >= 0 {
		t.Errorf("agent 1 should move down \n\thave y velocity(%v)", vy)
	}
}
