// Package timestep implements timesteps of the agents-environment
// interaction
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be, either the
// first environmental step, a middle step, or a last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// TimeStep packages together a single timestep of all agents in an
// environment.
//
// Each agent receives its own local observation vector, while State
// holds the joint environment state used as input to a centralized
// critic. Rewards holds one reward per agent; in fully cooperative
// tasks all entries are equal.
type TimeStep struct {
	stepType     StepType
	Rewards      []float64
	Discount     float64
	Observations []mat.Vector
	State        mat.Vector
	Number       int
}

// New constructs a new TimeStep
func New(t StepType, rewards []float64, discount float64,
	observations []mat.Vector, state mat.Vector, number int) TimeStep {
	return TimeStep{t, rewards, discount, observations, state, number}
}

// StepType returns the type of the TimeStep
func (t *TimeStep) StepType() StepType {
	return t.stepType
}

// NumAgents returns the number of agents acting in the TimeStep
func (t *TimeStep) NumAgents() int {
	return len(t.Observations)
}

// SharedReward returns the mean reward over all agents for the
// TimeStep. For cooperative tasks this equals each agent's reward.
func (t *TimeStep) SharedReward() float64 {
	if len(t.Rewards) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range t.Rewards {
		total += r
	}
	return total / float64(len(t.Rewards))
}

// First returns whether a TimeStep is the first in an environment
func (t *TimeStep) First() bool {
	return t.stepType == First
}

// Mid returns whether a TimeStep is a middle step in an environment
func (t *TimeStep) Mid() bool {
	return t.stepType == Mid
}

// Last returns whether a TimeStep is the last step in an environment
func (t *TimeStep) Last() bool {
	return t.stepType == Last
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Agents: %v  |  Mean Reward:  %.2f  |  " +
		"Step Number:  %v"

	return fmt.Sprintf(str, t.stepType, t.NumAgents(), t.SharedReward(),
		t.Number)
}
