// Package environment outlines the interfaces and structs needed to
// implement concrete multi-agent environments
package environment

import (
	"gonum.org/v1/gonum/mat"

	"github.com/gomarl/mappo/timestep"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() mat.Vector
}

// Environment implements a simulated multi-agent environment.
//
// On each step, every agent selects one discrete action. The joint
// action is given to Step as a vector with one action index per agent,
// ordered by agent index. Environments are episodic: Step returns
// whether the resulting timestep was the last in the episode.
type Environment interface {
	// Reset resets the environment between episodes
	Reset() timestep.TimeStep

	// Step takes one action per agent and steps the environment
	Step(actions mat.Vector) (timestep.TimeStep, bool)

	// NumAgents returns the number of agents in the environment
	NumAgents() int

	ObservationSpec() Spec // Spec of a single agent's observation
	StateSpec() Spec       // Spec of the joint state
	ActionSpec() Spec      // Spec of a single agent's action
	RewardSpec() Spec
	DiscountSpec() Spec
}
