// Package agent defines an agent interface
package agent

import (
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"

	"github.com/gomarl/mappo/network"
	"github.com/gomarl/mappo/timestep"
)

// Agent determines the implementation details of a multi-agent
// algorithm.
//
// An Agent is composed of a Learner, which learns weights, and a
// Policy which chooses one action per environment agent in each state.
// The Policy chooses which actions are taken, and the Learner uses
// these actions to update the Policy.
type Agent interface {
	Learner
	Policy
}

// Learner implements a learning algorithm that defines how weights are
// updated.
type Learner interface {
	// Step performs a single update to the learner
	Step() error

	// Observe records that a joint action led to some timestep
	Observe(actions mat.Vector, nextStep timestep.TimeStep) error

	// ObserveFirst records the first timestep in an episode
	ObserveFirst(timestep.TimeStep) error

	// EndEpisode performs cleanup at the end of an episode
	EndEpisode()
}

// Policy represents a joint policy that an agent can have.
//
// Policies determine how actions are selected for every agent in the
// environment. The returned vector holds one discrete action index per
// environment agent, ordered by agent index.
type Policy interface {
	SelectActions(t timestep.TimeStep) *mat.VecDense
	Eval()        // Set policy to evaluation mode
	Train()       // Set policy to training mode
	IsEval() bool // Indicates if in evaluation mode
}

// NNPolicy represents a per-agent policy that uses neural network
// function approximation. A single NNPolicy may be shared by all
// environment agents, in which case it selects each agent's action
// from that agent's local observation.
type NNPolicy interface {
	// SelectAction samples an action index for a single agent's
	// observation and returns the log probability with which the
	// action was selected
	SelectAction(obs mat.Vector) (action int, logProb float64, err error)

	CloneWithBatch(int) (NNPolicy, error)
	Network() network.NeuralNet
}

// LogProber is an NNPolicy that can compute the log probability of
// externally inputted actions in externally inputted states, for
// gradient construction. Because of this, the gradient will not be
// computed through the action selection process.
type LogProber interface {
	NNPolicy

	// LogProbNode returns the node that calculates the log
	// probability of the inputted actions
	LogProbNode() *G.Node

	// EntropyNode returns the node that calculates the mean entropy
	// of the policy over the inputted states
	EntropyNode() *G.Node

	// LogProbOf sets the inputs of the log probability computation to
	// the argument states and actions. Inputs should be constructed
	// in row major order.
	LogProbOf(states, actions []float64) (*G.Node, error)
}
