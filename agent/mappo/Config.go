package mappo

import (
	"fmt"

	"github.com/gomarl/mappo/agent"
	"github.com/gomarl/mappo/environment"
	"github.com/gomarl/mappo/initwfn"
	"github.com/gomarl/mappo/network"
	"github.com/gomarl/mappo/solver"
)

// Config implements a configuration of the MAPPO agent with a
// categorical (softmax) policy shared by all environment agents and a
// centralized critic over the joint state.
type Config struct {
	// Policy neural net
	PolicyLayers      []int
	PolicyBiases      []bool
	PolicyActivations []*network.Activation

	// Centralized critic neural net
	CriticLayers      []int
	CriticBiases      []bool
	CriticActivations []*network.Activation

	// Weight init function for all neural nets
	InitWFn *initwfn.InitWFn

	PolicySolver *solver.Solver
	CriticSolver *solver.Solver

	// RolloutLength is the number of environment steps gathered
	// between updates. Each step contributes one sample per
	// environment agent to the update batch.
	RolloutLength int

	// Epochs is the number of passes made over the rollout per
	// update, and Minibatches the number of minibatches per pass
	Epochs      int
	Minibatches int

	// Generalized Advantage Estimation
	Lambda float64
	Gamma  float64

	// PPO surrogate objective
	ClipCoef            float64
	EntropyCoef         float64
	NormalizeAdvantages bool

	// TargetKL stops the update epochs early once the approximate KL
	// divergence between the updated and rollout policies exceeds it.
	// A value <= 0 disables early stopping.
	TargetKL float64

	// Critic loss
	ValueCoef     float64
	UseHuberLoss  bool
	HuberDelta    float64
	ClipValueLoss bool

	// Running normalization of critic targets
	NormalizeValues bool
	ValueNormDecay  float64
}

// DefaultConfig returns a Config with standard MAPPO hyperparameters
// for the given solvers and weight initializer
func DefaultConfig(init *initwfn.InitWFn, policySolver,
	criticSolver *solver.Solver) Config {
	return Config{
		PolicyLayers:      []int{64, 64},
		PolicyBiases:      []bool{true, true},
		PolicyActivations: []*network.Activation{network.ReLU(), network.ReLU()},

		CriticLayers:      []int{64, 64},
		CriticBiases:      []bool{true, true},
		CriticActivations: []*network.Activation{network.ReLU(), network.ReLU()},

		InitWFn:      init,
		PolicySolver: policySolver,
		CriticSolver: criticSolver,

		RolloutLength: 25,
		Epochs:        15,
		Minibatches:   1,

		Lambda: 0.95,
		Gamma:  0.99,

		ClipCoef:            0.2,
		EntropyCoef:         0.01,
		NormalizeAdvantages: true,
		TargetKL:            -1,

		ValueCoef:     2.0,
		UseHuberLoss:  true,
		HuberDelta:    10.0,
		ClipValueLoss: true,

		NormalizeValues: true,
		ValueNormDecay:  0.999,
	}
}

// Validate returns an error describing whether or not the
// configuration is valid.
func (c Config) Validate() error {
	if len(c.PolicyLayers) != len(c.PolicyBiases) ||
		len(c.PolicyLayers) != len(c.PolicyActivations) {
		return fmt.Errorf("validate: policy layers, biases, and " +
			"activations must have equal lengths")
	}
	if len(c.CriticLayers) != len(c.CriticBiases) ||
		len(c.CriticLayers) != len(c.CriticActivations) {
		return fmt.Errorf("validate: critic layers, biases, and " +
			"activations must have equal lengths")
	}
	if c.InitWFn == nil {
		return fmt.Errorf("validate: no weight initializer provided")
	}
	if c.PolicySolver == nil || c.CriticSolver == nil {
		return fmt.Errorf("validate: no solver provided")
	}
	if c.RolloutLength < 1 {
		return fmt.Errorf("validate: rollout length must be positive "+
			"\n\thave(%v)", c.RolloutLength)
	}
	if c.Epochs < 1 {
		return fmt.Errorf("validate: epochs must be positive \n\thave(%v)",
			c.Epochs)
	}
	if c.Minibatches < 1 {
		return fmt.Errorf("validate: minibatches must be positive "+
			"\n\thave(%v)", c.Minibatches)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: discount must be in [0, 1] "+
			"\n\thave(%v)", c.Gamma)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("validate: lambda must be in [0, 1] "+
			"\n\thave(%v)", c.Lambda)
	}
	if c.ClipCoef <= 0 {
		return fmt.Errorf("validate: clipping coefficient must be "+
			"positive \n\thave(%v)", c.ClipCoef)
	}
	if c.UseHuberLoss && c.HuberDelta <= 0 {
		return fmt.Errorf("validate: huber delta must be positive "+
			"\n\thave(%v)", c.HuberDelta)
	}
	if c.NormalizeValues &&
		(c.ValueNormDecay <= 0 || c.ValueNormDecay >= 1) {
		return fmt.Errorf("validate: value normalizer decay must be in "+
			"(0, 1) \n\thave(%v)", c.ValueNormDecay)
	}

	return nil
}

// ValidAgent returns whether the argument agent is valid for the
// Config
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*MAPPO)
	return ok
}

// CreateAgent creates the MAPPO agent that the configuration describes
func (c Config) CreateAgent(env environment.Environment,
	seed uint64) (agent.Agent, error) {
	return New(env, c, seed)
}
