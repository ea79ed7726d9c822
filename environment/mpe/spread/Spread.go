// Package spread implements the cooperative navigation particle
// environment. N agents must cover N landmarks in a two-dimensional
// world while avoiding collisions with one another.
//
// The task is fully cooperative: every agent receives the same shared
// reward, equal to the negative sum over landmarks of the distance
// from each landmark to its closest agent, minus a penalty for each
// pair of colliding agents.
//
// Actions are discrete and consist of the direction of the control
// force applied to the agent:
//
//	Action	Meaning
//	  0		Do nothing
//	  1		Accelerate right (+x)
//	  2		Accelerate left  (-x)
//	  3		Accelerate up    (+y)
//	  4		Accelerate down  (-y)
package spread

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	env "github.com/gomarl/mappo/environment"
	"github.com/gomarl/mappo/environment/mpe"
	ts "github.com/gomarl/mappo/timestep"
	"github.com/gomarl/mappo/utils/floatutils"
)

const (
	// Discrete actions
	MinDiscreteAction int = 0
	MaxDiscreteAction int = 4

	// PositionBounds is the (+/-) bound on starting positions
	PositionBounds float64 = 1.0

	// CollisionPenalty is subtracted from the shared reward once per
	// ordered pair of colliding agents
	CollisionPenalty float64 = 1.0

	// DefaultMaxSteps is the episode step limit used by New
	DefaultMaxSteps int = 25
)

// Spread implements the cooperative navigation environment
type Spread struct {
	world     *mpe.World
	numAgents int
	starter   env.UniformStarter

	maxSteps    int
	currentStep int
	discount    float64

	lastStep ts.TimeStep
}

// New constructs a new cooperative navigation environment with
// numAgents agents and as many landmarks. Episodes are cut off after
// maxSteps steps. Starting positions of agents and landmarks are
// sampled uniformly from the position bounds using the given seed.
func New(numAgents, maxSteps int, discount float64,
	seed uint64) (*Spread, ts.TimeStep, error) {
	if numAgents < 1 {
		return nil, ts.TimeStep{}, fmt.Errorf("new: numAgents must be "+
			"positive \n\thave(%v)", numAgents)
	}
	if maxSteps < 1 {
		maxSteps = DefaultMaxSteps
	}

	// One (x, y) starting position per agent and per landmark
	bounds := make([]r1.Interval, 4*numAgents)
	for i := range bounds {
		bounds[i] = r1.Interval{Min: -PositionBounds, Max: PositionBounds}
	}
	starter := env.NewUniformStarter(bounds, seed)

	s := &Spread{
		world:     mpe.NewWorld(numAgents, numAgents),
		numAgents: numAgents,
		starter:   starter,
		maxSteps:  maxSteps,
		discount:  discount,
	}
	firstStep := s.Reset()

	return s, firstStep, nil
}

// Reset resets the environment, placing all entities at freshly
// sampled positions with zero velocity
func (s *Spread) Reset() ts.TimeStep {
	positions := s.starter.Start()

	for i, agent := range s.world.Agents {
		agent.Pos = [2]float64{positions.AtVec(2 * i), positions.AtVec(2*i + 1)}
		agent.Vel = [2]float64{}
	}
	offset := 2 * s.numAgents
	for i, landmark := range s.world.Landmarks {
		landmark.Pos = [2]float64{
			positions.AtVec(offset + 2*i),
			positions.AtVec(offset + 2*i + 1),
		}
	}

	s.currentStep = 0
	rewards := make([]float64, s.numAgents)
	firstStep := ts.New(ts.First, rewards, s.discount, s.observations(),
		s.state(), 0)
	s.lastStep = firstStep

	return firstStep
}

// Step applies one discrete action per agent and advances the world
func (s *Spread) Step(actions mat.Vector) (ts.TimeStep, bool) {
	if actions.Len() != s.numAgents {
		panic(fmt.Sprintf("step: expected %v actions \n\thave(%v)",
			s.numAgents, actions.Len()))
	}

	forces := make([][2]float64, s.numAgents)
	for i := range forces {
		switch int(actions.AtVec(i)) {
		case 0: // no-op
		case 1:
			forces[i][0] = 1
		case 2:
			forces[i][0] = -1
		case 3:
			forces[i][1] = 1
		case 4:
			forces[i][1] = -1
		default:
			panic(fmt.Sprintf("step: illegal action %v", actions.AtVec(i)))
		}
	}
	s.world.Step(forces)

	reward := s.sharedReward()
	rewards := make([]float64, s.numAgents)
	for i := range rewards {
		rewards[i] = reward
	}

	s.currentStep++
	stepType := ts.Mid
	if s.currentStep >= s.maxSteps {
		stepType = ts.Last
	}

	step := ts.New(stepType, rewards, s.discount, s.observations(), s.state(),
		s.currentStep)
	s.lastStep = step

	return step, step.Last()
}

// NumAgents returns the number of agents in the environment
func (s *Spread) NumAgents() int {
	return s.numAgents
}

// World returns the underlying particle world, e.g. for rendering
func (s *Spread) World() *mpe.World {
	return s.world
}

// CurrentTimeStep returns the last timestep generated by the
// environment
func (s *Spread) CurrentTimeStep() ts.TimeStep {
	return s.lastStep
}

// ObsDim returns the length of a single agent's observation vector
func (s *Spread) ObsDim() int {
	// Self velocity and position, landmark relative positions, other
	// agent relative positions
	return 4 + 2*s.numAgents + 2*(s.numAgents-1)
}

// sharedReward computes the cooperative reward for the current world
// configuration
func (s *Spread) sharedReward() float64 {
	reward := 0.0
	distances := make([]float64, s.numAgents)
	for _, landmark := range s.world.Landmarks {
		for i, agent := range s.world.Agents {
			distances[i] = mpe.Distance(agent, landmark)
		}
		reward -= floatutils.Min(distances...)
	}

	for i := 0; i < s.numAgents; i++ {
		for j := i + 1; j < s.numAgents; j++ {
			if mpe.Collided(s.world.Agents[i], s.world.Agents[j]) {
				reward -= 2 * CollisionPenalty
			}
		}
	}

	return reward
}

// observations returns the local observation vector of each agent
func (s *Spread) observations() []mat.Vector {
	obs := make([]mat.Vector, s.numAgents)
	for i, agent := range s.world.Agents {
		features := make([]float64, 0, s.ObsDim())
		features = append(features, agent.Vel[0], agent.Vel[1])
		features = append(features, agent.Pos[0], agent.Pos[1])
		for _, landmark := range s.world.Landmarks {
			features = append(features, landmark.Pos[0]-agent.Pos[0],
				landmark.Pos[1]-agent.Pos[1])
		}
		for j, other := range s.world.Agents {
			if j == i {
				continue
			}
			features = append(features, other.Pos[0]-agent.Pos[0],
				other.Pos[1]-agent.Pos[1])
		}
		obs[i] = mat.NewVecDense(len(features), features)
	}
	return obs
}

// state returns the joint state: the concatenation of all agent
// observations, used as input to a centralized critic
func (s *Spread) state() mat.Vector {
	joint := make([]float64, 0, s.numAgents*s.ObsDim())
	for _, o := range s.observations() {
		joint = append(joint, o.(*mat.VecDense).RawVector().Data...)
	}
	return mat.NewVecDense(len(joint), joint)
}

// ObservationSpec returns the observation specification of a single
// agent
func (s *Spread) ObservationSpec() env.Spec {
	return boundlessSpec(s.ObsDim(), env.Observation)
}

// StateSpec returns the specification of the joint state
func (s *Spread) StateSpec() env.Spec {
	return boundlessSpec(s.numAgents*s.ObsDim(), env.State)
}

// ActionSpec returns the action specification of a single agent
func (s *Spread) ActionSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{float64(MinDiscreteAction)})
	upperBound := mat.NewVecDense(1, []float64{float64(MaxDiscreteAction)})

	return env.NewSpec(shape, env.Action, lowerBound, upperBound,
		env.Discrete)
}

// RewardSpec returns the reward specification of the environment
func (s *Spread) RewardSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{math.Inf(-1)})
	upperBound := mat.NewVecDense(1, []float64{0})

	return env.NewSpec(shape, env.Reward, lowerBound, upperBound,
		env.Continuous)
}

// DiscountSpec returns the discount specification of the environment
func (s *Spread) DiscountSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	bound := mat.NewVecDense(1, []float64{s.discount})

	return env.NewSpec(shape, env.Discount, bound, bound, env.Continuous)
}

// boundlessSpec returns a continuous Spec of the given length with
// unbounded features
func boundlessSpec(length int, t env.SpecType) env.Spec {
	shape := mat.NewVecDense(length, nil)
	lowerBound := mat.NewVecDense(length, nil)
	upperBound := mat.NewVecDense(length, nil)
	for i := 0; i < length; i++ {
		lowerBound.SetVec(i, math.Inf(-1))
		upperBound.SetVec(i, math.Inf(1))
	}

	return env.NewSpec(shape, t, lowerBound, upperBound, env.Continuous)
}
