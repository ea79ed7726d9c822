// Package mappo implements Multi-Agent Proximal Policy Optimization
// for cooperative tasks with shared rewards.
//
// All environment agents share a single categorical policy that acts
// from local observations, while a centralized critic estimates values
// from the joint state. Rollouts of a fixed number of timesteps are
// gathered between updates, advantages are computed with Generalized
// Advantage Estimation, and both networks are updated for several
// epochs of minibatch gradient descent on the clipped PPO objective.
// Critic targets can be standardized with a running value normalizer,
// in which case critic predictions are denormalized back to return
// scale before advantage estimation.
package mappo

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gomarl/mappo/agent"
	"github.com/gomarl/mappo/agent/policy"
	"github.com/gomarl/mappo/environment"
	"github.com/gomarl/mappo/network"
	"github.com/gomarl/mappo/normalizer"
	ts "github.com/gomarl/mappo/timestep"
)

// Stats holds diagnostics of the most recent update
type Stats struct {
	PolicyLoss        float64
	ValueLoss         float64
	Entropy           float64
	ApproxKL          float64
	ClipFraction      float64
	ExplainedVariance float64
	Epochs            int
}

// MAPPO implements the Multi-Agent Proximal Policy Optimization
// algorithm with parameter sharing.
type MAPPO struct {
	config Config

	numAgents  int
	obsDim     int
	stateDim   int
	numActions int

	// Action selection policy with batch size 1, synchronized with
	// the train policy after each update
	behaviour *policy.CategoricalMLP

	// Train policy with batch size minibatchSize and its loss graph
	trainPolicy   *policy.CategoricalMLP
	trainPolicyVM G.VM
	policySolver  G.Solver

	advantages    *G.Node
	oldLogProbs   *G.Node
	ratioVal      G.Value
	logRatioVal   G.Value
	policyLossVal G.Value

	// Centralized critic over joint states. The vCritic predicts
	// values during rollouts with batch size 1; the trainCritic is
	// updated on minibatches of normalized targets.
	vCritic   network.NeuralNet
	vCriticVM G.VM

	trainCritic   network.NeuralNet
	trainCriticVM G.VM
	criticSolver  G.Solver

	criticTargets *G.Node
	valueLossVal  G.Value

	valueNorm *normalizer.Normalizer

	buffer        *rolloutBuffer
	minibatchSize int

	prevStep        ts.TimeStep
	pendingLogProbs []float64

	rng   *rand.Rand
	eval  bool
	stats Stats
}

// New creates a MAPPO agent for the given environment. The policy acts
// from single-agent observations and the critic from joint states, as
// given by the environment's specifications.
func New(env environment.Environment, c Config,
	seed uint64) (agent.Agent, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: invalid configuration: %v", err)
	}

	numAgents := env.NumAgents()
	obsDim := env.ObservationSpec().Shape.Len()
	stateDim := env.StateSpec().Shape.Len()
	if env.ActionSpec().Cardinality != environment.Discrete {
		return nil, fmt.Errorf("new: MAPPO requires discrete actions")
	}
	numActions := int(env.ActionSpec().UpperBound.AtVec(0)) + 1

	batchSize := c.RolloutLength * numAgents
	if batchSize%c.Minibatches != 0 {
		return nil, fmt.Errorf("new: rollout samples must divide evenly "+
			"into minibatches \n\tsamples(%v) \n\tminibatches(%v)",
			batchSize, c.Minibatches)
	}
	minibatchSize := batchSize / c.Minibatches

	// Create the train policy and its clipped surrogate loss
	gPolicy := G.NewGraph()
	trainPolicy, err := policy.NewCategoricalMLP(obsDim, numActions,
		minibatchSize, gPolicy, c.PolicyLayers, c.PolicyBiases,
		c.PolicyActivations, c.InitWFn.InitWFn(), seed)
	if err != nil {
		return nil, fmt.Errorf("new: could not create train policy: %v", err)
	}

	m := &MAPPO{
		config:     c,
		numAgents:  numAgents,
		obsDim:     obsDim,
		stateDim:   stateDim,
		numActions: numActions,

		trainPolicy:  trainPolicy,
		policySolver: c.PolicySolver,
		criticSolver: c.CriticSolver,

		buffer: newRolloutBuffer(obsDim, stateDim, numAgents,
			c.RolloutLength),
		minibatchSize:   minibatchSize,
		pendingLogProbs: make([]float64, numAgents),

		rng: rand.New(rand.NewSource(seed)),
	}

	if err := m.policyLossGraph(gPolicy); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	// Create the action selection policy, sharing the train policy's
	// initial weights
	behaviour, err := trainPolicy.CloneWithBatch(1)
	if err != nil {
		return nil, fmt.Errorf("new: could not create behaviour "+
			"policy: %v", err)
	}
	m.behaviour = behaviour.(*policy.CategoricalMLP)

	// Create the train critic and its loss
	gCritic := G.NewGraph()
	trainCritic, err := network.NewSingleHeadMLP(stateDim, minibatchSize,
		gCritic, c.CriticLayers, c.CriticBiases, c.InitWFn.InitWFn(),
		c.CriticActivations)
	if err != nil {
		return nil, fmt.Errorf("new: could not create critic: %v", err)
	}
	m.trainCritic = trainCritic
	if err := m.criticLossGraph(gCritic); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	// Create the rollout value prediction critic
	vCritic, err := trainCritic.CloneWithBatch(1)
	if err != nil {
		return nil, fmt.Errorf("new: could not create prediction "+
			"critic: %v", err)
	}
	m.vCritic = vCritic
	m.vCriticVM = G.NewTapeMachine(vCritic.Graph())

	if c.NormalizeValues {
		m.valueNorm, err = normalizer.New(1, c.ValueNormDecay)
		if err != nil {
			return nil, fmt.Errorf("new: could not create value "+
				"normalizer: %v", err)
		}
	}

	return m, nil
}

// policyLossGraph constructs the clipped surrogate objective with an
// entropy bonus on the train policy's graph
func (m *MAPPO) policyLossGraph(g *G.ExprGraph) error {
	mb := m.minibatchSize
	c := m.config

	m.advantages = G.NewVector(g, tensor.Float64, G.WithShape(mb),
		G.WithName("advantages"))
	m.oldLogProbs = G.NewVector(g, tensor.Float64, G.WithShape(mb),
		G.WithName("oldLogProbs"))

	logProb := m.trainPolicy.LogProbNode()
	logRatio := G.Must(G.Sub(logProb, m.oldLogProbs))
	ratio := G.Must(G.Exp(logRatio))
	G.Read(ratio, &m.ratioVal)
	G.Read(logRatio, &m.logRatioVal)

	ratioLo := G.NewVector(g, tensor.Float64, G.WithShape(mb),
		G.WithName("ratioLo"), G.WithInit(G.ValuesOf(1.0-c.ClipCoef)))
	ratioHi := G.NewVector(g, tensor.Float64, G.WithShape(mb),
		G.WithName("ratioHi"), G.WithInit(G.ValuesOf(1.0+c.ClipCoef)))

	surrUnclipped := G.Must(G.Neg(
		G.Must(G.HadamardProd(m.advantages, ratio)),
	))
	surrClipped := G.Must(G.Neg(
		G.Must(G.HadamardProd(m.advantages, clamp(ratio, ratioLo, ratioHi))),
	))

	// Pessimistic objective: the elementwise maximum of the negated
	// surrogates
	loss := G.Must(G.Mean(maximum(surrUnclipped, surrClipped)))

	entropyCoef := G.NewScalar(g, tensor.Float64,
		G.WithName("entropyCoef"))
	if err := G.Let(entropyCoef, c.EntropyCoef); err != nil {
		return fmt.Errorf("policylossgraph: could not set entropy "+
			"coefficient: %v", err)
	}
	entropyBonus := G.Must(G.Mul(entropyCoef, m.trainPolicy.EntropyNode()))
	loss = G.Must(G.Sub(loss, entropyBonus))
	G.Read(loss, &m.policyLossVal)

	learnables := m.trainPolicy.Network().Learnables()
	if _, err := G.Grad(loss, learnables...); err != nil {
		return fmt.Errorf("policylossgraph: could not compute "+
			"gradient: %v", err)
	}
	m.trainPolicyVM = G.NewTapeMachine(g, G.BindDualValues(learnables...))

	return nil
}

// criticLossGraph constructs the critic's regression loss on the train
// critic's graph
func (m *MAPPO) criticLossGraph(g *G.ExprGraph) error {
	c := m.config
	prediction := m.trainCritic.Prediction()
	shape := prediction.Shape()

	m.criticTargets = G.NewMatrix(g, tensor.Float64,
		G.WithShape(shape...), G.WithName("criticTargets"))
	predErr := G.Must(G.Sub(prediction, m.criticTargets))

	half := G.NewMatrix(g, tensor.Float64, G.WithShape(shape...),
		G.WithName("half"), G.WithInit(G.ValuesOf(0.5)))

	regression := func(e *G.Node) *G.Node {
		if !c.UseHuberLoss {
			return G.Must(G.HadamardProd(half, G.Must(G.Square(e))))
		}

		// Huber loss, quadratic within delta of zero and linear
		// outside: 0.5 * clamp(e) * (2e - clamp(e))
		deltaLo := G.NewMatrix(g, tensor.Float64, G.WithShape(shape...),
			G.WithInit(G.ValuesOf(-c.HuberDelta)))
		deltaHi := G.NewMatrix(g, tensor.Float64, G.WithShape(shape...),
			G.WithInit(G.ValuesOf(c.HuberDelta)))
		clamped := clamp(e, deltaLo, deltaHi)
		linear := G.Must(G.Sub(G.Must(G.Add(e, e)), clamped))
		return G.Must(G.HadamardProd(half,
			G.Must(G.HadamardProd(clamped, linear))))
	}

	loss := regression(predErr)
	if c.ClipValueLoss {
		// Pessimistically bound the loss by that of a prediction
		// clipped to within the trust region around the targets
		clipLo := G.NewMatrix(g, tensor.Float64, G.WithShape(shape...),
			G.WithInit(G.ValuesOf(-c.ClipCoef)))
		clipHi := G.NewMatrix(g, tensor.Float64, G.WithShape(shape...),
			G.WithInit(G.ValuesOf(c.ClipCoef)))
		clippedLoss := regression(clamp(predErr, clipLo, clipHi))
		loss = maximum(loss, clippedLoss)
	}

	meanLoss := G.Must(G.Mean(loss))
	G.Read(meanLoss, &m.valueLossVal)

	valueCoef := G.NewScalar(g, tensor.Float64, G.WithName("valueCoef"))
	if err := G.Let(valueCoef, c.ValueCoef); err != nil {
		return fmt.Errorf("criticlossgraph: could not set value "+
			"coefficient: %v", err)
	}
	meanLoss = G.Must(G.Mul(valueCoef, meanLoss))

	learnables := m.trainCritic.Learnables()
	if _, err := G.Grad(meanLoss, learnables...); err != nil {
		return fmt.Errorf("criticlossgraph: could not compute "+
			"gradient: %v", err)
	}
	m.trainCriticVM = G.NewTapeMachine(g, G.BindDualValues(learnables...))

	return nil
}

// clamp bounds x elementwise to [lo, hi]. All nodes must have the same
// shape; lo and hi must be constant.
func clamp(x, lo, hi *G.Node) *G.Node {
	bounded := G.Must(G.Add(lo, G.Must(G.Rectify(G.Must(G.Sub(x, lo))))))
	return G.Must(G.Sub(bounded,
		G.Must(G.Rectify(G.Must(G.Sub(x, hi))))))
}

// maximum computes the elementwise maximum of two same-shaped nodes
func maximum(a, b *G.Node) *G.Node {
	return G.Must(G.Add(a, G.Must(G.Rectify(G.Must(G.Sub(b, a))))))
}

// SelectActions samples one action per environment agent from the
// shared policy, each conditioned on that agent's local observation.
func (m *MAPPO) SelectActions(t ts.TimeStep) *mat.VecDense {
	if t.NumAgents() != m.numAgents {
		panic(fmt.Sprintf("selectactions: invalid number of agent "+
			"observations \n\twant(%v) \n\thave(%v)", m.numAgents,
			t.NumAgents()))
	}

	actions := mat.NewVecDense(m.numAgents, nil)
	for i := 0; i < m.numAgents; i++ {
		action, logProb, err := m.behaviour.SelectAction(t.Observations[i])
		if err != nil {
			panic(fmt.Sprintf("selectactions: %v", err))
		}
		actions.SetVec(i, float64(action))
		m.pendingLogProbs[i] = logProb
	}

	return actions
}

// ObserveFirst observes and records the first timestep in an episode
func (m *MAPPO) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		return fmt.Errorf("observefirst: timestep "+
			"\n\twant(First)\n\thave(%v)", t.StepType())
	}
	m.prevStep = t
	return nil
}

// Observe records that the actions selected at the previously observed
// timestep led to nextStep
func (m *MAPPO) Observe(actions mat.Vector, nextStep ts.TimeStep) error {
	if m.eval {
		m.prevStep = nextStep
		return nil
	}

	value, err := m.stateValue(m.prevStep.State)
	if err != nil {
		return fmt.Errorf("observe: %v", err)
	}

	obs := make([]float64, m.numAgents*m.obsDim)
	for i, agentObs := range m.prevStep.Observations {
		for j := 0; j < m.obsDim; j++ {
			obs[i*m.obsDim+j] = agentObs.AtVec(j)
		}
	}

	state := make([]float64, m.stateDim)
	for i := range state {
		state[i] = m.prevStep.State.AtVec(i)
	}

	acts := make([]float64, m.numAgents)
	for i := range acts {
		acts[i] = actions.AtVec(i)
	}

	err = m.buffer.store(obs, state, acts, m.pendingLogProbs,
		nextStep.SharedReward(), nextStep.Last(), value)
	if err != nil {
		return fmt.Errorf("observe: %v", err)
	}

	m.prevStep = nextStep
	return nil
}

// Step updates the policy and critic if a complete rollout has been
// gathered, and otherwise is a no-op
func (m *MAPPO) Step() error {
	if m.eval || !m.buffer.full() {
		return nil
	}
	return m.update()
}

// EndEpisode performs cleanup at the end of an episode. Rollouts span
// episode boundaries, so no cleanup is needed.
func (m *MAPPO) EndEpisode() {}

// Eval sets the algorithm into evaluation mode
func (m *MAPPO) Eval() { m.eval = true }

// Train sets the algorithm into training mode
func (m *MAPPO) Train() { m.eval = false }

// IsEval returns whether the algorithm is in evaluation mode
func (m *MAPPO) IsEval() bool { return m.eval }

// Stats returns diagnostics of the most recent update
func (m *MAPPO) Stats() Stats { return m.stats }

// stateValue predicts the value of a joint state in return scale.
// Predictions are made in normalized scale when target normalization
// is used, so they are denormalized before being returned.
func (m *MAPPO) stateValue(state mat.Vector) (float64, error) {
	raw := make([]float64, state.Len())
	for i := range raw {
		raw[i] = state.AtVec(i)
	}

	if err := m.vCritic.SetInput(raw); err != nil {
		return 0, fmt.Errorf("statevalue: could not set input: %v", err)
	}
	if err := m.vCriticVM.RunAll(); err != nil {
		return 0, fmt.Errorf("statevalue: could not predict: %v", err)
	}
	value := m.vCritic.Output().Data().([]float64)[0]
	m.vCriticVM.Reset()

	if m.valueNorm != nil && m.valueNorm.Initialized() {
		denorm, err := m.valueNorm.Denormalize([]float64{value})
		if err != nil {
			return 0, fmt.Errorf("statevalue: could not denormalize: %v",
				err)
		}
		value = denorm[0]
	}

	return value, nil
}

// update performs one MAPPO update: advantages are estimated for the
// gathered rollout, then the policy and critic are updated for several
// epochs of minibatch gradient descent
func (m *MAPPO) update() error {
	c := m.config

	lastValue, err := m.stateValue(m.prevStep.State)
	if err != nil {
		return fmt.Errorf("update: %v", err)
	}
	if err := m.buffer.computeReturns(lastValue, c.Gamma,
		c.Lambda); err != nil {
		return fmt.Errorf("update: %v", err)
	}

	obs, states, actions, logProbs, advantages, returns, err :=
		m.buffer.get()
	if err != nil {
		return fmt.Errorf("update: %v", err)
	}

	varReturns := stat.Variance(m.buffer.returns, nil)
	varResidual := stat.Variance(residuals(m.buffer.returns,
		m.buffer.values), nil)
	explainedVar := math.NaN()
	if varReturns > 0 {
		explainedVar = 1.0 - varResidual/varReturns
	}

	indices := make([]int, m.buffer.batchSize())
	for i := range indices {
		indices[i] = i
	}

	var approxKL float64
	epochs := 0
	for epoch := 0; epoch < c.Epochs; epoch++ {
		m.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		for start := 0; start < len(indices); start += m.minibatchSize {
			mb := indices[start : start+m.minibatchSize]

			approxKL, err = m.updateMinibatch(mb, obs, states, actions,
				logProbs, advantages, returns)
			if err != nil {
				return fmt.Errorf("update: %v", err)
			}
		}
		epochs++

		if c.TargetKL > 0 && approxKL > c.TargetKL {
			break
		}
	}

	// Synchronize the rollout networks with the updated weights
	err = network.Set(m.behaviour.Network(), m.trainPolicy.Network())
	if err != nil {
		return fmt.Errorf("update: could not synchronize behaviour "+
			"policy: %v", err)
	}
	if err := network.Set(m.vCritic, m.trainCritic); err != nil {
		return fmt.Errorf("update: could not synchronize prediction "+
			"critic: %v", err)
	}

	m.stats.ExplainedVariance = explainedVar
	m.stats.Epochs = epochs
	m.buffer.reset()

	return nil
}

// updateMinibatch performs one gradient step on the critic and one on
// the policy for the minibatch given by the argument indices, and
// returns the approximate KL divergence between the updated and
// rollout policies on the minibatch
func (m *MAPPO) updateMinibatch(mb []int, obs, states, actions,
	logProbs, advantages, returns []float64) (float64, error) {
	c := m.config
	n := len(mb)

	mbObs := make([]float64, n*m.obsDim)
	mbStates := make([]float64, n*m.stateDim)
	mbActions := make([]float64, n)
	mbLogProbs := make([]float64, n)
	mbAdvantages := make([]float64, n)
	mbReturns := make([]float64, n)
	for k, idx := range mb {
		copy(mbObs[k*m.obsDim:], obs[idx*m.obsDim:(idx+1)*m.obsDim])
		copy(mbStates[k*m.stateDim:],
			states[idx*m.stateDim:(idx+1)*m.stateDim])
		mbActions[k] = actions[idx]
		mbLogProbs[k] = logProbs[idx]
		mbAdvantages[k] = advantages[idx]
		mbReturns[k] = returns[idx]
	}

	if c.NormalizeAdvantages {
		mean, std := stat.MeanStdDev(mbAdvantages, nil)
		for i, a := range mbAdvantages {
			mbAdvantages[i] = (a - mean) / (std + 1e-8)
		}
	}

	// Fold the minibatch targets into the running statistics, then
	// regress the critic onto the normalized targets
	targets := mbReturns
	if m.valueNorm != nil {
		if err := m.valueNorm.Update(mbReturns); err != nil {
			return 0, fmt.Errorf("updateminibatch: %v", err)
		}
		var err error
		if targets, err = m.valueNorm.Normalize(mbReturns); err != nil {
			return 0, fmt.Errorf("updateminibatch: %v", err)
		}
	}

	if err := m.stepCritic(mbStates, targets); err != nil {
		return 0, fmt.Errorf("updateminibatch: %v", err)
	}

	return m.stepPolicy(mbObs, mbActions, mbLogProbs, mbAdvantages)
}

// stepCritic performs a single gradient step on the train critic
func (m *MAPPO) stepCritic(states, targets []float64) error {
	if err := m.trainCritic.SetInput(states); err != nil {
		return fmt.Errorf("stepcritic: could not set input: %v", err)
	}

	targetsTensor := tensor.NewDense(
		tensor.Float64,
		m.criticTargets.Shape(),
		tensor.WithBacking(targets),
	)
	if err := G.Let(m.criticTargets, targetsTensor); err != nil {
		return fmt.Errorf("stepcritic: could not set targets: %v", err)
	}

	if err := m.trainCriticVM.RunAll(); err != nil {
		return fmt.Errorf("stepcritic: could not run update: %v", err)
	}
	if err := m.criticSolver.Step(m.trainCritic.Model()); err != nil {
		return fmt.Errorf("stepcritic: could not step solver: %v", err)
	}
	m.trainCriticVM.Reset()

	m.stats.ValueLoss = m.valueLossVal.Data().(float64)
	return nil
}

// stepPolicy performs a single gradient step on the train policy and
// returns the approximate KL divergence between the updated and
// rollout policies on the minibatch
func (m *MAPPO) stepPolicy(obs, actions, oldLogProbs,
	advantages []float64) (float64, error) {
	if _, err := m.trainPolicy.LogProbOf(obs, actions); err != nil {
		return 0, fmt.Errorf("steppolicy: could not set log probability "+
			"inputs: %v", err)
	}

	advantagesTensor := tensor.NewDense(
		tensor.Float64,
		m.advantages.Shape(),
		tensor.WithBacking(advantages),
	)
	if err := G.Let(m.advantages, advantagesTensor); err != nil {
		return 0, fmt.Errorf("steppolicy: could not set advantages: %v",
			err)
	}

	oldLogProbsTensor := tensor.NewDense(
		tensor.Float64,
		m.oldLogProbs.Shape(),
		tensor.WithBacking(oldLogProbs),
	)
	if err := G.Let(m.oldLogProbs, oldLogProbsTensor); err != nil {
		return 0, fmt.Errorf("steppolicy: could not set old log "+
			"probabilities: %v", err)
	}

	if err := m.trainPolicyVM.RunAll(); err != nil {
		return 0, fmt.Errorf("steppolicy: could not run update: %v", err)
	}
	err := m.policySolver.Step(m.trainPolicy.Network().Model())
	if err != nil {
		return 0, fmt.Errorf("steppolicy: could not step solver: %v", err)
	}
	m.trainPolicyVM.Reset()

	// Diagnostics computed from the pre-update ratios:
	// KL(old || new) ≈ mean((ratio - 1) - log(ratio))
	ratios := m.ratioVal.Data().([]float64)
	logRatios := m.logRatioVal.Data().([]float64)
	approxKL := 0.0
	clipped := 0.0
	for i, r := range ratios {
		approxKL += (r - 1.0) - logRatios[i]
		if math.Abs(r-1.0) > m.config.ClipCoef {
			clipped++
		}
	}
	approxKL /= float64(len(ratios))

	m.stats.ApproxKL = approxKL
	m.stats.ClipFraction = clipped / float64(len(ratios))
	m.stats.PolicyLoss = m.policyLossVal.Data().(float64)
	m.stats.Entropy = m.trainPolicy.EntropyVal().Data().(float64)

	return approxKL, nil
}

// residuals returns the elementwise difference a - b
func residuals(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
