package mappo

import "fmt"

// rolloutBuffer stores fixed-length trajectories of multi-agent
// transitions. Rewards are shared between agents, so a single reward,
// done flag, and centralized value are kept per timestep, while
// observations, actions, and log-probabilities are kept per agent.
type rolloutBuffer struct {
	obsDim    int
	stateDim  int
	numAgents int
	numSteps  int

	obs      []float64 // numSteps x (numAgents * obsDim)
	states   []float64 // numSteps x stateDim
	actions  []float64 // numSteps x numAgents
	logProbs []float64 // numSteps x numAgents
	rewards  []float64 // numSteps
	dones    []float64 // numSteps
	values   []float64 // numSteps

	advantages []float64 // numSteps
	returns    []float64 // numSteps

	position int
}

func newRolloutBuffer(obsDim, stateDim, numAgents,
	numSteps int) *rolloutBuffer {
	return &rolloutBuffer{
		obsDim:    obsDim,
		stateDim:  stateDim,
		numAgents: numAgents,
		numSteps:  numSteps,

		obs:      make([]float64, numSteps*numAgents*obsDim),
		states:   make([]float64, numSteps*stateDim),
		actions:  make([]float64, numSteps*numAgents),
		logProbs: make([]float64, numSteps*numAgents),
		rewards:  make([]float64, numSteps),
		dones:    make([]float64, numSteps),
		values:   make([]float64, numSteps),

		advantages: make([]float64, numSteps),
		returns:    make([]float64, numSteps),
	}
}

// full returns whether the buffer holds a complete rollout
func (r *rolloutBuffer) full() bool {
	return r.position >= r.numSteps
}

// batchSize returns the number of samples a full rollout yields, one
// per agent per timestep
func (r *rolloutBuffer) batchSize() int {
	return r.numSteps * r.numAgents
}

// store records a single multi-agent transition. The obs argument
// holds all agent observations concatenated in agent order, actions
// and logProbs hold one entry per agent, and done flags whether the
// transition ended the episode.
func (r *rolloutBuffer) store(obs, state, actions, logProbs []float64,
	reward float64, done bool, value float64) error {
	if r.full() {
		return fmt.Errorf("store: buffer full \n\tcapacity(%v)", r.numSteps)
	}
	if len(obs) != r.numAgents*r.obsDim {
		return fmt.Errorf("store: invalid observation length "+
			"\n\twant(%v) \n\thave(%v)", r.numAgents*r.obsDim, len(obs))
	}
	if len(state) != r.stateDim {
		return fmt.Errorf("store: invalid state length \n\twant(%v) "+
			"\n\thave(%v)", r.stateDim, len(state))
	}
	if len(actions) != r.numAgents || len(logProbs) != r.numAgents {
		return fmt.Errorf("store: invalid per-agent data length "+
			"\n\twant(%v) \n\thave(%v, %v)", r.numAgents, len(actions),
			len(logProbs))
	}

	t := r.position
	copy(r.obs[t*r.numAgents*r.obsDim:], obs)
	copy(r.states[t*r.stateDim:], state)
	copy(r.actions[t*r.numAgents:], actions)
	copy(r.logProbs[t*r.numAgents:], logProbs)
	r.rewards[t] = reward
	if done {
		r.dones[t] = 1.0
	} else {
		r.dones[t] = 0.0
	}
	r.values[t] = value

	r.position++
	return nil
}

// computeReturns fills the advantage and return buffers using
// Generalized Advantage Estimation with done masking. The lastValue
// argument is the critic's estimate for the state following the final
// stored transition and is used to bootstrap; it is masked whenever
// that transition ended the episode.
func (r *rolloutBuffer) computeReturns(lastValue, gamma,
	lambda float64) error {
	if !r.full() {
		return fmt.Errorf("computeReturns: rollout incomplete "+
			"\n\twant(%v) \n\thave(%v)", r.numSteps, r.position)
	}

	lastGAE := 0.0
	for t := r.numSteps - 1; t >= 0; t-- {
		var nextValue float64
		if t == r.numSteps-1 {
			nextValue = lastValue
		} else {
			nextValue = r.values[t+1]
		}
		nextNonTerminal := 1.0 - r.dones[t]

		delta := r.rewards[t] + gamma*nextValue*nextNonTerminal -
			r.values[t]
		lastGAE = delta + gamma*lambda*nextNonTerminal*lastGAE
		r.advantages[t] = lastGAE
		r.returns[t] = lastGAE + r.values[t]
	}
	return nil
}

// get returns the rollout flattened into per-agent samples. Sample
// b = t*numAgents + i holds agent i's observation and action at
// timestep t along with the shared state, advantage, and return of
// that timestep. computeReturns must be called first.
func (r *rolloutBuffer) get() (obs, states, actions, logProbs,
	advantages, returns []float64, err error) {
	if !r.full() {
		return nil, nil, nil, nil, nil, nil,
			fmt.Errorf("get: rollout incomplete \n\twant(%v) \n\thave(%v)",
				r.numSteps, r.position)
	}

	n := r.batchSize()
	states = make([]float64, n*r.stateDim)
	advantages = make([]float64, n)
	returns = make([]float64, n)

	for t := 0; t < r.numSteps; t++ {
		for i := 0; i < r.numAgents; i++ {
			b := t*r.numAgents + i
			copy(states[b*r.stateDim:(b+1)*r.stateDim],
				r.states[t*r.stateDim:(t+1)*r.stateDim])
			advantages[b] = r.advantages[t]
			returns[b] = r.returns[t]
		}
	}

	// Per-agent data is already laid out in sample order
	return r.obs, states, r.actions, r.logProbs, advantages, returns, nil
}

// reset empties the buffer for the next rollout
func (r *rolloutBuffer) reset() {
	r.position = 0
}
