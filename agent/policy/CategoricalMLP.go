// Package policy implements neural network policies over discrete
// action spaces
package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gomarl/mappo/agent"
	"github.com/gomarl/mappo/network"
	"github.com/gomarl/mappo/utils/floatutils"
)

// CategoricalMLP implements a softmax policy over discrete actions,
// parameterized by an MLP that predicts one logit per action.
//
// A CategoricalMLP with batch size 1 owns a VM and can select actions
// with SelectAction. A CategoricalMLP with a larger batch size is used
// for gradient construction: LogProbOf sets state and action inputs,
// and the log probability and entropy nodes can be combined into a
// loss by the caller, which owns the VM that runs the graph.
type CategoricalMLP struct {
	net network.NeuralNet
	vm  G.VM

	logits     *G.Node
	logitsVals G.Value

	actionIndices *G.Node

	logProbInputActions    *G.Node
	logProbInputActionsVal G.Value

	entropy    *G.Node
	entropyVal G.Value

	features   int
	numActions int
	batchSize  int

	// Construction parameters, retained for cloning
	hiddenSizes []int
	biases      []bool
	activations []*network.Activation
	init        G.InitWFn

	source rand.Source
	seed   uint64
}

// NewCategoricalMLP returns a new softmax policy over numActions
// discrete actions, parameterized by an MLP over observation vectors
// of length features. The MLP is created on the graph g with the given
// hidden layer sizes, biases, activations, and weight initializer.
func NewCategoricalMLP(features, numActions, batch int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, activations []*network.Activation,
	init G.InitWFn, seed uint64) (*CategoricalMLP, error) {
	if numActions < 2 {
		return nil, fmt.Errorf("newcategoricalmlp: policy requires at "+
			"least 2 actions \n\thave(%v)", numActions)
	}

	net, err := network.NewMultiHeadMLP(features, batch, numActions, g,
		hiddenSizes, biases, init, activations)
	if err != nil {
		return nil, fmt.Errorf("newcategoricalmlp: could not create policy "+
			"network: %v", err)
	}

	logits := net.Prediction()
	logSumExp := LogSumExp(logits, 1)

	// Log probability of actions inputted with LogProbOf, selected
	// from the logits by a one-hot action matrix
	actionIndices := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(logits.Shape()...),
		G.WithInit(G.Zeroes()),
		G.WithName("actionIndices"),
	)
	logitsInputActions := G.Must(G.HadamardProd(actionIndices, logits))
	logitsInputActions = G.Must(G.Sum(logitsInputActions, 1))
	logProbInputActions := G.Must(G.Sub(logitsInputActions, logSumExp))

	// Mean policy entropy over the batch:
	// H = -Σ softmax(logits)·logsoftmax(logits)
	logProbs := G.Must(G.BroadcastSub(logits, logSumExp, nil, []byte{1}))
	probs := G.Must(G.Exp(logProbs))
	entropyPerState := G.Must(G.HadamardProd(probs, logProbs))
	entropyPerState = G.Must(G.Sum(entropyPerState, 1))
	entropy := G.Must(G.Neg(G.Must(G.Mean(entropyPerState))))

	pol := &CategoricalMLP{
		net:                 net,
		logits:              logits,
		actionIndices:       actionIndices,
		logProbInputActions: logProbInputActions,
		entropy:             entropy,

		features:   features,
		numActions: numActions,
		batchSize:  batch,

		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
		init:        init,

		source: rand.NewSource(seed),
		seed:   seed,
	}
	G.Read(pol.logits, &pol.logitsVals)
	G.Read(pol.logProbInputActions, &pol.logProbInputActionsVal)
	G.Read(pol.entropy, &pol.entropyVal)

	// Policies that select actions own their VM
	if batch == 1 {
		pol.vm = G.NewTapeMachine(g)
	}

	return pol, nil
}

// LogSumExp calculates the numerically stable log of the sum of
// exponentials of logits along the given axis
func LogSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{1}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// SelectAction runs the policy network on a single observation and
// samples an action from the resulting softmax distribution. The log
// probability with which the action was selected is also returned.
func (c *CategoricalMLP) SelectAction(obs mat.Vector) (int, float64, error) {
	if c.vm == nil {
		return 0, 0, fmt.Errorf("selectaction: policy has batch size %v > 1",
			c.batchSize)
	}

	raw := make([]float64, obs.Len())
	for i := range raw {
		raw[i] = obs.AtVec(i)
	}
	if err := c.net.SetInput(raw); err != nil {
		return 0, 0, fmt.Errorf("selectaction: could not set input: %v", err)
	}
	if err := c.vm.RunAll(); err != nil {
		return 0, 0, fmt.Errorf("selectaction: could not run policy: %v", err)
	}
	c.vm.Reset()

	logProbs := logSoftmax(c.logitsVals.Data().([]float64))
	probs := make([]float64, len(logProbs))
	for i, lp := range logProbs {
		probs[i] = math.Exp(lp)
	}

	dist := distuv.NewCategorical(probs, c.source)
	action := int(dist.Rand())

	return action, logProbs[action], nil
}

// LogProbOf sets the inputs for computing the log probabilities of
// taking the argument actions in the argument states. The states are
// given in row major order; actions holds one action index per state.
// The returned node holds one log probability per state once the graph
// is run.
func (c *CategoricalMLP) LogProbOf(states, actions []float64) (*G.Node,
	error) {
	if len(actions) != c.batchSize {
		return nil, fmt.Errorf("logprobof: invalid number of actions "+
			"\n\twant(%v)\n\thave(%v)", c.batchSize, len(actions))
	}
	if err := c.net.SetInput(states); err != nil {
		return nil, fmt.Errorf("logprobof: could not set input: %v", err)
	}

	// One-hot encode the action indices
	oneHot := make([]float64, c.batchSize*c.numActions)
	for i, a := range actions {
		index := int(a)
		if index < 0 || index >= c.numActions {
			return nil, fmt.Errorf("logprobof: illegal action %v", a)
		}
		oneHot[i*c.numActions+index] = 1.0
	}
	indices := tensor.NewDense(
		tensor.Float64,
		c.actionIndices.Shape(),
		tensor.WithBacking(oneHot),
	)
	if err := G.Let(c.actionIndices, indices); err != nil {
		return nil, fmt.Errorf("logprobof: could not set actions: %v", err)
	}

	return c.logProbInputActions, nil
}

// LogProbNode returns the node that calculates the log probabilities
// of the actions inputted with LogProbOf
func (c *CategoricalMLP) LogProbNode() *G.Node {
	return c.logProbInputActions
}

// LogProbVal returns the value of the node returned by LogProbNode
// after the graph has been run
func (c *CategoricalMLP) LogProbVal() G.Value {
	return c.logProbInputActionsVal
}

// EntropyNode returns the node that calculates the mean entropy of the
// policy over the states inputted with LogProbOf
func (c *CategoricalMLP) EntropyNode() *G.Node {
	return c.entropy
}

// EntropyVal returns the value of the node returned by EntropyNode
// after the graph has been run
func (c *CategoricalMLP) EntropyVal() G.Value {
	return c.entropyVal
}

// Network returns the network of the CategoricalMLP
func (c *CategoricalMLP) Network() network.NeuralNet {
	return c.net
}

// CloneWithBatch clones the CategoricalMLP to a new computational
// graph with a new input batch size. The clone has its own copy of the
// policy weights.
func (c *CategoricalMLP) CloneWithBatch(batch int) (agent.NNPolicy, error) {
	g := G.NewGraph()
	clone, err := NewCategoricalMLP(c.features, c.numActions, batch, g,
		c.hiddenSizes, c.biases, c.activations, c.init, c.seed)
	if err != nil {
		return nil, fmt.Errorf("clonewithbatch: %v", err)
	}
	if err := network.Set(clone.net, c.net); err != nil {
		return nil, fmt.Errorf("clonewithbatch: could not copy weights: %v",
			err)
	}

	return clone, nil
}

// logSoftmax computes the numerically stable log softmax of logits
func logSoftmax(logits []float64) []float64 {
	max, _ := floatutils.MaxSlice(logits)

	sum := 0.0
	for _, l := range logits {
		sum += math.Exp(l - max)
	}
	logSum := max + math.Log(sum)

	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = l - logSum
	}
	return out
}
