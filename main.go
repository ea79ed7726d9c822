package main

import (
	"flag"
	"fmt"
	"math"

	"github.com/pkg/profile"

	"github.com/gomarl/mappo/agent/mappo"
	"github.com/gomarl/mappo/environment/mpe/spread"
	"github.com/gomarl/mappo/experiment"
	"github.com/gomarl/mappo/experiment/trackers"
	"github.com/gomarl/mappo/initwfn"
	"github.com/gomarl/mappo/solver"
)

func main() {
	numAgents := flag.Int("agents", 3, "number of agents and landmarks")
	steps := flag.Uint("steps", 250_000, "total environment steps")
	seed := flag.Uint64("seed", 192382, "random seed")
	prof := flag.Bool("profile", false, "write a CPU profile")
	flag.Parse()

	if *prof {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	// Create the cooperative navigation environment
	env, _, err := spread.New(*numAgents, spread.DefaultMaxSteps, 0.99,
		*seed)
	if err != nil {
		panic(err)
	}

	// Create the learning algorithm
	policySolver, err := solver.NewAdam(2.5e-4, 1e-5, 0.9, 0.999, 1, 10.0)
	if err != nil {
		panic(err)
	}
	criticSolver, err := solver.NewAdam(2.5e-4, 1e-5, 0.9, 0.999, 1, 10.0)
	if err != nil {
		panic(err)
	}
	init, err := initwfn.NewOrthogonal(math.Sqrt2, *seed)
	if err != nil {
		panic(err)
	}

	config := mappo.DefaultConfig(init, policySolver, criticSolver)
	agent, err := config.CreateAgent(env, *seed)
	if err != nil {
		panic(err)
	}

	// Experiment
	var tracker trackers.Tracker = trackers.NewReturn("./data.bin")
	e := experiment.NewOnline(env, agent, *steps, tracker)
	if err := e.Run(); err != nil {
		panic(err)
	}
	e.Save()

	data := trackers.LoadData("./data.bin")
	if len(data) > 10 {
		data = data[len(data)-10:]
	}
	fmt.Println(data)
}
