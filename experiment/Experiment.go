// Package experiment implements functionality for running an
// experiment
package experiment

import (
	"github.com/gomarl/mappo/experiment/trackers"
	ts "github.com/gomarl/mappo/timestep"
)

// Experiment outlines structs that can run experiments. Experiments
// track environment TimeSteps, sending each TimeStep to registered
// Trackers which cache data in RAM to later be saved to disk with the
// Save() function. The Run() method runs episodes until the maximum
// timestep limit is reached. The RunEpisode() method runs a single
// episode, returning whether the timestep limit was reached during the
// episode.
type Experiment interface {
	Run() error
	RunEpisode() (bool, error)

	// Save all tracked data to disk
	Save()

	// Register adds a new trackers.Tracker to the (possibly already
	// running) experiment. Useful if you want to track data only
	// after a specified event.
	Register(t trackers.Tracker)

	// track sends the current timestep to each Tracker
	track(ts.TimeStep)
}
