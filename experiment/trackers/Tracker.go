// Package trackers implements functionality for tracking data
// generated during an experiment and saving it to disk
package trackers

import (
	ts "github.com/gomarl/mappo/timestep"
)

// Tracker caches data from the timesteps of an experiment so that the
// data can later be saved to disk. Experiments send every timestep to
// each registered Tracker with Track(); the Tracker decides which of
// the timestep's data it keeps.
type Tracker interface {
	Track(t ts.TimeStep)
	Save()
}
