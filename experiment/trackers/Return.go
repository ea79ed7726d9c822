package trackers

import (
	"encoding/gob"
	"log"
	"os"

	ts "github.com/gomarl/mappo/timestep"
)

// Return tracks and saves the episodic return in an experiment. When
// an environment returns a TimeStep, this Tracker will extract the
// shared reward and accumulate the return for each episode in the
// experiment.
//
// Note: An episode must finish for this Tracker to save its data.
// If the last episode in an experiment does not finish, that episode's
// return will not be saved.
type Return struct {
	currentReturn  float64
	episodeReturns []float64
	filename       string
}

// NewReturn creates and returns a new *Return Tracker which saves its
// data at the specified location filename
func NewReturn(filename string) Tracker {
	return &Return{filename: filename}
}

// Track tracks the shared reward seen on a timestep. By calling this
// method on every timestep, the Tracker accumulates the episodic
// return, caching it when the episode's last timestep is tracked.
func (r *Return) Track(step ts.TimeStep) {
	if step.First() {
		return
	}

	r.currentReturn += step.SharedReward()
	if step.Last() {
		r.episodeReturns = append(r.episodeReturns, r.currentReturn)
		r.currentReturn = 0.0
	}
}

// Returns returns the episodic returns cached so far
func (r *Return) Returns() []float64 {
	return r.episodeReturns
}

// Save saves the data tracked by the Return Tracker to disk
func (r *Return) Save() {
	file, err := os.Create(r.filename)
	if err != nil {
		log.Fatalf("could not open save file: %v", err)
	}
	defer file.Close()

	en := gob.NewEncoder(file)
	if err = en.Encode(r.episodeReturns); err != nil {
		log.Fatalf("could not encode return data: %v", err)
	}
}

// LoadData loads the episodic returns that a Return Tracker saved at
// the argument filename
func LoadData(filename string) []float64 {
	file, err := os.Open(filename)
	if err != nil {
		log.Fatalf("could not open data file: %v", err)
	}
	defer file.Close()

	var data []float64
	de := gob.NewDecoder(file)
	if err = de.Decode(&data); err != nil {
		log.Fatalf("could not decode return data: %v", err)
	}

	return data
}
