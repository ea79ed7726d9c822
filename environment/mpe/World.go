// Package mpe implements the particle-world physics shared by the
// multi-agent particle environments. Entities are point masses in a
// two-dimensional continuous world. On each step, control and contact
// forces are accumulated per entity, then velocities are integrated
// with damping.
package mpe

import (
	"math"
)

const (
	// Physical constants
	Dt            float64 = 0.1  // seconds between state updates
	Damping       float64 = 0.25 // velocity damping per step
	ContactForce  float64 = 1e2  // contact response force scale
	ContactMargin float64 = 1e-3 // softness of contact penetration
	Sensitivity   float64 = 5.0  // control force magnification

	// Entity sizes
	AgentSize    float64 = 0.15
	LandmarkSize float64 = 0.05
)

// Entity is a point mass in the world. Landmarks are immovable and do
// not collide; agents are movable and collide with one another.
type Entity struct {
	Pos  [2]float64
	Vel  [2]float64
	Size float64
	Mass float64

	Movable bool
	Collide bool
}

// NewAgent returns a movable, colliding entity of the standard agent
// size placed at the given position
func NewAgent(x, y float64) *Entity {
	return &Entity{
		Pos:     [2]float64{x, y},
		Size:    AgentSize,
		Mass:    1.0,
		Movable: true,
		Collide: true,
	}
}

// NewLandmark returns an immovable, non-colliding entity of the
// standard landmark size placed at the given position
func NewLandmark(x, y float64) *Entity {
	return &Entity{
		Pos:  [2]float64{x, y},
		Size: LandmarkSize,
		Mass: 1.0,
	}
}

// World holds the entities of a particle environment
type World struct {
	Agents    []*Entity
	Landmarks []*Entity
}

// NewWorld returns a World with the given numbers of zero-positioned
// agents and landmarks
func NewWorld(agents, landmarks int) *World {
	w := &World{
		Agents:    make([]*Entity, agents),
		Landmarks: make([]*Entity, landmarks),
	}
	for i := range w.Agents {
		w.Agents[i] = NewAgent(0, 0)
	}
	for i := range w.Landmarks {
		w.Landmarks[i] = NewLandmark(0, 0)
	}
	return w
}

// Entities returns all entities in the world, agents first
func (w *World) Entities() []*Entity {
	entities := make([]*Entity, 0, len(w.Agents)+len(w.Landmarks))
	entities = append(entities, w.Agents...)
	return append(entities, w.Landmarks...)
}

// Step advances the world by one timestep. The forces argument holds
// one control force per agent. Contact forces between colliding
// entities are added to the control forces, then velocities and
// positions are integrated.
func (w *World) Step(forces [][2]float64) {
	if len(forces) != len(w.Agents) {
		panic("step: one control force required per agent")
	}

	total := make([][2]float64, len(w.Agents))
	for i := range w.Agents {
		total[i][0] = forces[i][0] * Sensitivity
		total[i][1] = forces[i][1] * Sensitivity
	}

	// Contact forces act on both members of each colliding pair
	for i := 0; i < len(w.Agents); i++ {
		for j := i + 1; j < len(w.Agents); j++ {
			f := contactForce(w.Agents[i], w.Agents[j])
			total[i][0] += f[0]
			total[i][1] += f[1]
			total[j][0] -= f[0]
			total[j][1] -= f[1]
		}
	}

	for i, agent := range w.Agents {
		if !agent.Movable {
			continue
		}
		agent.Vel[0] = agent.Vel[0]*(1-Damping) + total[i][0]/agent.Mass*Dt
		agent.Vel[1] = agent.Vel[1]*(1-Damping) + total[i][1]/agent.Mass*Dt
		agent.Pos[0] += agent.Vel[0] * Dt
		agent.Pos[1] += agent.Vel[1] * Dt
	}
}

// Collided returns whether two entities overlap
func Collided(a, b *Entity) bool {
	return Distance(a, b) < a.Size+b.Size
}

// Distance returns the Euclidean distance between two entities
func Distance(a, b *Entity) float64 {
	return math.Hypot(a.Pos[0]-b.Pos[0], a.Pos[1]-b.Pos[1])
}

// contactForce computes the soft contact force that entity b exerts on
// entity a. The penetration response is softened exponentially by the
// contact margin so that the force is differentiable at contact.
func contactForce(a, b *Entity) [2]float64 {
	if !a.Collide || !b.Collide {
		return [2]float64{}
	}

	dx := a.Pos[0] - b.Pos[0]
	dy := a.Pos[1] - b.Pos[1]
	dist := math.Hypot(dx, dy)
	if dist == 0 {
		return [2]float64{}
	}

	minDist := a.Size + b.Size
	penetration := math.Log(1+math.Exp(-(dist-minDist)/ContactMargin)) *
		ContactMargin
	scale := ContactForce * penetration / dist

	return [2]float64{dx * scale, dy * scale}
}
