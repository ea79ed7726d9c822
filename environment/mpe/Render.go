package mpe

import (
	"github.com/fogleman/gg"
)

const (
	renderSize   = 512  // image width and height in pixels
	renderExtent = 1.75 // world units mapped to the image half-width
)

// Render draws the current world to a PNG file. Landmarks are drawn
// in grey underneath the agents, which are drawn in blue.
func Render(w *World, filename string) error {
	dc := gg.NewContext(renderSize, renderSize)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	scale := renderSize / (2 * renderExtent)
	toPixel := func(p [2]float64) (float64, float64) {
		return renderSize/2 + p[0]*scale, renderSize/2 - p[1]*scale
	}

	for _, landmark := range w.Landmarks {
		x, y := toPixel(landmark.Pos)
		dc.SetRGB(0.35, 0.35, 0.35)
		dc.DrawCircle(x, y, landmark.Size*scale)
		dc.Fill()
	}

	for _, agent := range w.Agents {
		x, y := toPixel(agent.Pos)
		dc.SetRGB(0.25, 0.25, 0.85)
		dc.DrawCircle(x, y, agent.Size*scale)
		dc.Fill()
	}

	return dc.SavePNG(filename)
}
