package world

import (
	"math"

	"chunkmap.dev/internal/sim/world/grid"
	"chunkmap.dev/internal/sim/world/logic/mathx"
)

// Camera is the top-left corner of a viewport in world pixels. It stays within
// the world so that the viewport never shows past the far edge.
type Camera struct {
	X, Y float64

	maxX, maxY float64
}

// NewCamera bounds a viewW x viewH viewport to the world. A viewport at least
// as large as the world is pinned to the origin on that axis.
func NewCamera(cfg grid.Config, viewW, viewH float64) *Camera {
	world := float64(cfg.WorldSizePx())
	return &Camera{
		maxX: math.Max(0, world-viewW),
		maxY: math.Max(0, world-viewH),
	}
}

func (c *Camera) MoveTo(x, y float64) {
	c.X = clampAxis(x, c.maxX)
	c.Y = clampAxis(y, c.maxY)
}

// Drag applies a pointer movement. The camera moves against the pointer, so
// dragging right reveals what lies to the left.
func (c *Camera) Drag(dx, dy float64) {
	c.MoveTo(c.X-dx, c.Y-dy)
}

func (c *Camera) Position() (float64, float64) { return c.X, c.Y }

func clampAxis(v, max float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return mathx.Clamp(v, 0, max)
}
