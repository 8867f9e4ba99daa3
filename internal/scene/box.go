package scene

import (
	"math"

	"golang.org/x/image/math/f64"
)

// Box is an axis-aligned rectangle in image or scene coordinates.
type Box struct {
	X0, Y0, X1, Y1 float64
}

func (b Box) Empty() bool {
	return b.X1 <= b.X0 || b.Y1 <= b.Y0
}

func (b Box) Width() float64  { return b.X1 - b.X0 }
func (b Box) Height() float64 { return b.Y1 - b.Y0 }

func (b Box) Center() f64.Vec2 {
	return f64.Vec2{(b.X0 + b.X1) / 2, (b.Y0 + b.Y1) / 2}
}

func (b Box) Intersects(o Box) bool {
	return b.X0 < o.X1 && b.X1 > o.X0 && b.Y0 < o.Y1 && b.Y1 > o.Y0
}

// Contains reports whether o lies entirely inside b.
func (b Box) Contains(o Box) bool {
	return o.X0 >= b.X0 && o.X1 <= b.X1 && o.Y0 >= b.Y0 && o.Y1 <= b.Y1
}

// Expand grows the box by m on every side. Negative m shrinks it.
func (b Box) Expand(m float64) Box {
	return Box{b.X0 - m, b.Y0 - m, b.X1 + m, b.Y1 + m}
}

// Union returns the smallest box covering both b and o.
func (b Box) Union(o Box) Box {
	return Box{
		math.Min(b.X0, o.X0),
		math.Min(b.Y0, o.Y0),
		math.Max(b.X1, o.X1),
		math.Max(b.Y1, o.Y1),
	}
}
