package scene

import (
	"math"
	"time"

	"golang.org/x/image/math/f64"
)

// Transform is a similarity transform: uniform scale Z, rotation A
// (degrees, counterclockwise), then translation X/Y. T is the timestamp
// of the camera update that produced it; snapshots are read-only.
type Transform struct {
	X, Y float64
	Z    float64
	A    float64
	T    time.Time
}

// Identity returns the neutral transform (scale 1, no rotation).
func Identity() Transform {
	return Transform{Z: 1}
}

// Apply maps p through the transform: rotate, scale, translate.
func (t Transform) Apply(p f64.Vec2) f64.Vec2 {
	rad := t.A * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	return f64.Vec2{
		t.Z*(c*p[0]-s*p[1]) + t.X,
		t.Z*(s*p[0]+c*p[1]) + t.Y,
	}
}

// Compose returns the transform equivalent to applying o first, then t.
func (t Transform) Compose(o Transform) Transform {
	origin := t.Apply(f64.Vec2{o.X, o.Y})
	return Transform{
		X: origin[0],
		Y: origin[1],
		Z: t.Z * o.Z,
		A: t.A + o.A,
		T: t.T,
	}
}

// Inverse returns the transform that undoes t.
func (t Transform) Inverse() Transform {
	rad := -t.A * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	z := 1 / t.Z
	return Transform{
		X: -z * (c*t.X - s*t.Y),
		Y: -z * (s*t.X + c*t.Y),
		Z: z,
		A: -t.A,
		T: t.T,
	}
}

// ApplyBox maps all four corners of b and returns their bounding box,
// which stays correct under rotation.
func (t Transform) ApplyBox(b Box) Box {
	corners := [4]f64.Vec2{
		{b.X0, b.Y0},
		{b.X1, b.Y0},
		{b.X0, b.Y1},
		{b.X1, b.Y1},
	}
	out := Box{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, p := range corners {
		q := t.Apply(p)
		out.X0 = math.Min(out.X0, q[0])
		out.Y0 = math.Min(out.Y0, q[1])
		out.X1 = math.Max(out.X1, q[0])
		out.Y1 = math.Max(out.Y1, q[1])
	}
	return out
}
