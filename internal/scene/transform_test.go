package scene

import (
	"math"
	"testing"

	"golang.org/x/image/math/f64"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTransformApply(t *testing.T) {
	tests := []struct {
		name string
		tr   Transform
		in   f64.Vec2
		want f64.Vec2
	}{
		{"identity", Identity(), f64.Vec2{3, 4}, f64.Vec2{3, 4}},
		{"translate", Transform{X: 10, Y: -5, Z: 1}, f64.Vec2{1, 1}, f64.Vec2{11, -4}},
		{"scale", Transform{Z: 2}, f64.Vec2{3, 4}, f64.Vec2{6, 8}},
		{"rotate90", Transform{Z: 1, A: 90}, f64.Vec2{1, 0}, f64.Vec2{0, 1}},
		{"all", Transform{X: 1, Y: 2, Z: 2, A: 90}, f64.Vec2{1, 0}, f64.Vec2{1, 4}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.tr.Apply(tc.in)
			if !approx(got[0], tc.want[0]) || !approx(got[1], tc.want[1]) {
				t.Fatalf("Apply(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestTransformInverseRoundTrip(t *testing.T) {
	tr := Transform{X: 17, Y: -3, Z: 0.25, A: 33}
	p := f64.Vec2{12, 34}
	q := tr.Inverse().Apply(tr.Apply(p))
	if !approx(q[0], p[0]) || !approx(q[1], p[1]) {
		t.Fatalf("inverse round trip gave %v, want %v", q, p)
	}
}

func TestTransformCompose(t *testing.T) {
	a := Transform{X: 5, Y: 1, Z: 2, A: 90}
	b := Transform{X: -1, Y: 3, Z: 0.5, A: 45}
	p := f64.Vec2{7, -2}

	direct := a.Apply(b.Apply(p))
	composed := a.Compose(b).Apply(p)
	if !approx(direct[0], composed[0]) || !approx(direct[1], composed[1]) {
		t.Fatalf("compose mismatch: direct %v, composed %v", direct, composed)
	}
}

func TestViewBoxIdentity(t *testing.T) {
	v := Viewport{W: 800, H: 600}
	box := ViewBox(v, Identity(), Identity())
	want := Box{-400, -300, 400, 300}
	if box != want {
		t.Fatalf("ViewBox = %+v, want %+v", box, want)
	}
}

func TestViewBoxZoomAndPan(t *testing.T) {
	// Camera at 2x zoom centered on image point (100, 50): the visible
	// image region is half the viewport size, centered there.
	cam := Transform{X: -200, Y: -100, Z: 2}
	v := Viewport{W: 800, H: 600}
	box := ViewBox(v, cam, Identity())
	want := Box{-100, -100, 300, 200}
	if !approx(box.X0, want.X0) || !approx(box.Y0, want.Y0) ||
		!approx(box.X1, want.X1) || !approx(box.Y1, want.Y1) {
		t.Fatalf("ViewBox = %+v, want %+v", box, want)
	}
}

func TestViewBoxRotationCoversViewport(t *testing.T) {
	// Under a 45 degree rotation the bounding box must grow to cover the
	// rotated viewport corners.
	cam := Transform{Z: 1, A: 45}
	v := Viewport{W: 100, H: 100}
	box := ViewBox(v, cam, Identity())
	half := 100 / math.Sqrt2
	if !approx(box.X0, -half) || !approx(box.X1, half) {
		t.Fatalf("rotated ViewBox = %+v, want ±%v", box, half)
	}
}

func TestBoxOps(t *testing.T) {
	a := Box{0, 0, 10, 10}
	b := Box{5, 5, 15, 15}
	if !a.Intersects(b) {
		t.Fatal("expected intersection")
	}
	if a.Intersects(Box{10, 0, 20, 10}) {
		t.Fatal("touching boxes must not intersect")
	}
	if !a.Contains(Box{1, 1, 9, 9}) || a.Contains(b) {
		t.Fatal("Contains misbehaved")
	}
	if got := a.Expand(2); got != (Box{-2, -2, 12, 12}) {
		t.Fatalf("Expand = %+v", got)
	}
	if c := a.Center(); c[0] != 5 || c[1] != 5 {
		t.Fatalf("Center = %v", c)
	}
}
