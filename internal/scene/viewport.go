package scene

// Viewport is the on-screen rectangle the camera renders into, in
// device pixels.
type Viewport struct {
	X, Y, W, H int
}

// CenteredBox returns the viewport rectangle in camera coordinates,
// with the origin at the viewport center. The camera transform maps
// scene coordinates into this space.
func (v Viewport) CenteredBox() Box {
	w, h := float64(v.W), float64(v.H)
	return Box{-w / 2, -h / 2, w / 2, h / 2}
}

// ViewBox maps the viewport into a layer's native image coordinates:
// the camera transform takes scene to screen, the layer transform takes
// image to scene. The result bounds the visible image region, correct
// under rotation.
func ViewBox(v Viewport, camera, layer Transform) Box {
	inv := camera.Compose(layer).Inverse()
	return inv.ApplyBox(v.CenteredBox())
}

// ViewScale returns screen pixels per image pixel for a layer under the
// given camera.
func ViewScale(camera, layer Transform) float64 {
	return camera.Z * layer.Z
}
