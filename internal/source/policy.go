package source

// Policy holds the priority weights used when a source ranks candidate
// tiles. The shape is fixed: tiles matching the current resolution and
// fully on screen rank highest, LOD mismatch decays the rank, and tiles
// wanted only speculatively go negative. The constants are tuning
// knobs, not load-bearing.
type Policy struct {
	// Visible is the base priority for tiles intersecting the view.
	Visible float64
	// FullInside is the bonus for target-level tiles entirely inside
	// the view.
	FullInside float64
	// LevelStep is the penalty per level of resolution mismatch.
	LevelStep float64
	// Prefetch is the (negative) base for tiles just outside the view.
	Prefetch float64
	// BorderTiles widens the candidate area by this many tiles on each
	// side for speculative loading.
	BorderTiles int
	// FinerLevels bounds how many levels finer than the target are
	// considered; every coarser level stays eligible as fallback.
	FinerLevels int
}

func DefaultPolicy() Policy {
	return Policy{
		Visible:     8,
		FullInside:  2,
		LevelStep:   3,
		Prefetch:    -1,
		BorderTiles: 1,
		FinerLevels: 1,
	}
}
