package tile

import "time"

// Tile is one cell of one resolution level of an image pyramid.
//
// Scheduling fields (Time, Priority, Missing, Fetching) are owned by the
// tile's Source and guarded by its lock; the cache reads them through
// snapshots and locked callbacks.
type Tile struct {
	// Index is the flat identifier, unique within a source.
	Index int

	Level, Row, Col int

	// Time is the timestamp of the most recent "this is needed" signal.
	Time time.Time

	// Priority ranks visual importance: >= 0 visible on screen, < 0
	// prefetch or out of view. Magnitude encodes LOD mismatch/distance.
	Priority float64

	// Missing counts sub-resources (e.g. color planes) not yet loaded.
	// The tile is complete when it reaches zero.
	Missing int

	// Fetching marks a dispatched tile so it is neither re-enqueued nor
	// dispatched twice.
	Fetching bool

	// Size is the loaded byte size, 0 until the fetch completes.
	Size int64

	// Data holds the materialized payload, one slice per plane.
	Data [][]byte
}

// Complete reports whether every plane of the tile has loaded.
func (t *Tile) Complete() bool {
	return t.Missing == 0 && !t.Fetching
}
