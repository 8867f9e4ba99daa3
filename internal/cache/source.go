package cache

import (
	"context"
	"time"

	"tilestream/internal/tile"
)

// Candidate is a snapshot of a queue head's scheduling fields, taken
// under the owning source's lock so the cache can compare candidates
// without touching tile state directly.
type Candidate struct {
	Tile     *tile.Tile
	Time     time.Time
	Priority float64
}

// Source is the contract a visual layer exposes to the cache. All
// methods except FetchTile take the source's lock internally; the cache
// calls them while holding its own lock, so lock order is always
// cache before source.
type Source interface {
	// ID identifies the source in logs.
	ID() string

	// Peek returns a snapshot of the best pending tile in the need
	// queue, discarding heads that were satisfied or dispatched since
	// the queue was rebuilt. ok is false when nothing is pending.
	Peek() (Candidate, bool)

	// Pop removes the queue head, marks it in flight and returns its
	// snapshot. ok is false when the queue drained in the meantime.
	Pop() (Candidate, bool)

	// Requeue returns a popped but undispatched tile to the head of
	// the need queue and clears its in-flight mark.
	Requeue(t *tile.Tile)

	// EachLoaded calls fn for every loaded, complete tile, under the
	// source's lock.
	EachLoaded(fn func(*tile.Tile))

	// Drop releases t's resources and forgets it. The tile is
	// recreated by the next need computation if still wanted.
	Drop(t *tile.Tile)

	// FetchTile transfers every plane of t, filling t.Data. On failure
	// it resets the tile so a later need cycle can request it again.
	FetchTile(ctx context.Context, t *tile.Tile) (int64, error)

	// Commit moves a fetched tile into the loaded table with its final
	// byte size.
	Commit(t *tile.Tile, size int64)
}
