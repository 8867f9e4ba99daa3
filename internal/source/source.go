// Package source implements the per-layer side of the tile engine: each
// source owns a flat table of tiles and an ordered need queue, rebuilt
// from scratch on every camera update, and exposes both to the cache
// through the cache.Source contract.
package source

import (
	"sync"

	"tilestream/internal/cache"
	"tilestream/internal/tile"
)

// Scheduler is the cache-side surface a source needs: a place to signal
// that a fresh need queue exists. *cache.Cache satisfies it.
type Scheduler interface {
	RegisterCandidates(src cache.Source)
}

// arena is the tile table + need queue shared by every source kind.
// The queue stores flat indices, not tile copies, so "already loaded"
// checks during pruning are O(1) map lookups.
type arena struct {
	mu    sync.Mutex
	tiles map[int]*tile.Tile
	queue []int
}

func newArena() arena {
	return arena{tiles: make(map[int]*tile.Tile)}
}

// head prunes queue entries that were satisfied or dispatched since the
// last rebuild and returns the surviving head. Caller holds mu.
func (a *arena) head() *tile.Tile {
	for len(a.queue) > 0 {
		t := a.tiles[a.queue[0]]
		if t == nil || t.Missing == 0 || t.Fetching {
			a.queue = a.queue[1:]
			continue
		}
		return t
	}
	return nil
}

func (a *arena) Peek() (cache.Candidate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.head()
	if t == nil {
		return cache.Candidate{}, false
	}
	return cache.Candidate{Tile: t, Time: t.Time, Priority: t.Priority}, true
}

func (a *arena) Pop() (cache.Candidate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.head()
	if t == nil {
		return cache.Candidate{}, false
	}
	a.queue = a.queue[1:]
	t.Fetching = true
	return cache.Candidate{Tile: t, Time: t.Time, Priority: t.Priority}, true
}

func (a *arena) Requeue(t *tile.Tile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t.Fetching = false
	a.queue = append([]int{t.Index}, a.queue...)
}

func (a *arena) EachLoaded(fn func(*tile.Tile)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.tiles {
		if t.Complete() {
			fn(t)
		}
	}
}

func (a *arena) Drop(t *tile.Tile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t.Data = nil
	delete(a.tiles, t.Index)
}

func (a *arena) Commit(t *tile.Tile, size int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t.Missing = 0
	t.Fetching = false
	t.Size = size
}
