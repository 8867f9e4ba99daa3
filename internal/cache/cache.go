package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tilestream/internal/metrics"
	"tilestream/internal/tile"
)

// Config tunes admission, eviction and throttling. Zero values pick the
// documented defaults.
type Config struct {
	// CapacityBytes is the soft memory budget for loaded tiles.
	CapacityBytes int64
	// MaxPrefetchBytes bounds the bytes held by speculative
	// (negative-priority) tiles. Visible-tile admission ignores it.
	MaxPrefetchBytes int64
	// MaxConcurrent bounds simultaneous tile fetches.
	MaxConcurrent int
	// MaxRequestsPerSecond throttles dispatches. 0 means unlimited.
	MaxRequestsPerSecond float64
	// StalenessMargin is the recency window within which two candidates
	// count as equally fresh and priority breaks the tie.
	StalenessMargin time.Duration
}

const (
	defaultCapacityBytes    = 512 << 20
	defaultMaxPrefetchBytes = 64 << 20
	defaultMaxConcurrent    = 6
	defaultStalenessMargin  = time.Second
)

func (c Config) withDefaults() Config {
	if c.CapacityBytes <= 0 {
		c.CapacityBytes = defaultCapacityBytes
	}
	if c.MaxPrefetchBytes <= 0 {
		c.MaxPrefetchBytes = defaultMaxPrefetchBytes
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.StalenessMargin <= 0 {
		c.StalenessMargin = defaultStalenessMargin
	}
	return c
}

// Cache arbitrates tile fetching across every registered source: it
// picks the single best candidate system-wide, enforces concurrency and
// rate limits, and evicts the least valuable loaded tiles when the
// byte budget is exceeded.
//
// Construct one per viewer and hand it to each source (no global
// instance); all state is serialized behind one mutex.
type Cache struct {
	cfg     Config
	logger  *zap.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	sources    map[Source]struct{}
	used       int64
	inFlight   int
	scheduled  bool
	timerArmed bool

	// prefetched tracks loaded tiles admitted under the prefetch
	// budget, so eviction can return their bytes to it.
	prefetched      int64
	prefetchedTiles map[*tile.Tile]int64
}

func New(cfg Config, logger *zap.Logger) *Cache {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		cfg:             cfg,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
		sources:         make(map[Source]struct{}),
		prefetchedTiles: make(map[*tile.Tile]int64),
	}
	if cfg.MaxRequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1)
	}
	return c
}

// Close aborts in-flight fetches. The cache must not be used afterwards.
func (c *Cache) Close() {
	c.cancel()
}

// RegisterCandidates records that src has a fresh need queue and
// schedules one coalesced Reconcile: every source that registers before
// the deferred call runs is considered in the same pass.
func (c *Cache) RegisterCandidates(src Source) {
	c.mu.Lock()
	c.sources[src] = struct{}{}
	if !c.scheduled {
		c.scheduled = true
		time.AfterFunc(0, c.Reconcile)
	}
	c.mu.Unlock()
}

// Reconcile runs the scheduling loop until a gate (concurrency, rate,
// empty queues, eviction refusal) blocks progress. It is idempotent and
// safe to call at any time.
func (c *Cache) Reconcile() {
	c.mu.Lock()
	c.scheduled = false
	c.reconcile()
	c.mu.Unlock()
}

// reconcile dispatches fetches while gates allow. Callers hold c.mu.
func (c *Cache) reconcile() {
	for {
		if c.inFlight >= c.cfg.MaxConcurrent {
			return
		}

		var res *rate.Reservation
		if c.limiter != nil {
			res = c.limiter.Reserve()
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				c.armTimer(delay)
				return
			}
		}

		// Speculative tiles are not admitted while the prefetch budget
		// is exhausted, but a positive-priority head on another source
		// still is, so selection skips blocked candidates instead of
		// ending the pass.
		budgetFull := c.prefetched >= c.cfg.MaxPrefetchBytes

		_, owner, ok := c.bestCandidate(budgetFull)
		if !ok {
			if res != nil {
				res.Cancel()
			}
			return
		}

		popped, okPop := owner.Pop()
		if !okPop {
			if res != nil {
				res.Cancel()
			}
			continue
		}

		// The queue may have been rebuilt between the peek and the pop,
		// so the gates apply to the snapshot actually popped.
		if popped.Priority < 0 && budgetFull {
			owner.Requeue(popped.Tile)
			if res != nil {
				res.Cancel()
			}
			continue
		}

		if !c.makeRoom(popped) {
			owner.Requeue(popped.Tile)
			if res != nil {
				res.Cancel()
			}
			return
		}

		c.inFlight++
		metrics.TilesInFlight.Inc()
		c.logger.Debug("dispatching tile fetch",
			zap.String("source", owner.ID()),
			zap.Int("tile", popped.Tile.Index),
			zap.Float64("priority", popped.Priority),
			zap.Int("in_flight", c.inFlight),
		)
		go c.load(owner, popped)
	}
}

// bestCandidate scans every source's queue head. Recency wins first: a
// candidate fresher than the incumbent by more than the staleness
// margin replaces it regardless of priority, so a burst of new
// viewport-driven requests preempts leftovers from an old camera
// position. Among similarly fresh candidates, priority decides.
// skipSpeculative drops negative-priority heads from consideration.
func (c *Cache) bestCandidate(skipSpeculative bool) (Candidate, Source, bool) {
	var (
		best  Candidate
		owner Source
		found bool
	)
	for src := range c.sources {
		cand, ok := src.Peek()
		if !ok {
			continue
		}
		if skipSpeculative && cand.Priority < 0 {
			continue
		}
		if !found || c.better(cand, best) {
			best, owner, found = cand, src, true
		}
	}
	return best, owner, found
}

func (c *Cache) better(cand, best Candidate) bool {
	d := cand.Time.Sub(best.Time)
	if d > c.cfg.StalenessMargin {
		return true
	}
	if d < -c.cfg.StalenessMargin {
		return false
	}
	return cand.Priority > best.Priority
}

// makeRoom evicts loaded tiles until the budget holds. It refuses to
// evict a tile at least as recent as the incoming candidate and reports
// false so the pass stops without dispatching; the stall clears once
// timestamps shift on the next camera update.
func (c *Cache) makeRoom(best Candidate) bool {
	for c.used > c.cfg.CapacityBytes {
		worst, wOwner, ok := c.worstLoaded()
		if !ok {
			c.logger.Warn("over budget with nothing evictable",
				zap.Int64("used_bytes", c.used),
				zap.Int64("capacity_bytes", c.cfg.CapacityBytes),
			)
			break
		}
		if !worst.time.Before(best.Time) {
			return false
		}
		c.evict(wOwner, worst)
	}
	return true
}

type loadedTile struct {
	tile     *tile.Tile
	owner    Source
	time     time.Time
	priority float64
	size     int64
}

// worstLoaded finds the globally least valuable loaded tile: oldest
// timestamp first, lowest priority among equals.
func (c *Cache) worstLoaded() (loadedTile, Source, bool) {
	var (
		worst loadedTile
		found bool
	)
	for src := range c.sources {
		src.EachLoaded(func(t *tile.Tile) {
			cur := loadedTile{tile: t, owner: src, time: t.Time, priority: t.Priority, size: t.Size}
			if !found {
				worst, found = cur, true
				return
			}
			if cur.time.Before(worst.time) ||
				(cur.time.Equal(worst.time) && cur.priority < worst.priority) {
				worst = cur
			}
		})
	}
	return worst, worst.owner, found
}

func (c *Cache) evict(src Source, lt loadedTile) {
	src.Drop(lt.tile)
	c.used -= lt.size
	if sz, ok := c.prefetchedTiles[lt.tile]; ok {
		c.prefetched -= sz
		delete(c.prefetchedTiles, lt.tile)
	}
	metrics.TilesEvicted.Inc()
	metrics.BytesInUse.Set(float64(c.used))
	c.logger.Debug("evicted tile",
		zap.String("source", src.ID()),
		zap.Int("tile", lt.tile.Index),
		zap.Int64("bytes", lt.size),
		zap.Int64("used_bytes", c.used),
	)
}

// load runs outside the lock: fetch I/O is the only real parallelism.
// Completion re-enters the lock, applies the result and reconciles
// again, which is what keeps the loop going without polling.
func (c *Cache) load(src Source, cand Candidate) {
	start := time.Now()
	size, err := src.FetchTile(c.ctx, cand.Tile)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight--
	metrics.TilesInFlight.Dec()

	if _, registered := c.sources[src]; !registered {
		// The source was released while this fetch was in flight; its
		// result must not enter the byte budget.
		src.Drop(cand.Tile)
		c.logger.Debug("discarded fetch for released source",
			zap.String("source", src.ID()),
			zap.Int("tile", cand.Tile.Index),
		)
		c.reconcile()
		return
	}

	if err != nil {
		// Non-fatal: the tile stays absent and is re-requested by a
		// later need cycle if the viewport still wants it.
		metrics.FetchFailures.Inc()
		c.logger.Warn("tile fetch failed",
			zap.String("source", src.ID()),
			zap.Int("tile", cand.Tile.Index),
			zap.Error(err),
		)
		c.reconcile()
		return
	}

	src.Commit(cand.Tile, size)
	c.used += size
	if cand.Priority < 0 {
		c.prefetched += size
		c.prefetchedTiles[cand.Tile] = size
	}
	metrics.TilesFetched.Inc()
	metrics.BytesFetched.Add(float64(size))
	metrics.BytesInUse.Set(float64(c.used))

	c.reconcile()
}

func (c *Cache) armTimer(delay time.Duration) {
	if c.timerArmed {
		return
	}
	c.timerArmed = true
	time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.timerArmed = false
		c.reconcile()
		c.mu.Unlock()
	})
}

// ReleaseSource evicts every loaded tile owned by src and forgets the
// source. Used when a layer is removed from the viewer.
func (c *Cache) ReleaseSource(src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var owned []loadedTile
	src.EachLoaded(func(t *tile.Tile) {
		owned = append(owned, loadedTile{tile: t, size: t.Size})
	})
	for _, lt := range owned {
		c.evict(src, lt)
	}
	delete(c.sources, src)
	c.logger.Info("released source",
		zap.String("source", src.ID()),
		zap.Int("tiles_dropped", len(owned)),
	)
}

// UsedBytes reports the bytes currently held by loaded tiles.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// InFlight reports the number of running fetches.
func (c *Cache) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// PrefetchedBytes reports the bytes held by speculative tiles.
func (c *Cache) PrefetchedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefetched
}
