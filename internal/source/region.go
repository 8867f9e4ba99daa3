package source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tilestream/internal/cache"
	"tilestream/internal/fetch"
	"tilestream/internal/scene"
	"tilestream/internal/tile"
)

// Region is one independently placed image in a collection layer: its
// own resource URL and its footprint in layer image coordinates.
type Region struct {
	URL string
	Box scene.Box
}

// RegionConfig describes a collection layer of independent image
// regions (no pyramid; every region is a single-level tile).
type RegionConfig struct {
	Regions []Region
	// Transform places the layer's image coordinates in the scene.
	Transform scene.Transform
	Policy    *Policy
	// PrefetchMargin widens the view box by this many image-space units
	// when looking for speculative candidates. 0 disables prefetch.
	PrefetchMargin float64
}

// RegionSource streams a collection of independently placed images. It
// exposes the same queue contract as GridSource, so the cache is
// agnostic to the layout kind.
type RegionSource struct {
	arena

	id        string
	logger    *zap.Logger
	sched     Scheduler
	fetcher   fetch.Fetcher
	regions   []Region
	transform scene.Transform
	policy    Policy
	margin    float64
}

func NewRegions(cfg RegionConfig, sched Scheduler, f fetch.Fetcher, logger *zap.Logger) (*RegionSource, error) {
	if len(cfg.Regions) == 0 {
		return nil, fmt.Errorf("region source requires at least one region")
	}
	for i, r := range cfg.Regions {
		if r.URL == "" || r.Box.Empty() {
			return nil, fmt.Errorf("region %d is incomplete", i)
		}
	}
	transform := cfg.Transform
	if transform.Z == 0 {
		transform = scene.Identity()
	}
	policy := DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	s := &RegionSource{
		arena:     newArena(),
		id:        uuid.NewString(),
		logger:    logger,
		sched:     sched,
		fetcher:   f,
		regions:   cfg.Regions,
		transform: transform,
		policy:    policy,
		margin:    cfg.PrefetchMargin,
	}
	logger.Info("region source created",
		zap.String("source", s.id),
		zap.Int("regions", len(cfg.Regions)),
	)
	return s, nil
}

func (s *RegionSource) ID() string { return s.id }

// ComputeNeeded rebuilds the need queue: regions intersecting the view
// are candidates, regions within the prefetch margin are speculative
// ones. The flat index of a region is its position in the collection.
func (s *RegionSource) ComputeNeeded(view scene.Viewport, camera scene.Transform) {
	box := scene.ViewBox(view, camera, s.transform)
	near := box.Expand(s.margin)
	now := camera.T
	if now.IsZero() {
		now = time.Now()
	}

	s.mu.Lock()
	s.queue = s.queue[:0]
	for i, reg := range s.regions {
		visible := reg.Box.Intersects(box)
		if !visible && !reg.Box.Intersects(near) {
			continue
		}
		t := s.tiles[i]
		if t == nil {
			t = &tile.Tile{Index: i, Missing: 1}
			s.tiles[i] = t
		}
		t.Time = now
		t.Priority = s.priority(reg, box, visible)
		if t.Missing == 0 || t.Fetching {
			continue
		}
		s.queue = append(s.queue, i)
	}
	s.sortQueue(box)
	queued := len(s.queue)
	s.mu.Unlock()

	s.logger.Debug("need queue rebuilt",
		zap.String("source", s.id),
		zap.Int("queued", queued),
	)
	s.sched.RegisterCandidates(s)
}

func (s *RegionSource) priority(reg Region, box scene.Box, visible bool) float64 {
	if !visible {
		return s.policy.Prefetch
	}
	if box.Contains(reg.Box) {
		return s.policy.Visible + s.policy.FullInside
	}
	return s.policy.Visible
}

func (s *RegionSource) sortQueue(box scene.Box) {
	center := box.Center()
	dist := func(t *tile.Tile) float64 {
		rc := s.regions[t.Index].Box.Center()
		dx, dy := rc[0]-center[0], rc[1]-center[1]
		return dx*dx + dy*dy
	}
	sort.Slice(s.queue, func(i, j int) bool {
		a, b := s.tiles[s.queue[i]], s.tiles[s.queue[j]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return dist(a) < dist(b)
	})
}

// ComputeAvailable returns the loaded regions intersecting the view.
func (s *RegionSource) ComputeAvailable(view scene.Viewport, camera scene.Transform) map[int]*tile.Tile {
	box := scene.ViewBox(view, camera, s.transform)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]*tile.Tile)
	for idx, t := range s.tiles {
		if t.Complete() && s.regions[idx].Box.Intersects(box) {
			out[idx] = t
		}
	}
	return out
}

func (s *RegionSource) FetchTile(ctx context.Context, t *tile.Tile) (int64, error) {
	b, err := s.fetcher.Fetch(ctx, s.regions[t.Index].URL)
	if err != nil {
		s.mu.Lock()
		t.Fetching = false
		s.mu.Unlock()
		return 0, fmt.Errorf("region %d: %w", t.Index, err)
	}
	s.mu.Lock()
	t.Missing = 0
	t.Data = [][]byte{b}
	s.mu.Unlock()
	return int64(len(b)), nil
}

var _ cache.Source = (*RegionSource)(nil)
var _ cache.Source = (*GridSource)(nil)
