package source

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tilestream/internal/fetch"
	"tilestream/internal/scene"
	"tilestream/internal/tile"
)

// URLFunc builds the resource URL for one plane of a grid tile.
type URLFunc func(plane, level, row, col int) string

// DeepZoomURL builds tile URLs in the usual deepzoom layout, where the
// directory number grows with resolution (the opposite of our level
// numbering, which grows with coarseness).
func DeepZoomURL(base, ext string, levels int) URLFunc {
	return func(_, level, row, col int) string {
		return fmt.Sprintf("%s/%d/%d_%d.%s", base, levels-1-level, col, row, ext)
	}
}

// GridConfig describes a regular pyramid-grid layer.
type GridConfig struct {
	Width, Height int
	TileSize      int
	// Planes is the number of sub-resources per tile (e.g. material
	// channels). Defaults to 1.
	Planes int
	URL    URLFunc
	// Transform places the layer's image coordinates in the scene.
	Transform scene.Transform
	Policy    *Policy
}

// GridSource streams one pyramid-grid visual layer. On every camera
// update ComputeNeeded rebuilds the need queue (no incremental
// patching) and signals the cache.
type GridSource struct {
	arena

	id        string
	logger    *zap.Logger
	sched     Scheduler
	fetcher   fetch.Fetcher
	pyramid   *tile.Pyramid
	url       URLFunc
	planes    int
	transform scene.Transform
	policy    Policy
}

func NewGrid(cfg GridConfig, sched Scheduler, f fetch.Fetcher, logger *zap.Logger) (*GridSource, error) {
	if cfg.URL == nil {
		return nil, fmt.Errorf("grid source requires a URL builder")
	}
	pyramid, err := tile.NewPyramid(cfg.Width, cfg.Height, cfg.TileSize)
	if err != nil {
		return nil, fmt.Errorf("invalid pyramid geometry: %w", err)
	}
	planes := cfg.Planes
	if planes <= 0 {
		planes = 1
	}
	transform := cfg.Transform
	if transform.Z == 0 {
		transform = scene.Identity()
	}
	policy := DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	s := &GridSource{
		arena:     newArena(),
		id:        uuid.NewString(),
		logger:    logger,
		sched:     sched,
		fetcher:   f,
		pyramid:   pyramid,
		url:       cfg.URL,
		planes:    planes,
		transform: transform,
		policy:    policy,
	}
	logger.Info("grid source created",
		zap.String("source", s.id),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Int("levels", pyramid.Levels()),
		zap.Int("tiles", pyramid.NumTiles()),
	)
	return s, nil
}

func (s *GridSource) ID() string { return s.id }

// Pyramid exposes the layer's grid geometry to the renderer.
func (s *GridSource) Pyramid() *tile.Pyramid { return s.pyramid }

// ComputeNeeded rebuilds the need queue for the current view: every
// tile whose footprint intersects the (expanded) view box at an
// eligible level becomes a candidate, ranked by the priority policy,
// ties broken by distance from the view center. Tiles already loaded or
// in flight only get their timestamp and priority refreshed.
func (s *GridSource) ComputeNeeded(view scene.Viewport, camera scene.Transform) {
	box := scene.ViewBox(view, camera, s.transform)
	target := s.pyramid.LevelForScale(scene.ViewScale(camera, s.transform))
	now := camera.T
	if now.IsZero() {
		now = time.Now()
	}

	s.mu.Lock()
	s.queue = s.queue[:0]
	lo := target - s.policy.FinerLevels
	if lo < 0 {
		lo = 0
	}
	for level := lo; level <= s.pyramid.MaxLevel(); level++ {
		s.collectLevel(level, target, box, now)
	}
	s.sortQueue(box)
	queued := len(s.queue)
	s.mu.Unlock()

	s.logger.Debug("need queue rebuilt",
		zap.String("source", s.id),
		zap.Int("target_level", target),
		zap.Int("queued", queued),
	)
	s.sched.RegisterCandidates(s)
}

// collectLevel scans the tile range covered by the expanded view box at
// one level. Caller holds s.mu.
func (s *GridSource) collectLevel(level, target int, box scene.Box, now time.Time) {
	side := float64(s.pyramid.TileSize) * s.pyramid.Scale(level)
	ext := box.Expand(float64(s.policy.BorderTiles) * side)

	r0 := clampInt(int(math.Floor(ext.Y0/side)), 0, s.pyramid.Rows(level))
	r1 := clampInt(int(math.Ceil(ext.Y1/side)), 0, s.pyramid.Rows(level))
	c0 := clampInt(int(math.Floor(ext.X0/side)), 0, s.pyramid.Cols(level))
	c1 := clampInt(int(math.Ceil(ext.X1/side)), 0, s.pyramid.Cols(level))

	for row := r0; row < r1; row++ {
		for col := c0; col < c1; col++ {
			fp := s.pyramid.Bounds(level, row, col)
			if !fp.Intersects(ext) {
				continue
			}
			idx := s.pyramid.Index(level, row, col)
			t := s.tiles[idx]
			if t == nil {
				t = &tile.Tile{Index: idx, Level: level, Row: row, Col: col, Missing: s.planes}
				s.tiles[idx] = t
			}
			t.Time = now
			t.Priority = s.priority(level, target, fp, box)
			if t.Missing == 0 || t.Fetching {
				continue
			}
			s.queue = append(s.queue, idx)
		}
	}
}

func (s *GridSource) priority(level, target int, footprint, box scene.Box) float64 {
	mismatch := math.Abs(float64(level - target))
	if footprint.Intersects(box) {
		p := s.policy.Visible - s.policy.LevelStep*mismatch
		if level == target && box.Contains(footprint) {
			p += s.policy.FullInside
		}
		return p
	}
	return s.policy.Prefetch - s.policy.LevelStep*mismatch
}

// sortQueue orders candidates best-first: descending priority, closer
// to the view center among equals. Caller holds s.mu.
func (s *GridSource) sortQueue(box scene.Box) {
	center := box.Center()
	dist := func(t *tile.Tile) float64 {
		tc := s.pyramid.Bounds(t.Level, t.Row, t.Col).Center()
		dx, dy := tc[0]-center[0], tc[1]-center[1]
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

// ComputeAvailable returns the loaded, complete tiles whose footprint
// intersects the view: exactly what the renderer may draw this frame.
func (s *GridSource) ComputeAvailable(view scene.Viewport, camera scene.Transform) map[int]*tile.Tile {
	box := scene.ViewBox(view, camera, s.transform)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]*tile.Tile)
	for idx, t := range s.tiles {
		if !t.Complete() {
			continue
		}
		if s.pyramid.Bounds(t.Level, t.Row, t.Col).Intersects(box) {
			out[idx] = t
		}
	}
	return out
}

// FetchTile transfers every plane of t. Plane payloads land in t.Data;
// a failure resets the tile so a later need cycle can retry it.
func (s *GridSource) FetchTile(ctx context.Context, t *tile.Tile) (int64, error) {
	data := make([][]byte, s.planes)
	var size int64
	for plane := 0; plane < s.planes; plane++ {
		b, err := s.fetcher.Fetch(ctx, s.url(plane, t.Level, t.Row, t.Col))
		if err != nil {
			s.resetTile(t)
			return 0, fmt.Errorf("plane %d of tile %d: %w", plane, t.Index, err)
		}
		size += int64(len(b))
		data[plane] = b
		s.mu.Lock()
		t.Missing--
		s.mu.Unlock()
	}
	s.mu.Lock()
	t.Data = data
	s.mu.Unlock()
	return size, nil
}

func (s *GridSource) resetTile(t *tile.Tile) {
	s.mu.Lock()
	t.Missing = s.planes
	t.Fetching = false
	t.Data = nil
	s.mu.Unlock()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
