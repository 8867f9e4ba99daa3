package source

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"tilestream/internal/cache"
	"tilestream/internal/scene"
)

type nopSched struct {
	calls int32
}

func (n *nopSched) RegisterCandidates(cache.Source) {
	atomic.AddInt32(&n.calls, 1)
}

type stubFetcher struct {
	mu      sync.Mutex
	urls    []string
	failOn  string
	payload []byte
}

func (f *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	if f.failOn != "" && strings.Contains(url, f.failOn) {
		return nil, errors.New("scripted failure")
	}
	if f.payload != nil {
		return f.payload, nil
	}
	return []byte("abc"), nil
}

func testGrid(t *testing.T, planes int, f *stubFetcher) (*GridSource, *nopSched) {
	t.Helper()
	sched := &nopSched{}
	s, err := NewGrid(GridConfig{
		Width:    2048,
		Height:   2048,
		TileSize: 256,
		Planes:   planes,
		URL:      DeepZoomURL("http://tiles.test/img", "jpg", 4),
	}, sched, f, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s, sched
}

// centerCam centers a 1:1 camera on image point (1024,1024).
func centerCam(at time.Time) scene.Transform {
	return scene.Transform{X: -1024, Y: -1024, Z: 1, T: at}
}

func TestGridComputeNeededOrdering(t *testing.T) {
	s, sched := testGrid(t, 1, &stubFetcher{})
	view := scene.Viewport{W: 512, H: 512}

	s.ComputeNeeded(view, centerCam(time.Now()))
	if atomic.LoadInt32(&sched.calls) != 1 {
		t.Fatalf("RegisterCandidates called %d times, want 1", sched.calls)
	}

	var priorities []float64
	var levels []int
	for {
		cand, ok := s.Pop()
		if !ok {
			break
		}
		priorities = append(priorities, cand.Priority)
		levels = append(levels, cand.Tile.Level)
	}
	if len(priorities) == 0 {
		t.Fatal("no candidates computed")
	}

	for i := 1; i < len(priorities); i++ {
		if priorities[i] > priorities[i-1] {
			t.Fatalf("queue not sorted: priority %v after %v", priorities[i], priorities[i-1])
		}
	}

	// The view box is [768,1280]^2 at native scale: four level-0 tiles
	// lie fully inside and must lead the queue with the bonus applied.
	for i := 0; i < 4; i++ {
		if levels[i] != 0 || priorities[i] != 10 {
			t.Fatalf("head %d = level %d priority %v, want level 0 priority 10", i, levels[i], priorities[i])
		}
	}

	// Prefetch ring and far LOD fallbacks show up with negative
	// priority; the single-tile overview is among the candidates.
	hasNegative, hasOverview := false, false
	for i := range priorities {
		if priorities[i] < 0 {
			hasNegative = true
		}
		if levels[i] == 3 {
			hasOverview = true
		}
	}
	if !hasNegative {
		t.Fatal("expected speculative candidates with negative priority")
	}
	if !hasOverview {
		t.Fatal("expected the coarse overview tile among candidates")
	}
}

func TestGridLazyPruneAndRefresh(t *testing.T) {
	s, _ := testGrid(t, 1, &stubFetcher{})
	view := scene.Viewport{W: 512, H: 512}
	base := time.Now()

	s.ComputeNeeded(view, centerCam(base))

	head, ok := s.Peek()
	if !ok {
		t.Fatal("empty queue")
	}

	// The head tile completes out of band: pruning must skip it without
	// any other side effect.
	s.Commit(head.Tile, 42)
	next, ok := s.Peek()
	if !ok || next.Tile == head.Tile {
		t.Fatal("satisfied head was not pruned")
	}

	// A rebuild refreshes the loaded tile's scheduling fields but keeps
	// it out of the queue.
	later := base.Add(5 * time.Second)
	s.ComputeNeeded(view, centerCam(later))

	s.mu.Lock()
	if !head.Tile.Time.Equal(later) {
		s.mu.Unlock()
		t.Fatalf("loaded tile time not refreshed: %v", head.Tile.Time)
	}
	for _, idx := range s.queue {
		if idx == head.Tile.Index {
			s.mu.Unlock()
			t.Fatal("loaded tile re-enqueued")
		}
	}
	s.mu.Unlock()
}

// A popped tile that cannot be dispatched after all goes back to the
// queue head with its in-flight mark cleared.
func TestRequeueRestoresHead(t *testing.T) {
	s, _ := testGrid(t, 1, &stubFetcher{})
	view := scene.Viewport{W: 512, H: 512}
	s.ComputeNeeded(view, centerCam(time.Now()))

	head, ok := s.Peek()
	if !ok {
		t.Fatal("empty queue")
	}
	popped, ok := s.Pop()
	if !ok || popped.Tile != head.Tile {
		t.Fatal("pop did not return the peeked head")
	}
	if !popped.Tile.Fetching {
		t.Fatal("popped tile not marked in flight")
	}

	s.Requeue(popped.Tile)
	if popped.Tile.Fetching {
		t.Fatal("requeued tile still marked in flight")
	}
	again, ok := s.Peek()
	if !ok || again.Tile != popped.Tile {
		t.Fatal("requeued tile is not back at the queue head")
	}
}

func TestGridComputeAvailable(t *testing.T) {
	s, _ := testGrid(t, 1, &stubFetcher{})
	view := scene.Viewport{W: 512, H: 512}
	cam := centerCam(time.Now())

	s.ComputeNeeded(view, cam)
	head, _ := s.Peek()
	s.Commit(head.Tile, 42)

	avail := s.ComputeAvailable(view, cam)
	if _, ok := avail[head.Tile.Index]; !ok {
		t.Fatal("committed visible tile missing from available set")
	}
	for _, tl := range avail {
		if !tl.Complete() {
			t.Fatalf("incomplete tile %d in available set", tl.Index)
		}
	}

	// Panning far away leaves the level-0 tile outside the view box;
	// only coarse tiles covering the whole image could remain.
	farCam := scene.Transform{X: -128, Y: -128, Z: 1, T: time.Now()}
	avail = s.ComputeAvailable(view, farCam)
	if _, ok := avail[head.Tile.Index]; ok {
		t.Fatal("out-of-view tile reported available")
	}
}

func TestGridFetchTilePlanes(t *testing.T) {
	f := &stubFetcher{}
	s, _ := testGrid(t, 2, f)
	view := scene.Viewport{W: 512, H: 512}

	s.ComputeNeeded(view, centerCam(time.Now()))
	cand, ok := s.Pop()
	if !ok {
		t.Fatal("no candidate")
	}

	size, err := s.FetchTile(context.Background(), cand.Tile)
	if err != nil {
		t.Fatal(err)
	}
	if size != 6 {
		t.Fatalf("size = %d, want 6 (two 3-byte planes)", size)
	}
	if cand.Tile.Missing != 0 || len(cand.Tile.Data) != 2 {
		t.Fatalf("tile planes wrong: missing=%d data=%d", cand.Tile.Missing, len(cand.Tile.Data))
	}

	s.Commit(cand.Tile, size)
	if !cand.Tile.Complete() || cand.Tile.Size != 6 {
		t.Fatal("commit did not complete the tile")
	}
}

func TestGridFetchFailureResetsTile(t *testing.T) {
	// Multi-plane URLs carry the plane number; failing the second plane
	// exercises the partial-fetch reset.
	f := &stubFetcher{failOn: "plane1"}
	sched := &nopSched{}
	s, err := NewGrid(GridConfig{
		Width:    1024,
		Height:   1024,
		TileSize: 256,
		Planes:   2,
		URL: func(plane, level, row, col int) string {
			return strings.Join([]string{"http://tiles.test", "plane" + string(rune('0'+plane)), "x"}, "/")
		},
	}, sched, f, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	view := scene.Viewport{W: 512, H: 512}
	s.ComputeNeeded(view, scene.Transform{X: -512, Y: -512, Z: 1, T: time.Now()})
	cand, ok := s.Pop()
	if !ok {
		t.Fatal("no candidate")
	}

	if _, err := s.FetchTile(context.Background(), cand.Tile); err == nil {
		t.Fatal("expected plane failure")
	}
	if cand.Tile.Missing != 2 || cand.Tile.Fetching || cand.Tile.Data != nil {
		t.Fatalf("tile not reset after failure: %+v", cand.Tile)
	}
}

func TestDeepZoomURL(t *testing.T) {
	url := DeepZoomURL("http://t/img", "jpg", 4)
	// Level 0 (native) maps to the highest deepzoom directory.
	if got := url(0, 0, 7, 5); got != "http://t/img/3/5_7.jpg" {
		t.Fatalf("url = %q", got)
	}
	if got := url(0, 3, 0, 0); got != "http://t/img/0/0_0.jpg" {
		t.Fatalf("url = %q", got)
	}
}
