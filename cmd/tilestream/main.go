package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tilestream/internal/cache"
	"tilestream/internal/config"
	"tilestream/internal/fetch"
	"tilestream/internal/logger"
	"tilestream/internal/scene"
	"tilestream/internal/source"
	"tilestream/internal/tile"
)

// tilestream streams a remote image pyramid the way an interactive
// viewer would: it runs a scripted zoom from the full overview down to
// native resolution and lets the cache arbitrate every tile fetch.
func main() {
	var (
		baseURL  = flag.String("url", "", "tile base URL, deepzoom layout: {url}/{dir}/{col}_{row}.{ext}")
		ext      = flag.String("ext", "jpg", "tile file extension")
		width    = flag.Int("width", 0, "image width in pixels")
		height   = flag.Int("height", 0, "image height in pixels")
		tileSize = flag.Int("tile-size", 256, "tile size in pixels")
		viewW    = flag.Int("view-width", 1920, "viewport width in pixels")
		viewH    = flag.Int("view-height", 1080, "viewport height in pixels")
		steps    = flag.Int("steps", 20, "camera path steps")
		pause    = flag.Duration("pause", 250*time.Millisecond, "pause between camera steps")
	)
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	log, err := logger.New(cfg.Logger.Level)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	if *baseURL == "" || *width <= 0 || *height <= 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *steps < 1 {
		*steps = 1
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("metrics exposed", zap.String("addr", cfg.Metrics.Addr))
	}

	pyramid, err := tile.NewPyramid(*width, *height, *tileSize)
	if err != nil {
		log.Fatal("invalid pyramid geometry", zap.Error(err))
	}

	c := cache.New(cache.Config{
		CapacityBytes:        cfg.Cache.CapacityBytes,
		MaxPrefetchBytes:     cfg.Cache.MaxPrefetchBytes,
		MaxConcurrent:        cfg.Cache.MaxConcurrent,
		MaxRequestsPerSecond: cfg.Cache.MaxRequestsPerSecond,
		StalenessMargin:      cfg.Cache.StalenessMargin,
	}, log)
	defer c.Close()

	src, err := source.NewGrid(source.GridConfig{
		Width:    *width,
		Height:   *height,
		TileSize: *tileSize,
		URL:      source.DeepZoomURL(*baseURL, *ext, pyramid.Levels()),
	}, c, fetch.NewHTTP(cfg.Fetch.Timeout, log), log)
	if err != nil {
		log.Fatal("failed to create source", zap.Error(err))
	}

	log.Info("streaming started",
		zap.String("url", *baseURL),
		zap.Int("levels", pyramid.Levels()),
		zap.Int("tiles", pyramid.NumTiles()),
		zap.Int64("capacity_bytes", cfg.Cache.CapacityBytes),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	view := scene.Viewport{W: *viewW, H: *viewH}
	fit := math.Min(float64(*viewW)/float64(*width), float64(*viewH)/float64(*height))
	fx, fy := float64(*width)/2, float64(*height)/2

	for i := 0; i <= *steps; i++ {
		select {
		case <-ctx.Done():
			log.Info("interrupted")
			return
		default:
		}

		// Exponential zoom from fit-to-screen to 1:1, locked on the
		// image center.
		frac := float64(i) / float64(*steps)
		z := fit * math.Pow(1/fit, frac)
		cam := scene.Transform{X: -z * fx, Y: -z * fy, Z: z, T: time.Now()}

		src.ComputeNeeded(view, cam)
		time.Sleep(*pause)

		avail := src.ComputeAvailable(view, cam)
		log.Info("camera step",
			zap.Int("step", i),
			zap.Float64("zoom", z),
			zap.Int("available", len(avail)),
			zap.Int64("used_bytes", c.UsedBytes()),
			zap.Int("in_flight", c.InFlight()),
		)
	}

	for c.InFlight() > 0 {
		select {
		case <-ctx.Done():
			log.Info("interrupted while draining")
			return
		default:
		}
		time.Sleep(50 * time.Millisecond)
	}

	log.Info("streaming finished",
		zap.Int64("used_bytes", c.UsedBytes()),
		zap.Int64("prefetched_bytes", c.PrefetchedBytes()),
	)
	c.ReleaseSource(src)
}
