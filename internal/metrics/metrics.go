package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TilesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_tiles_fetched_total",
		Help: "Total number of tiles fetched successfully",
	})

	FetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_fetch_failures_total",
		Help: "Total number of tile fetches that failed",
	})

	TilesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_tiles_evicted_total",
		Help: "Total number of tiles evicted to reclaim budget",
	})

	BytesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_bytes_fetched_total",
		Help: "Total bytes transferred for loaded tiles",
	})

	BytesInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilestream_cache_bytes_in_use",
		Help: "Bytes currently held by loaded tiles across all sources",
	})

	TilesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilestream_tiles_in_flight",
		Help: "Tile fetches currently running",
	})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilestream_fetch_duration_seconds",
		Help:    "Duration of tile fetches in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
)
