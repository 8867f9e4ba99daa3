package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		Cache   Cache   `envPrefix:"CACHE_"`
		Fetch   Fetch   `envPrefix:"FETCH_"`
		Logger  Logger  `envPrefix:"LOGGER_"`
		Metrics Metrics `envPrefix:"METRICS_"`
	}

	Cache struct {
		CapacityBytes        int64         `env:"CAPACITY_BYTES" envDefault:"536870912"`
		MaxConcurrent        int           `env:"MAX_CONCURRENT" envDefault:"6"`
		MaxRequestsPerSecond float64       `env:"MAX_REQUESTS_PER_SECOND" envDefault:"0"`
		MaxPrefetchBytes     int64         `env:"MAX_PREFETCH_BYTES" envDefault:"67108864"`
		StalenessMargin      time.Duration `env:"STALENESS_MARGIN" envDefault:"1s"`
	}

	Fetch struct {
		Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
	}

	Logger struct {
		Level string `env:"LEVEL" envDefault:"info"`
	}

	Metrics struct {
		// Addr exposes /metrics when non-empty, e.g. ":9090".
		Addr string `env:"ADDR" envDefault:""`
	}
)

func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
