package config

import (
	"time"

	"github.com/caarlos0/env/v6"
)

// Config holds every runtime knob, parsed from environment variables.
type Config struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port uint16 `env:"PORT" envDefault:"8080"`

	DatabaseDSN string `env:"DB_DSN,required"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	JWTSecret   string `env:"JWT_SECRET,required"`

	// Batching pipeline knobs. The seen pipeline has its own flush
	// interval and rate limit so the two workers can be tuned apart.
	MaxBatchSize      int           `env:"MAX_BATCH_SIZE" envDefault:"50"`
	SendFlushInterval time.Duration `env:"SEND_FLUSH_INTERVAL" envDefault:"15s"`
	SeenFlushInterval time.Duration `env:"SEEN_FLUSH_INTERVAL" envDefault:"15s"`
	WorkerConcurrency int64         `env:"WORKER_CONCURRENCY" envDefault:"5"`
	SendRatePerSec    float64       `env:"SEND_RATE_LIMIT" envDefault:"100"`
	SeenRatePerSec    float64       `env:"SEEN_RATE_LIMIT" envDefault:"50"`
}

func Load() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
