package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port      string `env:"PORT,      default=8080"`
	Env       string `env:"ENV,       default=development"`
	JWTSecret string `env:"JWT_SECRET"`
	LogLevel  string `env:"LOG_LEVEL, default=info"`

	Mongo    MongoConfig
	Redis    RedisConfig
	Tracking TrackingConfig
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=order_tracking"`
}

type RedisConfig struct {
	Addr string `env:"REDIS_ADDR, default=localhost:6379"`
	DB   int    `env:"REDIS_DB,   default=0"`
}

type TrackingConfig struct {
	// CourierSpeedKmh is the assumed average courier speed used for ETAs.
	CourierSpeedKmh float64 `env:"TRACKING_COURIER_SPEED_KMH, default=20"`
	// SessionIdleTTL is how long a session without subscribers survives
	// before the sweeper reclaims it.
	SessionIdleTTL time.Duration `env:"TRACKING_SESSION_IDLE_TTL, default=5m"`
	// SubscriberQueueSize bounds the per-connection event queue; a
	// subscriber that falls this far behind is disconnected.
	SubscriberQueueSize int `env:"TRACKING_SUBSCRIBER_QUEUE_SIZE, default=32"`
	// SimulatorEnabled starts the courier movement simulator. Meant for
	// development and demos only.
	SimulatorEnabled bool `env:"TRACKING_SIMULATOR_ENABLED, default=false"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return &cfg, nil
}
