package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quickbite/order-tracking/internal/infrastructure/config"
)

// connectTimeout bounds the verification ping. Redis only warms rebuilt
// sessions, but an unreachable cache at startup is a deployment fault worth
// surfacing immediately.
const connectTimeout = 5 * time.Second

// Connect initialises the position cache client from the service
// configuration and validates connectivity with a ping.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}
