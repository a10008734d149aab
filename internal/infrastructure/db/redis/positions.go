package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quickbite/order-tracking/internal/core/domain"
)

const positionTTL = 30 * time.Minute

// PositionCache keeps the last accepted courier position per order so a
// tracking session rebuilt after a restart starts from the courier's actual
// location instead of waiting for the next sample.
// Key format: pos:<order_id>
type PositionCache struct {
	client *redis.Client
}

// NewPositionCache creates a PositionCache wrapping the given Redis client.
func NewPositionCache(client *redis.Client) *PositionCache {
	return &PositionCache{client: client}
}

// Get returns the cached position for the order, or nil when none is cached.
func (p *PositionCache) Get(ctx context.Context, orderID string) (*domain.CourierPosition, error) {
	raw, err := p.client.Get(ctx, p.key(orderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("position get: %w", err)
	}

	var pos domain.CourierPosition
	if err := json.Unmarshal(raw, &pos); err != nil {
		return nil, fmt.Errorf("position decode: %w", err)
	}
	return &pos, nil
}

// Set stores the position, refreshing the TTL.
func (p *PositionCache) Set(ctx context.Context, orderID string, pos domain.CourierPosition) error {
	raw, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("position encode: %w", err)
	}
	return p.client.Set(ctx, p.key(orderID), raw, positionTTL).Err()
}

func (p *PositionCache) key(orderID string) string {
	return "pos:" + orderID
}
