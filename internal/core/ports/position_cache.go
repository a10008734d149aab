package ports

import (
	"context"

	"github.com/quickbite/order-tracking/internal/core/domain"
)

// PositionCache stores the last accepted courier position per order. It is a
// volatile cache (Redis) used to warm a tracking session rebuilt after a
// process restart; the Order Store remains the system of record for status.
type PositionCache interface {
	// Get returns the cached position for the order, or nil when none is cached.
	Get(ctx context.Context, orderID string) (*domain.CourierPosition, error)
	Set(ctx context.Context, orderID string, pos domain.CourierPosition) error
}
