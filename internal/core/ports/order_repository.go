package ports

import (
	"context"
	"time"

	"github.com/quickbite/order-tracking/internal/core/domain"
)

// OrderRepository defines persistence operations against the Order Store
// projection. The tracking core reads orders and writes back only the fields
// it owns: status (with history), courier assignment, and the ETA.
type OrderRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	// FindByCustomer returns the customer's orders, newest first.
	FindByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error)
	// FindByStatus returns all orders currently in the given status.
	FindByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	// UpdateStatus atomically sets the order's status and appends a history entry.
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, ts time.Time, updatedBy string) error
	// SetCourier records the courier assignment. Immutable once set: the update
	// applies only while the order has no courier.
	SetCourier(ctx context.Context, id string, courierID string) error
	// UpdateETA persists the recomputed estimated minutes to delivery.
	UpdateETA(ctx context.Context, id string, minutes int) error
}
