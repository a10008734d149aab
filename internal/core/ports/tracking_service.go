package ports

import (
	"context"
	"time"

	"github.com/quickbite/order-tracking/internal/core/domain"
)

// Actor identifies the authenticated caller of a tracking operation.
// CourierID and BusinessID are empty unless the role carries them.
type Actor struct {
	UserID     string
	Role       string
	CourierID  string
	BusinessID string
}

// GetOrderInput carries the parameters for the projection read.
type GetOrderInput struct {
	OrderID string
	Actor   Actor
}

// OrderDetail is the projection view returned to the tracking client.
type OrderDetail struct {
	ID               string
	Status           string
	CourierID        string
	BusinessLocation domain.Coordinates
	CustomerLocation domain.Coordinates
	EstimatedMinutes int
	CreatedAt        time.Time
	StatusHistory    []domain.StatusHistoryEntry
}

// SubmitStatusInput carries a privileged status write. CourierID is optional
// and only honoured on the transition into en_route, where it records the
// courier assignment.
type SubmitStatusInput struct {
	OrderID   string
	Status    string
	CourierID string
	Actor     Actor
}

// SubmitLocationInput carries a courier position sample.
type SubmitLocationInput struct {
	OrderID    string
	Lat        float64
	Lng        float64
	CapturedAt time.Time
	Actor      Actor
}

// TrackingService defines the use-case operations of the tracking core.
type TrackingService interface {
	GetOrder(ctx context.Context, in GetOrderInput) (*OrderDetail, error)
	ListOrders(ctx context.Context, actor Actor) ([]*OrderDetail, error)
	SubmitStatus(ctx context.Context, in SubmitStatusInput) error
	SubmitLocation(ctx context.Context, in SubmitLocationInput) error
	// AuthorizeSubscribe checks that the actor may open a live channel for the
	// order: its buyer, assigned courier, the business's seller, or an admin.
	AuthorizeSubscribe(ctx context.Context, orderID string, actor Actor) error
}

// TrackingPublisher is the slice of the session registry the service writes
// through: validated status and location events fanned out to subscribers.
type TrackingPublisher interface {
	PublishStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedBy string) error
	PublishLocation(ctx context.Context, orderID string, sample domain.CourierPosition) error
}
