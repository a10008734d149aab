package domain

import (
	"errors"
	"time"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPreparing OrderStatus = "preparing"
	StatusEnRoute   OrderStatus = "en_route"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

// validTransitions defines the allowed state machine transitions.
// Forward moves never skip a step; cancellation is reachable from any
// non-terminal state; terminal states have no outgoing transitions.
var validTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusEnRoute, StatusCancelled},
	StatusEnRoute:   {StatusDelivered, StatusCancelled},
}

var ErrInvalidTransition = errors.New("invalid status transition")
var ErrNotTrackable = errors.New("order is not trackable")
var ErrStaleSample = errors.New("location sample is stale")
var ErrOrderNotFound = errors.New("order not found")
var ErrForbidden = errors.New("access forbidden")

// CanTransitionTo reports whether a transition from s to next is valid.
// Re-submitting the current status is not a transition; callers treat it
// as an idempotent no-op before consulting this table.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s accepts no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// IsValid reports whether s is one of the known lifecycle states.
func (s OrderStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusEnRoute, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// StatusHistoryEntry records a single status transition on an order.
type StatusHistoryEntry struct {
	Status    OrderStatus `json:"status" bson:"status"`
	Timestamp time.Time   `json:"timestamp" bson:"timestamp"`
	UpdatedBy string      `json:"updated_by,omitempty" bson:"updated_by,omitempty"`
}

// Order is the tracking projection of an order owned by the Order Store.
// Only the fields needed to drive tracking are modelled here.
type Order struct {
	ID               string               `json:"id" bson:"_id,omitempty"`
	CustomerID       string               `json:"customer_id" bson:"customer_id"`
	BusinessID       string               `json:"business_id" bson:"business_id"`
	CourierID        string               `json:"courier_id,omitempty" bson:"courier_id,omitempty"`
	Status           OrderStatus          `json:"status" bson:"status"`
	BusinessLocation Coordinates          `json:"business_location" bson:"business_location"`
	CustomerLocation Coordinates          `json:"customer_location" bson:"customer_location"`
	EstimatedMinutes int                  `json:"estimated_minutes" bson:"estimated_minutes"`
	CreatedAt        time.Time            `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at" bson:"updated_at"`
	StatusHistory    []StatusHistoryEntry `json:"status_history" bson:"status_history"`
}
