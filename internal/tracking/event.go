package tracking

import (
	"encoding/json"

	"github.com/quickbite/order-tracking/internal/core/domain"
)

// Event type tags pushed over the live channel.
const (
	EventSnapshot       = "snapshot"
	EventStatusUpdate   = "status_update"
	EventLocationUpdate = "location_update"
)

// SnapshotEvent carries the full current state of a session. It is sent once,
// immediately after subscribe, so a late joiner is never left without an
// initial view. Position and ETAMinutes are null until a courier reports.
type SnapshotEvent struct {
	Type       string              `json:"type"`
	Status     domain.OrderStatus  `json:"status"`
	Position   *domain.Coordinates `json:"position"`
	ETAMinutes *int                `json:"eta_minutes"`
}

// StatusUpdateEvent announces an accepted status transition.
type StatusUpdateEvent struct {
	Type   string             `json:"type"`
	Status domain.OrderStatus `json:"status"`
}

// LocationUpdateEvent announces an accepted courier position sample. The
// captured_at timestamp rides along so clients can apply their own
// freshness comparison instead of trusting transport ordering.
type LocationUpdateEvent struct {
	Type       string  `json:"type"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	ETAMinutes int     `json:"eta_minutes"`
	CapturedAt int64   `json:"captured_at,omitempty"`
}

// mustMarshal serializes an event for fanout. The event structs contain no
// unmarshalable values, so a failure here is a programming error.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("tracking: marshal event: " + err.Error())
	}
	return b
}
