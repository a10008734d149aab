package domain

import "time"

// Coordinates represents a geographic point.
type Coordinates struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// CourierPosition is the latest known location sample for an order's courier.
// A sample supersedes the cached one only when CapturedAt is strictly newer;
// transport-level ordering is not trusted.
type CourierPosition struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	CapturedAt time.Time `json:"captured_at"`
}

// Coordinates returns the sample's geographic point.
func (p CourierPosition) Coordinates() Coordinates {
	return Coordinates{Lat: p.Lat, Lng: p.Lng}
}

// NewerThan reports whether p was captured strictly after other.
func (p CourierPosition) NewerThan(other CourierPosition) bool {
	return p.CapturedAt.After(other.CapturedAt)
}
