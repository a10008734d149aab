package tracking

import (
	"math"

	"github.com/quickbite/order-tracking/internal/core/domain"
)

const (
	earthRadiusKm   = 6371.0
	defaultSpeedKmh = 20.0
)

// Feed validates raw courier position samples and derives the ETA. It is
// deliberately a straight-line estimator: the contract is correct plumbing of
// fresh samples, not routing accuracy.
type Feed struct {
	speedKmh float64
}

// NewFeed returns a Feed using the given average courier speed in km/h.
// Non-positive speeds fall back to the default.
func NewFeed(speedKmh float64) *Feed {
	if speedKmh <= 0 {
		speedKmh = defaultSpeedKmh
	}
	return &Feed{speedKmh: speedKmh}
}

// Accept decides whether a sample may be applied to an order in the given
// status with the given cached position. Returns ErrNotTrackable when the
// order is not en_route and ErrStaleSample when the sample's captured_at is
// not strictly newer than the cached one.
func (f *Feed) Accept(status domain.OrderStatus, current *domain.CourierPosition, sample domain.CourierPosition) error {
	if status != domain.StatusEnRoute {
		return domain.ErrNotTrackable
	}
	if current != nil && !sample.NewerThan(*current) {
		return domain.ErrStaleSample
	}
	return nil
}

// ETAMinutes estimates the minutes remaining from pos to dest, rounded up and
// floored at 1.
func (f *Feed) ETAMinutes(pos domain.CourierPosition, dest domain.Coordinates) int {
	km := haversineKm(pos.Lat, pos.Lng, dest.Lat, dest.Lng)
	minutes := int(math.Ceil(km / f.speedKmh * 60))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// haversineKm returns the great-circle distance between two points.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
