package handler

import "time"

// errorResponse is the standard error envelope returned on all 4xx/5xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

type submitStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending preparing en_route delivered cancelled"`
	// CourierID is honoured only on the transition into en_route, where it
	// records the courier assignment.
	CourierID string `json:"courier_id,omitempty"`
}

type submitLocationRequest struct {
	// required is deliberately absent on lat/lng: zero is a valid coordinate.
	Lat        float64   `json:"lat" validate:"gte=-90,lte=90"`
	Lng        float64   `json:"lng" validate:"gte=-180,lte=180"`
	CapturedAt time.Time `json:"captured_at" validate:"required"`
}

type acceptedResponse struct {
	Message string `json:"message"`
}

// Response-only types owned by the transport layer, intentionally separate
// from ports/domain types so the JSON contract is not coupled to internal
// service changes.

type coordinatesResponse struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type statusHistoryItemResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

type orderResponse struct {
	ID               string                      `json:"id"`
	Status           string                      `json:"status"`
	CourierID        string                      `json:"courier_id,omitempty"`
	BusinessLocation coordinatesResponse         `json:"business_location"`
	CustomerLocation coordinatesResponse         `json:"customer_location"`
	EstimatedMinutes int                         `json:"estimated_minutes"`
	CreatedAt        time.Time                   `json:"created_at"`
	StatusHistory    []statusHistoryItemResponse `json:"status_history"`
	Links            orderLinks                  `json:"_links"`
}

type orderLinks struct {
	Self  string `json:"self"`
	Track string `json:"track"`
}

type listOrdersResponse struct {
	Orders []orderResponse `json:"orders"`
}
