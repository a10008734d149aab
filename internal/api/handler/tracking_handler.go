package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quickbite/order-tracking/internal/core/ports"
)

// TrackingHandler handles the privileged-writer side of the tracking
// protocol: status and location submissions from seller/courier tooling.
// Validation failures surface synchronously in the response.
type TrackingHandler struct {
	service ports.TrackingService
}

func NewTrackingHandler(service ports.TrackingService) *TrackingHandler {
	return &TrackingHandler{service: service}
}

// SubmitStatus handles POST /v1/orders/:id/status.
//
// @Summary      Submit a status transition for an order
// @Tags         tracking
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string               true  "Order id"
// @Param        body  body      submitStatusRequest  true  "New status"
// @Success      200   {object}  acceptedResponse
// @Failure      400   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Failure      422   {object}  errorResponse
// @Router       /v1/orders/{id}/status [post]
func (h *TrackingHandler) SubmitStatus(c echo.Context) error {
	actor, err := ctxActor(c)
	if err != nil {
		return err
	}

	var req submitStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	if err := h.service.SubmitStatus(c.Request().Context(), ports.SubmitStatusInput{
		OrderID:   c.Param("id"),
		Status:    req.Status,
		CourierID: req.CourierID,
		Actor:     actor,
	}); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, acceptedResponse{Message: "status applied"})
}

// SubmitLocation handles POST /v1/orders/:id/location.
//
// @Summary      Submit a courier position sample for an order
// @Tags         tracking
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string                 true  "Order id"
// @Param        body  body      submitLocationRequest  true  "Position sample"
// @Success      200   {object}  acceptedResponse
// @Failure      400   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /v1/orders/{id}/location [post]
func (h *TrackingHandler) SubmitLocation(c echo.Context) error {
	actor, err := ctxActor(c)
	if err != nil {
		return err
	}

	var req submitLocationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	if err := h.service.SubmitLocation(c.Request().Context(), ports.SubmitLocationInput{
		OrderID:    c.Param("id"),
		Lat:        req.Lat,
		Lng:        req.Lng,
		CapturedAt: req.CapturedAt,
		Actor:      actor,
	}); err != nil {
		return err
	}

	// Stale samples also land here: the service swallows them since they are
	// an expected race under retries, not a writer error.
	return c.JSON(http.StatusOK, acceptedResponse{Message: "location applied"})
}
