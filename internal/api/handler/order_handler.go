package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quickbite/order-tracking/internal/core/ports"
)

// OrderHandler serves the request/response projection reads consumed by the
// tracking client before (and alongside) the live channel.
type OrderHandler struct {
	service ports.TrackingService
}

func NewOrderHandler(service ports.TrackingService) *OrderHandler {
	return &OrderHandler{service: service}
}

// Get handles GET /v1/orders/:id.
//
// @Summary      Get an order's tracking projection
// @Tags         orders
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Order id"
// @Success      200  {object}  orderResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /v1/orders/{id} [get]
func (h *OrderHandler) Get(c echo.Context) error {
	actor, err := ctxActor(c)
	if err != nil {
		return err
	}

	detail, err := h.service.GetOrder(c.Request().Context(), ports.GetOrderInput{
		OrderID: c.Param("id"),
		Actor:   actor,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toOrderResponse(detail))
}

// ListMine handles GET /v1/orders — the authenticated customer's orders.
//
// @Summary      List the caller's orders
// @Tags         orders
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  listOrdersResponse
// @Failure      403  {object}  errorResponse
// @Router       /v1/orders [get]
func (h *OrderHandler) ListMine(c echo.Context) error {
	actor, err := ctxActor(c)
	if err != nil {
		return err
	}

	details, err := h.service.ListOrders(c.Request().Context(), actor)
	if err != nil {
		return err
	}

	resp := listOrdersResponse{Orders: make([]orderResponse, 0, len(details))}
	for _, d := range details {
		resp.Orders = append(resp.Orders, toOrderResponse(d))
	}
	return c.JSON(http.StatusOK, resp)
}

func toOrderResponse(d *ports.OrderDetail) orderResponse {
	history := make([]statusHistoryItemResponse, 0, len(d.StatusHistory))
	for _, h := range d.StatusHistory {
		history = append(history, statusHistoryItemResponse{
			Status:    string(h.Status),
			Timestamp: h.Timestamp,
			UpdatedBy: h.UpdatedBy,
		})
	}
	return orderResponse{
		ID:               d.ID,
		Status:           d.Status,
		CourierID:        d.CourierID,
		BusinessLocation: coordinatesResponse{Lat: d.BusinessLocation.Lat, Lng: d.BusinessLocation.Lng},
		CustomerLocation: coordinatesResponse{Lat: d.CustomerLocation.Lat, Lng: d.CustomerLocation.Lng},
		EstimatedMinutes: d.EstimatedMinutes,
		CreatedAt:        d.CreatedAt,
		StatusHistory:    history,
		Links: orderLinks{
			Self:  "/v1/orders/" + d.ID,
			Track: "/ws/orders/" + d.ID,
		},
	}
}
