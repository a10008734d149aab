package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quickbite/order-tracking/internal/core/domain"
	"github.com/quickbite/order-tracking/internal/core/ports"
)

// ctxActor extracts the auth claims injected by the Auth middleware and
// performs a fast-fail check before any service call:
//   - role must be non-empty (presence proves the middleware ran).
//   - courier and seller roles require their association id; without it the
//     JWT is structurally valid but operationally unusable — reject with 401.
func ctxActor(c echo.Context) (ports.Actor, error) {
	role, _ := c.Get("role").(string)
	if role == "" {
		return ports.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}

	actor := ports.Actor{Role: role}
	actor.UserID, _ = c.Get("user_id").(string)
	actor.CourierID, _ = c.Get("courier_id").(string)
	actor.BusinessID, _ = c.Get("business_id").(string)

	if role == domain.RoleCourier && actor.CourierID == "" {
		return ports.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "token missing courier identity")
	}
	if role == domain.RoleSeller && actor.BusinessID == "" {
		return ports.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "token missing business identity")
	}

	return actor, nil
}
