package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/quickbite/order-tracking/internal/core/domain"
)

// RequireRole gates the tracking write surface by actor role: status writes
// are for sellers and couriers, location writes for couriers only. Admins
// pass regardless. Rejections flow through the central error handler as
// domain.ErrForbidden, so clients see the same 403 shape as the per-order
// authorization checks.
//
// Must run after Auth, which stores the token's role claim on the context.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get("role").(string)
			if role == domain.RoleAdmin {
				return next(c)
			}
			if _, ok := allowed[role]; !ok {
				return fmt.Errorf("role %q: %w", role, domain.ErrForbidden)
			}
			return next(c)
		}
	}
}
