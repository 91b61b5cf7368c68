package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireUserType rejects requests whose user_type claim is not one of types.
// Requests without a user_type claim pass.
func RequireUserType(types ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ut := UserTypeFromContext(c.Request().Context())
			if ut == "" {
				return next(c)
			}
			for _, t := range types {
				if ut == t {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required user type: %s", strings.Join(types, " or ")))
		}
	}
}
