package middleware

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/fhir"
)

// Recovery turns a panic into a 500 and logs it with the request's id and
// user. FHIR routes answer with an OperationOutcome.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)

				l := requestLogger(logger, c)
				l.Error().
					Str("panic", fmt.Sprint(r)).
					Str("path", c.Request().URL.Path).
					Str("stack", string(stack[:n])).
					Msg("panic recovered")

				if strings.HasPrefix(c.Request().URL.Path, "/fhir") && !c.Response().Committed {
					err = c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome("internal server error"))
					return
				}
				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
