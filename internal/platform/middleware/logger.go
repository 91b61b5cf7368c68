package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/auth"
)

// requestLogger tags logger with the request id and the acting user.
func requestLogger(logger zerolog.Logger, c echo.Context) zerolog.Logger {
	rid, _ := c.Get("request_id").(string)
	return logger.With().
		Str("request_id", rid).
		Str("user_id", auth.UserIDFromContext(c.Request().Context())).
		Logger()
}

// Logger writes one structured line per request. Server errors log at error
// level, client errors at warn.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			l := requestLogger(logger, c)
			var evt *zerolog.Event
			switch {
			case status >= 500:
				evt = l.Error().Err(err)
			case status >= 400:
				evt = l.Warn()
			default:
				evt = l.Info()
			}

			evt.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return nil
		}
	}
}
