package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/metrics"
)

// Instrument records request counts and latencies. Paths are labelled by
// route template so ids do not explode label cardinality.
func Instrument() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			metrics.HTTPInFlight.Inc()
			defer metrics.HTTPInFlight.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			labels := []string{c.Request().Method, path, strconv.Itoa(status)}
			metrics.HTTPRequestsTotal.WithLabelValues(labels...).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
