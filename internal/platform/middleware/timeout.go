package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/fhir"
)

// RequestTimeout puts a deadline on the request context and answers 504
// with an OperationOutcome when the handler does not finish in time.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return ctx.Err()
				}
				if c.Response().Committed {
					return nil
				}
				return c.JSON(http.StatusGatewayTimeout, fhir.NewOperationOutcome(
					fhir.IssueSeverityError, fhir.IssueTypeTimeout,
					"Request processing exceeded the allowed time limit"))
			}
		}
	}
}
