package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/auth"
)

// Audit logs one phi_access event per request under /fhir/ or /api/v1/,
// after the handler has run so the status is known.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			ctx := c.Request().Context()
			rid, _ := c.Get("request_id").(string)
			instance, _ := c.Get("instance").(string)
			logger.Info().
				Str("type", "phi_audit").
				Str("request_id", rid).
				Str("instance", instance).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("user_roles", auth.RolesFromContext(ctx)).
				Str("resource_type", extractResourceType(path)).
				Str("patient_id", extractPatientID(c)).
				Str("action", auditAction(req.Method, path)).
				Str("method", req.Method).
				Str("path", path).
				Int("status", c.Response().Status).
				Msg("phi_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/fhir/") || strings.HasPrefix(path, "/api/v1/")
}

// auditAction maps a request to read, search, create or update. Effect
// endpoints carry the method as their last path segment.
func auditAction(method, path string) string {
	if strings.HasPrefix(path, "/api/v1/effects/") {
		switch {
		case strings.HasSuffix(path, "/create"):
			return "create"
		case strings.HasSuffix(path, "/update"):
			return "update"
		}
	}
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) <= 2 || (segments[0] == "api" && len(segments) <= 3) {
		return "search"
	}
	return "read"
}

// extractResourceType returns the first path segment after /fhir/ or
// /api/v1/, e.g. "Observation" or "observations".
func extractResourceType(path string) string {
	var rest string
	switch {
	case strings.HasPrefix(path, "/fhir/"):
		rest = strings.TrimPrefix(path, "/fhir/")
	case strings.HasPrefix(path, "/api/v1/"):
		rest = strings.TrimPrefix(path, "/api/v1/")
	}
	if seg, _, _ := strings.Cut(rest, "/"); seg != "" {
		return seg
	}
	return "unknown"
}

func extractPatientID(c echo.Context) string {
	for _, name := range []string{"patient", "patient_id"} {
		if v := c.QueryParam(name); v != "" {
			return strings.TrimPrefix(v, "Patient/")
		}
	}
	return ""
}
