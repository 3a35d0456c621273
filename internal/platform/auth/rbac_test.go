package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required []string
		allowed  bool
	}{
		{"matching role", []string{RoleClinician}, []string{RoleClinician, RoleReader}, true},
		{"admin passes everything", []string{RoleAdmin}, []string{RoleIntegration}, true},
		{"wrong role", []string{RoleReader}, []string{RoleIntegration}, false},
		{"no roles", nil, []string{RoleReader}, false},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithIdentity(context.Background(), "u", tt.granted))
			c := e.NewContext(req, httptest.NewRecorder())

			err := RequireRole(tt.required...)(okHandler)(c)
			if tt.allowed && err != nil {
				t.Errorf("expected access, got %v", err)
			}
			if !tt.allowed {
				expectStatus(t, err, http.StatusForbidden)
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/health") || !IsPublicPath("/health/db") {
		t.Error("health endpoints must be public")
	}
	if IsPublicPath("/api/v1/observations") {
		t.Error("API endpoints must not be public")
	}
}
