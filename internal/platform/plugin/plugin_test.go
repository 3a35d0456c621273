package plugin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type testModule struct {
	name string
	path string
}

func (m *testModule) Name() string { return m.name }

func (m *testModule) RegisterRoutes(api *echo.Group, fhir *echo.Group) {
	api.GET(m.path, func(c echo.Context) error { return c.String(http.StatusOK, m.name) })
}

func TestRegistry_RegisterRoutes(t *testing.T) {
	reg := NewRegistry(&testModule{name: "alpha", path: "/alpha"})
	reg.Register(&testModule{name: "beta", path: "/beta"})

	e := echo.New()
	reg.RegisterRoutes(e.Group("/api/v1"), e.Group("/fhir"))

	for _, name := range []string{"alpha", "beta"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/"+name, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != name {
			t.Errorf("GET /api/v1/%s: status %d body %q", name, rec.Code, rec.Body.String())
		}
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	if len(reg.Names()) != 0 {
		t.Error("expected no modules")
	}
	reg.Register(&testModule{name: "alpha"})
	reg.Register(&testModule{name: "beta"})
	names := reg.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("unexpected names %v", names)
	}
}
