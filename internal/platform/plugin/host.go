package plugin

import (
	"github.com/labstack/echo/v4"
)

// Module is a domain package that mounts its own routes. api is /api/v1,
// fhir is /fhir; both already carry auth and instance middleware.
type Module interface {
	Name() string
	RegisterRoutes(api *echo.Group, fhir *echo.Group)
}

// Registry mounts modules in registration order.
type Registry struct {
	modules []Module
}

func NewRegistry(modules ...Module) *Registry {
	return &Registry{modules: modules}
}

func (r *Registry) Register(m Module) {
	r.modules = append(r.modules, m)
}

func (r *Registry) RegisterRoutes(api *echo.Group, fhir *echo.Group) {
	for _, m := range r.modules {
		m.RegisterRoutes(api, fhir)
	}
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.modules))
	for i, m := range r.modules {
		names[i] = m.Name()
	}
	return names
}
