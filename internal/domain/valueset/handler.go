package valueset

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/auth"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/fhir"
	"github.com/canvas-medical/canvas-plugins-sub000/pkg/pagination"
)

type Handler struct {
	catalog *Catalog
}

func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

func (h *Handler) Name() string { return "valueset" }

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	role := auth.RequireRole(auth.RoleReader, auth.RoleClinician, auth.RoleIntegration)

	read := api.Group("", role)
	read.GET("/value-sets", h.ListValueSets)
	read.GET("/value-sets/match", h.MatchCode)
	read.POST("/value-sets/classify", h.Classify)
	read.GET("/value-sets/:key", h.GetValueSet)
	read.GET("/value-sets/:key/validate-code", h.ContainsCode)

	fhirRead := fhirGroup.Group("", role)
	fhirRead.GET("/ValueSet", h.SearchValueSetsFHIR)
	fhirRead.GET("/ValueSet/$validate-code", h.ValidateCodeFHIR)
	fhirRead.GET("/ValueSet/:id", h.GetValueSetFHIR)
}

// -- REST Endpoints --

func (h *Handler) ListValueSets(c echo.Context) error {
	pg := pagination.FromContext(c)
	items := h.catalog.List(Filter{
		Version:  c.QueryParam("version"),
		Category: c.QueryParam("category"),
		Query:    c.QueryParam("q"),
	})
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Slice(items, pg), len(items), pg))
}

func (h *Handler) GetValueSet(c echo.Context) error {
	vs, err := h.catalog.Get(c.Param("key"))
	if err != nil {
		return lookupError(err)
	}
	return c.JSON(http.StatusOK, vs)
}

type containsResponse struct {
	Key      string `json:"key"`
	System   string `json:"system"`
	Code     string `json:"code"`
	Contains bool   `json:"contains"`
}

func (h *Handler) ContainsCode(c echo.Context) error {
	system, code := c.QueryParam("system"), c.QueryParam("code")
	if system == "" || code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "system and code are required")
	}
	vs, err := h.catalog.Get(c.Param("key"))
	if err != nil {
		return lookupError(err)
	}
	return c.JSON(http.StatusOK, containsResponse{
		Key:      vs.Key,
		System:   system,
		Code:     code,
		Contains: vs.Contains(system, code),
	})
}

func (h *Handler) MatchCode(c echo.Context) error {
	system, code := c.QueryParam("system"), c.QueryParam("code")
	if system == "" || code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "system and code are required")
	}
	matches := h.catalog.Match(system, code)
	keys := make([]string, len(matches))
	for i, vs := range matches {
		keys[i] = vs.Key
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"value_sets": keys})
}

type classifyRequest struct {
	Codings []Coding `json:"codings"`
}

func (h *Handler) Classify(c echo.Context) error {
	var req classifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Codings) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one coding is required")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"value_sets": h.catalog.Classify(req.Codings)})
}

func lookupError(err error) error {
	switch {
	case errors.Is(err, ErrAmbiguous):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// -- FHIR Endpoints --

func (h *Handler) SearchValueSetsFHIR(c echo.Context) error {
	pg := pagination.FromContext(c)
	items := h.catalog.List(Filter{
		Version:  c.QueryParam("version"),
		Category: c.QueryParam("category"),
		Query:    c.QueryParam("name"),
	})
	page := pagination.Slice(items, pg)
	resources := make([]map[string]interface{}, len(page))
	for i, vs := range page {
		resources[i] = vs.ToFHIR()
	}
	bundle := fhir.NewSearchBundle(resources, len(items), "/fhir")
	bundle.Link = bundle.Link[:0]
	for _, l := range pg.Links("/fhir/ValueSet", c.QueryParams(), len(items)) {
		bundle.Link = append(bundle.Link, fhir.BundleLink{Relation: l.Relation, URL: l.URL})
	}
	return c.JSON(http.StatusOK, bundle)
}

func (h *Handler) GetValueSetFHIR(c echo.Context) error {
	vs, err := h.catalog.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrAmbiguous) {
			return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
		}
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("ValueSet", c.Param("id")))
	}
	return c.JSON(http.StatusOK, vs.ToFHIR())
}

func (h *Handler) ValidateCodeFHIR(c echo.Context) error {
	url, code, system := c.QueryParam("url"), c.QueryParam("code"), c.QueryParam("system")
	if url == "" {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeRequired, "Parameter 'url' is required"))
	}
	if code == "" {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeRequired, "Parameter 'code' is required"))
	}
	if v := c.QueryParam("valueSetVersion"); v != "" && !strings.Contains(url, "|") {
		url += "|" + v
	}
	vs, err := h.catalog.ByURL(url)
	if err != nil {
		if errors.Is(err, ErrAmbiguous) {
			return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
		}
		return c.JSON(http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error()))
	}

	var result bool
	if system != "" {
		result = vs.Contains(system, code)
	} else {
		for _, sys := range vs.Systems() {
			if vs.Contains(sys, code) {
				result = true
				break
			}
		}
	}

	params := []map[string]interface{}{{"name": "result", "valueBoolean": result}}
	if !result {
		params = append(params, map[string]interface{}{
			"name":        "message",
			"valueString": "Code '" + code + "' is not in value set " + vs.Key,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"resourceType": "Parameters", "parameter": params})
}
