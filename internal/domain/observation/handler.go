package observation

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/domain/valueset"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/auth"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/effect"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/fhir"
	"github.com/canvas-medical/canvas-plugins-sub000/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Name() string { return "observation" }

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	readRole := auth.RequireRole(auth.RoleReader, auth.RoleClinician, auth.RoleIntegration)
	writeRole := auth.RequireRole(auth.RoleClinician)

	read := api.Group("", readRole)
	read.GET("/observations", h.ListObservations)
	read.GET("/observations/:id", h.GetObservation)

	write := api.Group("/effects/observation", writeRole)
	write.POST("/create", h.CreateEffect)
	write.POST("/update", h.UpdateEffect)

	fhirRead := fhirGroup.Group("", readRole)
	fhirRead.GET("/Observation", h.SearchObservationsFHIR)
	fhirRead.GET("/Observation/:id", h.GetObservationFHIR)
}

// -- REST Endpoints --

func (h *Handler) ListObservations(c echo.Context) error {
	q, err := queryFromParams(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), q, pg.Limit, pg.Offset)
	if err != nil {
		return searchError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetObservation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "observation not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) CreateEffect(c echo.Context) error {
	return h.emit(c, effect.MethodCreate)
}

func (h *Handler) UpdateEffect(c echo.Context) error {
	return h.emit(c, effect.MethodUpdate)
}

// emit answers 200 with the effect, 422 with one issue per validation
// detail, or 400 when the body cannot be decoded.
func (h *Handler) emit(c echo.Context, method effect.Method) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, "failed to read request body"))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	e := h.svc.NewEffect()
	if err := e.Decode(body); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
	}

	out, err := h.svc.Emit(c.Request().Context(), e, method)
	var verr *effect.ValidationError
	if errors.As(err, &verr) {
		return c.JSON(http.StatusUnprocessableEntity, verr.Outcome())
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, out)
}

func queryFromParams(c echo.Context) (Query, error) {
	q := Query{
		PatientKey: strings.TrimPrefix(c.QueryParam("patient"), "Patient/"),
		Category:   c.QueryParam("category"),
		ValueSets:  splitList(c.QueryParams()["value_set"]),
	}
	if v := c.QueryParam("committed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return q, errors.New("committed must be true or false")
		}
		q.Committed = b
	}
	if v := c.QueryParam("member_of"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return q, errors.New("member_of must be an observation id")
		}
		q.MemberOf = &id
	}
	var err error
	if q.EffectiveFrom, err = optionalTime(c.QueryParam("effective_from")); err != nil {
		return q, err
	}
	if q.EffectiveTo, err = optionalTime(c.QueryParam("effective_to")); err != nil {
		return q, err
	}
	return q, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func optionalTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := effect.ParseDateTime(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func searchError(err error) error {
	switch {
	case errors.Is(err, valueset.ErrNotFound):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, valueset.ErrAmbiguous):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// -- FHIR Endpoints --

func (h *Handler) SearchObservationsFHIR(c echo.Context) error {
	q := Query{
		PatientKey: strings.TrimPrefix(c.QueryParam("patient"), "Patient/"),
		Category:   c.QueryParam("category"),
		ValueSets:  splitList(c.QueryParams()["value-set"]),
	}
	if c.QueryParam("status") == "final" {
		q.Committed = true
	}
	for _, d := range c.QueryParams()["date"] {
		if err := applyDateParam(&q, d); err != nil {
			return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
		}
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchDetails(c.Request().Context(), q, pg.Limit, pg.Offset)
	if err != nil {
		if errors.Is(err, valueset.ErrNotFound) || errors.Is(err, valueset.ErrAmbiguous) {
			return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}

	resources := make([]map[string]interface{}, len(items))
	for i, d := range items {
		resources[i] = d.ToFHIR()
	}
	bundle := fhir.NewSearchBundle(resources, total, "/fhir")
	bundle.Link = bundle.Link[:0]
	for _, l := range pg.Links("/fhir/Observation", c.QueryParams(), total) {
		bundle.Link = append(bundle.Link, fhir.BundleLink{Relation: l.Relation, URL: l.URL})
	}
	return c.JSON(http.StatusOK, bundle)
}

// applyDateParam handles date=geX and date=leX; a bare date covers that day.
func applyDateParam(q *Query, v string) error {
	prefix := ""
	if len(v) > 2 {
		switch v[:2] {
		case "ge", "le", "eq":
			prefix, v = v[:2], v[2:]
		}
	}
	t, err := effect.ParseDateTime(v)
	if err != nil {
		return err
	}
	switch prefix {
	case "ge":
		q.EffectiveFrom = &t
	case "le":
		q.EffectiveTo = &t
	default:
		end := t.Add(24*time.Hour - time.Nanosecond)
		q.EffectiveFrom, q.EffectiveTo = &t, &end
	}
	return nil
}

func (h *Handler) GetObservationFHIR(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Observation", c.Param("id")))
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Observation", c.Param("id")))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, d.ToFHIR())
}
