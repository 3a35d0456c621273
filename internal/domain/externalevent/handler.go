package externalevent

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/auth"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/effect"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/fhir"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/hl7v2"
	"github.com/canvas-medical/canvas-plugins-sub000/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Name() string { return "externalevent" }

// RegisterRoutes mounts the REST routes. External events have no FHIR
// rendering, so fhirGroup is unused.
func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleReader, auth.RoleClinician, auth.RoleIntegration))
	read.GET("/external-events", h.ListEvents)
	read.GET("/external-events/:id", h.GetEvent)

	write := api.Group("/effects/external-event", auth.RequireRole(auth.RoleIntegration))
	write.POST("/create", h.CreateEffect)
	write.POST("/update", h.UpdateEffect)
	write.POST("/hl7v2", h.CreateEffectFromHL7)
}

func (h *Handler) ListEvents(c echo.Context) error {
	pg := pagination.FromContext(c)
	patient := strings.TrimPrefix(c.QueryParam("patient"), "Patient/")
	items, total, err := h.svc.List(c.Request().Context(), patient, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ev, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "external event not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ev)
}

func (h *Handler) CreateEffect(c echo.Context) error {
	return h.emit(c, effect.MethodCreate)
}

func (h *Handler) UpdateEffect(c echo.Context) error {
	return h.emit(c, effect.MethodUpdate)
}

// CreateEffectFromHL7 builds a create effect from a raw ADT message body.
func (h *Handler) CreateEffectFromHL7(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, "failed to read request body"))
	}
	msg, err := hl7v2.Parse(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
	}
	if msg.MessageCode() != "ADT" {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported,
			"unsupported message type "+msg.MessageCode()))
	}
	return h.respond(c, FromADT(h.svc.NewEffect(), msg, body), effect.MethodCreate)
}

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

	return h.respond(c, e, method)
}

func (h *Handler) respond(c echo.Context, e *Effect, method effect.Method) error {
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
