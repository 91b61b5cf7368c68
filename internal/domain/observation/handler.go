package observation

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/auth"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/fhir"
	"github.com/pstell2002/jupyterhealth-exchange/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	fhirGroup.POST("/Observation", h.CreateFHIR)

	read := fhirGroup.Group("", auth.RequireUserType(auth.UserTypePractitioner))
	read.GET("/Observation", h.SearchFHIR)
	read.GET("/Observation/:id", h.GetFHIR)
}

// CreateFHIR creates one observation. Every failure is reported as 400.
func (h *Handler) CreateFHIR(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := auth.ActorFromContext(ctx)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, fhir.ErrorOutcome(err.Error()))
	}

	doc, err := fhir.DecodeJSON(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return c.JSON(he.Code, fhir.ErrorOutcome(fmt.Sprint(he.Message)))
		}
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid JSON: "+err.Error()))
	}
	resource, ok := fhir.ToInternal(doc).(map[string]interface{})
	if !ok {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("request body must be a JSON object"))
	}

	o, err := h.svc.Create(ctx, resource, actor)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	body, err := o.ToFHIR()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	c.Response().Header().Set("Location", "/fhir/"+fhir.FormatReference(fhir.ResourceTypeObservation, o.ID.String()))
	return c.JSON(http.StatusCreated, body)
}

func (h *Handler) SearchFHIR(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := auth.ActorFromContext(ctx)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, fhir.ErrorOutcome(err.Error()))
	}

	params, err := ParseSearchParams(c.QueryParams())
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	pg := pagination.FromContext(c)

	items, total, err := h.svc.Search(ctx, actor, params, pg.Limit, pg.Offset)
	if err != nil {
		return searchError(c, err)
	}

	resources := make([]map[string]interface{}, len(items))
	for i, o := range items {
		if resources[i], err = o.ToFHIR(); err != nil {
			return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
		}
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundleWithLinks(resources, fhir.SearchBundleParams{
		BaseURL:  "/fhir/Observation",
		QueryStr: pagination.WithoutPaging(c.QueryParams()),
		Count:    pg.Limit,
		Offset:   pg.Offset,
		Total:    total,
	}))
}

func (h *Handler) GetFHIR(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := auth.ActorFromContext(ctx)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, fhir.ErrorOutcome(err.Error()))
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid id"))
	}

	o, err := h.svc.Get(ctx, actor, id)
	switch {
	case errors.Is(err, ErrForbidden):
		return c.JSON(http.StatusForbidden, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeForbidden,
			"not authorized to read Observation/"+id.String()))
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome(fhir.ResourceTypeObservation, id.String()))
	case err != nil:
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	body, err := o.ToFHIR()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, body)
}

func searchError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	case errors.Is(err, ErrForbidden):
		return c.JSON(http.StatusForbidden, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeForbidden, err.Error()))
	default:
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
}
