package study

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	practitioner := api.Group("", auth.RequireUserType(auth.UserTypePractitioner))
	practitioner.GET("/studies/:id/consents", h.GetConsents)
	practitioner.POST("/studies/:id/patients", h.Enroll)
	practitioner.GET("/studies/:id/scope_requests", h.ScopeRequests)
	practitioner.POST("/studies/:id/scope_requests", h.RequestScope)
	practitioner.GET("/studies/:id/data_sources", h.DataSources)
	practitioner.POST("/studies/:id/data_sources", h.AddDataSource)
	practitioner.DELETE("/studies/:id/data_sources", h.RemoveDataSource)

	api.POST("/studies/:id/consents", h.RecordConsent)
	api.GET("/patients/:id/consents", h.PatientConsents)
}

func actorAndID(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return actor, id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) GetConsents(c echo.Context) error {
	actor, studyID, err := actorAndID(c)
	if err != nil {
		return err
	}
	summary, err := h.svc.Consents(c.Request().Context(), actor, studyID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) RecordConsent(c echo.Context) error {
	actor, studyID, err := actorAndID(c)
	if err != nil {
		return err
	}
	var in ConsentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sc, err := h.svc.RecordConsent(c.Request().Context(), actor, studyID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sc)
}

func (h *Handler) Enroll(c echo.Context) error {
	actor, studyID, err := actorAndID(c)
	if err != nil {
		return err
	}
	var in EnrollInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enrollments, err := h.svc.Enroll(c.Request().Context(), actor, studyID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, enrollments)
}

func (h *Handler) RequestScope(c echo.Context) error {
	actor, studyID, err := actorAndID(c)
	if err != nil {
		return err
	}
	var in ScopeRequestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RequestScope(c.Request().Context(), actor, studyID, in); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ScopeRequests(c echo.Context) error {
	actor, studyID, err := actorAndID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.ScopeRequests(c.Request().Context(), actor, studyID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) DataSources(c echo.Context) error {
	actor, studyID, err := actorAndID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.DataSources(c.Request().Context(), actor, studyID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) AddDataSource(c echo.Context) error {
	actor, studyID, err := actorAndID(c)
	if err != nil {
		return err
	}
	var in DataSourceInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddDataSource(c.Request().Context(), actor, studyID, in); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RemoveDataSource takes the data source in the request body.
func (h *Handler) RemoveDataSource(c echo.Context) error {
	actor, studyID, err := actorAndID(c)
	if err != nil {
		return err
	}
	var in DataSourceInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RemoveDataSource(c.Request().Context(), actor, studyID, in); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PatientConsents(c echo.Context) error {
	actor, patientID, err := actorAndID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.PatientConsents(c.Request().Context(), actor, patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}
