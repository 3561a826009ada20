package compliance

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vitalmed/sngpc/internal/platform/auth"
	"github.com/vitalmed/sngpc/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePharmacist, auth.RoleComplianceOfficer))
	read.GET("/compliance/alerts", h.ListAlerts)

	manage := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleComplianceOfficer))
	manage.POST("/compliance/scan", h.Scan)
	manage.POST("/compliance/alerts/:id/acknowledge", h.AcknowledgeAlert)
	manage.POST("/compliance/alerts/:id/resolve", h.ResolveAlert)
}

// Scan runs every detection pass once and returns the alerts it raised.
func (h *Handler) Scan(c echo.Context) error {
	raised, err := h.svc.RunAllChecks(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if raised == nil {
		raised = []*Alert{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"alerts_raised": len(raised),
		"alerts":        raised,
	})
}

func (h *Handler) ListAlerts(c echo.Context) error {
	var severity *Severity
	if v := c.QueryParam("severity"); v != "" {
		switch s := Severity(v); s {
		case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
			severity = &s
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid severity")
		}
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.GetActiveAlerts(c.Request().Context(), severity, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewLinkedResponse(items, total, pg, c.Request().URL.Path))
}

type acknowledgeRequest struct {
	Notes *string `json:"notes"`
}

func (h *Handler) AcknowledgeAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid alert id")
	}
	var req acknowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user := auth.UserIDFromContext(c.Request().Context())
	a, err := h.svc.AcknowledgeAlert(c.Request().Context(), id, user, req.Notes)
	switch {
	case errors.Is(err, ErrAlertNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlertNotActive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

func (h *Handler) ResolveAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid alert id")
	}
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user := auth.UserIDFromContext(c.Request().Context())
	a, err := h.svc.ResolveAlert(c.Request().Context(), id, user, req.Resolution)
	switch {
	case errors.Is(err, ErrAlertNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlertResolved):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}
