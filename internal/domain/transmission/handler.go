package transmission

import (
	"errors"
	"net/http"
	"strconv"
	"time"

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
	read.GET("/reports", h.ListReports)
	read.GET("/reports/:id", h.GetReport)
	read.GET("/reports/:id/transmissions", h.GetTransmissionHistory)
	read.GET("/transmissions/statistics", h.GetStatistics)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePharmacist))
	write.POST("/reports/generate", h.GenerateReport)
	write.POST("/reports/:id/transmit", h.TransmitReport)
	write.POST("/transmissions/:id/retry", h.RetryTransmission)
}

func (h *Handler) GenerateReport(c echo.Context) error {
	year, err := strconv.Atoi(c.QueryParam("year"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "year is required")
	}
	month, err := strconv.Atoi(c.QueryParam("month"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "month is required")
	}
	r, err := h.svc.GenerateReport(c.Request().Context(), year, month)
	switch {
	case errors.Is(err, ErrReportAlreadyTransmitted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) TransmitReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	user := auth.UserIDFromContext(c.Request().Context())
	t, err := h.svc.TransmitReport(c.Request().Context(), id, user)
	switch {
	case errors.Is(err, ErrReportNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrReportNotTransmittable), errors.Is(err, ErrAttemptCapExceeded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) RetryTransmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.RetryTransmission(c.Request().Context(), id)
	switch {
	case errors.Is(err, ErrTransmissionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTransmissionNotRetryable),
		errors.Is(err, ErrReportNotTransmittable),
		errors.Is(err, ErrAttemptCapExceeded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) GetReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.GetReport(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListReports(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListReports(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewLinkedResponse(items, total, pg, c.Request().URL.Path))
}

func (h *Handler) GetTransmissionHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	history, err := h.svc.GetTransmissionHistory(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) GetStatistics(c echo.Context) error {
	now := h.svc.Now().UTC()
	start := now.AddDate(0, -1, 0)
	end := now
	if v := c.QueryParam("start"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "start must be YYYY-MM-DD")
		}
		start = t
	}
	if v := c.QueryParam("end"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "end must be YYYY-MM-DD")
		}
		end = t.Add(24 * time.Hour)
	}
	stats, err := h.svc.GetStatistics(c.Request().Context(), start, end)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}
