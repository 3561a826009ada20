package balance

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vitalmed/sngpc/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePharmacist, auth.RoleComplianceOfficer))
	read.GET("/balances", h.ListBalances)
	read.GET("/balances/overdue", h.ListOverdue)
	read.GET("/balances/discrepancies", h.ListDiscrepancies)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePharmacist))
	write.POST("/balances/calculate", h.Calculate)
	write.POST("/balances/:id/physical-count", h.RecordPhysicalCount)
	write.POST("/balances/:id/close", h.Close)
}

func periodParams(c echo.Context) (int, int, error) {
	year, err := strconv.Atoi(c.QueryParam("year"))
	if err != nil {
		return 0, 0, errors.New("year is required")
	}
	month, err := strconv.Atoi(c.QueryParam("month"))
	if err != nil {
		return 0, 0, errors.New("month is required")
	}
	return year, month, nil
}

func (h *Handler) Calculate(c echo.Context) error {
	year, month, err := periodParams(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	balances, err := h.svc.CalculateMonthlyBalances(c.Request().Context(), year, month)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, balances)
}

type physicalCountRequest struct {
	PhysicalCount float64 `json:"physical_count"`
	Reason        *string `json:"reason,omitempty"`
}

func (h *Handler) RecordPhysicalCount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req physicalCountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user := auth.UserIDFromContext(c.Request().Context())
	b, err := h.svc.RecordPhysicalInventory(c.Request().Context(), id, req.PhysicalCount, req.Reason, user)
	switch {
	case errors.Is(err, ErrBalanceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrBalanceClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Close(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	user := auth.UserIDFromContext(c.Request().Context())
	b, err := h.svc.Close(c.Request().Context(), id, user)
	switch {
	case errors.Is(err, ErrBalanceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrBalanceClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBalances(c echo.Context) error {
	year, month, err := periodParams(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	balances, err := h.svc.GetByPeriod(c.Request().Context(), year, month)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, balances)
}

func (h *Handler) ListOverdue(c echo.Context) error {
	balances, err := h.svc.GetOverdueBalances(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, balances)
}

func (h *Handler) ListDiscrepancies(c echo.Context) error {
	balances, err := h.svc.GetBalancesWithDiscrepancies(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, balances)
}
