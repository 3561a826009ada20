package registry

import (
	"errors"
	"net/http"
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
	read.GET("/registry/entries", h.ListEntries)
	read.GET("/registry/medications/:name/entries", h.ListMedicationEntries)
	read.GET("/registry/medications/:name/balance", h.GetBalance)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePharmacist))
	write.POST("/registry/prescription-entries", h.RegisterPrescriptionEntry)
	write.POST("/registry/stock-entries", h.RegisterStockEntry)
}

type prescriptionEntryRequest struct {
	PrescriptionID string `json:"prescription_id"`
}

func (h *Handler) RegisterPrescriptionEntry(c echo.Context) error {
	var req prescriptionEntryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := uuid.Parse(req.PrescriptionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription_id")
	}
	user := auth.UserIDFromContext(c.Request().Context())
	e, err := h.svc.RegisterPrescriptionEntry(c.Request().Context(), id, user)
	switch {
	case errors.Is(err, ErrDuplicateRegistration):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrPrescriptionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmptyPrescription):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) RegisterStockEntry(c echo.Context) error {
	var in StockEntryInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user := auth.UserIDFromContext(c.Request().Context())
	e, err := h.svc.RegisterStockEntry(c.Request().Context(), &in, user)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) ListEntries(c echo.Context) error {
	start, end, err := h.parsePeriod(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.GetByPeriod(c.Request().Context(), start, end, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewLinkedResponse(items, total, pg, c.Request().URL.Path))
}

func (h *Handler) ListMedicationEntries(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.GetByMedication(c.Request().Context(), c.Param("name"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewLinkedResponse(items, total, pg, c.Request().URL.Path))
}

func (h *Handler) GetBalance(c echo.Context) error {
	name := c.Param("name")
	bal, err := h.svc.GetCurrentBalance(c.Request().Context(), name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"medication_name": MedicationKey(name),
		"balance":         bal,
	})
}

// parsePeriod reads the start/end query params, defaulting to the last
// 30 days when absent.
func (h *Handler) parsePeriod(c echo.Context) (time.Time, time.Time, error) {
	now := h.svc.Now().UTC()
	start := now.AddDate(0, 0, -30)
	end := now
	if v := c.QueryParam("start"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("start must be YYYY-MM-DD")
		}
		start = t
	}
	if v := c.QueryParam("end"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("end must be YYYY-MM-DD")
		}
		// include the whole end day
		end = t.Add(24*time.Hour - time.Nanosecond)
	}
	return start, end, nil
}
