package balance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo, *mockBalanceRepo, *mockLedgerSource) {
	svc, repo, ledger := newTestService()
	return NewHandler(svc), echo.New(), repo, ledger
}

func TestHandler_Calculate(t *testing.T) {
	h, e, _, ledger := newTestHandler()
	ledger.activity["2025-07"] = []PeriodActivity{
		{MedicationName: "Diazepam", TotalIn: 100, TotalOut: 30},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/balances/calculate?year=2025&month=7", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Calculate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var balances []*MonthlyBalance
	json.Unmarshal(rec.Body.Bytes(), &balances)
	if len(balances) != 1 || balances[0].CalculatedFinalBalance != 70 {
		t.Errorf("unexpected response: %+v", balances)
	}
}

func TestHandler_Calculate_MissingPeriod(t *testing.T) {
	h, e, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/balances/calculate", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Calculate(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_RecordPhysicalCount_Conflict(t *testing.T) {
	h, e, repo, _ := newTestHandler()
	b := &MonthlyBalance{Year: 2025, Month: 7, MedicationName: "Diazepam", Status: StatusOpen}
	repo.CreateIfAbsent(context.Background(), b)
	repo.Close(context.Background(), b.ID, "u", testClock.Now())

	body := `{"physical_count":65}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	err := h.RecordPhysicalCount(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_Close(t *testing.T) {
	h, e, repo, _ := newTestHandler()
	b := &MonthlyBalance{Year: 2025, Month: 7, MedicationName: "Diazepam", Status: StatusOpen}
	repo.CreateIfAbsent(context.Background(), b)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	if err := h.Close(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var closed MonthlyBalance
	json.Unmarshal(rec.Body.Bytes(), &closed)
	if closed.Status != StatusClosed {
		t.Errorf("expected closed, got %s", closed.Status)
	}
}

func TestHandler_Close_InvalidID(t *testing.T) {
	h, e, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.Close(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ListOverdue(t *testing.T) {
	h, e, repo, _ := newTestHandler()
	b := &MonthlyBalance{Year: 2025, Month: 6, MedicationName: "Diazepam", Status: StatusOpen}
	repo.CreateIfAbsent(context.Background(), b)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/balances/overdue", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListOverdue(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var balances []*MonthlyBalance
	json.Unmarshal(rec.Body.Bytes(), &balances)
	if len(balances) != 1 {
		t.Errorf("expected 1 overdue balance, got %d", len(balances))
	}
}
