package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo, *mockDispenseSource) {
	svc, _, disp := newTestService()
	return NewHandler(svc), echo.New(), disp
}

func TestHandler_RegisterStockEntry(t *testing.T) {
	h, e, _ := newTestHandler()

	body := `{"medication_name":"Diazepam 10mg","quantity":100,"document_ref":"NF-1234"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/registry/stock-entries", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.RegisterStockEntry(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var entry RegistryEntry
	json.Unmarshal(rec.Body.Bytes(), &entry)
	if entry.Balance != 100 {
		t.Errorf("expected balance 100, got %v", entry.Balance)
	}
}

func TestHandler_RegisterStockEntry_BadRequest(t *testing.T) {
	h, e, _ := newTestHandler()

	body := `{"medication_name":"Diazepam 10mg","quantity":-5,"document_ref":"NF-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/registry/stock-entries", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.RegisterStockEntry(c)
	if err == nil {
		t.Fatal("expected error for negative quantity")
	}
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_RegisterPrescriptionEntry_Conflict(t *testing.T) {
	h, e, disp := newTestHandler()

	pid := uuid.New()
	disp.prescriptions[pid] = dispensedFixture(pid, DispensedItem{MedicationName: "Diazepam", Quantity: 10})
	if _, err := h.svc.RegisterPrescriptionEntry(context.Background(), pid, "u"); err != nil {
		t.Fatalf("seed registration failed: %v", err)
	}

	body := `{"prescription_id":"` + pid.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/registry/prescription-entries", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.RegisterPrescriptionEntry(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_RegisterPrescriptionEntry_NotFound(t *testing.T) {
	h, e, _ := newTestHandler()

	body := `{"prescription_id":"` + uuid.NewString() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/registry/prescription-entries", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.RegisterPrescriptionEntry(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_GetBalance(t *testing.T) {
	h, e, _ := newTestHandler()
	h.svc.RegisterStockEntry(context.Background(), &StockEntryInput{
		MedicationName: "Diazepam 10mg", Quantity: 40, DocumentRef: "NF-1",
	}, "u")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues("Diazepam 10mg")

	if err := h.GetBalance(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["balance"].(float64) != 40 {
		t.Errorf("expected balance 40, got %v", resp["balance"])
	}
}

func TestHandler_ListEntries_BadPeriod(t *testing.T) {
	h, e, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/entries?start=not-a-date", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ListEntries(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ListMedicationEntries(t *testing.T) {
	h, e, _ := newTestHandler()
	ctx := context.Background()
	h.svc.RegisterStockEntry(ctx, &StockEntryInput{MedicationName: "Diazepam 10mg", Quantity: 10, DocumentRef: "NF-1"}, "u")
	h.svc.RegisterStockEntry(ctx, &StockEntryInput{MedicationName: "Diazepam 10mg", Quantity: 5, DocumentRef: "NF-2"}, "u")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues("Diazepam 10mg")

	if err := h.ListMedicationEntries(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Errorf("expected total 2, got %d", resp.Total)
	}
}

func TestHandler_ListEntries_DefaultWindowUsesClock(t *testing.T) {
	h, e, _ := newTestHandler()
	// Entry dated by the fixed clock; the wall clock would put the
	// default 30-day window nowhere near it.
	h.svc.RegisterStockEntry(context.Background(), &StockEntryInput{
		MedicationName: "Diazepam 10mg", Quantity: 10, DocumentRef: "NF-1",
	}, "u")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/entries", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListEntries(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("expected the clock-dated entry inside the default window, got total %d", resp.Total)
	}
}

func TestHandler_ListEntries_PaginationLinks(t *testing.T) {
	h, e, _ := newTestHandler()
	ctx := context.Background()
	h.svc.RegisterStockEntry(ctx, &StockEntryInput{MedicationName: "Diazepam 10mg", Quantity: 10, DocumentRef: "NF-1"}, "u")
	h.svc.RegisterStockEntry(ctx, &StockEntryInput{MedicationName: "Diazepam 10mg", Quantity: 5, DocumentRef: "NF-2"}, "u")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/entries?limit=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListEntries(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Links []struct {
			Relation string `json:"relation"`
			URL      string `json:"url"`
		} `json:"links"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)

	relations := make(map[string]string)
	for _, l := range resp.Links {
		relations[l.Relation] = l.URL
	}
	if _, ok := relations["self"]; !ok {
		t.Error("expected self link in paginated response")
	}
	next, ok := relations["next"]
	if !ok {
		t.Fatal("expected next link when more entries remain")
	}
	if !strings.Contains(next, "/api/v1/registry/entries?offset=1&limit=1") {
		t.Errorf("unexpected next link: %s", next)
	}
}
