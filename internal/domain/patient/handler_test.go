package patient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func setupHandler(t *testing.T) (*Handler, *mockRepo) {
	t.Helper()
	repo := newMockRepo()
	return NewHandler(NewService(repo)), repo
}

func TestHandler_GetPatient(t *testing.T) {
	h, repo := setupHandler(t)
	seeded := seedPatient(t, repo, "MRN001", "Ada", "Lovelace", "1815-12-10")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("1")

	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != seeded.ID || got.MRN != "MRN001" {
		t.Errorf("unexpected patient: %+v", got)
	}
}

func TestHandler_GetPatient_InvalidID(t *testing.T) {
	h, _ := setupHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/abc", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("abc")

	err := h.GetPatient(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", httpErr.Code)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	h, _ := setupHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/42", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("42")

	err := h.GetPatient(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", httpErr.Code)
	}
}

func TestHandler_ListPatients(t *testing.T) {
	h, repo := setupHandler(t)
	seedPatient(t, repo, "MRN001", "Ada", "Lovelace", "1815-12-10")
	seedPatient(t, repo, "MRN002", "Grace", "Hopper", "1906-12-09")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Total != 2 {
		t.Errorf("expected total 2, got %d", got.Total)
	}
	if got.Page != 1 || got.PageSize != 10 {
		t.Errorf("expected default page 1 size 10, got page %d size %d", got.Page, got.PageSize)
	}
	if len(got.Patients) != 2 {
		t.Errorf("expected 2 patients, got %d", len(got.Patients))
	}
}

func TestHandler_ListPatients_FilterByMRN(t *testing.T) {
	h, repo := setupHandler(t)
	seedPatient(t, repo, "MRN001", "Ada", "Lovelace", "1815-12-10")
	seedPatient(t, repo, "MRN002", "Grace", "Hopper", "1906-12-09")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients?mrn=MRN002", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Total != 1 {
		t.Fatalf("expected total 1, got %d", got.Total)
	}
	if got.Patients[0].MRN != "MRN002" {
		t.Errorf("expected MRN002, got %s", got.Patients[0].MRN)
	}
}

func TestHandler_ListPatients_Paged(t *testing.T) {
	h, repo := setupHandler(t)
	seedPatient(t, repo, "MRN001", "A", "One", "1990-01-01")
	seedPatient(t, repo, "MRN002", "B", "Two", "1990-01-02")
	seedPatient(t, repo, "MRN003", "C", "Three", "1990-01-03")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients?page=2&page_size=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Total != 3 || got.Page != 2 || got.PageSize != 2 {
		t.Errorf("unexpected page metadata: %+v", got)
	}
	if len(got.Patients) != 1 || got.Patients[0].MRN != "MRN003" {
		t.Errorf("expected only MRN003 on page 2, got %d patients", len(got.Patients))
	}
}
