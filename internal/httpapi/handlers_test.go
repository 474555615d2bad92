package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/cache"
	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/pricing"
	"apotekpos/backend/internal/service"
	"apotekpos/backend/internal/store/memory"
)

func newTestAPI() *API {
	repo := memory.NewSeeded()
	svc := service.New(repo, pricing.NewEngine(0), cache.NoopCatalogCache{}, 5*time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	return New(svc, auth, "*")
}

func doRequest(t *testing.T, api *API, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, api *API, username, password string) string {
	t.Helper()
	rec := doRequest(t, api, http.MethodPost, "/api/v1/auth/login", "", `{"username":"`+username+`","password":"`+password+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected access token in response")
	}
	return resp.AccessToken
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI()

	rec := doRequest(t, api, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	api := newTestAPI()

	rec := doRequest(t, api, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMedicinesRequireToken(t *testing.T) {
	api := newTestAPI()

	rec := doRequest(t, api, http.MethodGet, "/api/v1/medicines", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/medicines", "not-a-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestListMedicinesWithToken(t *testing.T) {
	api := newTestAPI()
	token := login(t, api, "kasir", "kasir123")

	rec := doRequest(t, api, http.MethodGet, "/api/v1/medicines", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Medicines []domain.Medicine `json:"medicines"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode medicines: %v", err)
	}
	if len(resp.Medicines) < 7 {
		t.Fatalf("expected seeded catalog, got %d entries", len(resp.Medicines))
	}
}

func TestCheckoutEndToEnd(t *testing.T) {
	api := newTestAPI()
	token := login(t, api, "kasir", "kasir123")

	body := `{
		"staff_id": "STF-002",
		"lines": [{"medicine_id": "MED-PARA-500", "qty": 2}],
		"discount_rate_percent": 10,
		"payment_method": "cash",
		"tendered_amount": "50.00"
	}`
	rec := doRequest(t, api, http.MethodPost, "/api/v1/checkout", token, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout response: %v", err)
	}
	if resp.Transaction.ReceiptNo != "RC-000001" {
		t.Fatalf("expected receipt RC-000001, got %s", resp.Transaction.ReceiptNo)
	}
	if !resp.Transaction.Balance.Equal(decimal.RequireFromString("17.60")) {
		t.Fatalf("expected balance 17.60, got %s", resp.Transaction.Balance)
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/transactions/receipt/RC-000001", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected receipt lookup 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCheckoutOversellReturnsConflict(t *testing.T) {
	api := newTestAPI()
	token := login(t, api, "kasir", "kasir123")

	body := `{
		"staff_id": "STF-002",
		"lines": [{"medicine_id": "MED-OBH-100", "qty": 6}],
		"payment_method": "card"
	}`
	rec := doRequest(t, api, http.MethodPost, "/api/v1/checkout", token, body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCheckoutMissingCredentialReturns422(t *testing.T) {
	api := newTestAPI()
	token := login(t, api, "kasir", "kasir123")

	body := `{
		"staff_id": "STF-001",
		"lines": [{"medicine_id": "MED-AMOX-500", "qty": 1}],
		"payment_method": "card"
	}`
	rec := doRequest(t, api, http.MethodPost, "/api/v1/checkout", token, body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCheckoutRejectsUnknownFields(t *testing.T) {
	api := newTestAPI()
	token := login(t, api, "kasir", "kasir123")

	rec := doRequest(t, api, http.MethodPost, "/api/v1/checkout", token, `{"staff_id":"STF-002","surprise":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestCreateMedicineForbiddenForCashier(t *testing.T) {
	api := newTestAPI()
	token := login(t, api, "kasir", "kasir123")

	body := `{"id": "MED-NEW-1", "name": "Cetirizine 10mg", "unit_price": "14.00", "initial_stock": 30}`
	rec := doRequest(t, api, http.MethodPost, "/api/v1/medicines", token, body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier create, got %d: %s", rec.Code, rec.Body.String())
	}

	adminToken := login(t, api, "admin", "admin123")
	rec = doRequest(t, api, http.MethodPost, "/api/v1/medicines", adminToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for admin create, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCustomerSearchRanksIdentifiedFirst(t *testing.T) {
	api := newTestAPI()
	token := login(t, api, "kasir", "kasir123")

	rec := doRequest(t, api, http.MethodGet, "/api/v1/customers/search?q=Dewi", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Candidates []customerCandidate `json:"candidates"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode search response: %v", err)
	}
	if len(resp.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(resp.Candidates))
	}
	if resp.Candidates[0].Customer.Name != "Dewi Lestari" {
		t.Fatalf("expected identified customer first, got %s", resp.Candidates[0].Customer.Name)
	}
}

func TestDailyReportAdminOnly(t *testing.T) {
	api := newTestAPI()

	cashierToken := login(t, api, "kasir", "kasir123")
	rec := doRequest(t, api, http.MethodGet, "/api/v1/reports/daily?date=2026-09-01", cashierToken, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	adminToken := login(t, api, "admin", "admin123")
	rec = doRequest(t, api, http.MethodGet, "/api/v1/reports/daily?date=2026-09-01", adminToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSecurityHeadersAndCORS(t *testing.T) {
	api := newTestAPI()

	rec := doRequest(t, api, http.MethodGet, "/healthz", "", "")
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected nosniff header, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS origin header, got %q", got)
	}

	rec = doRequest(t, api, http.MethodOptions, "/api/v1/medicines", "", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
}
