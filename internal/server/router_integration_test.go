package server

import (
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/dcruzimoveis/leadmatch/internal/database"
	"github.com/dcruzimoveis/leadmatch/internal/engine"
	"github.com/dcruzimoveis/leadmatch/internal/ids"
	"github.com/dcruzimoveis/leadmatch/internal/notify"
	"github.com/dcruzimoveis/leadmatch/internal/whatsapp"
	"go.uber.org/zap"
)

func newEngineRouter(t *testing.T) http.Handler {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), fmt.Sprintf("router_%d.db", time.Now().UnixNano()))
	db, err := database.Open(database.Options{Driver: "sqlite", Path: databasePath}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	clock := func() time.Time { return testNow }

	ledger, err := notify.NewGormLedger(notify.GormLedgerConfig{Database: db, IDProvider: ids.NewUUIDProvider(), Clock: clock})
	if err != nil {
		t.Fatalf("failed to build ledger: %v", err)
	}
	dispatcher, err := notify.NewDispatcher(notify.Config{
		Ledger:  ledger,
		Gateway: whatsapp.NewLogGateway(zap.NewNop()),
		Clock:   clock,
	})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}
	service, err := engine.NewService(engine.ServiceConfig{
		Repository: engine.NewGormRepository(db, clock),
		Dispatcher: dispatcher,
		Clock:      clock,
		IDProvider: ids.NewUUIDProvider(),
		SiteURL:    "https://dcruzimoveis.com.br",
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return newTestRouter(t, service, nil)
}

func TestEngineErrorsMapToHTTPStatus(t *testing.T) {
	handler := newEngineRouter(t)
	token := adminToken(t)

	testCases := []struct {
		name       string
		method     string
		path       string
		body       string
		token      string
		wantStatus int
		wantError  string
		wantCode   string
	}{
		{
			name:       "invalid contact",
			method:     http.MethodPost,
			path:       "/leads",
			body:       `{"name": "Maria"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_contact",
			wantCode:   "engine.record_interest.invalid_contact",
		},
		{
			name:       "unknown listing of interest",
			method:     http.MethodPost,
			path:       "/leads",
			body:       `{"name": "Maria", "email": "maria@example.com", "property_id": "missing"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown lead opt-out",
			method:     http.MethodPost,
			path:       "/opt-out/missing",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown listing match",
			method:     http.MethodPost,
			path:       "/admin/properties/missing/match",
			token:      token,
			wantStatus: http.StatusNotFound,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := performRequest(handler, testCase.method, testCase.path, testCase.body, testCase.token)
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
			}
			body := decodeBody(t, recorder)
			if testCase.wantError != "" && body["error"] != testCase.wantError {
				t.Fatalf("unexpected error %v", body["error"])
			}
			if testCase.wantCode != "" && body["code"] != testCase.wantCode {
				t.Fatalf("unexpected code %v", body["code"])
			}
			if code, _ := body["code"].(string); code == "" {
				t.Fatalf("expected an operation code, got %v", body)
			}
		})
	}
}

func TestPriceReductionFlowOverHTTP(t *testing.T) {
	handler := newEngineRouter(t)
	token := adminToken(t)

	recorder := performRequest(handler, http.MethodPost, "/admin/properties", `{
		"title": "Casa no Lago Sul",
		"listing_type": "venda",
		"status": "disponivel",
		"price": 500000,
		"city": "Brasília",
		"state": "DF",
		"latitude": -15.84,
		"longitude": -47.87
	}`, token)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected create status %d: %s", recorder.Code, recorder.Body.String())
	}
	propertyID := decodeBody(t, recorder)["property"].(map[string]any)["id"].(string)

	for _, phone := range []string{"61996900444", "61988887777"} {
		body := fmt.Sprintf(`{"property_id": %q, "name": "Cliente", "phone": %q}`, propertyID, phone)
		recorder = performRequest(handler, http.MethodPost, "/price-alerts", body, "")
		if recorder.Code != http.StatusCreated {
			t.Fatalf("unexpected subscribe status %d: %s", recorder.Code, recorder.Body.String())
		}
	}

	recorder = performRequest(handler, http.MethodPut, "/admin/properties/"+propertyID, `{"title": "Casa no Lago Sul", "price": 0}`, token)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected zero price to be rejected, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if code := decodeBody(t, recorder)["code"]; code != "engine.upsert_property.invalid_property" {
		t.Fatalf("unexpected code %v", code)
	}

	recorder = performRequest(handler, http.MethodPut, "/admin/properties/"+propertyID, `{
		"title": "Casa no Lago Sul",
		"listing_type": "venda",
		"status": "disponivel",
		"price": 450000,
		"city": "Brasília",
		"state": "DF",
		"latitude": -15.84,
		"longitude": -47.87
	}`, token)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected update status %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if body["price_reduction_occurred"] != true {
		t.Fatalf("expected a price reduction, got %v", body)
	}
	if sent := body["summary"].(map[string]any)["sent"]; sent != float64(2) {
		t.Fatalf("expected two sent notifications, got %v", sent)
	}
	property := body["property"].(map[string]any)
	if property["price_reduced"] != true {
		t.Fatalf("expected reduced badge, got %v", property)
	}
}
