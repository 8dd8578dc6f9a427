package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/inbound-gateway/internal/addresses"
	"github.com/ignite/inbound-gateway/internal/config"
	"github.com/ignite/inbound-gateway/internal/dispatch"
	"github.com/ignite/inbound-gateway/internal/domains"
	"github.com/ignite/inbound-gateway/internal/endpoints"
	"github.com/ignite/inbound-gateway/internal/mailer"
	"github.com/ignite/inbound-gateway/internal/payload"
)

type stubGate struct{ blocked bool }

func (s *stubGate) IsBlocked(ctx context.Context, address string) (bool, error) {
	return s.blocked, nil
}

type stubAddrs struct{}

func (stubAddrs) GetByAddress(ctx context.Context, address string) (*addresses.EmailAddress, error) {
	return nil, addresses.ErrNotFound
}

type stubDomains struct{}

func (stubDomains) GetByName(ctx context.Context, name string) (*domains.Domain, error) {
	return nil, domains.ErrNotFound
}

type stubEndpoints struct{}

func (stubEndpoints) Get(ctx context.Context, userID, id string) (*endpoints.Endpoint, error) {
	return nil, endpoints.ErrNotFound
}

type stubForwarder struct{}

func (stubForwarder) Forward(ctx context.Context, userID string, data payload.BaseEmailData, to string) (*mailer.SentEmail, error) {
	return &mailer.SentEmail{Status: mailer.StatusSent}, nil
}

func testServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	dispatcher := dispatch.NewDispatcher(&stubGate{}, stubAddrs{}, stubDomains{},
		stubEndpoints{}, stubForwarder{}, nil, nil, nil, cfg.Delivery)
	h := NewHandlers(cfg, domains.NewStore(db), nil, addresses.NewStore(db),
		endpoints.NewStore(db), nil, nil, dispatcher, dispatch.NewRecordStore(db))
	return NewServer(cfg.Server, h)
}

func TestHealthCheck(t *testing.T) {
	srv := testServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestIngestRejectsBadBearer(t *testing.T) {
	cfg := &config.Config{}
	cfg.Ingest.ServiceAPIKey = "sekrit"
	srv := testServer(t, cfg)

	tests := []struct {
		name string
		auth string
	}{
		{"missing", ""},
		{"wrong key", "Bearer nope"},
		{"not bearer", "Basic sekrit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader("{}"))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestIngestMalformedPayloadStillAccepted(t *testing.T) {
	cfg := &config.Config{}
	cfg.Ingest.ServiceAPIKey = "sekrit"
	srv := testServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer sekrit")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	// The upstream forwarder retries on non-200; internal failures are
	// logged, never propagated.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even for garbage", rec.Code)
	}
}

func TestIngestAcknowledgesEvent(t *testing.T) {
	cfg := &config.Config{}
	cfg.Ingest.ServiceAPIKey = "sekrit"
	srv := testServer(t, cfg)

	event := `{"type":"ses_event_with_content","processedRecords":[{"ses":{"receipt":{"recipients":["a@example.com"]},"mail":{"messageId":"m1"}},"emailContent":{"text":"hi"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader(event))
	req.Header.Set("Authorization", "Bearer sekrit")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Records int    `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "accepted" || body.Records != 1 {
		t.Errorf("body = %+v", body)
	}
	// Give the detached dispatch a moment so the test does not leak its
	// goroutine into later tests' logs.
	time.Sleep(50 * time.Millisecond)
}

func TestCreateDomainRejectsInvalidName(t *testing.T) {
	srv := testServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/domains", strings.NewReader(`{"domain_name":"not a domain"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateEndpointRejectsBadConfig(t *testing.T) {
	srv := testServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"bad url", `{"name":"h","type":"webhook","config":{"url":"not-a-url"}}`},
		{"empty group", `{"name":"g","type":"email_group","config":{"emails":[]}}`},
		{"unknown type", `{"name":"x","type":"pager","config":{}}`},
		{"bad forward", `{"name":"f","type":"email","config":{"email":"nope"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/endpoints", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}
