package apihttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sitesense-collector/internal/telemetry/application"
)

type stubPipeline struct {
	status application.Status
}

func (s *stubPipeline) Status() application.Status { return s.status }

type stubBroker struct {
	state string
}

func (s *stubBroker) State() string { return s.state }

func TestStatusHandler_Snapshot(t *testing.T) {
	pipeline := &stubPipeline{status: application.Status{
		MessagesReceived: 42,
		PointsBuffered:   84,
		PointBufferDepth: 3,
	}}
	handler := NewStatusHandler(pipeline, &stubBroker{state: "connected"})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["messages_received"] != float64(42) {
		t.Errorf("messages_received = %v, want 42", body["messages_received"])
	}
	if body["broker_state"] != "connected" {
		t.Errorf("broker_state = %v, want connected", body["broker_state"])
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("missing uptime_seconds")
	}
}

func TestStatusHandler_MethodNotAllowed(t *testing.T) {
	handler := NewStatusHandler(&stubPipeline{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

type stubInvalidator struct {
	externalID string
	broker     string
	calls      int
}

func (s *stubInvalidator) Invalidate(externalID, broker string) {
	s.externalID = externalID
	s.broker = broker
	s.calls++
}

func TestInvalidateHandler(t *testing.T) {
	cache := &stubInvalidator{}
	handler := NewInvalidateHandler(cache)

	body := strings.NewReader(`{"external_id":"X1","broker":"site-broker"}`)
	req := httptest.NewRequest(http.MethodPost, "/devices/invalidate", body)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if cache.calls != 1 || cache.externalID != "X1" || cache.broker != "site-broker" {
		t.Fatalf("invalidate call: %+v", cache)
	}
}

func TestInvalidateHandler_MissingExternalID(t *testing.T) {
	cache := &stubInvalidator{}
	handler := NewInvalidateHandler(cache)

	req := httptest.NewRequest(http.MethodPost, "/devices/invalidate", strings.NewReader(`{"broker":"b"}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if cache.calls != 0 {
		t.Fatalf("invalidate must not be called, calls=%d", cache.calls)
	}
}

func TestHealthzHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	HealthzHandler().ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Body.String() != `{"status":"ok"}` {
		t.Errorf("unexpected body %q", resp.Body.String())
	}
}
