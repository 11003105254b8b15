package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})
	server := NewHTTPServer(svc, "*")

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		req := httptest.NewRequest(method, "/api/health", nil)
		rr := httptest.NewRecorder()

		server.Handler().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("%s /api/health: expected status 200, got %d", method, rr.Code)
		}
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if status := response["status"]; status != "ready" {
		t.Errorf("expected status=ready, got %v", status)
	}

	checks, ok := response["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks object, got %v", response["checks"])
	}
	dbCheck, ok := checks["database"].(map[string]any)
	if !ok {
		t.Fatalf("expected database check, got %v", checks["database"])
	}
	if dbStatus := dbCheck["status"]; dbStatus != "ok" {
		t.Errorf("expected database status=ok, got %v", dbStatus)
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error {
			return errors.New("connection refused")
		},
	}
	svc := newTestService(fs, &fakeRevisions{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != false {
		t.Errorf("expected ok=false, got %v", ok)
	}
	if status := response["status"]; status != "not_ready" {
		t.Errorf("expected status=not_ready, got %v", status)
	}

	checks, _ := response["checks"].(map[string]any)
	dbCheck, ok := checks["database"].(map[string]any)
	if !ok {
		t.Fatalf("expected database check, got %v", checks)
	}
	if dbCheck["status"] != "error" || dbCheck["error"] != "connection refused" {
		t.Errorf("unexpected database check: %v", dbCheck)
	}
}

func TestReadyEndpoint_IncludesRedisWhenConfigured(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})
	svc.sessionPinger = pingFunc(func(context.Context) error { return nil })
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	checks, _ := response["checks"].(map[string]any)
	if _, ok := checks["redis"].(map[string]any); !ok {
		t.Errorf("expected a redis check, got %v", checks)
	}
}

func TestHealthEndpoint_OptionsRequest(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestHealthEndpoint_CORSHeaders(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})
	server := NewHTTPServer(svc, "https://ops.example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "https://ops.example.com" {
		t.Errorf("expected the configured CORS origin, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected a request id header")
	}
}
