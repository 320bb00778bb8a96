package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Status != "healthy" || status.Service != serviceName {
		t.Errorf("Unexpected health payload: %+v", status)
	}
}

func TestReadinessHandler(t *testing.T) {
	ok := func(ctx context.Context) (bool, error) { return true, nil }
	down := func(ctx context.Context) (bool, error) { return false, errors.New("connection refused") }

	tests := []struct {
		name   string
		checks map[string]HealthCheckFunc
		code   int
		status string
	}{
		{"no checks", nil, http.StatusOK, "ready"},
		{"all healthy", map[string]HealthCheckFunc{"transport": ok, "upstream": ok}, http.StatusOK, "ready"},
		{"one down", map[string]HealthCheckFunc{"transport": ok, "upstream": down}, http.StatusServiceUnavailable, "not_ready"},
		{"nil skipped", map[string]HealthCheckFunc{"transport": nil}, http.StatusOK, "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.code {
				t.Errorf("Expected status %d, got %d", tt.code, rec.Code)
			}
			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("Failed to decode body: %v", err)
			}
			if status.Status != tt.status {
				t.Errorf("Expected %s, got %s", tt.status, status.Status)
			}
			if dep, ok := status.Dependencies["upstream"]; ok && dep.Status == "unhealthy" && dep.Message == "" {
				t.Error("Expected failure message for unhealthy dependency")
			}
		})
	}
}

func TestStatusHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	StatusHandler(func() interface{} {
		return map[string]int{"chunks": 3}
	})(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var body map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["chunks"] != 3 {
		t.Errorf("Expected chunks 3, got %d", body["chunks"])
	}
}
