package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/api/middleware"
	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/conversation"
	"github.com/leadline-ai/leadline/internal/rooms"
)

func newTestHandler(t *testing.T, cfg *config.Config) *Handler {
	t.Helper()
	logger := zerolog.Nop()
	registry := rooms.NewRegistry(logger)
	orch := conversation.NewOrchestrator(registry, nil, nil, nil, nil, nil, conversation.Options{}, logger)
	t.Cleanup(orch.Shutdown)
	return NewHandler(nil, nil, registry, orch, middleware.NewTokenVerifier(testSecret, false), cfg, logger)
}

func TestHealthDegradedWithoutDatabase(t *testing.T) {
	h := newTestHandler(t, &config.Config{Env: "test"})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a database, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "degraded" {
		t.Fatalf("expected degraded status, got %q", resp.Status)
	}
	if resp.Env != "test" {
		t.Fatalf("expected configured environment in the report, got %q", resp.Env)
	}
	if resp.Checks["database"].Status != "fail" {
		t.Fatalf("database check should fail, got %+v", resp.Checks["database"])
	}
}
