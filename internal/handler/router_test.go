package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/korulabs/lead-engine/internal/handler"
	"github.com/korulabs/lead-engine/internal/infra/observability"

	"go.uber.org/zap"
)

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error {
	return errors.New("database is down")
}

func newTestRouter(pinger interface{ PingContext(context.Context) error }) http.Handler {
	return handler.NewRouter(handler.Services{}, observability.NewMetrics(), pinger, zap.NewNop())
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHealthz_FailingPinger(t *testing.T) {
	router := newTestRouter(failingPinger{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unhealthy") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	router := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestIngestEvent_InvalidBody(t *testing.T) {
	router := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestManualRoute_MissingPipeline(t *testing.T) {
	router := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/leads/lead-1/route/manual", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pipeline is required") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestUpdateScore_InvalidBody(t *testing.T) {
	router := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/leads/lead-1/score", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestMoveStage_MissingStage(t *testing.T) {
	router := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/deals/d1/stage", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
