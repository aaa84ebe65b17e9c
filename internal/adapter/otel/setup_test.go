package otel_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	rfotel "github.com/Strob0t/ReviewForge/internal/adapter/otel"
	"github.com/Strob0t/ReviewForge/internal/config"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := rfotel.Init(context.Background(), config.OTEL{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestNewMetrics(t *testing.T) {
	m, err := rfotel.NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.ActionsAppended == nil || m.AggregationDuration == nil {
		t.Error("instruments not initialized")
	}
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	r := chi.NewRouter()
	r.Use(rfotel.HTTPMiddleware("test"))
	r.Get("/documents/{doc}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/d1", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}
