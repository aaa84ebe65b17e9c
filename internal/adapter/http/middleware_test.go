package http

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/middleware"
)

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestResponseWriter_Hijack(t *testing.T) {
	inner := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	var w http.ResponseWriter = &responseWriter{ResponseWriter: inner, status: http.StatusOK}

	if _, _, err := w.(http.Hijacker).Hijack(); err != nil {
		t.Fatalf("Hijack: %v", err)
	}
	if !inner.hijacked {
		t.Error("Hijack was not delegated")
	}

	plain := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := plain.Hijack(); err == nil {
		t.Error("expected an error from a writer that cannot be hijacked")
	}
}

func TestResponseWriter_Flush(t *testing.T) {
	inner := httptest.NewRecorder()
	var w http.ResponseWriter = &responseWriter{ResponseWriter: inner}
	w.(http.Flusher).Flush()
	if !inner.Flushed {
		t.Fatal("Flush was not delegated")
	}
}

func TestLogger_RecordsStatusAndActor(t *testing.T) {
	var seen *responseWriter
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
	})
	id := middleware.Identify(config.Identity{Header: "X-Reviewer-Email"})
	h := Logger(id(recordActor(final)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", http.NoBody)
	req.Header.Set("X-Reviewer-Email", "amy@x.org")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen == nil {
		t.Fatal("handler did not receive the wrapped writer")
	}
	if seen.status != http.StatusTeapot {
		t.Errorf("status = %d, want %d", seen.status, http.StatusTeapot)
	}
	if seen.actor != "amy@x.org" {
		t.Errorf("actor = %q, want amy@x.org", seen.actor)
	}
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	called := false
	h := CORS("https://review.example")(SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/actions", http.NoBody))
	if rec.Code != http.StatusNoContent || called {
		t.Fatalf("preflight: status %d, handler called %v", rec.Code, called)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://review.example" {
		t.Errorf("allow origin = %q", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if !called {
		t.Fatal("GET did not reach the handler")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}
}
