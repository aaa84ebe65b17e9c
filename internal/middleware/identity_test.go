package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/middleware"
)

func identityCapture(got *middleware.Identity, seen *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, *seen = middleware.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestIdentifyReadsHeader(t *testing.T) {
	var (
		got  middleware.Identity
		seen bool
	)
	cfg := config.Identity{Header: "X-Reviewer-Email", Admins: []string{"Lead@X.org"}}
	h := middleware.Identify(cfg)(identityCapture(&got, &seen))

	tests := []struct {
		name      string
		header    string
		wantActor string
		wantAdmin bool
	}{
		{"reviewer", " Amy@X.org ", "amy@x.org", false},
		{"admin", "lead@x.org", "lead@x.org", true},
		{"anonymous", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.header != "" {
				req.Header.Set("X-Reviewer-Email", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got.Actor != tt.wantActor || got.Admin != tt.wantAdmin {
				t.Errorf("identity = %+v, want %s admin=%v", got, tt.wantActor, tt.wantAdmin)
			}
			if seen != (tt.wantActor != "") {
				t.Errorf("seen = %v", seen)
			}
		})
	}
}

func TestIdentifyDevActor(t *testing.T) {
	var (
		got  middleware.Identity
		seen bool
	)
	h := middleware.Identify(config.Identity{DevActor: "dev@localhost"})(identityCapture(&got, &seen))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if !seen || got.Actor != "dev@localhost" || !got.Admin {
		t.Errorf("identity = %+v (%v), want dev admin", got, seen)
	}
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	cfg := config.Identity{Admins: []string{"lead@x.org"}}
	h := middleware.Identify(cfg)(middleware.RequireAdmin(ok))

	tests := []struct {
		actor string
		want  int
	}{
		{"", http.StatusUnauthorized},
		{"amy@x.org", http.StatusForbidden},
		{"lead@x.org", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		if tt.actor != "" {
			req.Header.Set("X-Reviewer-Email", tt.actor)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("actor %q: status = %d, want %d", tt.actor, rec.Code, tt.want)
		}
	}
}

func TestRequireReviewer(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := middleware.Identify(config.Identity{})(middleware.RequireReviewer(ok))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Reviewer-Email", "amy@x.org")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("identified status = %d, want 200", rec.Code)
	}
}
