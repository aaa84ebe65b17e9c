package middleware

import (
	"context"
	"net/http"

	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/logger"
)

// Identity is the caller as asserted by the upstream session layer.
type Identity struct {
	Actor string `json:"actor"`
	Admin bool   `json:"admin"`
}

type identityCtxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext returns the caller identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok && id.Actor != ""
}

// Identify reads the reviewer identity from the configured trusted header.
// When the header is absent and a development actor is configured, that
// actor is used instead. An empty admin list makes every identified caller
// an admin.
func Identify(cfg config.Identity) func(http.Handler) http.Handler {
	header := cfg.Header
	if header == "" {
		header = "X-Reviewer-Email"
	}
	admins := make(map[string]bool, len(cfg.Admins))
	for _, a := range cfg.Admins {
		if a = review.NormalizeActor(a); a != "" {
			admins[a] = true
		}
	}
	dev := review.NormalizeActor(cfg.DevActor)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := review.NormalizeActor(r.Header.Get(header))
			if actor == "" {
				actor = dev
			}
			if actor == "" {
				next.ServeHTTP(w, r)
				return
			}
			id := Identity{Actor: actor, Admin: len(admins) == 0 || admins[actor]}
			ctx := logger.WithActor(WithIdentity(r.Context(), id), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireReviewer rejects requests without an identity.
func RequireReviewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			http.Error(w, `{"error":"reviewer identity required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin restricts access to identified admins.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, `{"error":"reviewer identity required"}`, http.StatusUnauthorized)
			return
		}
		if !id.Admin {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
