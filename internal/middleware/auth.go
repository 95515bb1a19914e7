package middleware

import (
	"context"
	"net/http"

	"github.com/branlyclub/branlyclub/internal/auth"
	"github.com/branlyclub/branlyclub/internal/model"
	"github.com/branlyclub/branlyclub/internal/store"
)

const sessionCookieName = "branly_session"

// RequireAuth verifies the session cookie and populates AuthContext.
func RequireAuth(tokens *auth.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				unauthorized(w)
				return
			}

			ac, err := tokens.Parse(cookie.Value)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows only the listed roles through. Must run after RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed[auth.Role(r.Context())] {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin checks that the authenticated account has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			forbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type storeKey struct{}

// RequireAPIKey authenticates point-of-sale requests by the X-API-Key header
// and stashes the resolved store in the request context. Inactive stores do
// not resolve, so their keys are rejected here.
func RequireAPIKey(tenants *store.TenantStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, err := tenants.GetByAPIKey(r.Header.Get("X-API-Key"))
			if err != nil || st == nil {
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), storeKey{}, st)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StoreFromContext returns the store resolved by RequireAPIKey.
func StoreFromContext(ctx context.Context) *model.Store {
	st, _ := ctx.Value(storeKey{}).(*model.Store)
	return st
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}

func forbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"error":"forbidden"}`))
}
