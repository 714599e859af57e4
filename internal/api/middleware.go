package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/majeggstics/snapshotd/internal/auth"
	"github.com/majeggstics/snapshotd/internal/models"
	"github.com/majeggstics/snapshotd/internal/ops"
)

type contextKey string

const principalContextKey contextKey = "principal"

// recoverer converts any panic in a downstream handler into the same
// JSON error envelope every other failure path uses, per spec.md §7's
// "catch-all at the top of each handler" rule.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				ops.Default().LogPanic(rec, string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireBearer extracts and verifies the Authorization header,
// storing the resulting Principal on the request context (C10).
func requireBearer(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			principal, err := verifier.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func principalFromContext(r *http.Request) (models.Principal, bool) {
	p, ok := r.Context().Value(principalContextKey).(models.Principal)
	return p, ok
}
