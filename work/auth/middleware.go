package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"iptv-gate/work/logger"
	"iptv-gate/work/types"
)

type ctxKey struct{}

// NewContext returns ctx carrying id.
func NewContext(ctx context.Context, id *types.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity attached by Middleware, or nil.
func FromContext(ctx context.Context) *types.Identity {
	id, _ := ctx.Value(ctxKey{}).(*types.Identity)
	return id
}

// Middleware attaches the caller's identity when a valid bearer token is present. Requests
// without one pass through anonymously; RequireRole decides what they may do.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		tok, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tok) == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		id, err := s.Authenticate(r.Context(), strings.TrimSpace(tok))
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				logger.Error("{auth/middleware - Middleware} failed to load session user: %v", err)
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			writeError(w, http.StatusUnauthorized, "Invalid or expired session")
			return
		}

		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
	})
}

// RequireRole rejects callers that are anonymous (401) or below role (403).
func RequireRole(role types.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		if id == nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="iptv-gate"`)
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !id.Role.AtLeast(role) {
			writeError(w, http.StatusForbidden, "Insufficient permissions")
			return
		}
		next(w, r)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
