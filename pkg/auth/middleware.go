// Package auth provides the bearer-token middleware and the request
// context plumbing for verified claims.
package auth

import (
	"net/http"
	"strings"

	"github.com/finllm-labs/gateway/pkg/api"
	"github.com/finllm-labs/gateway/pkg/credentials"
)

// publicPaths are endpoints the session middleware does not guard:
// unauthenticated endpoints, plus /agent/execute, which authenticates
// its own delegation token inside the pipeline.
var publicPaths = []string{
	"/health",
	"/auth/login",
	"/agent/execute",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// BearerToken extracts the token from an Authorization header.
// Returns "" when the header is absent or not a Bearer scheme.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// NewMiddleware builds session-token middleware. Non-public requests
// without a valid token are rejected; a nil service fails closed.
func NewMiddleware(creds *credentials.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := BearerToken(r)
			if token == "" {
				api.WriteUnauthorized(w, "Not authenticated")
				return
			}
			if creds == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := creds.Decode(token)
			if err != nil {
				api.WriteUnauthorized(w, "Could not validate credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireAnyRole wraps a handler with a role gate. The request must
// already carry verified claims.
func RequireAnyRole(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := GetClaims(r.Context())
		if err != nil {
			api.WriteUnauthorized(w, "")
			return
		}
		for _, have := range claims.Roles {
			for _, want := range roles {
				if have == want {
					next(w, r)
					return
				}
			}
		}
		api.WriteForbidden(w, "")
	}
}
