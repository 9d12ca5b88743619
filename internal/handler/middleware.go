package handler

import (
	"context"
	"net/http"
	"strings"

	"auth-service/internal/service"
	"auth-service/internal/token"
)

type contextKey string

const claimsContextKey contextKey = "auth_claims"

// ClaimsFromContext returns the validated access claims of the request,
// or nil outside an authenticated route.
func ClaimsFromContext(ctx context.Context) *token.AccessClaims {
	claims, _ := ctx.Value(claimsContextKey).(*token.AccessClaims)
	return claims
}

// Authenticate validates the bearer token against the session store and
// injects the claims into the request context. A signed, unexpired token
// whose session was revoked does not pass.
func Authenticate(sessions *service.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			claims, err := sessions.ValidateAccessToken(r.Context(), raw)
			if err != nil {
				writeUnauthorized(w, "invalid session")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"success":false,"error":"` + message + `"}`))
}
