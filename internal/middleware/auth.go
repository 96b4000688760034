package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/response"
)

type ContextKey string

const UserContextKey ContextKey = "currentUser"

// ClaimsFrom returns the authenticated caller stored by Authenticate.
func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// WithClaims stores claims in ctx. Used by Authenticate and by tests.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// AccountResolver reloads the account behind a token. It returns
// auth.ErrAccountInactive when the account was disabled, revoked or deleted.
type AccountResolver interface {
	Resolve(ctx context.Context, claims *auth.Claims) (*auth.Claims, error)
}

// Authenticate validates the bearer token and, when accounts is set, swaps
// the token's claims for the account's current state. The token query
// parameter is accepted as a fallback because browsers cannot set headers on
// WebSocket upgrades.
func Authenticate(secret string, accounts AccountResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if tokenStr == "" {
				tokenStr = r.URL.Query().Get("token")
			}
			if tokenStr == "" {
				response.WithError(w, http.StatusUnauthorized, "Missing auth token")
				return
			}

			claims, err := auth.ParseToken(secret, tokenStr)
			if err != nil {
				response.WithError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			if accounts != nil {
				claims, err = accounts.Resolve(r.Context(), claims)
				if errors.Is(err, auth.ErrAccountInactive) {
					response.WithError(w, http.StatusUnauthorized, "Account is no longer active")
					return
				}
				if err != nil {
					response.WithError(w, http.StatusInternalServerError, "Failed to verify account")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireKind rejects tokens of the other kind (staff vs external).
func RequireKind(kind auth.Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok || claims.Kind != kind {
				response.WithError(w, http.StatusForbidden, "This account cannot access this resource")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole allows staff callers holding one of roles.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok || claims.Kind != auth.KindUser {
				response.WithError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.WithError(w, http.StatusForbidden, "Insufficient permissions")
		})
	}
}

func ResponseWrapperMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
