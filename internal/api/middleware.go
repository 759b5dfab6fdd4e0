/**
 * @description
 * This file provides the authentication middleware for the HTTP API. It
 * extracts the session token from the "Authorization: Bearer" header, resolves
 * it through the SessionResolver, and stores the resulting actor in the
 * request context for handlers to consume.
 */
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/refundly/refund-service/internal/auth"
	"github.com/refundly/refund-service/internal/domain"
)

// actorContextKey is a custom type for the context key to avoid collisions.
type actorContextKey struct{}

// AuthMiddleware creates a middleware that resolves the bearer token into an
// actor. Requests without a valid session never reach a handler.
func AuthMiddleware(resolver auth.SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, "Unauthorized: missing auth credentials", http.StatusUnauthorized)
				return
			}

			session, err := resolver.ResolveSession(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrSessionInvalid) {
					http.Error(w, "Unauthorized: invalid or expired session", http.StatusUnauthorized)
					return
				}
				http.Error(w, "session lookup unavailable", http.StatusServiceUnavailable)
				return
			}
			if session.Expired(time.Now()) {
				http.Error(w, "Unauthorized: invalid or expired session", http.StatusUnauthorized)
				return
			}

			actor := domain.Actor{UserID: session.UserID, Role: session.Role}
			ctx := context.WithValue(r.Context(), actorContextKey{}, actor)
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
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ActorFromContext retrieves the authenticated actor from the request context.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}
