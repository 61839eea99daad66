// backend/internal/auth/middleware.go
package auth

import (
	"context"
	"net/http"

	"challenge-system/internal/apperr"
	"challenge-system/internal/middleware"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Middleware rejects requests that do not carry a valid identity and stores the
// caller's user id in the request context.
func Middleware(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := authn.Authenticate(r)
			if err != nil {
				if apperr.KindOf(err) != apperr.KindUnauthorized {
					err = apperr.Unauthorized("invalid token", err)
				}
				apperr.Write(w, err)
				return
			}

			middleware.SetUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
