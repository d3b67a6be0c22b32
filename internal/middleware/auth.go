package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"chatwire/internal/errors"
	"chatwire/internal/hub"

	"github.com/sirupsen/logrus"
)

type contextKey string

const userIDKey contextKey = "auth_user_id"

// UserID returns the authenticated user id stored by Authenticate.
func UserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

// Authenticate resolves the bearer token and stores the user identity in the
// request context. Requests without a valid token are rejected with 401.
func Authenticate(verifier hub.TokenVerifier, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := hub.BearerToken(r)
			if token == "" {
				writeUnauthorized(w, errors.NewAuthError("missing token"))
				return
			}
			userID, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.WithField("path", r.URL.Path).Debug("Request rejected: invalid token")
				writeUnauthorized(w, errors.NewAuthError("invalid token"))
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, appErr *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": appErr.UserMessage,
		"code":  appErr.Code,
	})
}
