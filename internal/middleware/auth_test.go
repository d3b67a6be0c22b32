package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatwire/internal/errors"
	"chatwire/internal/hub"
	"chatwire/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authMiddleware() func(http.Handler) http.Handler {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	verifier := hub.NewStaticVerifier(map[string]models.StaticIdentity{
		"token-alice": {UserID: "alice"},
	})
	return Authenticate(verifier, logger)
}

func TestAuthenticatePassesIdentity(t *testing.T) {
	var gotUserID string
	handler := authMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r.Context())
		require.True(t, ok)
		gotUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/conversations", nil)
	r.Header.Set("Authorization", "Bearer token-alice")
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", gotUserID)
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	handler := authMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(errors.ErrCodeAuthentication), body["code"])
	assert.Equal(t, "Authentication failed", body["error"])
}

func TestAuthenticateRejectsInvalidToken(t *testing.T) {
	handler := authMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/conversations", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserIDAbsent(t *testing.T) {
	_, ok := UserID(httptest.NewRequest("GET", "/", nil).Context())
	assert.False(t, ok)
}
