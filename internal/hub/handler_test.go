package hub

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"chatwire/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testHandler() *Handler {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	verifier := NewStaticVerifier(map[string]models.StaticIdentity{
		"token-alice": {UserID: "alice"},
	})
	return NewHandler(testHub(nil, nil), verifier, logger)
}

func TestHandlerRejectsMissingToken(t *testing.T) {
	handler := testHandler()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerRejectsInvalidToken(t *testing.T) {
	handler := testHandler()
	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerRejectsPlainHTTPWithValidToken(t *testing.T) {
	handler := testHandler()
	rec := httptest.NewRecorder()
	// Valid identity but no websocket upgrade headers: the handshake fails
	// before any client state is created.
	r := httptest.NewRequest("GET", "/ws?token=token-alice", nil)
	handler.ServeHTTP(rec, r)
	assert.NotEqual(t, http.StatusSwitchingProtocols, rec.Code)
}
