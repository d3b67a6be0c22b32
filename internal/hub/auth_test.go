package hub

import (
	"context"
	"net/http/httptest"
	"testing"

	"chatwire/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticVerifier(t *testing.T) {
	verifier := NewStaticVerifier(map[string]models.StaticIdentity{
		"token-alice": {UserID: "alice", Role: "member"},
		"broken":      {},
	})

	userID, err := verifier.Verify(context.Background(), "token-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	_, err = verifier.Verify(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// An entry without a user id never authenticates.
	_, err = verifier.Verify(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = verifier.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerTokenFromHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer token-alice")
	assert.Equal(t, "token-alice", BearerToken(r))
}

func TestBearerTokenFromQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=token-bob", nil)
	assert.Equal(t, "token-bob", BearerToken(r))
}

func TestBearerTokenHeaderWinsOverQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=query-token", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", BearerToken(r))
}

func TestBearerTokenMissing(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	assert.Equal(t, "", BearerToken(r))

	// Non-bearer schemes are ignored.
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Equal(t, "", BearerToken(r))
}
