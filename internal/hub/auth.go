package hub

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"chatwire/internal/models"
)

var ErrInvalidToken = errors.New("invalid or missing token")

// TokenVerifier resolves a bearer token to a user identity. Token issuance
// lives outside this service; only verification happens here.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// StaticVerifier checks tokens against a fixed table from configuration.
// Suitable for development and single-tenant deployments.
type StaticVerifier struct {
	tokens map[string]models.StaticIdentity
}

func NewStaticVerifier(tokens map[string]models.StaticIdentity) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	identity, ok := v.tokens[token]
	if !ok || identity.UserID == "" {
		return "", ErrInvalidToken
	}
	return identity.UserID, nil
}

// BearerToken extracts the token from the Authorization header, falling back
// to the token query parameter for browser websocket clients that cannot set
// headers.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
