package hub

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Handler upgrades authenticated HTTP requests to live connections.
type Handler struct {
	hub      *Hub
	verifier TokenVerifier
	logger   *logrus.Logger
}

func NewHandler(h *Hub, verifier TokenVerifier, logger *logrus.Logger) *Handler {
	return &Handler{hub: h, verifier: verifier, logger: logger}
}

// ServeHTTP authenticates before upgrading. An unauthenticated request is
// refused with 401 and never reaches the websocket layer.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	userID, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		h.logger.WithError(err).Debug("Websocket handshake rejected")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The HTTP layer fronts this service; compression negotiation is
		// left to defaults.
	})
	if err != nil {
		h.logger.WithError(err).Warn("Websocket accept failed")
		return
	}

	h.logger.WithField("user", userID).Info("Websocket connected")
	client := newClient(h.hub, conn, userID)
	client.run(r.Context())
}
