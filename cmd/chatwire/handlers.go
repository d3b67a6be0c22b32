package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"chatwire/internal/broker"
	"chatwire/internal/errors"
	"chatwire/internal/metrics"
	"chatwire/internal/middleware"
	"chatwire/internal/models"

	"github.com/gorilla/mux"
)

type sendMessageBody struct {
	ReceiverID  string             `json:"receiverId"`
	Message     string             `json:"message"`
	MessageType models.MessageType `json:"messageType"`
	Attachments []string           `json:"attachments,omitempty"`
	ReplyTo     *int64             `json:"replyTo,omitempty"`
}

type markReadBody struct {
	TargetUserID   string `json:"targetUserId"`
	ConversationID *int64 `json:"conversationId,omitempty"`
}

type editMessageBody struct {
	Message string `json:"message"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := s.broker.State()
		status := http.StatusOK
		health := "ok"
		if state != broker.StateConnected {
			status = http.StatusServiceUnavailable
			health = "degraded"
		}
		writeJSON(w, status, map[string]interface{}{
			"status": health,
			"broker": state,
		})
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetAllMetrics())
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())

		var body sendMessageBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, errors.NewValidationError("body", "", "malformed request body"))
			return
		}

		err := s.chat.QueueMessage(r.Context(), userID, models.ChatMessagePayload{
			ReceiverID:  body.ReceiverID,
			Message:     body.Message,
			MessageType: body.MessageType,
			Attachments: body.Attachments,
			ReplyTo:     body.ReplyTo,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func (s *Server) handleOnlineUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"users": s.presence.OnlineUsers()})
	}
}

func (s *Server) handleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())

		conversations, err := s.chat.ListConversations(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": conversations})
	}
}

func (s *Server) handleGetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())
		otherUserID := mux.Vars(r)["userId"]
		page, limit := pageParams(r)

		view, err := s.chat.FetchConversation(r.Context(), userID, otherUserID, page, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleMessageHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())
		conversationID, err := strconv.ParseInt(mux.Vars(r)["conversationId"], 10, 64)
		if err != nil {
			writeError(w, errors.New(errors.ErrCodeInvalidInput, "invalid conversation id"))
			return
		}
		page, limit := pageParams(r)

		view, err := s.chat.MessageHistory(r.Context(), userID, conversationID, page, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleSearchMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())
		query := r.URL.Query().Get("q")
		otherUserID := r.URL.Query().Get("userId")
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		results, err := s.chat.Search(r.Context(), userID, query, otherUserID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": results})
	}
}

// handleMarkRead publishes a read event; the consumer applies the durable
// counter reset, so the response only confirms the event was queued.
func (s *Server) handleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())

		var body markReadBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TargetUserID == "" {
			writeError(w, errors.NewValidationError("targetUserId", body.TargetUserID, "must identify the message sender"))
			return
		}

		err := s.producer.PublishEvent(r.Context(), models.EventPayload{
			Type:           models.EventMessageRead,
			UserID:         userID,
			TargetUserID:   body.TargetUserID,
			ConversationID: body.ConversationID,
		})
		if err != nil {
			writeError(w, errors.WrapRetryable(err, errors.ErrCodeBrokerPublish, "failed to publish read event"))
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func (s *Server) handleEditMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())
		messageID, err := strconv.ParseInt(mux.Vars(r)["messageId"], 10, 64)
		if err != nil {
			writeError(w, errors.New(errors.ErrCodeInvalidInput, "invalid message id"))
			return
		}

		var body editMessageBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, errors.NewValidationError("body", "", "malformed request body"))
			return
		}

		msg, err := s.chat.EditMessage(r.Context(), userID, messageID, body.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleDeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())
		messageID, err := strconv.ParseInt(mux.Vars(r)["messageId"], 10, 64)
		if err != nil {
			writeError(w, errors.New(errors.ErrCodeInvalidInput, "invalid message id"))
			return
		}

		if err := s.chat.DeleteMessage(r.Context(), userID, messageID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps structured error codes to HTTP statuses, returning the
// user-safe message rather than internal detail.
func writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeValidationFailed:
		status = http.StatusBadRequest
	case errors.ErrCodeAuthentication:
		status = http.StatusUnauthorized
	case errors.ErrCodeAuthorization:
		status = http.StatusForbidden
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeBrokerUnavailable, errors.ErrCodeBrokerPublish, errors.ErrCodeBrokerConsume:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"error": errors.GetUserMessage(err),
		"code":  code,
	})
}
