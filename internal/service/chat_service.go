package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"chatwire/internal/constants"
	"chatwire/internal/errors"
	"chatwire/internal/models"

	"github.com/sirupsen/logrus"
)

// ChatStore is the persistence surface the chat service reads and writes.
// *database.Database satisfies it.
type ChatStore interface {
	FindOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	ResetUnread(ctx context.Context, conversationID int64, userID string) error
	GetMessage(ctx context.Context, id int64) (*models.ChatMessage, error)
	GetMessagesBetween(ctx context.Context, userA, userB string, limit, offset int) ([]*models.ChatMessage, error)
	CountMessagesBetween(ctx context.Context, userA, userB string) (int, error)
	SearchMessages(ctx context.Context, userID, query, otherUserID string, limit int) ([]*models.ChatMessage, error)
	MarkMessagesRead(ctx context.Context, senderID, receiverID string, readAt time.Time) (int64, error)
	UpdateMessageBody(ctx context.Context, id int64, body string, editedAt time.Time) error
	SoftDeleteMessage(ctx context.Context, id int64, deletedAt time.Time) error
}

// MessageQueuer queues outbound messages; the consumer persists them.
type MessageQueuer interface {
	SendMessage(ctx context.Context, msg models.ChatMessagePayload) error
}

// ConversationView is the HTTP response shape for a conversation fetch.
type ConversationView struct {
	Conversation *models.Conversation  `json:"conversation"`
	Messages     []*models.ChatMessage `json:"messages"`
	Pagination   Pagination            `json:"pagination"`
}

// Pagination describes one page of a message listing.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// ChatService implements the read-and-manage surface over chat state. The
// send path is deliberately thin: messages go to the queue, never straight
// to the store.
type ChatService struct {
	store    ChatStore
	producer MessageQueuer
	logger   *logrus.Logger
}

func NewChatService(store ChatStore, producer MessageQueuer, logger *logrus.Logger) *ChatService {
	return &ChatService{
		store:    store,
		producer: producer,
		logger:   logger,
	}
}

// QueueMessage validates and queues an outbound message on behalf of the
// sender. The sender identity comes from authentication, never the payload.
func (s *ChatService) QueueMessage(ctx context.Context, senderID string, msg models.ChatMessagePayload) error {
	msg.SenderID = senderID
	if msg.MessageType == "" {
		msg.MessageType = models.InferMessageType(msg.Attachments)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := msg.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid message").
			WithUserMessage("Message is missing required fields")
	}
	if err := s.producer.SendMessage(ctx, msg); err != nil {
		return errors.NewBrokerError("publish", err, true)
	}
	return nil
}

// FetchConversation returns the conversation with the given peer plus one
// page of history. Fetching a conversation reads it: the peer's unread
// messages are stamped and the requester's counter is reset.
func (s *ChatService) FetchConversation(ctx context.Context, userID, otherUserID string, page, limit int) (*ConversationView, error) {
	if otherUserID == "" || otherUserID == userID {
		return nil, errors.New(errors.ErrCodeInvalidInput, "invalid peer user id").
			WithUserMessage("Invalid conversation partner")
	}
	page, limit = normalizePage(page, limit)

	conv, err := s.store.FindOrCreateConversation(ctx, userID, otherUserID)
	if err != nil {
		return nil, errors.NewDatabaseError("load conversation", err)
	}

	total, err := s.store.CountMessagesBetween(ctx, userID, otherUserID)
	if err != nil {
		return nil, errors.NewDatabaseError("count messages", err)
	}
	messages, err := s.store.GetMessagesBetween(ctx, userID, otherUserID, limit, (page-1)*limit)
	if err != nil {
		return nil, errors.NewDatabaseError("load messages", err)
	}

	now := time.Now().UTC()
	if _, err := s.store.MarkMessagesRead(ctx, otherUserID, userID, now); err != nil {
		s.logger.WithError(err).Warn("Failed to mark messages read on fetch")
	} else if err := s.store.ResetUnread(ctx, conv.ID, userID); err != nil {
		s.logger.WithError(err).Warn("Failed to reset unread count on fetch")
	} else {
		conv.MarkRead(userID)
	}

	return &ConversationView{
		Conversation: conv,
		Messages:     messages,
		Pagination:   paginate(page, limit, total),
	}, nil
}

// ListConversations returns the user's conversations, most recent first.
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	conversations, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, errors.NewDatabaseError("list conversations", err)
	}
	return conversations, nil
}

// MessageHistory returns one page of a conversation's messages. Only
// participants may read history.
func (s *ChatService) MessageHistory(ctx context.Context, userID string, conversationID int64, page, limit int) (*ConversationView, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, errors.NewDatabaseError("load conversation", err)
	}
	if conv == nil {
		return nil, errors.NewNotFoundError("Conversation", strconv.FormatInt(conversationID, 10))
	}
	if !conv.HasParticipant(userID) {
		return nil, errors.New(errors.ErrCodeAuthorization, "requester is not a participant").
			WithUserMessage("You do not have access to this conversation")
	}
	// Group conversations carry no pair key, so there is no message table to
	// page through. Refuse explicitly instead of returning an empty page.
	if conv.IsGroupChat {
		return nil, errors.New(errors.ErrCodeInvalidInput, "history is only available for direct conversations").
			WithUserMessage("History is not available for group conversations")
	}

	userA, userB := models.SplitPairKey(conv.PairKey)
	page, limit = normalizePage(page, limit)

	total, err := s.store.CountMessagesBetween(ctx, userA, userB)
	if err != nil {
		return nil, errors.NewDatabaseError("count messages", err)
	}
	messages, err := s.store.GetMessagesBetween(ctx, userA, userB, limit, (page-1)*limit)
	if err != nil {
		return nil, errors.NewDatabaseError("load messages", err)
	}

	return &ConversationView{
		Conversation: conv,
		Messages:     messages,
		Pagination:   paginate(page, limit, total),
	}, nil
}

// Search finds the user's messages matching a text query, optionally scoped
// to one conversation partner.
func (s *ChatService) Search(ctx context.Context, userID, query, otherUserID string, limit int) ([]*models.ChatMessage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "empty search query").
			WithUserMessage("Search query must not be empty")
	}
	if limit <= 0 || limit > constants.MaxHistoryPageSize {
		limit = constants.DefaultSearchResultLimit
	}

	messages, err := s.store.SearchMessages(ctx, userID, query, otherUserID, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("search messages", err)
	}
	return messages, nil
}

// EditMessage replaces a message body. Only the sender may edit, and a
// deleted message cannot be edited.
func (s *ChatService) EditMessage(ctx context.Context, userID string, messageID int64, body string) (*models.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "empty message body").
			WithUserMessage("Message body must not be empty")
	}

	msg, err := s.loadOwnMessage(ctx, userID, messageID, "edit")
	if err != nil {
		return nil, err
	}

	editedAt := time.Now().UTC()
	if err := s.store.UpdateMessageBody(ctx, messageID, body, editedAt); err != nil {
		return nil, errors.NewDatabaseError("edit message", err)
	}

	msg.Body = body
	msg.IsEdited = true
	msg.EditedAt = &editedAt
	return msg, nil
}

// DeleteMessage soft-deletes a message. Only the sender may delete; the row
// is retained and excluded from reads.
func (s *ChatService) DeleteMessage(ctx context.Context, userID string, messageID int64) error {
	if _, err := s.loadOwnMessage(ctx, userID, messageID, "delete"); err != nil {
		return err
	}
	if err := s.store.SoftDeleteMessage(ctx, messageID, time.Now().UTC()); err != nil {
		return errors.NewDatabaseError("delete message", err)
	}
	return nil
}

func (s *ChatService) loadOwnMessage(ctx context.Context, userID string, messageID int64, action string) (*models.ChatMessage, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, errors.NewDatabaseError("load message", err)
	}
	if msg == nil || msg.IsDeleted {
		return nil, errors.NewNotFoundError("Message", strconv.FormatInt(messageID, 10))
	}
	if msg.SenderID != userID {
		return nil, errors.New(errors.ErrCodeAuthorization, "only the sender may "+action+" a message").
			WithUserMessage("You can only " + action + " your own messages")
	}
	return msg, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = constants.DefaultHistoryPageSize
	}
	if limit > constants.MaxHistoryPageSize {
		limit = constants.MaxHistoryPageSize
	}
	return page, limit
}

func paginate(page, limit, total int) Pagination {
	totalPages := (total + limit - 1) / limit
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    page < totalPages,
	}
}
