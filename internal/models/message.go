package models

import (
	"path/filepath"
	"strings"
	"time"

	"chatwire/internal/constants"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
	MessageTypeAudio MessageType = "audio"
	MessageTypeVideo MessageType = "video"
)

// ValidMessageType reports whether t is one of the supported message types.
func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio, MessageTypeVideo:
		return true
	}
	return false
}

// InferMessageType picks the message type for a payload whose client omitted
// it: the first attachment's extension decides, plain text otherwise.
func InferMessageType(attachments []string) MessageType {
	if len(attachments) == 0 {
		return MessageTypeText
	}
	ext := strings.ToLower(filepath.Ext(attachments[0]))
	switch constants.AttachmentCategories[ext] {
	case constants.AttachmentCategoryImage:
		return MessageTypeImage
	case constants.AttachmentCategoryVideo:
		return MessageTypeVideo
	case constants.AttachmentCategoryAudio:
		return MessageTypeAudio
	default:
		return MessageTypeFile
	}
}

// ChatMessage is a durable direct message. Identity is immutable once the
// consumer persists it; only the read/edited/deleted state changes afterwards.
type ChatMessage struct {
	ID          int64       `json:"id" db:"id"`
	SenderID    string      `json:"senderId" db:"sender_id"`
	ReceiverID  string      `json:"receiverId" db:"receiver_id"`
	Body        string      `json:"message" db:"body"`
	MessageType MessageType `json:"messageType" db:"message_type"`
	Timestamp   time.Time   `json:"timestamp" db:"timestamp"`
	IsRead      bool        `json:"isRead" db:"is_read"`
	ReadAt      *time.Time  `json:"readAt,omitempty" db:"read_at"`
	Attachments []string    `json:"attachments,omitempty" db:"attachments"`
	ReplyTo     *int64      `json:"replyTo,omitempty" db:"reply_to"`
	IsEdited    bool        `json:"isEdited" db:"is_edited"`
	EditedAt    *time.Time  `json:"editedAt,omitempty" db:"edited_at"`
	IsDeleted   bool        `json:"isDeleted" db:"is_deleted"`
	DeletedAt   *time.Time  `json:"deletedAt,omitempty" db:"deleted_at"`
	CreatedAt   time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time   `json:"updatedAt" db:"updated_at"`
}
