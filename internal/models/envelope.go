package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EnvelopeKind discriminates the payload carried by a queue envelope.
type EnvelopeKind string

const (
	KindChatMessage  EnvelopeKind = "chat_message"
	KindEvent        EnvelopeKind = "event"
	KindNotification EnvelopeKind = "notification"
)

type EnvelopeStatus string

const (
	EnvelopeStatusPending EnvelopeStatus = "pending"
	EnvelopeStatusSent    EnvelopeStatus = "sent"
)

// Envelope is the wire frame between producer and consumer. It only exists
// on the queue; it is never persisted as its own entity.
type Envelope struct {
	ID        string          `json:"id"`
	Kind      EnvelopeKind    `json:"kind"`
	Status    EnvelopeStatus  `json:"status,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// ChatMessagePayload is the queued form of an outbound chat message. The
// durable identity is assigned later, when the consumer persists it.
type ChatMessagePayload struct {
	SenderID       string      `json:"senderId"`
	ReceiverID     string      `json:"receiverId"`
	Message        string      `json:"message"`
	MessageType    MessageType `json:"messageType"`
	Timestamp      time.Time   `json:"timestamp"`
	Attachments    []string    `json:"attachments,omitempty"`
	ReplyTo        *int64      `json:"replyTo,omitempty"`
	ConversationID *int64      `json:"conversationId,omitempty"`

	// Broadcast delivery only.
	Broadcast     bool     `json:"broadcast,omitempty"`
	TargetUserIDs []string `json:"targetUserIds,omitempty"`
}

// Validate checks the fields the consumer cannot recover from if missing.
func (p *ChatMessagePayload) Validate() error {
	if p.SenderID == "" {
		return fmt.Errorf("missing senderId")
	}
	if !p.Broadcast && p.ReceiverID == "" {
		return fmt.Errorf("missing receiverId")
	}
	if p.Message == "" {
		return fmt.Errorf("missing message body")
	}
	if !ValidMessageType(p.MessageType) {
		return fmt.Errorf("invalid messageType %q", p.MessageType)
	}
	return nil
}

type EventType string

const (
	EventMessageSent      EventType = "message_sent"
	EventMessageDelivered EventType = "message_delivered"
	EventMessageRead      EventType = "message_read"
	EventTypingStart      EventType = "typing_start"
	EventTypingStop       EventType = "typing_stop"
	EventUserOnline       EventType = "user_online"
	EventUserOffline      EventType = "user_offline"
)

// EventPayload is a typed chat event fanned out to every bound queue.
type EventPayload struct {
	Type           EventType       `json:"type"`
	UserID         string          `json:"userId"`
	TargetUserID   string          `json:"targetUserId,omitempty"`
	ConversationID *int64          `json:"conversationId,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

func (p *EventPayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("missing userId")
	}
	switch p.Type {
	case EventMessageSent, EventMessageDelivered, EventMessageRead,
		EventTypingStart, EventTypingStop, EventUserOnline, EventUserOffline:
		return nil
	}
	return fmt.Errorf("invalid event type %q", p.Type)
}

type NotificationType string

const (
	NotificationNewMessage  NotificationType = "new_message"
	NotificationMessageRead NotificationType = "message_read"
	NotificationUserOnline  NotificationType = "user_online"
	NotificationUserOffline NotificationType = "user_offline"
)

// NotificationPayload is a push-notification record for an external sink.
type NotificationPayload struct {
	Type      NotificationType `json:"type"`
	UserID    string           `json:"userId"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func (p *NotificationPayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("missing userId")
	}
	if p.Title == "" {
		return fmt.Errorf("missing title")
	}
	return nil
}

// NewEnvelope wraps a payload value in an envelope frame. The payload must
// be JSON-marshalable; a failure here is a programming error surfaced to the
// producer caller.
func NewEnvelope(id string, kind EnvelopeKind, status EnvelopeStatus, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return &Envelope{
		ID:        id,
		Kind:      kind,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// DecodeChatMessage decodes and validates the chat-message payload.
func (e *Envelope) DecodeChatMessage() (*ChatMessagePayload, error) {
	if e.Kind != KindChatMessage {
		return nil, fmt.Errorf("envelope %s is %s, not %s", e.ID, e.Kind, KindChatMessage)
	}
	var p ChatMessagePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("malformed chat message payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeEvent decodes and validates the event payload.
func (e *Envelope) DecodeEvent() (*EventPayload, error) {
	if e.Kind != KindEvent {
		return nil, fmt.Errorf("envelope %s is %s, not %s", e.ID, e.Kind, KindEvent)
	}
	var p EventPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeNotification decodes and validates the notification payload.
func (e *Envelope) DecodeNotification() (*NotificationPayload, error) {
	if e.Kind != KindNotification {
		return nil, fmt.Errorf("envelope %s is %s, not %s", e.ID, e.Kind, KindNotification)
	}
	var p NotificationPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("malformed notification payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
