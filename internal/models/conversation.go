package models

import (
	"strings"
	"time"
)

// Conversation groups the messages between a fixed participant set. For
// direct chats exactly one conversation exists per unordered pair; the pair
// key enforces that in storage.
type Conversation struct {
	ID            int64            `json:"id" db:"id"`
	PairKey       string           `json:"-" db:"pair_key"`
	Participants  []string         `json:"participants" db:"participants"`
	LastMessageID *int64           `json:"lastMessage,omitempty" db:"last_message_id"`
	LastMessageAt *time.Time       `json:"lastMessageAt,omitempty" db:"last_message_at"`
	UnreadCount   map[string]int   `json:"unreadCount" db:"-"`
	IsGroupChat   bool             `json:"isGroupChat" db:"is_group_chat"`
	GroupName     string           `json:"groupName,omitempty" db:"group_name"`
	GroupAvatar   string           `json:"groupAvatar,omitempty" db:"group_avatar"`
	GroupAdminID  string           `json:"groupAdmin,omitempty" db:"group_admin_id"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time        `json:"updatedAt" db:"updated_at"`
}

// PairKey derives the canonical key for a direct conversation between two
// users. Symmetric: PairKey(a, b) == PairKey(b, a).
func PairKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// UnreadFor returns the unread counter for a participant, 0 when absent.
func (c *Conversation) UnreadFor(userID string) int {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[userID]
}

// IncrementUnread bumps the unread counter for a participant on the in-memory
// value. Persisting the new counter is the store's job.
func (c *Conversation) IncrementUnread(userID string) {
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int)
	}
	c.UnreadCount[userID]++
}

// MarkRead zeroes the unread counter for a participant.
func (c *Conversation) MarkRead(userID string) {
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int)
	}
	c.UnreadCount[userID] = 0
}

// RoomID is the hub room name for this conversation.
func (c *Conversation) RoomID() string {
	return ConversationRoom(c.ID)
}

// SplitPairKey returns the two participant ids encoded in a direct pair key.
func SplitPairKey(key string) (string, string) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return key, ""
	}
	return parts[0], parts[1]
}
