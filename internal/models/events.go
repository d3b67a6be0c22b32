package models

import "strconv"

// Live-connection protocol event names. Inbound events arrive from clients
// over the websocket; outbound events are emitted by the hub.
const (
	// inbound
	SocketSendMessage       = "send_message"
	SocketTypingStart       = "typing_start"
	SocketTypingStop        = "typing_stop"
	SocketMarkRead          = "mark_read"
	SocketJoinConversation  = "join_conversation"
	SocketLeaveConversation = "leave_conversation"

	// outbound
	SocketMessageSent         = "message_sent"
	SocketNewMessage          = "new_message"
	SocketUserTyping          = "user_typing"
	SocketMessagesRead        = "messages_read"
	SocketConversationsLoaded = "conversations_loaded"
	SocketUserStatusChange    = "user_status_change"
	SocketError               = "error"
)

// UserRoom is the personal room every connection joins on connect.
func UserRoom(userID string) string {
	return "user:" + userID
}

// ConversationRoom is the shared room for a conversation id.
func ConversationRoom(conversationID int64) string {
	return "conversation:" + strconv.FormatInt(conversationID, 10)
}
