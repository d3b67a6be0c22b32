package database

// Conversation queries
const (
	insertConversationQuery = `
		INSERT INTO conversations (pair_key, is_group_chat)
		VALUES (?, FALSE)
	`

	selectConversationByPairQuery = `
		SELECT id, pair_key, is_group_chat, group_name, group_avatar, group_admin_id,
		       last_message_id, last_message_at, created_at, updated_at
		FROM conversations
		WHERE pair_key = ?
	`

	selectConversationByIDQuery = `
		SELECT id, pair_key, is_group_chat, group_name, group_avatar, group_admin_id,
		       last_message_id, last_message_at, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	selectConversationsForUserQuery = `
		SELECT c.id, c.pair_key, c.is_group_chat, c.group_name, c.group_avatar, c.group_admin_id,
		       c.last_message_id, c.last_message_at, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.last_message_at DESC
	`

	insertParticipantQuery = `
		INSERT INTO conversation_participants (conversation_id, user_id, unread_count)
		VALUES (?, ?, 0)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`

	selectParticipantsQuery = `
		SELECT user_id, unread_count
		FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY user_id
	`

	updateLastMessageQuery = `
		UPDATE conversations
		SET last_message_id = ?, last_message_at = ?
		WHERE id = ?
	`

	incrementUnreadQuery = `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1
		WHERE conversation_id = ? AND user_id = ?
	`

	resetUnreadQuery = `
		UPDATE conversation_participants
		SET unread_count = 0
		WHERE conversation_id = ? AND user_id = ?
	`
)

// Message queries
const (
	insertMessageQuery = `
		INSERT INTO messages (
			sender_id, receiver_id, body, message_type, timestamp,
			attachments, reply_to
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	selectMessageColumns = `
		SELECT id, sender_id, receiver_id, body, message_type, timestamp,
		       is_read, read_at, attachments, reply_to,
		       is_edited, edited_at, is_deleted, deleted_at,
		       created_at, updated_at
		FROM messages
	`

	selectMessageByIDQuery = selectMessageColumns + `
		WHERE id = ?
	`

	selectMessagesBetweenQuery = selectMessageColumns + `
		WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		  AND is_deleted = FALSE
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	countMessagesBetweenQuery = `
		SELECT COUNT(*)
		FROM messages
		WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		  AND is_deleted = FALSE
	`

	searchMessagesQuery = selectMessageColumns + `
		WHERE (sender_id = ? OR receiver_id = ?)
		  AND body LIKE ? ESCAPE '\'
		  AND is_deleted = FALSE
		ORDER BY timestamp DESC
		LIMIT ?
	`

	searchMessagesInPairQuery = selectMessageColumns + `
		WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		  AND body LIKE ? ESCAPE '\'
		  AND is_deleted = FALSE
		ORDER BY timestamp DESC
		LIMIT ?
	`

	markMessagesReadQuery = `
		UPDATE messages
		SET is_read = TRUE, read_at = ?
		WHERE sender_id = ? AND receiver_id = ? AND is_read = FALSE
	`

	updateMessageBodyQuery = `
		UPDATE messages
		SET body = ?, is_edited = TRUE, edited_at = ?
		WHERE id = ?
	`

	softDeleteMessageQuery = `
		UPDATE messages
		SET is_deleted = TRUE, deleted_at = ?
		WHERE id = ?
	`
)
