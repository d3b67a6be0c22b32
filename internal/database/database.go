package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatwire/internal/migrations"
	"chatwire/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the durable conversation/message store. The consumer is its
// single writer for chat state; read APIs and the hub only query it.
type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}
	if strings.Contains(filepath.Clean(dbPath), "..") {
		return nil, fmt.Errorf("invalid database path: directory traversal")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// FindOrCreateConversation returns the direct conversation for an unordered
// participant pair, creating it if absent. Idempotent and pair-symmetric:
// the UNIQUE pair_key constraint guarantees at most one row even under
// concurrent creation.
func (d *Database) FindOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("both participant ids are required")
	}
	key := models.PairKey(userA, userB)

	conv, err := d.getConversationByPair(ctx, key)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, insertConversationQuery, key)
	if err != nil {
		// Lost the creation race; the existing row wins.
		if strings.Contains(err.Error(), "UNIQUE") {
			conv, lookupErr := d.getConversationByPair(ctx, key)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if conv == nil {
				return nil, fmt.Errorf("conversation for %s vanished after conflict", key)
			}
			return conv, nil
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation id: %w", err)
	}

	first, second := models.SplitPairKey(key)
	for _, participant := range []string{first, second} {
		if _, err := tx.ExecContext(ctx, insertParticipantQuery, id, participant); err != nil {
			return nil, fmt.Errorf("failed to add participant %s: %w", participant, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit conversation: %w", err)
	}

	return d.GetConversation(ctx, id)
}

// GetConversation loads a conversation with its participants and unread
// counters.
func (d *Database) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	row := d.db.QueryRowContext(ctx, selectConversationByIDQuery, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %d: %w", id, err)
	}
	if err := d.loadParticipants(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (d *Database) getConversationByPair(ctx context.Context, pairKey string) (*models.Conversation, error) {
	row := d.db.QueryRowContext(ctx, selectConversationByPairQuery, pairKey)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", pairKey, err)
	}
	if err := d.loadParticipants(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns every conversation the user participates in,
// most recently active first.
func (d *Database) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	rows, err := d.db.QueryContext(ctx, selectConversationsForUserQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	for _, conv := range conversations {
		if err := d.loadParticipants(ctx, conv); err != nil {
			return nil, err
		}
	}
	return conversations, nil
}

func (d *Database) loadParticipants(ctx context.Context, conv *models.Conversation) error {
	rows, err := d.db.QueryContext(ctx, selectParticipantsQuery, conv.ID)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	defer rows.Close()

	conv.Participants = conv.Participants[:0]
	conv.UnreadCount = make(map[string]int)
	for rows.Next() {
		var userID string
		var unread int
		if err := rows.Scan(&userID, &unread); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		conv.Participants = append(conv.Participants, userID)
		conv.UnreadCount[userID] = unread
	}
	return rows.Err()
}

// SetLastMessage updates the conversation's last-message reference.
func (d *Database) SetLastMessage(ctx context.Context, conversationID, messageID int64, at time.Time) error {
	return withWriteRetry(ctx, func() error {
		if _, err := d.db.ExecContext(ctx, updateLastMessageQuery, messageID, at.UTC(), conversationID); err != nil {
			return fmt.Errorf("failed to update last message: %w", err)
		}
		return nil
	}, "set last message")
}

// IncrementUnread bumps the unread counter for one participant. The update
// is a single atomic SQL statement, so concurrent increments never lose.
func (d *Database) IncrementUnread(ctx context.Context, conversationID int64, userID string) error {
	return withWriteRetry(ctx, func() error {
		res, err := d.db.ExecContext(ctx, incrementUnreadQuery, conversationID, userID)
		if err != nil {
			return fmt.Errorf("failed to increment unread count: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check unread update: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("user %s is not a participant of conversation %d", userID, conversationID)
		}
		return nil
	}, "increment unread")
}

// ResetUnread zeroes the unread counter for one participant.
func (d *Database) ResetUnread(ctx context.Context, conversationID int64, userID string) error {
	return withWriteRetry(ctx, func() error {
		if _, err := d.db.ExecContext(ctx, resetUnreadQuery, conversationID, userID); err != nil {
			return fmt.Errorf("failed to reset unread count: %w", err)
		}
		return nil
	}, "reset unread")
}

// SaveMessage persists a message and assigns its durable identity.
func (d *Database) SaveMessage(ctx context.Context, msg *models.ChatMessage) error {
	attachments, err := encodeAttachments(msg.Attachments)
	if err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.MessageType == "" {
		msg.MessageType = models.MessageTypeText
	}

	return withWriteRetry(ctx, func() error {
		res, err := d.db.ExecContext(ctx, insertMessageQuery,
			msg.SenderID,
			msg.ReceiverID,
			msg.Body,
			msg.MessageType,
			msg.Timestamp.UTC(),
			attachments,
			msg.ReplyTo,
		)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}

		msg.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message id: %w", err)
		}
		return nil
	}, "save message")
}

// GetMessage loads one message by id, soft-deleted included.
func (d *Database) GetMessage(ctx context.Context, id int64) (*models.ChatMessage, error) {
	row := d.db.QueryRowContext(ctx, selectMessageByIDQuery, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message %d: %w", id, err)
	}
	return msg, nil
}

// GetMessagesBetween returns a page of non-deleted messages between two
// users, newest first.
func (d *Database) GetMessagesBetween(ctx context.Context, userA, userB string, limit, offset int) ([]*models.ChatMessage, error) {
	rows, err := d.db.QueryContext(ctx, selectMessagesBetweenQuery,
		userA, userB, userB, userA, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// CountMessagesBetween counts the non-deleted messages between two users.
func (d *Database) CountMessagesBetween(ctx context.Context, userA, userB string) (int, error) {
	var total int
	err := d.db.QueryRowContext(ctx, countMessagesBetweenQuery, userA, userB, userB, userA).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return total, nil
}

// SearchMessages finds non-deleted messages visible to the user whose body
// contains the query, case-insensitively. When otherUserID is set the search
// is scoped to that pair.
func (d *Database) SearchMessages(ctx context.Context, userID, query, otherUserID string, limit int) ([]*models.ChatMessage, error) {
	pattern := "%" + escapeLike(query) + "%"

	var rows *sql.Rows
	var err error
	if otherUserID != "" {
		rows, err = d.db.QueryContext(ctx, searchMessagesInPairQuery,
			userID, otherUserID, otherUserID, userID, pattern, limit)
	} else {
		rows, err = d.db.QueryContext(ctx, searchMessagesQuery, userID, userID, pattern, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// MarkMessagesRead flags every unread message from sender to receiver as
// read and returns how many were updated.
func (d *Database) MarkMessagesRead(ctx context.Context, senderID, receiverID string, readAt time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, markMessagesReadQuery, readAt.UTC(), senderID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check read update: %w", err)
	}
	return affected, nil
}

// UpdateMessageBody replaces a message body and records the edit time.
// Ownership is the caller's concern.
func (d *Database) UpdateMessageBody(ctx context.Context, id int64, body string, editedAt time.Time) error {
	if _, err := d.db.ExecContext(ctx, updateMessageBodyQuery, body, editedAt.UTC(), id); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// SoftDeleteMessage marks a message deleted without removing the row.
func (d *Database) SoftDeleteMessage(ctx context.Context, id int64, deletedAt time.Time) error {
	if _, err := d.db.ExecContext(ctx, softDeleteMessageQuery, deletedAt.UTC(), id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var pairKey, groupName, groupAvatar, groupAdmin sql.NullString
	var lastMessageID sql.NullInt64
	var lastMessageAt sql.NullTime

	err := row.Scan(
		&conv.ID,
		&pairKey,
		&conv.IsGroupChat,
		&groupName,
		&groupAvatar,
		&groupAdmin,
		&lastMessageID,
		&lastMessageAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	conv.PairKey = pairKey.String
	conv.GroupName = groupName.String
	conv.GroupAvatar = groupAvatar.String
	conv.GroupAdminID = groupAdmin.String
	if lastMessageID.Valid {
		conv.LastMessageID = &lastMessageID.Int64
	}
	if lastMessageAt.Valid {
		t := lastMessageAt.Time
		conv.LastMessageAt = &t
	}
	return conv, nil
}

func scanMessage(row rowScanner) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{}
	var readAt, editedAt, deletedAt sql.NullTime
	var attachments sql.NullString
	var replyTo sql.NullInt64

	err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Body,
		&msg.MessageType,
		&msg.Timestamp,
		&msg.IsRead,
		&readAt,
		&attachments,
		&replyTo,
		&msg.IsEdited,
		&editedAt,
		&msg.IsDeleted,
		&deletedAt,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if readAt.Valid {
		t := readAt.Time
		msg.ReadAt = &t
	}
	if editedAt.Valid {
		t := editedAt.Time
		msg.EditedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		msg.DeletedAt = &t
	}
	if replyTo.Valid {
		msg.ReplyTo = &replyTo.Int64
	}
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments: %w", err)
		}
	}
	return msg, nil
}

func collectMessages(rows *sql.Rows) ([]*models.ChatMessage, error) {
	var messages []*models.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func encodeAttachments(attachments []string) (interface{}, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}
	return string(raw), nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
