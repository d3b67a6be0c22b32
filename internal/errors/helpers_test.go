package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("receiverId", "", "must not be empty")
	assert.Equal(t, ErrCodeValidationFailed, err.Code)
	assert.Equal(t, "receiverId", err.Context["field"])
	assert.Contains(t, err.UserMessage, "receiverId")
}

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("broker.prefetch", "must not be negative")
	assert.Equal(t, ErrCodeInvalidConfig, err.Code)
	assert.Equal(t, "broker.prefetch", err.Context["config_key"])
	assert.Equal(t, "Configuration error", err.UserMessage)
}

func TestNewDatabaseError(t *testing.T) {
	cause := stderrors.New("database is locked")
	err := NewDatabaseError("save message", cause)
	assert.Equal(t, ErrCodeDatabaseQuery, err.Code)
	assert.Equal(t, "save message", err.Context["operation"])
	assert.ErrorIs(t, err, cause)
	// Internal detail never reaches the user message.
	assert.Equal(t, "Database operation failed", err.UserMessage)
}

func TestNewBrokerError(t *testing.T) {
	publish := NewBrokerError("publish", stderrors.New("conn reset"), true)
	assert.Equal(t, ErrCodeBrokerPublish, publish.Code)
	assert.True(t, publish.Retryable)

	consume := NewBrokerError("consume", stderrors.New("channel closed"), false)
	assert.Equal(t, ErrCodeBrokerConsume, consume.Code)
	assert.False(t, consume.Retryable)
}

func TestNewAuthError(t *testing.T) {
	err := NewAuthError("missing token")
	assert.Equal(t, ErrCodeAuthentication, err.Code)
	assert.Equal(t, "missing token", err.Context["reason"])
	assert.Equal(t, "Authentication failed", err.UserMessage)
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("Conversation", "42")
	assert.Equal(t, ErrCodeNotFound, err.Code)
	assert.Equal(t, "Conversation", err.Context["resource"])
	assert.Equal(t, "42", err.Context["identifier"])
	assert.Equal(t, "Conversation not found", err.UserMessage)
}
