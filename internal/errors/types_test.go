package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	err := New(ErrCodeInvalidInput, "missing field")
	assert.Equal(t, "INVALID_INPUT: missing field", err.Error())

	cause := stderrors.New("boom")
	wrapped := Wrap(cause, ErrCodeDatabaseQuery, "query failed")
	assert.Equal(t, "DATABASE_QUERY: query failed: boom", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestWrapRetryable(t *testing.T) {
	err := WrapRetryable(stderrors.New("timeout"), ErrCodeBrokerPublish, "publish failed")
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(New(ErrCodeInvalidInput, "bad")))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, GetCode(New(ErrCodeNotFound, "gone")))
	assert.Equal(t, ErrCodeInternalError, GetCode(stderrors.New("plain")))
}

func TestGetUserMessage(t *testing.T) {
	err := New(ErrCodeInvalidInput, "internal detail").WithUserMessage("Please check your input")
	assert.Equal(t, "Please check your input", GetUserMessage(err))

	// Internal detail never leaks when no user message is set.
	assert.Equal(t, "An internal error occurred", GetUserMessage(New(ErrCodeInternalError, "secret detail")))
	assert.Equal(t, "An internal error occurred", GetUserMessage(stderrors.New("plain")))
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeValidationFailed, "bad").
		WithContext("field", "receiverId").
		WithContext("value", "")
	require.NotNil(t, err.Context)
	assert.Equal(t, "receiverId", err.Context["field"])
}
