package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairKeySymmetry(t *testing.T) {
	assert.Equal(t, PairKey("alice", "bob"), PairKey("bob", "alice"))
	assert.Equal(t, "alice:bob", PairKey("bob", "alice"))
	assert.Equal(t, "alice:alice", PairKey("alice", "alice"))
}

func TestSplitPairKey(t *testing.T) {
	a, b := SplitPairKey("alice:bob")
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)

	a, b = SplitPairKey("malformed")
	assert.Equal(t, "malformed", a)
	assert.Equal(t, "", b)
}

func TestHasParticipant(t *testing.T) {
	conv := &Conversation{Participants: []string{"alice", "bob"}}
	assert.True(t, conv.HasParticipant("alice"))
	assert.False(t, conv.HasParticipant("mallory"))
}

func TestUnreadCounters(t *testing.T) {
	conv := &Conversation{}
	assert.Equal(t, 0, conv.UnreadFor("alice"))

	conv.IncrementUnread("alice")
	conv.IncrementUnread("alice")
	assert.Equal(t, 2, conv.UnreadFor("alice"))

	conv.MarkRead("alice")
	assert.Equal(t, 0, conv.UnreadFor("alice"))

	// Marking an unseen participant initializes rather than panics.
	fresh := &Conversation{}
	fresh.MarkRead("bob")
	assert.Equal(t, 0, fresh.UnreadFor("bob"))
}

func TestInferMessageType(t *testing.T) {
	assert.Equal(t, MessageTypeText, InferMessageType(nil))
	assert.Equal(t, MessageTypeImage, InferMessageType([]string{"holiday.JPG"}))
	assert.Equal(t, MessageTypeVideo, InferMessageType([]string{"clip.mp4"}))
	assert.Equal(t, MessageTypeAudio, InferMessageType([]string{"note.ogg"}))
	assert.Equal(t, MessageTypeFile, InferMessageType([]string{"report.pdf"}))
	assert.Equal(t, MessageTypeFile, InferMessageType([]string{"no-extension"}))
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "user:alice", UserRoom("alice"))
	assert.Equal(t, "conversation:42", ConversationRoom(42))
	conv := &Conversation{ID: 42}
	assert.Equal(t, "conversation:42", conv.RoomID())
}
