package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"chatwire/internal/constants"
	"chatwire/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	exchange   string
	routingKey string
	queue      string
	body       []byte
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (f *fakePublisher) PublishToExchange(_ context.Context, exchange, routingKey string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, publishCall{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (f *fakePublisher) SendToQueue(_ context.Context, queue string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, publishCall{queue: queue, body: body})
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func decodeEnvelope(t *testing.T, body []byte) *models.Envelope {
	t.Helper()
	var env models.Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return &env
}

func TestSendMessageQueuesEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	producer := NewProducer(pub, quietLogger())

	err := producer.SendMessage(context.Background(), models.ChatMessagePayload{
		SenderID:    "alice",
		ReceiverID:  "bob",
		Message:     "hello",
		MessageType: models.MessageTypeText,
		Timestamp:   time.Now().UTC(),
	})
	require.NoError(t, err)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, constants.MessagesQueue, pub.calls[0].queue)

	env := decodeEnvelope(t, pub.calls[0].body)
	assert.Equal(t, models.KindChatMessage, env.Kind)
	assert.Equal(t, models.EnvelopeStatusPending, env.Status)
	assert.NotEmpty(t, env.ID)
	assert.False(t, env.Timestamp.IsZero())

	payload, err := env.DecodeChatMessage()
	require.NoError(t, err)
	assert.Equal(t, "alice", payload.SenderID)
	assert.Equal(t, "hello", payload.Message)
}

func TestSendMessageRejectsInvalidPayload(t *testing.T) {
	pub := &fakePublisher{}
	producer := NewProducer(pub, quietLogger())

	err := producer.SendMessage(context.Background(), models.ChatMessagePayload{
		SenderID:    "alice",
		MessageType: models.MessageTypeText,
	})
	require.Error(t, err)
	assert.Empty(t, pub.calls)
}

func TestPublishEventFansOut(t *testing.T) {
	pub := &fakePublisher{}
	producer := NewProducer(pub, quietLogger())

	err := producer.PublishEvent(context.Background(), models.EventPayload{
		Type:         models.EventMessageRead,
		UserID:       "bob",
		TargetUserID: "alice",
	})
	require.NoError(t, err)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, constants.FanoutExchange, pub.calls[0].exchange)
	assert.Equal(t, "", pub.calls[0].routingKey)

	env := decodeEnvelope(t, pub.calls[0].body)
	event, err := env.DecodeEvent()
	require.NoError(t, err)
	assert.Equal(t, models.EventMessageRead, event.Type)
	assert.False(t, event.Timestamp.IsZero())
}

func TestSendNotification(t *testing.T) {
	pub := &fakePublisher{}
	producer := NewProducer(pub, quietLogger())

	err := producer.SendNotification(context.Background(), models.NotificationPayload{
		Type:   models.NotificationNewMessage,
		UserID: "bob",
		Title:  "New Message",
		Body:   "You have a new message from alice",
	})
	require.NoError(t, err)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, constants.NotificationsQueue, pub.calls[0].queue)

	env := decodeEnvelope(t, pub.calls[0].body)
	assert.Equal(t, models.KindNotification, env.Kind)
}

func TestSendDirectMessageUsesDirectExchange(t *testing.T) {
	pub := &fakePublisher{}
	producer := NewProducer(pub, quietLogger())

	err := producer.SendDirectMessage(context.Background(), models.ChatMessagePayload{
		SenderID:    "alice",
		ReceiverID:  "bob",
		Message:     "direct",
		MessageType: models.MessageTypeText,
	})
	require.NoError(t, err)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, constants.DirectExchange, pub.calls[0].exchange)
	assert.Equal(t, constants.MessageRoutingKey, pub.calls[0].routingKey)

	env := decodeEnvelope(t, pub.calls[0].body)
	assert.Equal(t, models.EnvelopeStatusSent, env.Status)
}

func TestBroadcastMessage(t *testing.T) {
	pub := &fakePublisher{}
	producer := NewProducer(pub, quietLogger())

	err := producer.BroadcastMessage(context.Background(), models.ChatMessagePayload{
		SenderID:    "admin",
		Message:     "maintenance at noon",
		MessageType: models.MessageTypeText,
	}, []string{"alice", "bob"})
	require.NoError(t, err)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, constants.FanoutExchange, pub.calls[0].exchange)

	env := decodeEnvelope(t, pub.calls[0].body)
	payload, err := env.DecodeChatMessage()
	require.NoError(t, err)
	assert.True(t, payload.Broadcast)
	assert.Equal(t, []string{"alice", "bob"}, payload.TargetUserIDs)
}

func TestBroadcastRequiresRecipients(t *testing.T) {
	producer := NewProducer(&fakePublisher{}, quietLogger())
	err := producer.BroadcastMessage(context.Background(), models.ChatMessagePayload{
		SenderID:    "admin",
		Message:     "x",
		MessageType: models.MessageTypeText,
	}, nil)
	require.Error(t, err)
}

func TestPublishErrorsPropagate(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	producer := NewProducer(pub, quietLogger())

	err := producer.SendMessage(context.Background(), models.ChatMessagePayload{
		SenderID:    "alice",
		ReceiverID:  "bob",
		Message:     "hello",
		MessageType: models.MessageTypeText,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to queue chat message")
}

func TestGenerateIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := generateID()
		assert.NotContains(t, seen, id)
		seen[id] = struct{}{}
	}
}
