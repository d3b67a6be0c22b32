package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chatwire/internal/models"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProducer struct {
	mu       sync.Mutex
	messages []models.ChatMessagePayload
	events   []models.EventPayload
	typing   []bool
	statuses []bool
	err      error
}

func (s *stubProducer) SendMessage(_ context.Context, msg models.ChatMessagePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *stubProducer) PublishEvent(_ context.Context, event models.EventPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *stubProducer) SendTypingIndicator(_ context.Context, _, _ string, typing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, typing)
	return nil
}

func (s *stubProducer) SendUserStatus(_ context.Context, _ string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, online)
	return nil
}

type stubStore struct {
	conversations []*models.Conversation
	conv          *models.Conversation
	err           error
}

func (s *stubStore) ListConversations(_ context.Context, _ string) ([]*models.Conversation, error) {
	return s.conversations, s.err
}

func (s *stubStore) GetConversation(_ context.Context, _ int64) (*models.Conversation, error) {
	return s.conv, s.err
}

func testHub(producer EventProducer, store ConversationReader) *Hub {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	if producer == nil {
		producer = &stubProducer{}
	}
	if store == nil {
		store = &stubStore{}
	}
	return New(producer, store, logger)
}

// wsConn returns a server-side websocket connection backed by a real pipe,
// for tests that exercise connection close paths.
func wsConn(t *testing.T) *websocket.Conn {
	t.Helper()
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clientSide, _, err := websocket.Dial(ctx, srv.URL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientSide.Close(websocket.StatusNormalClosure, "") })

	select {
	case conn := <-serverConns:
		return conn
	case <-ctx.Done():
		t.Fatal("timed out waiting for server connection")
		return nil
	}
}

func readFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case frame := <-c.send:
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame enqueued")
		return Frame{}
	}
}

func TestSendToUser(t *testing.T) {
	h := testHub(nil, nil)
	client := newClient(h, nil, "alice")
	h.register(client)

	h.SendToUser("alice", models.SocketNewMessage, map[string]string{"message": "hi"})

	frame := readFrame(t, client)
	assert.Equal(t, models.SocketNewMessage, frame.Event)

	// Unknown users are a no-op.
	h.SendToUser("nobody", models.SocketNewMessage, nil)
}

func TestRegisterJoinsPersonalRoom(t *testing.T) {
	h := testHub(nil, nil)
	client := newClient(h, nil, "alice")
	h.register(client)

	h.SendToRoom(models.UserRoom("alice"), models.SocketUserTyping, nil)
	frame := readFrame(t, client)
	assert.Equal(t, models.SocketUserTyping, frame.Event)
}

func TestSendToRoom(t *testing.T) {
	h := testHub(nil, nil)
	alice := newClient(h, nil, "alice")
	bob := newClient(h, nil, "bob")
	h.register(alice)
	h.register(bob)

	room := models.ConversationRoom(3)
	h.joinRoom(alice, room)
	h.joinRoom(bob, room)

	h.SendToRoom(room, models.SocketMessagesRead, nil)
	assert.Equal(t, models.SocketMessagesRead, readFrame(t, alice).Event)
	assert.Equal(t, models.SocketMessagesRead, readFrame(t, bob).Event)

	h.leaveRoom(bob, room)
	h.SendToRoom(room, models.SocketMessagesRead, nil)
	assert.Equal(t, models.SocketMessagesRead, readFrame(t, alice).Event)
	assert.Empty(t, bob.send)
}

func TestBroadcast(t *testing.T) {
	h := testHub(nil, nil)
	alice := newClient(h, nil, "alice")
	bob := newClient(h, nil, "bob")
	h.register(alice)
	h.register(bob)

	h.Broadcast(models.SocketUserStatusChange, nil)
	assert.Equal(t, models.SocketUserStatusChange, readFrame(t, alice).Event)
	assert.Equal(t, models.SocketUserStatusChange, readFrame(t, bob).Event)
}

func TestNewerConnectionSupersedesOlder(t *testing.T) {
	h := testHub(nil, nil)

	first := newClient(h, wsConn(t), "alice")
	h.register(first)
	second := newClient(h, wsConn(t), "alice")
	h.register(second)

	// The older connection was closed.
	select {
	case <-first.done:
	case <-time.After(time.Second):
		t.Fatal("superseded connection was not closed")
	}

	assert.Equal(t, 1, h.ConnectionCount())
	assert.True(t, h.IsOnline("alice"))

	// The superseded client must not evict its replacement.
	assert.False(t, h.unregister(first))
	assert.True(t, h.IsOnline("alice"))

	assert.True(t, h.unregister(second))
	assert.False(t, h.IsOnline("alice"))
}

func TestOnlineUsersSorted(t *testing.T) {
	h := testHub(nil, nil)
	assert.Empty(t, h.OnlineUsers())

	h.register(newClient(h, nil, "carol"))
	h.register(newClient(h, nil, "alice"))
	h.register(newClient(h, nil, "bob"))

	assert.Equal(t, []string{"alice", "bob", "carol"}, h.OnlineUsers())
}

func TestUnregisterLeavesRooms(t *testing.T) {
	h := testHub(nil, nil)
	alice := newClient(h, nil, "alice")
	h.register(alice)
	room := models.ConversationRoom(9)
	h.joinRoom(alice, room)

	h.unregister(alice)

	h.SendToRoom(room, models.SocketMessagesRead, nil)
	assert.Empty(t, alice.send)
	assert.Equal(t, 0, h.ConnectionCount())
}

func TestEnqueueDropsWhenBufferFull(t *testing.T) {
	h := testHub(nil, nil)
	client := newClient(h, nil, "alice")

	capacity := cap(client.send)
	for i := 0; i < capacity+10; i++ {
		client.enqueue(Frame{Event: models.SocketNewMessage})
	}
	// Extra frames were dropped, not queued or blocked on.
	assert.Len(t, client.send, capacity)
}

func TestShutdownClosesAllConnections(t *testing.T) {
	h := testHub(nil, nil)
	alice := newClient(h, wsConn(t), "alice")
	bob := newClient(h, wsConn(t), "bob")
	h.register(alice)
	h.register(bob)

	h.Shutdown()

	for _, client := range []*Client{alice, bob} {
		select {
		case <-client.done:
		case <-time.After(time.Second):
			t.Fatal("connection not closed on shutdown")
		}
	}
	assert.Equal(t, 0, h.ConnectionCount())
}

func mustRaw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestHandleSendMessageForcesSenderIdentity(t *testing.T) {
	producer := &stubProducer{}
	h := testHub(producer, nil)
	client := newClient(h, nil, "alice")
	h.register(client)

	client.handleFrame(context.Background(), inboundFrame{
		Event: models.SocketSendMessage,
		Data: mustRaw(t, map[string]interface{}{
			"receiverId": "bob",
			"message":    "hello",
			"senderId":   "mallory",
		}),
	})

	require.Len(t, producer.messages, 1)
	assert.Equal(t, "alice", producer.messages[0].SenderID)
	assert.Equal(t, "bob", producer.messages[0].ReceiverID)
	assert.Equal(t, models.MessageTypeText, producer.messages[0].MessageType)

	ack := readFrame(t, client)
	assert.Equal(t, models.SocketMessageSent, ack.Event)
}

func TestHandleSendMessageQueueFailure(t *testing.T) {
	producer := &stubProducer{err: assert.AnError}
	h := testHub(producer, nil)
	client := newClient(h, nil, "alice")
	h.register(client)

	client.handleFrame(context.Background(), inboundFrame{
		Event: models.SocketSendMessage,
		Data:  mustRaw(t, map[string]string{"receiverId": "bob", "message": "hello"}),
	})

	frame := readFrame(t, client)
	assert.Equal(t, models.SocketError, frame.Event)
}

func TestHandleMarkReadPublishesEvent(t *testing.T) {
	producer := &stubProducer{}
	h := testHub(producer, nil)
	client := newClient(h, nil, "bob")
	h.register(client)

	convID := int64(4)
	room := models.ConversationRoom(convID)
	h.joinRoom(client, room)

	client.handleFrame(context.Background(), inboundFrame{
		Event: models.SocketMarkRead,
		Data:  mustRaw(t, map[string]interface{}{"targetUserId": "alice", "conversationId": convID}),
	})

	require.Len(t, producer.events, 1)
	assert.Equal(t, models.EventMessageRead, producer.events[0].Type)
	assert.Equal(t, "bob", producer.events[0].UserID)
	assert.Equal(t, "alice", producer.events[0].TargetUserID)

	// Optimistic room notification.
	frame := readFrame(t, client)
	assert.Equal(t, models.SocketMessagesRead, frame.Event)
}

func TestHandleMarkReadRequiresTarget(t *testing.T) {
	producer := &stubProducer{}
	h := testHub(producer, nil)
	client := newClient(h, nil, "bob")
	h.register(client)

	client.handleFrame(context.Background(), inboundFrame{
		Event: models.SocketMarkRead,
		Data:  mustRaw(t, map[string]string{}),
	})

	assert.Empty(t, producer.events)
	assert.Equal(t, models.SocketError, readFrame(t, client).Event)
}

func TestHandleTypingForwardsAndPublishes(t *testing.T) {
	producer := &stubProducer{}
	h := testHub(producer, nil)
	alice := newClient(h, nil, "alice")
	bob := newClient(h, nil, "bob")
	h.register(alice)
	h.register(bob)

	alice.handleFrame(context.Background(), inboundFrame{
		Event: models.SocketTypingStart,
		Data:  mustRaw(t, map[string]string{"targetUserId": "bob"}),
	})

	frame := readFrame(t, bob)
	assert.Equal(t, models.SocketUserTyping, frame.Event)
	assert.Equal(t, []bool{true}, producer.typing)
}

func TestHandleJoinConversationChecksMembership(t *testing.T) {
	store := &stubStore{conv: &models.Conversation{
		ID:           5,
		Participants: []string{"alice", "bob"},
	}}
	h := testHub(nil, store)

	alice := newClient(h, nil, "alice")
	h.register(alice)
	alice.handleFrame(context.Background(), inboundFrame{
		Event: models.SocketJoinConversation,
		Data:  mustRaw(t, map[string]int64{"conversationId": 5}),
	})

	h.SendToRoom(models.ConversationRoom(5), models.SocketMessagesRead, nil)
	assert.Equal(t, models.SocketMessagesRead, readFrame(t, alice).Event)

	// A non-participant is refused.
	mallory := newClient(h, nil, "mallory")
	h.register(mallory)
	mallory.handleFrame(context.Background(), inboundFrame{
		Event: models.SocketJoinConversation,
		Data:  mustRaw(t, map[string]int64{"conversationId": 5}),
	})
	assert.Equal(t, models.SocketError, readFrame(t, mallory).Event)
}

func TestHandleJoinConversationNotFound(t *testing.T) {
	h := testHub(nil, &stubStore{})
	client := newClient(h, nil, "alice")
	h.register(client)

	client.handleFrame(context.Background(), inboundFrame{
		Event: models.SocketJoinConversation,
		Data:  mustRaw(t, map[string]int64{"conversationId": 42}),
	})
	assert.Equal(t, models.SocketError, readFrame(t, client).Event)
}

func TestHandleUnknownEvent(t *testing.T) {
	h := testHub(nil, nil)
	client := newClient(h, nil, "alice")
	h.register(client)

	client.handleFrame(context.Background(), inboundFrame{Event: "bogus"})
	assert.Equal(t, models.SocketError, readFrame(t, client).Event)
}
