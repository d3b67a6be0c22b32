package hub

import (
	"context"
	"sort"
	"sync"

	"chatwire/internal/metrics"
	"chatwire/internal/models"

	"github.com/sirupsen/logrus"
)

// EventProducer is the queue surface the hub publishes through. Client
// actions never touch the store directly; they are queued and the consumer
// applies them.
type EventProducer interface {
	SendMessage(ctx context.Context, msg models.ChatMessagePayload) error
	PublishEvent(ctx context.Context, event models.EventPayload) error
	SendTypingIndicator(ctx context.Context, userID, targetUserID string, typing bool) error
	SendUserStatus(ctx context.Context, userID string, online bool) error
}

// ConversationReader is the read-only store surface the hub needs for the
// connect-time preload and room membership checks.
type ConversationReader interface {
	ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (*models.Conversation, error)
}

// Frame is one protocol message on the live connection, in either direction.
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Hub tracks live connections and room membership. One connection per user:
// a newer connection for the same user supersedes the older one.
type Hub struct {
	producer EventProducer
	store    ConversationReader
	logger   *logrus.Logger

	mu    sync.RWMutex
	users map[string]*Client
	rooms map[string]map[*Client]struct{}
}

func New(producer EventProducer, store ConversationReader, logger *logrus.Logger) *Hub {
	return &Hub{
		producer: producer,
		store:    store,
		logger:   logger,
		users:    make(map[string]*Client),
		rooms:    make(map[string]map[*Client]struct{}),
	}
}

// register installs the client as the user's live connection, closing any
// connection it supersedes, and joins the personal room.
func (h *Hub) register(client *Client) {
	h.mu.Lock()
	previous := h.users[client.userID]
	h.users[client.userID] = client
	h.mu.Unlock()

	if previous != nil {
		previous.closeWith("superseded by newer connection")
		h.logger.WithField("user", client.userID).Debug("Superseded existing connection")
	}

	h.joinRoom(client, models.UserRoom(client.userID))
	metrics.SetGauge("websocket_connections", float64(h.ConnectionCount()), nil, "Live websocket connections")
}

// unregister removes the client if it is still the user's current
// connection. A superseded client must not evict its replacement.
func (h *Hub) unregister(client *Client) bool {
	h.mu.Lock()
	current := h.users[client.userID] == client
	if current {
		delete(h.users, client.userID)
	}
	for room := range client.rooms {
		h.removeFromRoomLocked(client, room)
	}
	h.mu.Unlock()

	metrics.SetGauge("websocket_connections", float64(h.ConnectionCount()), nil, "Live websocket connections")
	return current
}

func (h *Hub) joinRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[client] = struct{}{}
	client.rooms[room] = struct{}{}
}

func (h *Hub) leaveRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(client, room)
}

func (h *Hub) removeFromRoomLocked(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(client.rooms, room)
}

// SendToUser delivers an event to a user's live connection, if any. A slow
// or absent receiver is not an error: live delivery is best effort, the
// durable copy is already in the store.
func (h *Hub) SendToUser(userID, event string, data interface{}) {
	h.mu.RLock()
	client := h.users[userID]
	h.mu.RUnlock()

	if client != nil {
		client.enqueue(Frame{Event: event, Data: data})
	}
}

// SendToRoom delivers an event to every member of a room.
func (h *Hub) SendToRoom(room, event string, data interface{}) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for client := range h.rooms[room] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	for _, client := range members {
		client.enqueue(Frame{Event: event, Data: data})
	}
}

// Broadcast delivers an event to every live connection.
func (h *Hub) Broadcast(event string, data interface{}) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.users))
	for _, client := range h.users {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.enqueue(Frame{Event: event, Data: data})
	}
}

// OnlineUsers returns the ids of all users with a live connection, sorted
// for stable output.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	users := make([]string, 0, len(h.users))
	for userID := range h.users {
		users = append(users, userID)
	}
	h.mu.RUnlock()

	sort.Strings(users)
	return users
}

// IsOnline reports whether a user currently holds a live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// Shutdown closes every live connection. Used on graceful stop.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.users))
	for _, client := range h.users {
		clients = append(clients, client)
	}
	h.users = make(map[string]*Client)
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		client.closeWith("server shutting down")
	}
}
