package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"chatwire/internal/constants"
	"chatwire/internal/metrics"
	"chatwire/internal/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// inboundFrame defers payload decoding until the event name is known.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sendMessageRequest struct {
	ReceiverID     string             `json:"receiverId"`
	Message        string             `json:"message"`
	MessageType    models.MessageType `json:"messageType"`
	Attachments    []string           `json:"attachments,omitempty"`
	ReplyTo        *int64             `json:"replyTo,omitempty"`
	ConversationID *int64             `json:"conversationId,omitempty"`
}

type typingRequest struct {
	TargetUserID   string `json:"targetUserId"`
	ConversationID *int64 `json:"conversationId,omitempty"`
}

type markReadRequest struct {
	TargetUserID   string `json:"targetUserId"`
	ConversationID *int64 `json:"conversationId,omitempty"`
}

type conversationRequest struct {
	ConversationID int64 `json:"conversationId"`
}

// Client is one live websocket connection bound to an authenticated user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	logger *logrus.Entry
	userID string

	send  chan Frame
	rooms map[string]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(h *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		logger: h.logger.WithField("user", userID),
		userID: userID,
		send:   make(chan Frame, constants.DefaultSocketSendBuffer),
		rooms:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// run drives the connection until the peer disconnects or the server shuts
// down. It owns registration: by the time run returns, the client is
// unregistered and the offline event has been published if this was the
// user's current connection.
func (c *Client) run(ctx context.Context) {
	c.hub.register(c)
	c.conn.SetReadLimit(constants.MaxInboundFrameBytes)

	go c.writeLoop(ctx)

	if err := c.hub.producer.SendUserStatus(ctx, c.userID, true); err != nil {
		c.logger.WithError(err).Warn("Failed to publish online status")
	}
	c.preloadConversations(ctx)

	c.readLoop(ctx)

	wasCurrent := c.hub.unregister(c)
	c.closeWith("connection closed")

	if wasCurrent {
		// Detached context: the connection context is already canceled.
		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.hub.producer.SendUserStatus(offCtx, c.userID, false); err != nil {
			c.logger.WithError(err).Warn("Failed to publish offline status")
		}
	}
	c.logger.Debug("Connection closed")
}

// preloadConversations pushes the user's conversation list as the first
// outbound frame, so clients render without an extra round trip, and joins
// the rooms so conversation fan-out reaches this connection immediately.
func (c *Client) preloadConversations(ctx context.Context) {
	conversations, err := c.hub.store.ListConversations(ctx, c.userID)
	if err != nil {
		c.logger.WithError(err).Error("Failed to preload conversations")
		c.enqueue(Frame{Event: models.SocketError, Data: map[string]string{
			"message": "failed to load conversations",
		}})
		return
	}
	for _, conv := range conversations {
		c.hub.joinRoom(c, conv.RoomID())
	}
	c.enqueue(Frame{Event: models.SocketConversationsLoaded, Data: conversations})
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		var frame inboundFrame
		if err := wsjson.Read(ctx, c.conn, &frame); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.logger.WithError(err).Debug("Read loop terminated")
			}
			return
		}
		c.handleFrame(ctx, frame)
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case frame := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, constants.DefaultWriteToSocketTimeoutSec*time.Second)
			err := wsjson.Write(writeCtx, c.conn, frame)
			cancel()
			if err != nil {
				c.logger.WithError(err).Debug("Write failed, dropping connection")
				c.closeWith("write failure")
				return
			}
		}
	}
}

// enqueue hands a frame to the write loop. When the buffer is full the frame
// is dropped: live delivery is best effort and must not block the hub.
func (c *Client) enqueue(frame Frame) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		c.logger.WithField("event", frame.Event).Warn("Send buffer full, dropping frame")
		metrics.IncrementCounter("websocket_frames_dropped", map[string]string{
			"event": frame.Event,
		}, "Outbound frames dropped on full send buffer")
	}
}

func (c *Client) closeWith(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close(websocket.StatusNormalClosure, reason)
	})
}

func (c *Client) handleFrame(ctx context.Context, frame inboundFrame) {
	metrics.IncrementCounter("websocket_frames_received", map[string]string{
		"event": frame.Event,
	}, "Inbound websocket frames by event")

	switch frame.Event {
	case models.SocketSendMessage:
		c.handleSendMessage(ctx, frame.Data)
	case models.SocketTypingStart:
		c.handleTyping(ctx, frame.Data, true)
	case models.SocketTypingStop:
		c.handleTyping(ctx, frame.Data, false)
	case models.SocketMarkRead:
		c.handleMarkRead(ctx, frame.Data)
	case models.SocketJoinConversation:
		c.handleJoinConversation(ctx, frame.Data)
	case models.SocketLeaveConversation:
		c.handleLeaveConversation(frame.Data)
	default:
		c.sendError("unknown event: " + frame.Event)
	}
}

// handleSendMessage validates and queues an outbound message. The ack only
// confirms the message was queued; durable identity arrives later via the
// consumer's fan-out.
func (c *Client) handleSendMessage(ctx context.Context, data json.RawMessage) {
	var req sendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("invalid send_message payload")
		return
	}
	if req.MessageType == "" {
		req.MessageType = models.InferMessageType(req.Attachments)
	}

	payload := models.ChatMessagePayload{
		SenderID:       c.userID,
		ReceiverID:     req.ReceiverID,
		Message:        req.Message,
		MessageType:    req.MessageType,
		Timestamp:      time.Now().UTC(),
		Attachments:    req.Attachments,
		ReplyTo:        req.ReplyTo,
		ConversationID: req.ConversationID,
	}
	if err := c.hub.producer.SendMessage(ctx, payload); err != nil {
		c.logger.WithError(err).Error("Failed to queue message")
		c.sendError("failed to send message")
		return
	}

	c.enqueue(Frame{Event: models.SocketMessageSent, Data: map[string]interface{}{
		"receiverId": req.ReceiverID,
		"timestamp":  payload.Timestamp,
		"status":     "queued",
	}})
}

// handleTyping forwards the indicator immediately for latency and also
// publishes the event so other instances observe it.
func (c *Client) handleTyping(ctx context.Context, data json.RawMessage, typing bool) {
	var req typingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("invalid typing payload")
		return
	}

	indicator := map[string]interface{}{
		"userId":   c.userID,
		"isTyping": typing,
	}
	if req.ConversationID != nil {
		c.hub.SendToRoom(models.ConversationRoom(*req.ConversationID), models.SocketUserTyping, indicator)
	} else if req.TargetUserID != "" {
		c.hub.SendToUser(req.TargetUserID, models.SocketUserTyping, indicator)
	}

	if err := c.hub.producer.SendTypingIndicator(ctx, c.userID, req.TargetUserID, typing); err != nil {
		c.logger.WithError(err).Warn("Failed to publish typing event")
	}
}

// handleMarkRead publishes a read event; the consumer owns the durable
// counter reset and message stamping.
func (c *Client) handleMarkRead(ctx context.Context, data json.RawMessage) {
	var req markReadRequest
	if err := json.Unmarshal(data, &req); err != nil || req.TargetUserID == "" {
		c.sendError("invalid mark_read payload")
		return
	}

	if err := c.hub.producer.PublishEvent(ctx, models.EventPayload{
		Type:           models.EventMessageRead,
		UserID:         c.userID,
		TargetUserID:   req.TargetUserID,
		ConversationID: req.ConversationID,
	}); err != nil {
		c.logger.WithError(err).Error("Failed to publish read event")
		c.sendError("failed to mark messages read")
		return
	}

	if req.ConversationID != nil {
		c.hub.SendToRoom(models.ConversationRoom(*req.ConversationID), models.SocketMessagesRead, map[string]interface{}{
			"userId":    c.userID,
			"timestamp": time.Now().UTC(),
		})
	}
}

// handleJoinConversation admits the client to a conversation room after a
// membership check against the store.
func (c *Client) handleJoinConversation(ctx context.Context, data json.RawMessage) {
	var req conversationRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == 0 {
		c.sendError("invalid join_conversation payload")
		return
	}

	conv, err := c.hub.store.GetConversation(ctx, req.ConversationID)
	if err != nil || conv == nil {
		c.sendError("conversation not found")
		return
	}
	if !conv.HasParticipant(c.userID) {
		c.sendError("not a participant of this conversation")
		return
	}

	c.hub.joinRoom(c, conv.RoomID())
	c.logger.WithField("conversation", conv.ID).Debug("Joined conversation room")
}

func (c *Client) handleLeaveConversation(data json.RawMessage) {
	var req conversationRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == 0 {
		c.sendError("invalid leave_conversation payload")
		return
	}
	c.hub.leaveRoom(c, models.ConversationRoom(req.ConversationID))
}

func (c *Client) sendError(message string) {
	c.enqueue(Frame{Event: models.SocketError, Data: map[string]string{
		"message": message,
	}})
}
