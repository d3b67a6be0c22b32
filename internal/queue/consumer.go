package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatwire/internal/constants"
	"chatwire/internal/errors"
	"chatwire/internal/metrics"
	"chatwire/internal/models"
	"chatwire/internal/tracing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Result is the tri-state outcome of handling one delivery. The broker
// adapter maps it onto ack / nack-requeue / nack-no-requeue.
type Result int

const (
	// Processed: all side effects succeeded, acknowledge.
	Processed Result = iota
	// Retry: temporary failure, negatively acknowledge with requeue.
	Retry
	// Drop: malformed payload, negatively acknowledge without requeue so a
	// poison message cannot loop forever.
	Drop
)

// Store is the durable-state surface the consumer writes through.
type Store interface {
	SaveMessage(ctx context.Context, msg *models.ChatMessage) error
	FindOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	SetLastMessage(ctx context.Context, conversationID, messageID int64, at time.Time) error
	IncrementUnread(ctx context.Context, conversationID int64, userID string) error
	ResetUnread(ctx context.Context, conversationID int64, userID string) error
	MarkMessagesRead(ctx context.Context, senderID, receiverID string, readAt time.Time) (int64, error)
}

// EventPublisher is the producer surface used for follow-up publishes.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event models.EventPayload) error
	SendNotification(ctx context.Context, notification models.NotificationPayload) error
}

// LiveNotifier routes events to connected clients. The hub implements it;
// the wiring is an explicit dependency, never a global.
type LiveNotifier interface {
	SendToUser(userID, event string, data interface{})
	SendToRoom(room, event string, data interface{})
	Broadcast(event string, data interface{})
}

// BrokerSource starts queue consumers on the shared broker channel.
type BrokerSource interface {
	Consume(ctx context.Context, queue string) (<-chan amqp.Delivery, error)
}

// Consumer drains the three queues and is the single writer of durable chat
// state. Acknowledgement happens only after every persistence side effect
// for a delivery has succeeded.
type Consumer struct {
	broker   BrokerSource
	store    Store
	producer EventPublisher
	hub      LiveNotifier
	push     PushSender
	logger   *logrus.Logger

	processTimeout time.Duration
	convLocks      keyedMutex
	wg             sync.WaitGroup
}

func NewConsumer(broker BrokerSource, store Store, producer EventPublisher, hub LiveNotifier, push PushSender, logger *logrus.Logger) *Consumer {
	if hub == nil {
		hub = noopNotifier{}
	}
	if push == nil {
		push = NewLogPushSender(logger)
	}
	return &Consumer{
		broker:         broker,
		store:          store,
		producer:       producer,
		hub:            hub,
		push:           push,
		logger:         logger,
		processTimeout: constants.DefaultConsumerProcessSec * time.Second,
	}
}

// Start brings up consumers for all three queues. Failure to start any one
// is fatal: the caller must treat the returned error as a startup abort.
func (c *Consumer) Start(ctx context.Context) error {
	queues := []struct {
		name    string
		handler func(ctx context.Context, env *models.Envelope) Result
	}{
		{constants.MessagesQueue, c.handleChatMessage},
		{constants.NotificationsQueue, c.handleNotification},
		{constants.EventsQueue, c.handleEvent},
	}

	for _, q := range queues {
		deliveries, err := c.broker.Consume(ctx, q.name)
		if err != nil {
			return errors.NewBrokerError("consume", err, true).WithContext("queue", q.name)
		}
		c.wg.Add(1)
		go c.drain(ctx, q.name, deliveries, q.handler)
	}

	c.logger.Info("All queue consumers started")
	return nil
}

// Wait blocks until every drain loop has exited.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) drain(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler func(context.Context, *models.Envelope) Result) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.WithField("queue", queue).Warn("Delivery channel closed")
				return
			}
			c.dispatch(ctx, queue, delivery, handler)
		}
	}
}

// dispatch decodes the envelope, runs the handler under the per-delivery
// timeout, and maps the tri-state result to an acknowledgement. Ack and nack
// go through the delivery itself, which references the channel it arrived on.
func (c *Consumer) dispatch(ctx context.Context, queue string, delivery amqp.Delivery, handler func(context.Context, *models.Envelope) Result) {
	ctx, span := tracing.StartSpan(ctx, "queue.consume", attribute.String("messaging.queue", queue))
	defer span.End()

	result := Drop
	var env models.Envelope
	if err := json.Unmarshal(delivery.Body, &env); err != nil {
		c.logger.WithFields(logrus.Fields{
			"queue": queue,
		}).WithError(err).Warn("Dropping malformed envelope")
	} else {
		handlerCtx, cancel := context.WithTimeout(ctx, c.processTimeout)
		result = handler(handlerCtx, &env)
		cancel()
	}

	var ackErr error
	switch result {
	case Processed:
		ackErr = delivery.Ack(false)
	case Retry:
		ackErr = delivery.Nack(false, true)
	case Drop:
		ackErr = delivery.Nack(false, false)
	}
	if ackErr != nil {
		tracing.RecordError(ctx, ackErr)
		c.logger.WithFields(logrus.Fields{
			"queue":       queue,
			"envelope_id": env.ID,
		}).WithError(ackErr).Error("Failed to acknowledge delivery")
	}
	span.SetAttributes(attribute.String("delivery.result", resultLabel(result)))

	metrics.IncrementCounter("queue_deliveries_total", map[string]string{
		"queue":  queue,
		"result": resultLabel(result),
	}, "Queue deliveries by outcome")
}

// handleChatMessage runs the persistence pipeline for one queued message:
// save, conversation update, delivered event, notification, live fan-out.
func (c *Consumer) handleChatMessage(ctx context.Context, env *models.Envelope) Result {
	payload, err := env.DecodeChatMessage()
	if err != nil {
		c.logger.WithField("envelope_id", env.ID).WithError(err).Warn("Dropping invalid chat message")
		return Drop
	}
	if payload.Broadcast {
		return c.fanOutBroadcast(env.ID, payload)
	}

	msg := &models.ChatMessage{
		SenderID:    payload.SenderID,
		ReceiverID:  payload.ReceiverID,
		Body:        payload.Message,
		MessageType: payload.MessageType,
		Timestamp:   payload.Timestamp,
		Attachments: payload.Attachments,
		ReplyTo:     payload.ReplyTo,
	}
	if err := c.store.SaveMessage(ctx, msg); err != nil {
		c.logger.WithField("envelope_id", env.ID).WithError(err).Error("Failed to persist message, requeueing")
		return Retry
	}

	conv, err := c.updateConversation(ctx, msg)
	if err != nil {
		c.logger.WithField("envelope_id", env.ID).WithError(err).Error("Failed to update conversation, requeueing")
		return Retry
	}

	if err := c.producer.PublishEvent(ctx, models.EventPayload{
		Type:           models.EventMessageDelivered,
		UserID:         msg.ReceiverID,
		TargetUserID:   msg.SenderID,
		ConversationID: &conv.ID,
	}); err != nil {
		c.logger.WithField("envelope_id", env.ID).WithError(err).Error("Failed to publish delivered event, requeueing")
		return Retry
	}

	data, _ := json.Marshal(map[string]interface{}{"messageId": msg.ID, "senderId": msg.SenderID})
	if err := c.producer.SendNotification(ctx, models.NotificationPayload{
		Type:   models.NotificationNewMessage,
		UserID: msg.ReceiverID,
		Title:  "New Message",
		Body:   fmt.Sprintf("You have a new message from %s", msg.SenderID),
		Data:   data,
	}); err != nil {
		c.logger.WithField("envelope_id", env.ID).WithError(err).Error("Failed to queue notification, requeueing")
		return Retry
	}

	c.hub.SendToUser(msg.ReceiverID, models.SocketNewMessage, msg)

	c.logger.WithFields(logrus.Fields{
		"envelope_id":     env.ID,
		"message_id":      msg.ID,
		"conversation_id": conv.ID,
	}).Debug("Chat message processed")
	return Processed
}

// updateConversation is the read-modify-write on conversation state. It is
// serialized per pair key so concurrent messages for the same conversation
// cannot lose unread increments or reorder last-message updates.
func (c *Consumer) updateConversation(ctx context.Context, msg *models.ChatMessage) (*models.Conversation, error) {
	unlock := c.convLocks.lock(models.PairKey(msg.SenderID, msg.ReceiverID))
	defer unlock()

	conv, err := c.store.FindOrCreateConversation(ctx, msg.SenderID, msg.ReceiverID)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetLastMessage(ctx, conv.ID, msg.ID, msg.Timestamp); err != nil {
		return nil, err
	}
	if err := c.store.IncrementUnread(ctx, conv.ID, msg.ReceiverID); err != nil {
		return nil, err
	}
	return conv, nil
}

// fanOutBroadcast delivers a broadcast payload to each target's personal
// room. Broadcasts are transient: nothing is persisted.
func (c *Consumer) fanOutBroadcast(envelopeID string, payload *models.ChatMessagePayload) Result {
	for _, userID := range payload.TargetUserIDs {
		c.hub.SendToUser(userID, models.SocketNewMessage, payload)
	}
	c.logger.WithFields(logrus.Fields{
		"envelope_id": envelopeID,
		"recipients":  len(payload.TargetUserIDs),
	}).Debug("Broadcast fanned out")
	return Processed
}

// handleEvent dispatches a typed chat event. Only message_read mutates
// durable state; the rest are transient signals forwarded to the hub.
func (c *Consumer) handleEvent(ctx context.Context, env *models.Envelope) Result {
	// Broadcast chat messages ride the fan-out exchange and therefore also
	// land on the events queue.
	if env.Kind == models.KindChatMessage {
		payload, err := env.DecodeChatMessage()
		if err != nil || !payload.Broadcast {
			return Drop
		}
		return c.fanOutBroadcast(env.ID, payload)
	}

	event, err := env.DecodeEvent()
	if err != nil {
		c.logger.WithField("envelope_id", env.ID).WithError(err).Warn("Dropping invalid event")
		return Drop
	}

	switch event.Type {
	case models.EventMessageRead:
		return c.applyMessageRead(ctx, env.ID, event)

	case models.EventTypingStart, models.EventTypingStop:
		if event.ConversationID != nil {
			c.hub.SendToRoom(models.ConversationRoom(*event.ConversationID), models.SocketUserTyping, map[string]interface{}{
				"userId":   event.UserID,
				"isTyping": event.Type == models.EventTypingStart,
			})
		}
		return Processed

	case models.EventUserOnline, models.EventUserOffline:
		c.hub.Broadcast(models.SocketUserStatusChange, map[string]interface{}{
			"userId":    event.UserID,
			"isOnline":  event.Type == models.EventUserOnline,
			"timestamp": event.Timestamp,
		})
		return Processed

	case models.EventMessageSent, models.EventMessageDelivered:
		c.logger.WithFields(logrus.Fields{
			"envelope_id": env.ID,
			"event_type":  event.Type,
		}).Debug("Delivery event observed")
		return Processed
	}

	c.logger.WithFields(logrus.Fields{
		"envelope_id": env.ID,
		"event_type":  event.Type,
	}).Debug("Unhandled event type")
	return Processed
}

// applyMessageRead zeroes the reader's unread counter and stamps matching
// messages as read.
func (c *Consumer) applyMessageRead(ctx context.Context, envelopeID string, event *models.EventPayload) Result {
	if event.TargetUserID == "" {
		c.logger.WithField("envelope_id", envelopeID).Warn("Dropping message_read event without targetUserId")
		return Drop
	}

	readAt := event.Timestamp
	if readAt.IsZero() {
		readAt = time.Now().UTC()
	}

	// event.UserID is the reader, event.TargetUserID the original sender.
	if _, err := c.store.MarkMessagesRead(ctx, event.TargetUserID, event.UserID, readAt); err != nil {
		c.logger.WithField("envelope_id", envelopeID).WithError(err).Error("Failed to mark messages read, requeueing")
		return Retry
	}

	unlock := c.convLocks.lock(models.PairKey(event.UserID, event.TargetUserID))
	defer unlock()

	conv, err := c.store.FindOrCreateConversation(ctx, event.UserID, event.TargetUserID)
	if err != nil {
		c.logger.WithField("envelope_id", envelopeID).WithError(err).Error("Failed to load conversation, requeueing")
		return Retry
	}
	if err := c.store.ResetUnread(ctx, conv.ID, event.UserID); err != nil {
		c.logger.WithField("envelope_id", envelopeID).WithError(err).Error("Failed to reset unread count, requeueing")
		return Retry
	}

	c.hub.SendToRoom(conv.RoomID(), models.SocketMessagesRead, map[string]interface{}{
		"userId":    event.UserID,
		"timestamp": readAt,
	})
	return Processed
}

// handleNotification hands the record to the push sink. Sink failures are
// transient by assumption and requeued.
func (c *Consumer) handleNotification(ctx context.Context, env *models.Envelope) Result {
	notification, err := env.DecodeNotification()
	if err != nil {
		c.logger.WithField("envelope_id", env.ID).WithError(err).Warn("Dropping invalid notification")
		return Drop
	}

	if err := c.push.Send(ctx, notification); err != nil {
		c.logger.WithFields(logrus.Fields{
			"envelope_id": env.ID,
			"user":        notification.UserID,
		}).WithError(err).Warn("Push sink failed, requeueing notification")
		return Retry
	}
	return Processed
}

func resultLabel(r Result) string {
	switch r {
	case Processed:
		return "processed"
	case Retry:
		return "retry"
	case Drop:
		return "drop"
	}
	return "unknown"
}

// keyedMutex hands out one mutex per key, enforcing single-writer-per-key
// on conversation updates.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

type noopNotifier struct{}

func (noopNotifier) SendToUser(string, string, interface{}) {}
func (noopNotifier) SendToRoom(string, string, interface{}) {}
func (noopNotifier) Broadcast(string, interface{})          {}
