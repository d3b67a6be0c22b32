package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"chatwire/internal/constants"
	"chatwire/internal/models"

	"github.com/sirupsen/logrus"
)

// Publisher is the broker surface the producer needs.
type Publisher interface {
	PublishToExchange(ctx context.Context, exchange, routingKey string, body []byte) error
	SendToQueue(ctx context.Context, queue string, body []byte) error
}

// Producer translates application actions into queue envelopes. Operations
// are fire-and-forget for the caller's control flow, but publish failures
// always surface as errors.
type Producer struct {
	broker Publisher
	logger *logrus.Logger
}

func NewProducer(broker Publisher, logger *logrus.Logger) *Producer {
	return &Producer{
		broker: broker,
		logger: logger,
	}
}

// SendMessage queues a chat message for persistence and delivery.
func (p *Producer) SendMessage(ctx context.Context, msg models.ChatMessagePayload) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid chat message: %w", err)
	}

	env, err := models.NewEnvelope(generateID(), models.KindChatMessage, models.EnvelopeStatusPending, msg)
	if err != nil {
		return err
	}
	if err := p.publishEnvelope(ctx, env, func(body []byte) error {
		return p.broker.SendToQueue(ctx, constants.MessagesQueue, body)
	}); err != nil {
		return fmt.Errorf("failed to queue chat message: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"envelope_id": env.ID,
		"receiver":    msg.ReceiverID,
	}).Debug("Chat message queued")
	return nil
}

// PublishEvent fans a typed event out to every bound queue.
func (p *Producer) PublishEvent(ctx context.Context, event models.EventPayload) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	env, err := models.NewEnvelope(generateID(), models.KindEvent, "", event)
	if err != nil {
		return err
	}
	if err := p.publishEnvelope(ctx, env, func(body []byte) error {
		return p.broker.PublishToExchange(ctx, constants.FanoutExchange, "", body)
	}); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}

	p.logger.WithFields(logrus.Fields{
		"envelope_id": env.ID,
		"event_type":  event.Type,
	}).Debug("Chat event published")
	return nil
}

// SendNotification queues a push-notification record for the receiver.
func (p *Producer) SendNotification(ctx context.Context, notification models.NotificationPayload) error {
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now().UTC()
	}
	if err := notification.Validate(); err != nil {
		return fmt.Errorf("invalid notification: %w", err)
	}

	env, err := models.NewEnvelope(generateID(), models.KindNotification, models.EnvelopeStatusPending, notification)
	if err != nil {
		return err
	}
	if err := p.publishEnvelope(ctx, env, func(body []byte) error {
		return p.broker.SendToQueue(ctx, constants.NotificationsQueue, body)
	}); err != nil {
		return fmt.Errorf("failed to queue notification: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"envelope_id": env.ID,
		"user":        notification.UserID,
	}).Debug("Notification queued")
	return nil
}

// SendDirectMessage bypasses the persistence path and routes a message
// straight through the direct exchange.
func (p *Producer) SendDirectMessage(ctx context.Context, msg models.ChatMessagePayload) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid chat message: %w", err)
	}

	env, err := models.NewEnvelope(generateID(), models.KindChatMessage, models.EnvelopeStatusSent, msg)
	if err != nil {
		return err
	}
	if err := p.publishEnvelope(ctx, env, func(body []byte) error {
		return p.broker.PublishToExchange(ctx, constants.DirectExchange, constants.MessageRoutingKey, body)
	}); err != nil {
		return fmt.Errorf("failed to send direct message: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"envelope_id": env.ID,
		"receiver":    msg.ReceiverID,
	}).Debug("Direct message sent")
	return nil
}

// BroadcastMessage fans one payload out to an explicit recipient list.
func (p *Producer) BroadcastMessage(ctx context.Context, msg models.ChatMessagePayload, userIDs []string) error {
	if len(userIDs) == 0 {
		return fmt.Errorf("broadcast requires at least one recipient")
	}
	msg.Broadcast = true
	msg.TargetUserIDs = userIDs
	msg.ReceiverID = ""
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid broadcast message: %w", err)
	}

	env, err := models.NewEnvelope(generateID(), models.KindChatMessage, models.EnvelopeStatusPending, msg)
	if err != nil {
		return err
	}
	if err := p.publishEnvelope(ctx, env, func(body []byte) error {
		return p.broker.PublishToExchange(ctx, constants.FanoutExchange, "", body)
	}); err != nil {
		return fmt.Errorf("failed to broadcast message: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"envelope_id": env.ID,
		"recipients":  len(userIDs),
	}).Debug("Broadcast message sent")
	return nil
}

// SendTypingIndicator publishes a typing start/stop event.
func (p *Producer) SendTypingIndicator(ctx context.Context, userID, targetUserID string, typing bool) error {
	eventType := models.EventTypingStop
	if typing {
		eventType = models.EventTypingStart
	}
	return p.PublishEvent(ctx, models.EventPayload{
		Type:         eventType,
		UserID:       userID,
		TargetUserID: targetUserID,
	})
}

// SendUserStatus publishes an online/offline presence event.
func (p *Producer) SendUserStatus(ctx context.Context, userID string, online bool) error {
	eventType := models.EventUserOffline
	if online {
		eventType = models.EventUserOnline
	}
	return p.PublishEvent(ctx, models.EventPayload{
		Type:   eventType,
		UserID: userID,
	})
}

func (p *Producer) publishEnvelope(ctx context.Context, env *models.Envelope, publish func([]byte) error) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return publish(body)
}

// generateID builds a time-prefixed id with a random suffix. Monotonic
// enough for ordering within one process; not a global identity.
func generateID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("msg_%d_%08x", time.Now().UnixMilli(), time.Now().UnixNano()&0xFFFFFFFF)
	}
	return fmt.Sprintf("msg_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
