package queue

import (
	"context"
	"time"

	"chatwire/internal/constants"
	"chatwire/internal/models"
	"chatwire/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

// PushSender delivers a notification record to an external push service.
type PushSender interface {
	Send(ctx context.Context, notification *models.NotificationPayload) error
}

// LogPushSender is the default sink when no push provider is configured. It
// records the notification so operators can see the traffic.
type LogPushSender struct {
	logger *logrus.Logger
}

func NewLogPushSender(logger *logrus.Logger) *LogPushSender {
	return &LogPushSender{logger: logger}
}

func (s *LogPushSender) Send(_ context.Context, notification *models.NotificationPayload) error {
	s.logger.WithFields(logrus.Fields{
		"user":  notification.UserID,
		"type":  notification.Type,
		"title": notification.Title,
	}).Info("Push notification delivered")
	return nil
}

// GuardedPushSender wraps a sender with a circuit breaker so a failing push
// provider sheds load instead of stalling the notifications queue.
type GuardedPushSender struct {
	inner   PushSender
	breaker *circuitbreaker.CircuitBreaker
}

func NewGuardedPushSender(inner PushSender, logger *logrus.Logger) *GuardedPushSender {
	return &GuardedPushSender{
		inner:   inner,
		breaker: circuitbreaker.NewWithLogger("push-sender", 5, 30*time.Second, logger),
	}
}

func (s *GuardedPushSender) Send(ctx context.Context, notification *models.NotificationPayload) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DefaultPushSinkTimeoutSec*time.Second)
	defer cancel()
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.Send(ctx, notification)
	})
}
