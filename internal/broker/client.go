package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatwire/internal/constants"
	"chatwire/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ErrUnavailable is returned by every operation once the client has exhausted
// its reconnect budget. Callers decide whether to alert or abort; the client
// never retries past the bound on its own.
var ErrUnavailable = errors.New("broker connection failed after maximum reconnect attempts")

// State models the broker connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Channel is the subset of *amqp.Channel the client and its consumers use.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Close() error
}

// Connection is the subset of *amqp.Connection the client uses.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// DialFunc opens a broker connection. Swapped out in tests.
type DialFunc func(url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	return c.Connection.Channel()
}

// Dial is the production DialFunc backed by amqp091.
func Dial(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn}, nil
}

// Client owns the process-wide broker connection and channel. It declares the
// fixed topology on every successful connect and reconnects on unsolicited
// close, up to a bounded number of attempts.
type Client struct {
	cfg    models.BrokerConfig
	logger *logrus.Logger
	dial   DialFunc

	reconnectDelay time.Duration

	mu      sync.Mutex
	conn    Connection
	channel Channel
	state   State
	closed  bool
}

// NewClient builds an unconnected client. Call Connect before use.
func NewClient(cfg models.BrokerConfig, logger *logrus.Logger) *Client {
	return NewClientWithDialer(cfg, logger, Dial)
}

// NewClientWithDialer builds a client with a custom dialer, for tests.
func NewClientWithDialer(cfg models.BrokerConfig, logger *logrus.Logger, dial DialFunc) *Client {
	if cfg.ReconnectDelaySec <= 0 {
		cfg.ReconnectDelaySec = constants.DefaultReconnectDelaySec
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = constants.DefaultMaxReconnectAttempt
	}
	return &Client{
		cfg:            cfg,
		logger:         logger,
		dial:           dial,
		reconnectDelay: time.Duration(cfg.ReconnectDelaySec) * time.Second,
		state:          StateDisconnected,
	}
}

// Connect establishes the connection and channel and declares the topology.
// A close event from the broker afterwards triggers bounded reconnection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("broker client is closed")
	}
	if c.state == StateFailed {
		return ErrUnavailable
	}
	return c.connectLocked(ctx)
}

// connectLocked performs one connection attempt. Caller holds c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	c.setStateLocked(StateConnecting)

	conn, err := c.dial(c.cfg.URL)
	if err != nil {
		c.setStateLocked(StateDisconnected)
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			c.logger.WithError(closeErr).Warn("Failed to close broker connection after channel error")
		}
		c.setStateLocked(StateDisconnected)
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if c.cfg.Prefetch > 0 {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			if closeErr := conn.Close(); closeErr != nil {
				c.logger.WithError(closeErr).Warn("Failed to close broker connection after qos error")
			}
			c.setStateLocked(StateDisconnected)
			return fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	if err := declareTopology(ch); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			c.logger.WithError(closeErr).Warn("Failed to close broker connection after topology error")
		}
		c.setStateLocked(StateDisconnected)
		return fmt.Errorf("failed to declare topology: %w", err)
	}

	c.conn = conn
	c.channel = ch
	c.setStateLocked(StateConnected)

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	go c.watchClose(ctx, closeCh)

	return nil
}

// declareTopology declares the fixed queue/exchange layout. Declarations are
// idempotent, so this runs on every successful connect.
func declareTopology(ch Channel) error {
	if err := ch.ExchangeDeclare(constants.DirectExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange %s: %w", constants.DirectExchange, err)
	}
	if err := ch.ExchangeDeclare(constants.FanoutExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange %s: %w", constants.FanoutExchange, err)
	}

	for _, queue := range []string{constants.MessagesQueue, constants.NotificationsQueue, constants.EventsQueue} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue %s: %w", queue, err)
		}
	}

	if err := ch.QueueBind(constants.MessagesQueue, constants.MessageRoutingKey, constants.DirectExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", constants.MessagesQueue, err)
	}
	if err := ch.QueueBind(constants.NotificationsQueue, "", constants.FanoutExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", constants.NotificationsQueue, err)
	}
	if err := ch.QueueBind(constants.EventsQueue, "", constants.FanoutExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", constants.EventsQueue, err)
	}

	return nil
}

// watchClose waits for an unsolicited connection close and drives the
// bounded reconnect loop. In-flight unacked deliveries are redelivered by
// the broker itself, not by this client.
func (c *Client) watchClose(ctx context.Context, closeCh <-chan *amqp.Error) {
	select {
	case <-ctx.Done():
		return
	case amqpErr, ok := <-closeCh:
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.conn = nil
		c.channel = nil
		c.setStateLocked(StateReconnecting)
		c.mu.Unlock()

		if ok && amqpErr != nil {
			c.logger.WithError(amqpErr).Warn("Broker connection closed unexpectedly")
		} else {
			c.logger.Warn("Broker connection closed unexpectedly")
		}
		c.reconnect(ctx)
	}
}

func (c *Client) reconnect(ctx context.Context) {
	delay := c.reconnectDelay

	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if c.channel != nil {
			// Another caller (GetChannel) reconnected while this loop was
			// sleeping. Dialing again would replace and leak that connection.
			c.mu.Unlock()
			return
		}
		err := c.connectLocked(ctx)
		c.mu.Unlock()

		if err == nil {
			c.logger.WithField("attempt", attempt).Info("Broker reconnected")
			return
		}
		c.logger.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": c.cfg.MaxReconnectAttempts,
		}).WithError(err).Warn("Broker reconnect attempt failed")
	}

	c.mu.Lock()
	if c.channel == nil && !c.closed {
		c.setStateLocked(StateFailed)
		c.logger.Error("Broker reconnect attempts exhausted, client is in failed state")
	}
	c.mu.Unlock()
}

// GetChannel returns the active channel, transparently connecting if absent.
// Once the client is failed it returns ErrUnavailable.
func (c *Client) GetChannel(ctx context.Context) (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("broker client is closed")
	}
	if c.state == StateFailed {
		return nil, ErrUnavailable
	}
	if c.channel != nil {
		return c.channel, nil
	}
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c.channel, nil
}

// PublishToExchange publishes a persistent message to an exchange. Publish
// failures are returned to the caller, never swallowed.
func (c *Client) PublishToExchange(ctx context.Context, exchange, routingKey string, body []byte) error {
	ch, err := c.GetChannel(ctx)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to exchange %s: %w", exchange, err)
	}
	return nil
}

// SendToQueue publishes a persistent message directly to a queue via the
// default exchange.
func (c *Client) SendToQueue(ctx context.Context, queue string, body []byte) error {
	ch, err := c.GetChannel(ctx)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to send to queue %s: %w", queue, err)
	}
	return nil
}

// Consume starts a manual-ack consumer on a queue. Ack and nack must go
// through the returned deliveries, which reference the channel they were
// received on.
func (c *Client) Consume(ctx context.Context, queue string) (<-chan amqp.Delivery, error) {
	ch, err := c.GetChannel(ctx)
	if err != nil {
		return nil, err
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", queue, err)
	}
	return deliveries, nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close shuts the channel and connection down deliberately, without
// triggering reconnection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.setStateLocked(StateClosed)

	var chanErr error
	if c.channel != nil {
		chanErr = c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		connErr := c.conn.Close()
		c.conn = nil
		return errors.Join(chanErr, connErr)
	}
	return chanErr
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"from": string(c.state),
		"to":   string(s),
	}).Debug("Broker state transition")
	c.state = s
}
