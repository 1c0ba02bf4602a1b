package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/config"
)

// EventHandler is a function that processes received events.
type EventHandler func(routingKey string, body []byte) error

// Subscriber provides event subscription from RabbitMQ.
type Subscriber interface {
	// Subscribe starts consuming messages from RabbitMQ.
	Subscribe(ctx context.Context, routingKeys []string, handler EventHandler) error

	// Close closes the subscriber connection.
	Close() error
}

// RabbitMQSubscriber implements Subscriber using RabbitMQ.
type RabbitMQSubscriber struct {
	session *session
	queue   string
	logger  *zap.Logger

	mu          sync.RWMutex
	handler     EventHandler
	routingKeys []string
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewRabbitMQSubscriber connects and declares an auto-deleted queue named queueName.
func NewRabbitMQSubscriber(cfg *config.RabbitMQConfig, queueName string, logger *zap.Logger) (*RabbitMQSubscriber, error) {
	s := &RabbitMQSubscriber{
		session: newSession(cfg, "subscriber", logger),
		queue:   queueName,
		logger:  logger,
	}
	s.session.setup = s.declare
	s.session.onReconnect = s.resume

	if err := s.session.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

// declare prepares the queue on a fresh channel and rebinds known routing keys.
func (s *RabbitMQSubscriber) declare(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		s.queue, // name
		false,   // durable
		true,    // auto-delete when no consumers
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	s.mu.RLock()
	keys := s.routingKeys
	s.mu.RUnlock()
	if err := s.bind(ch, keys); err != nil {
		return err
	}

	prefetch := s.session.config.PrefetchCount
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	return nil
}

func (s *RabbitMQSubscriber) bind(ch *amqp.Channel, routingKeys []string) error {
	for _, key := range routingKeys {
		err := ch.QueueBind(
			s.queue,                   // queue name
			key,                       // routing key
			s.session.config.Exchange, // exchange
			false,                     // no-wait
			nil,                       // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to bind queue to routing key %s: %w", key, err)
		}
	}
	return nil
}

// resume restarts consumption after the session reconnects.
func (s *RabbitMQSubscriber) resume() {
	s.mu.RLock()
	handler, ctx := s.handler, s.ctx
	s.mu.RUnlock()

	if handler != nil && ctx != nil {
		go s.consume(ctx, handler)
	}
}

// Subscribe binds routingKeys and consumes until ctx is done or Close is called.
func (s *RabbitMQSubscriber) Subscribe(ctx context.Context, routingKeys []string, handler EventHandler) error {
	ch, err := s.session.currentChannel()
	if err != nil {
		return err
	}
	if err := s.bind(ch, routingKeys); err != nil {
		return err
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.handler = handler
	s.routingKeys = routingKeys
	consumeCtx := s.ctx
	s.mu.Unlock()

	s.logger.Info("Subscribed to routing keys",
		zap.Strings("routing_keys", routingKeys),
		zap.String("queue", s.queue),
	)

	go s.consume(consumeCtx, handler)
	return nil
}

func (s *RabbitMQSubscriber) consume(ctx context.Context, handler EventHandler) {
	ch, err := s.session.currentChannel()
	if err != nil {
		return
	}

	msgs, err := ch.Consume(
		s.queue, // queue
		"",      // consumer tag
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		s.logger.Error("Failed to start consuming", zap.Error(err))
		return
	}

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				s.logger.Info("Message channel closed")
				return
			}
			if err := s.processMessage(msg, handler); err != nil {
				s.logger.Error("Failed to process message",
					zap.Error(err),
					zap.String("routing_key", msg.RoutingKey),
				)
				// Dropped, not requeued.
				msg.Nack(false, false)
			} else {
				msg.Ack(false)
			}

		case <-ctx.Done():
			s.logger.Info("Subscriber context cancelled, stopping consumption")
			return
		}
	}
}

func (s *RabbitMQSubscriber) processMessage(msg amqp.Delivery, handler EventHandler) error {
	s.logger.Debug("Received message",
		zap.String("routing_key", msg.RoutingKey),
		zap.Int("body_size", len(msg.Body)),
	)

	if !json.Valid(msg.Body) {
		return fmt.Errorf("invalid JSON in message body")
	}
	if err := handler(msg.RoutingKey, msg.Body); err != nil {
		return fmt.Errorf("handler error: %w", err)
	}
	return nil
}

// Close stops consumption and closes the connection.
func (s *RabbitMQSubscriber) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	return s.session.close()
}

// NoOpSubscriber is a subscriber that does nothing (for testing or when events disabled).
type NoOpSubscriber struct{}

// NewNoOpSubscriber creates a new no-op subscriber.
func NewNoOpSubscriber() *NoOpSubscriber {
	return &NoOpSubscriber{}
}

func (s *NoOpSubscriber) Subscribe(ctx context.Context, routingKeys []string, handler EventHandler) error {
	return nil
}

func (s *NoOpSubscriber) Close() error {
	return nil
}

// Ensure interface compliance
var _ Subscriber = (*RabbitMQSubscriber)(nil)
var _ Subscriber = (*NoOpSubscriber)(nil)
