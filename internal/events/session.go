package events

import (
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/config"
)

var errSessionClosed = errors.New("rabbitmq session is closed")

// session owns one AMQP connection and channel bound to the topic exchange, and
// re-establishes both with exponential backoff when the broker drops them.
type session struct {
	config *config.RabbitMQConfig
	name   string
	logger *zap.Logger

	// setup runs on every fresh channel after the exchange is declared.
	setup func(ch *amqp.Channel) error
	// onReconnect runs after a successful reconnect.
	onReconnect func()

	mu           sync.RWMutex
	conn         *amqp.Connection
	channel      *amqp.Channel
	closed       bool
	reconnecting bool
}

func newSession(cfg *config.RabbitMQConfig, name string, logger *zap.Logger) *session {
	return &session{
		config: cfg,
		name:   name,
		logger: logger.With(zap.String("component", name)),
	}
}

// connect dials the broker and prepares the channel.
func (s *session) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSessionClosed
	}

	conn, err := amqp.Dial(s.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		s.config.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if s.setup != nil {
		if err := s.setup(ch); err != nil {
			ch.Close()
			conn.Close()
			return err
		}
	}

	s.conn = conn
	s.channel = ch

	closeChan := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeChan)
	go s.handleClose(closeChan)

	s.logger.Info("Connected to RabbitMQ", zap.String("exchange", s.config.Exchange))
	return nil
}

// currentChannel returns the live channel.
func (s *session) currentChannel() (*amqp.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errSessionClosed
	}
	if s.channel == nil {
		return nil, fmt.Errorf("channel not available")
	}
	return s.channel, nil
}

func (s *session) handleClose(closeChan chan *amqp.Error) {
	err := <-closeChan
	if err == nil {
		return // graceful close
	}

	s.logger.Warn("RabbitMQ connection closed", zap.Error(err))
	s.reconnect()
}

func (s *session) reconnect() {
	s.mu.Lock()
	if s.closed || s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	delay, maxWait := reconnectDelays(s.config)

	for {
		s.mu.RLock()
		closed := s.closed
		s.mu.RUnlock()
		if closed {
			return
		}

		s.logger.Info("Attempting to reconnect to RabbitMQ", zap.Duration("delay", delay))
		time.Sleep(delay)

		if err := s.connect(); err != nil {
			s.logger.Warn("Reconnection failed",
				zap.Error(err),
				zap.Duration("next_attempt", delay*2),
			)
			delay = min(delay*2, maxWait)
			continue
		}

		s.logger.Info("Reconnected to RabbitMQ")
		if s.onReconnect != nil {
			s.onReconnect()
		}
		return
	}
}

// close shuts the channel and connection. It is safe to call more than once.
func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.channel != nil {
		errs = append(errs, s.channel.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}

	s.logger.Info("RabbitMQ session closed")

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("errors closing %s: %w", s.name, err)
	}
	return nil
}

// reconnectDelays returns the initial and maximum reconnect backoff.
func reconnectDelays(cfg *config.RabbitMQConfig) (time.Duration, time.Duration) {
	delay := 5 * time.Second
	maxWait := 30 * time.Second

	if d, err := time.ParseDuration(cfg.ReconnectDelay); err == nil && d > 0 {
		delay = d
	}
	if d, err := time.ParseDuration(cfg.MaxReconnectWait); err == nil && d > 0 {
		maxWait = d
	}
	return delay, maxWait
}
