// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue connects to RabbitMQ, publishes JSON events to durable
// queues and dispatches deliveries to handlers one at a time. A lost
// connection is re-established with a fixed delay and existing consumers
// are re-subscribed.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Well-known queue names.
const (
	ReportCreatedQueue   = "report.created"
	ReportProcessedQueue = "report.processed"

	// DeadLetterSuffix is appended to a queue name to form its dead-letter queue.
	DeadLetterSuffix = ".dead"
)

var (
	// ErrNotConnected is returned when no channel is open.
	ErrNotConnected = errors.New("broker not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("broker closed")
)

// State is the connection state of a Broker. Close moves a connected
// broker to StateClosing while in-flight handlers drain, then to
// StateDisconnected, which is terminal after Close.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Outcome tells the broker what to do with a delivery after handling.
type Outcome int

const (
	// Ack removes the message from the queue.
	Ack Outcome = iota
	// Requeue returns the message to the queue for another attempt.
	Requeue
	// Reject drops the message, dead-lettering it when configured.
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// HandlerFunc processes one message body.
type HandlerFunc func(ctx context.Context, body []byte) Outcome

// Config holds broker settings.
type Config struct {
	URL string
	// Prefetch is the consumer's unacknowledged-message limit. Only 1 is
	// supported; anything else is forced to 1.
	Prefetch             int
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	// DeadLetter declares work queues with a dead-letter route to
	// "<queue>.dead" so rejected messages are kept. Only enable it when
	// this service is the first to declare the queues; RabbitMQ refuses a
	// redeclare with different arguments. Otherwise configure dead-lettering
	// with a broker policy.
	DeadLetter bool
}

// amqpChannel is the subset of *amqp.Channel the broker uses.
type amqpChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

type amqpConnection interface {
	Channel() (amqpChannel, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

type connAdapter struct {
	*amqp.Connection
}

func (c connAdapter) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return connAdapter{conn}, nil
}

type subscription struct {
	ctx     context.Context
	queue   string
	handler HandlerFunc
}

// Broker owns one AMQP connection and channel.
type Broker struct {
	cfg  Config
	dial func(url string) (amqpConnection, error)

	mu           sync.Mutex
	conn         amqpConnection
	ch           amqpChannel
	state        State
	declared     map[string]bool
	subs         []subscription
	shuttingDown bool

	done     chan struct{}
	fatal    chan error
	handlers sync.WaitGroup
}

// New creates a broker. Call Connect before publishing or consuming.
func New(cfg Config) *Broker {
	if cfg.Prefetch != 1 {
		if cfg.Prefetch > 1 {
			slog.Warn("broker prefetch above 1 is not supported, using 1", "prefetch", cfg.Prefetch)
		}
		cfg.Prefetch = 1
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	return &Broker{
		cfg:      cfg,
		dial:     dialAMQP,
		declared: make(map[string]bool),
		done:     make(chan struct{}),
		fatal:    make(chan error, 1),
	}
}

// Connect opens the connection and channel and starts watching for
// connection loss.
func (b *Broker) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shuttingDown {
		return ErrClosed
	}
	b.state = StateConnecting
	if err := b.connectLocked(); err != nil {
		b.state = StateDisconnected
		return err
	}
	return nil
}

func (b *Broker) connectLocked() error {
	conn, err := b.dial(b.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	b.conn, b.ch = conn, ch
	b.declared = make(map[string]bool)
	b.state = StateConnected

	connClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClose := ch.NotifyClose(make(chan *amqp.Error, 1))
	go b.watch(conn, connClose, chClose)

	slog.Info("connected to broker", "prefetch", b.cfg.Prefetch)
	return nil
}

// watch waits for the connection or channel to close and reconnects
// unless the broker is shutting down.
func (b *Broker) watch(conn amqpConnection, connClose, chClose <-chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-connClose:
	case reason = <-chClose:
	case <-b.done:
		return
	}

	b.mu.Lock()
	if b.shuttingDown || b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.state = StateReconnecting
	_ = b.conn.Close()
	b.conn, b.ch = nil, nil
	b.mu.Unlock()

	slog.Warn("broker connection lost", "reason", reason)
	b.reconnect()
}

func (b *Broker) reconnect() {
	for attempt := 1; attempt <= b.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-b.done:
			return
		case <-time.After(b.cfg.ReconnectDelay):
		}

		b.mu.Lock()
		if b.shuttingDown {
			b.mu.Unlock()
			return
		}
		err := b.connectLocked()
		subs := append([]subscription(nil), b.subs...)
		b.mu.Unlock()

		if err != nil {
			slog.Warn("broker reconnect failed",
				"attempt", attempt,
				"max_attempts", b.cfg.MaxReconnectAttempts,
				"error", err,
			)
			continue
		}

		for _, s := range subs {
			if err := b.startConsumer(s); err != nil {
				slog.Error("failed to restore consumer", "queue", s.queue, "error", err)
			}
		}
		slog.Info("broker reconnected", "attempt", attempt, "consumers", len(subs))
		return
	}

	b.mu.Lock()
	b.state = StateDisconnected
	b.mu.Unlock()

	err := fmt.Errorf("broker reconnect failed after %d attempts", b.cfg.MaxReconnectAttempts)
	slog.Error("giving up on broker", "error", err)
	select {
	case b.fatal <- err:
	default:
	}
}

// Fatal delivers an error when reconnection has been abandoned.
func (b *Broker) Fatal() <-chan error {
	return b.fatal
}

// State returns the current connection state.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Check returns ErrNotConnected unless the broker is connected.
func (b *Broker) Check(_ context.Context) error {
	if s := b.State(); s != StateConnected {
		return fmt.Errorf("%w (%s)", ErrNotConnected, s)
	}
	return nil
}

func (b *Broker) declareLocked(queue string) error {
	if b.declared[queue] {
		return nil
	}
	var args amqp.Table
	if b.cfg.DeadLetter {
		dlq := queue + DeadLetterSuffix
		if _, err := b.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlq, err)
		}
		args = amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlq,
		}
	}
	if _, err := b.ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	b.declared[queue] = true
	return nil
}

// Publish sends v as a persistent JSON message to queue, declaring the
// queue first if needed.
func (b *Broker) Publish(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shuttingDown {
		return ErrClosed
	}
	if b.ch == nil || b.state != StateConnected {
		return ErrNotConnected
	}
	if err := b.declareLocked(queue); err != nil {
		return err
	}

	msgID := uuid.NewString()
	err = b.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msgID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}

	slog.Debug("published message", "queue", queue, "message_id", msgID)
	return nil
}

// Consume subscribes handler to queue. Deliveries are handled one at a
// time; the subscription is restored after a reconnect and ends when ctx
// is cancelled or the broker is closed.
func (b *Broker) Consume(ctx context.Context, queue string, handler HandlerFunc) error {
	sub := subscription{ctx: ctx, queue: queue, handler: handler}
	if err := b.startConsumer(sub); err != nil {
		return err
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

func (b *Broker) startConsumer(sub subscription) error {
	b.mu.Lock()
	if b.shuttingDown {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.ch == nil {
		b.mu.Unlock()
		return ErrNotConnected
	}
	if err := b.declareLocked(sub.queue); err != nil {
		b.mu.Unlock()
		return err
	}
	deliveries, err := b.ch.Consume(sub.queue, "", false, false, false, false, nil)
	if err == nil {
		b.handlers.Add(1)
	}
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("consume %s: %w", sub.queue, err)
	}

	go b.dispatch(sub, deliveries)
	slog.Info("consuming queue", "queue", sub.queue)
	return nil
}

func (b *Broker) dispatch(sub subscription, deliveries <-chan amqp.Delivery) {
	defer b.handlers.Done()
	for {
		select {
		case <-b.done:
			return
		case <-sub.ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			b.handle(sub, d)
		}
	}
}

func (b *Broker) handle(sub subscription, d amqp.Delivery) {
	// An in-flight message finishes even if the consumer is being stopped.
	outcome := safeCall(context.WithoutCancel(sub.ctx), sub, d)

	var err error
	switch outcome {
	case Ack:
		err = d.Ack(false)
	case Requeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		slog.Error("failed to settle delivery",
			"queue", sub.queue, "delivery_tag", d.DeliveryTag, "outcome", outcome.String(), "error", err)
	}
}

func safeCall(ctx context.Context, sub subscription, d amqp.Delivery) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("message handler panicked",
				"queue", sub.queue, "message_id", d.MessageId, "panic", r)
			outcome = Reject
		}
	}()
	return sub.handler(ctx, d.Body)
}

// Close stops consumers, waits for in-flight handlers and closes the
// channel and connection. It is safe to call more than once.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.shuttingDown {
		b.mu.Unlock()
		return nil
	}
	b.shuttingDown = true
	b.state = StateClosing
	close(b.done)
	b.mu.Unlock()

	b.handlers.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	if b.ch != nil {
		if err := b.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	b.conn, b.ch = nil, nil
	b.state = StateDisconnected
	slog.Info("broker closed")
	return errors.Join(errs...)
}
