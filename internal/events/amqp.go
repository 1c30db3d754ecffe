package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"consultdesk.app/internal/obs"
)

const (
	defaultQueueSize      = 1024
	defaultPublishTimeout = 5 * time.Second
	defaultRedialDelay    = 5 * time.Second
)

var (
	// ErrQueueFull is returned by Publish when the outbound buffer is full,
	// typically while the broker is unreachable.
	ErrQueueFull = errors.New("events: publish queue full")
	// ErrPublisherClosed is returned by Publish after Close.
	ErrPublisherClosed = errors.New("events: publisher closed")

	errBrokerUnavailable = errors.New("events: broker unavailable, waiting to redial")
)

// AMQPPublisher publishes events to a durable topic exchange on RabbitMQ.
// Messages are persistent and routed by event type. Publish only enqueues;
// a single goroutine owns the connection and delivers in order, so a broker
// outage never holds up the caller.
type AMQPPublisher struct {
	url            string
	exchange       string
	publishTimeout time.Duration
	redialDelay    time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
	stop   context.Context
	abort  context.CancelFunc

	// Owned by the run goroutine.
	conn     *amqp.Connection
	ch       *amqp.Channel
	nextDial time.Time
	send     func(ctx context.Context, ev Event) error
	now      func() time.Time
}

var _ Publisher = (*AMQPPublisher)(nil)

// DialAMQP connects to the broker, declares exchange and starts delivery.
func DialAMQP(rawURL, exchange string) (*AMQPPublisher, error) {
	clean, err := sanitizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, errors.New("events: exchange name is required")
	}
	p := newAMQPPublisher(clean, exchange, defaultQueueSize)
	if err := p.connect(); err != nil {
		return nil, err
	}
	p.start()
	return p, nil
}

func newAMQPPublisher(rawURL, exchange string, queueSize int) *AMQPPublisher {
	stop, abort := context.WithCancel(context.Background())
	p := &AMQPPublisher{
		url:            rawURL,
		exchange:       exchange,
		publishTimeout: defaultPublishTimeout,
		redialDelay:    defaultRedialDelay,
		queue:          make(chan Event, queueSize),
		done:           make(chan struct{}),
		stop:           stop,
		abort:          abort,
		now:            time.Now,
	}
	p.send = p.deliver
	return p
}

func (p *AMQPPublisher) start() {
	go p.run()
}

func (p *AMQPPublisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		if p.stop.Err() != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(p.stop, p.publishTimeout)
		err := p.send(ctx, ev)
		cancel()
		if err != nil {
			obs.Error("event delivery failed", err, map[string]any{
				"event_id":   ev.ID,
				"event_type": ev.Type,
				"subject":    ev.Subject,
			})
		}
	}
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(p.publishTimeout)})
	if err != nil {
		return fmt.Errorf("events: dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("events: declare exchange: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

// ensureConnected redials a lost connection at most once per redialDelay.
// In between, it fails immediately and the event is dropped.
func (p *AMQPPublisher) ensureConnected() error {
	if p.conn != nil && !p.conn.IsClosed() {
		return nil
	}
	now := p.now()
	if now.Before(p.nextDial) {
		return errBrokerUnavailable
	}
	if err := p.connect(); err != nil {
		p.nextDial = now.Add(p.redialDelay)
		return err
	}
	p.nextDial = time.Time{}
	return nil
}

func (p *AMQPPublisher) deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.OccurredAt,
		Type:         ev.Type,
		Body:         body,
	}
	if err := p.ensureConnected(); err != nil {
		return err
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, ev.Type, false, false, msg)
	if err == nil || !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	p.conn = nil
	if err := p.ensureConnected(); err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, ev.Type, false, false, msg)
}

// Publish queues ev for delivery and returns without waiting for the broker.
func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits up to the publish timeout for queued
// ones to go out. Whatever is left after that is dropped.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(p.publishTimeout):
		obs.Warn("event queue not drained before close", map[string]any{"pending": len(p.queue)})
		p.abort()
		<-p.done
	}
	p.abort()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if clean == "" {
		return "", errors.New("events: broker url is empty")
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("events: parse broker url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("events: broker url must use amqp:// or amqps://")
	}
	return clean, nil
}
