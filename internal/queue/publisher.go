package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/config"
)

// Publisher sends audit events somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, ev AuthEvent) error
}

// NopPublisher drops every event.  Used when the audit trail is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AuthEvent) error { return nil }

// NewPublisher returns an AMQP publisher when cfg enables the audit trail,
// otherwise a NopPublisher.
func NewPublisher(cfg config.QueueConfig, log *zap.Logger) Publisher {
	if !cfg.Enabled {
		return NopPublisher{}
	}
	return NewAMQPPublisher(cfg.URL, cfg.AuditQueue, log)
}

// ErrUnavailable is returned while the broker cannot be reached: during a
// dial started by another caller and until the redial backoff elapses.
var ErrUnavailable = errors.New("audit broker unavailable")

const (
	minRedialBackoff = time.Second
	maxRedialBackoff = 30 * time.Second
)

// AMQPPublisher publishes persistent JSON messages to a durable queue on the
// default exchange.  The connection is opened lazily, outside the lock, and
// reopened after a failure with exponential backoff.
type AMQPPublisher struct {
	url   string
	queue string
	log   *zap.Logger
	dial  func() (*amqp.Connection, *amqp.Channel, error)
	now   func() time.Time

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	dialing bool
	closed  bool
	backoff time.Duration
	retryAt time.Time
}

func NewAMQPPublisher(url, queue string, log *zap.Logger) *AMQPPublisher {
	p := &AMQPPublisher{url: url, queue: queue, log: log, now: time.Now}
	p.dial = p.dialBroker
	return p
}

// Publish sends ev.  Errors are logged and returned so the caller can choose
// to ignore them.  Publish never waits on a dial longer than ctx allows.
func (p *AMQPPublisher) Publish(ctx context.Context, ev AuthEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	ch, err := p.channel(ctx)
	if err != nil {
		p.log.Warn("rabbitmq: channel unavailable", zap.String("event", ev.Event), zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    ev.OccurredAt,
		Type:         ev.Event,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		p.log.Warn("rabbitmq: publish failed", zap.String("event", ev.Event), zap.Error(err))
		p.mu.Lock()
		if p.ch == ch {
			p.reset()
		}
		p.mu.Unlock()
		return err
	}
	return nil
}

// channel returns the cached channel or starts a dial.  Only one dial runs
// at a time; other callers get ErrUnavailable instead of queueing behind it.
func (p *AMQPPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	if p.ch != nil && !p.ch.IsClosed() {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	if p.closed || p.dialing || p.now().Before(p.retryAt) {
		p.mu.Unlock()
		return nil, ErrUnavailable
	}
	p.reset()
	p.dialing = true
	p.mu.Unlock()

	type result struct {
		ch  *amqp.Channel
		err error
	}
	done := make(chan result, 1)
	go func() {
		conn, ch, err := p.dial()

		p.mu.Lock()
		defer p.mu.Unlock()
		p.dialing = false
		switch {
		case err != nil:
			p.backoff = nextBackoff(p.backoff)
			p.retryAt = p.now().Add(p.backoff)
		case p.closed:
			_ = ch.Close()
			_ = conn.Close()
			err = ErrUnavailable
		default:
			p.conn, p.ch = conn, ch
			p.backoff, p.retryAt = 0, time.Time{}
		}
		done <- result{ch, err}
	}()

	select {
	case r := <-done:
		return r.ch, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *AMQPPublisher) dialBroker() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(p.url, dialConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("queue declare: %w", err)
	}
	return conn, ch, nil
}

func nextBackoff(d time.Duration) time.Duration {
	if d < minRedialBackoff {
		return minRedialBackoff
	}
	return min(2*d, maxRedialBackoff)
}

// reset drops the cached connection.  Caller holds p.mu.
func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.  A dial still in flight is
// discarded when it completes.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.reset()
	return nil
}

// dialConfig caps the TCP dial at five seconds.
func dialConfig() amqp.Config {
	return amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(5 * time.Second),
	}
}
