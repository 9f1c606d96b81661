package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/outlet-reservation/internal/model"
)

// dialTimeout bounds broker connects made on the request path.
const dialTimeout = 3 * time.Second

const (
	minRedial = time.Second
	maxRedial = 30 * time.Second
)

// ErrBrokerBackoff is returned while the publisher waits out a failed dial.
var ErrBrokerBackoff = errors.New("broker unavailable, redial pending")

// Publisher sends reservation events to a durable queue on the default
// exchange. The connection is opened lazily and reopened after failures.
// Only one caller dials at a time; the others wait for it or give up with
// their context, and after a failed dial events are dropped until the
// backoff passes.
type Publisher struct {
	url    string
	queue  string
	logger *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	dialing  chan struct{}
	nextDial time.Time
	backoff  time.Duration
}

func NewPublisher(url, queue string, logger *slog.Logger) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{url: url, queue: queue, logger: logger}
}

// Notify publishes ev as a persistent JSON message.
func (p *Publisher) Notify(ctx context.Context, ev model.ReservationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		MessageId:    ev.ReservationID + ":" + ev.State,
		Body:         body,
	})
	if err != nil {
		p.mu.Lock()
		if p.ch == ch {
			p.reset()
		}
		p.mu.Unlock()
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// channel returns an open channel, dialing when needed.
func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	for {
		p.mu.Lock()
		if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
			ch := p.ch
			p.mu.Unlock()
			return ch, nil
		}
		if wait := p.dialing; wait != nil {
			p.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, fmt.Errorf("wait for broker: %w", ctx.Err())
			}
		}
		if time.Now().Before(p.nextDial) {
			p.mu.Unlock()
			return nil, ErrBrokerBackoff
		}
		p.reset()
		done := make(chan struct{})
		p.dialing = done
		p.mu.Unlock()

		conn, ch, err := p.dial(ctx)

		p.mu.Lock()
		p.dialing = nil
		close(done)
		if err != nil {
			p.backoff = nextBackoff(p.backoff)
			p.nextDial = time.Now().Add(p.backoff)
			p.mu.Unlock()
			return nil, err
		}
		p.conn, p.ch = conn, ch
		p.backoff, p.nextDial = 0, time.Time{}
		p.mu.Unlock()
		p.logger.Info("event publisher connected", "queue", p.queue)
		return ch, nil
	}
}

// dial connects and declares the queue. The handshake is bounded by
// dialTimeout and abandoned when ctx is done.
func (p *Publisher) dial(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	var stop func() bool
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Dial: func(network, addr string) (net.Conn, error) {
			deadline := time.Now().Add(dialTimeout)
			if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
				deadline = d
			}
			d := net.Dialer{Deadline: deadline}
			c, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := c.SetDeadline(deadline); err != nil {
				_ = c.Close()
				return nil, err
			}
			stop = context.AfterFunc(ctx, func() { _ = c.SetDeadline(time.Now()) })
			return c, nil
		},
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if stop != nil && !stop() && err == nil {
		_ = conn.Close()
		err = ctx.Err()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", p.queue, err)
	}
	return conn, ch, nil
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur < minRedial {
		return minRedial
	}
	if cur*2 > maxRedial {
		return maxRedial
	}
	return cur * 2
}

// reset drops the current connection. Callers hold mu.
func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
