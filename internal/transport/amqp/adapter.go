// Package amqp bridges RabbitMQ queues to inbound channels.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/roach88/correlate/internal/metrics"
	"github.com/roach88/correlate/internal/transport"
)

const transportName = "rabbitmq"

// Binding consumes Queue as channel Channel.
type Binding struct {
	Channel string
	Queue   string
}

type Config struct {
	URL         string
	Prefetch    int
	Workers     int
	ConsumerTag string
	Bindings    []Binding
}

func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("rabbitmq url is required")
	}
	if c.Prefetch < 1 {
		return errors.New("rabbitmq prefetch must be >= 1")
	}
	if c.Workers < 1 {
		return errors.New("rabbitmq workers must be >= 1")
	}
	if len(c.Bindings) == 0 {
		return errors.New("rabbitmq needs at least one binding")
	}
	return nil
}

// Adapter consumes the bound queues with manual acknowledgement.
//
// A handled message is acked. A message with an unsupported payload or a
// permanent error is rejected without requeue so the broker can dead-letter
// it. A retryable error nacks with requeue.
type Adapter struct {
	cfg      Config
	receiver transport.EventReceiver
	logger   *zap.Logger
	metrics  *metrics.Metrics

	conn *amqp091.Connection
	ch   *amqp091.Channel
	ops  chan delivery
	wg   sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

type delivery struct {
	channel string
	d       amqp091.Delivery
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) {
		if m != nil {
			a.metrics = m
		}
	}
}

// NewAdapter validates cfg and creates an adapter that is not connected yet.
func NewAdapter(cfg Config, receiver transport.EventReceiver, opts ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if receiver == nil {
		return nil, errors.New("event receiver is required")
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "correlate"
	}

	a := &Adapter{
		cfg:      cfg,
		receiver: receiver,
		logger:   zap.NewNop(),
		metrics:  metrics.NewUnregistered(),
		ops:      make(chan delivery, cfg.Prefetch),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Start connects, consumes every bound queue and hands deliveries to the
// worker pool. It returns once consumption has started.
func (a *Adapter) Start(ctx context.Context) error {
	conn, err := amqp091.Dial(a.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.Qos(a.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}

	var readers []func()
	for i, b := range a.cfg.Bindings {
		tag := fmt.Sprintf("%s-%d", a.cfg.ConsumerTag, i)
		deliveries, err := ch.Consume(b.Queue, tag, false, false, false, false, nil)
		if err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("consume queue %s: %w", b.Queue, err)
		}
		channel := b.Channel
		readers = append(readers, func() { a.readLoop(ctx, channel, deliveries) })
	}
	a.conn, a.ch = conn, ch

	for _, read := range readers {
		a.wg.Add(1)
		go read()
	}
	for i := 0; i < a.cfg.Workers; i++ {
		a.wg.Add(1)
		go a.workerLoop(ctx)
	}

	a.logger.Info("rabbitmq bridge started",
		zap.Int("bindings", len(a.cfg.Bindings)),
		zap.Int("workers", a.cfg.Workers),
	)
	return nil
}

// Close stops consuming, waits for in-flight deliveries and closes the
// connection. Unacked deliveries are redelivered by the broker.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		if a.ch != nil {
			for i := range a.cfg.Bindings {
				_ = a.ch.Cancel(fmt.Sprintf("%s-%d", a.cfg.ConsumerTag, i), false)
			}
		}
		a.wg.Wait()

		var errs []error
		if a.ch != nil {
			if err := a.ch.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.conn != nil {
			if err := a.conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *Adapter) readLoop(ctx context.Context, channel string, deliveries <-chan amqp091.Delivery) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			select {
			case a.ops <- delivery{channel: channel, d: d}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *Adapter) workerLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-a.ops:
			a.processDelivery(ctx, op.channel, op.d)
		}
	}
}

func (a *Adapter) processDelivery(ctx context.Context, channel string, d amqp091.Delivery) {
	err := a.handle(ctx, channel, d)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			a.logger.Warn("ack failed", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(ackErr))
		}
		return
	}

	reason := transport.Reason(err)
	a.metrics.MessagesRejected.WithLabelValues(transportName, reason).Inc()

	if reason == transport.ReasonRetryable {
		a.logger.Warn("message handling failed, requeueing",
			zap.String("channel", channel),
			zap.Uint64("delivery_tag", d.DeliveryTag),
			zap.Error(err),
		)
		if nackErr := d.Nack(false, true); nackErr != nil {
			a.logger.Warn("nack failed", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(nackErr))
		}
		return
	}

	a.logger.Error("message rejected",
		zap.String("channel", channel),
		zap.Uint64("delivery_tag", d.DeliveryTag),
		zap.String("reason", reason),
		zap.Error(err),
	)
	if rejErr := d.Reject(false); rejErr != nil {
		a.logger.Warn("reject failed", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(rejErr))
	}
}

func (a *Adapter) handle(ctx context.Context, channel string, d amqp091.Delivery) error {
	text, err := transport.PayloadText(d.ContentType, d.Body)
	if err != nil {
		return err
	}
	_, err = a.receiver.EventReceived(ctx, channel, text)
	return err
}
