// Package kafka bridges Kafka topics to inbound channels.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/roach88/correlate/internal/metrics"
	"github.com/roach88/correlate/internal/transport"
)

const transportName = "kafka"

// Binding consumes Topic as channel Channel.
type Binding struct {
	Channel string
	Topic   string
}

type Config struct {
	Brokers        []string
	Group          string
	ClientID       string
	MaxPollRecords int
	Bindings       []Binding
}

func (c *Config) withDefaults() {
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = 500
	}
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka brokers are required")
	}
	if c.Group == "" {
		return errors.New("kafka group is required")
	}
	if len(c.Bindings) == 0 {
		return errors.New("kafka needs at least one binding")
	}
	return nil
}

func (c Config) topics() []string {
	topics := make([]string, 0, len(c.Bindings))
	for _, b := range c.Bindings {
		topics = append(topics, b.Topic)
	}
	return topics
}

// Adapter consumes the bound topics in a consumer group and commits a
// record's offset only after it was handled.
//
// Records are handled in fetch order. An unsupported payload or a
// retryable error stops Run without committing, so the group redelivers
// from the last committed offset after restart. Other permanent errors are
// logged, counted and committed past.
type Adapter struct {
	cfg      Config
	receiver transport.EventReceiver
	logger   *zap.Logger
	metrics  *metrics.Metrics
	channels map[string]string

	client       *kgo.Client
	markCommit   func(*kgo.Record)
	commitMarked func(context.Context) error
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

// NewAdapter creates the client. Extra kgo options are appended last.
func NewAdapter(cfg Config, receiver transport.EventReceiver, opts []Option, kopts ...kgo.Opt) (*Adapter, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if receiver == nil {
		return nil, errors.New("event receiver is required")
	}

	a := newAdapter(cfg, receiver, opts...)

	base := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.topics()...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	}
	if cfg.ClientID != "" {
		base = append(base, kgo.ClientID(cfg.ClientID))
	}
	cl, err := kgo.NewClient(append(base, kopts...)...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}
	a.client = cl
	a.markCommit = func(r *kgo.Record) { cl.MarkCommitRecords(r) }
	a.commitMarked = func(ctx context.Context) error { return cl.CommitMarkedOffsets(ctx) }
	return a, nil
}

func newAdapter(cfg Config, receiver transport.EventReceiver, opts ...Option) *Adapter {
	a := &Adapter{
		cfg:      cfg,
		receiver: receiver,
		logger:   zap.NewNop(),
		metrics:  metrics.NewUnregistered(),
		channels: make(map[string]string, len(cfg.Bindings)),
	}
	for _, b := range cfg.Bindings {
		a.channels[b.Topic] = b.Channel
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run polls until ctx is cancelled or a record cannot be handled. The
// client is closed on return.
func (a *Adapter) Run(ctx context.Context) error {
	defer a.client.Close()

	a.logger.Info("kafka bridge started",
		zap.Strings("topics", a.cfg.topics()),
		zap.String("group", a.cfg.Group),
	)

	for {
		fetches := a.client.PollRecords(ctx, a.cfg.MaxPollRecords)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			return fmt.Errorf("poll %s/%d: %w", errs[0].Topic, errs[0].Partition, errs[0].Err)
		}

		var handleErr error
		fetches.EachRecord(func(rec *kgo.Record) {
			if handleErr != nil {
				return
			}
			handleErr = a.processRecord(ctx, rec)
		})

		if err := a.commitMarked(ctx); err != nil {
			a.logger.Warn("offset commit failed", zap.Error(err))
		}
		a.client.AllowRebalance()

		if handleErr != nil {
			return handleErr
		}
	}
}

// processRecord handles one record and marks it for commit unless the
// error requires redelivery.
func (a *Adapter) processRecord(ctx context.Context, rec *kgo.Record) error {
	err := a.handle(ctx, rec)
	if err == nil {
		a.markCommit(rec)
		return nil
	}

	reason := transport.Reason(err)
	a.metrics.MessagesRejected.WithLabelValues(transportName, reason).Inc()

	fields := []zap.Field{
		zap.String("topic", rec.Topic),
		zap.Int32("partition", rec.Partition),
		zap.Int64("offset", rec.Offset),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if reason == transport.ReasonPermanent {
		a.logger.Error("record skipped", fields...)
		a.markCommit(rec)
		return nil
	}

	a.logger.Error("record not handled, stopping partition consumption", fields...)
	return fmt.Errorf("%s/%d@%d: %w", rec.Topic, rec.Partition, rec.Offset, err)
}

func (a *Adapter) handle(ctx context.Context, rec *kgo.Record) error {
	channel, ok := a.channels[rec.Topic]
	if !ok {
		return fmt.Errorf("no channel bound to topic %s", rec.Topic)
	}

	text, err := transport.PayloadText(contentType(rec), rec.Value)
	if err != nil {
		return err
	}
	_, err = a.receiver.EventReceived(ctx, channel, text)
	return err
}

// contentType reads the content-type record header.
func contentType(rec *kgo.Record) string {
	for _, h := range rec.Headers {
		if h.Key == "content-type" || h.Key == "Content-Type" {
			return string(h.Value)
		}
	}
	return ""
}
