package dispatch

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/roach88/correlate/internal/correlation"
	"github.com/roach88/correlate/internal/ir"
	"github.com/roach88/correlate/internal/metrics"
)

// CaseConsumerKey identifies the case consumer in a Router.
const CaseConsumerKey = "cmmnEventConsumer"

const tracerName = "github.com/roach88/correlate/internal/dispatch"

// Consumer handles occurrences for one kind of execution engine.
type Consumer interface {
	ConsumerKey() string
	OnEventReceived(ctx context.Context, occ ir.Occurrence) error
}

// CaseConsumer correlates occurrences with case subscriptions and resumes
// or starts cases accordingly.
//
// CaseConsumer holds no per-occurrence state; OnEventReceived may be
// called concurrently.
type CaseConsumer struct {
	uow               UnitOfWork
	resolver          *Resolver
	guard             *Guard
	logger            *zap.Logger
	metrics           *metrics.Metrics
	tracer            trace.Tracer
	locker            StartLocker
	deriveOpts        []correlation.Option
	continueOnFailure bool
}

// Option configures a CaseConsumer.
type Option func(*CaseConsumer)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(c *CaseConsumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the Prometheus collectors. Default: unregistered.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *CaseConsumer) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Default: the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *CaseConsumer) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithStartLocker serializes concurrent starts of the same definition and
// business key.
func WithStartLocker(l StartLocker) Option {
	return func(c *CaseConsumer) {
		c.locker = l
	}
}

// WithMaxCorrelationParameters bounds the correlation parameters an
// occurrence may carry.
func WithMaxCorrelationParameters(n int) Option {
	return func(c *CaseConsumer) {
		c.deriveOpts = append(c.deriveOpts, correlation.WithMaxParameters(n))
	}
}

// WithContinueOnFailure attempts every disposition of an occurrence even
// after one fails and returns the joined failures. The default stops at
// the first failure.
func WithContinueOnFailure() Option {
	return func(c *CaseConsumer) {
		c.continueOnFailure = true
	}
}

// NewCaseConsumer creates the case consumer.
func NewCaseConsumer(uow UnitOfWork, opts ...Option) *CaseConsumer {
	c := &CaseConsumer{
		uow:      uow,
		resolver: NewResolver(ir.ScopeTypeCase),
		logger:   zap.NewNop(),
		metrics:  metrics.NewUnregistered(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.guard = NewGuard(c.logger, c.metrics, c.locker)
	return c
}

// ConsumerKey implements Consumer.
func (c *CaseConsumer) ConsumerKey() string {
	return CaseConsumerKey
}

// OnEventReceived resolves the subscriptions matching occ and dispatches
// each of them. It returns after every disposition has been attempted or
// the first one failed.
func (c *CaseConsumer) OnEventReceived(ctx context.Context, occ ir.Occurrence) error {
	ctx, span := c.tracer.Start(ctx, "dispatch.OnEventReceived",
		trace.WithAttributes(
			attribute.String("event.type", occ.ModelKey),
			attribute.String("occurrence.id", occ.ID),
			attribute.String("tenant.id", occ.TenantID),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		c.metrics.ProcessingDuration.WithLabelValues(CaseConsumerKey).Observe(time.Since(start).Seconds())
	}()
	c.metrics.OccurrencesReceived.WithLabelValues(occ.ModelKey).Inc()

	keys, err := correlation.Derive(occ.CorrelationParameters, c.deriveOpts...)
	if err != nil {
		return c.fail(span, queryFailure(occ, err))
	}

	matches, err := c.resolve(ctx, occ, keys)
	if err != nil {
		return c.fail(span, queryFailure(occ, err))
	}

	c.logger.Debug("subscriptions resolved",
		zap.String("event_type", occ.ModelKey),
		zap.String("occurrence_id", occ.ID),
		zap.Int("correlation_keys", keys.Len()),
		zap.Int("unconditional", len(matches.Unconditional)),
		zap.Int("correlated", len(matches.Correlated)),
	)
	span.SetAttributes(attribute.Int("subscriptions.matched", matches.Len()))

	subs := matches.All()
	var failures []error
	for i, sub := range subs {
		d := ir.Classify(sub)
		c.metrics.Dispositions.WithLabelValues(d.Kind.String()).Inc()
		if d.Kind == ir.DispositionInert {
			continue
		}

		if err := c.dispatch(ctx, occ, keys, sub, d); err != nil {
			derr := &Error{
				Code:           CodeDispatchFailure,
				OccurrenceID:   occ.ID,
				EventType:      occ.ModelKey,
				SubscriptionID: sub.ID,
				Disposition:    d,
				Attempted:      i + 1,
				Remaining:      len(subs) - i - 1,
				Err:            err,
			}
			if !c.continueOnFailure {
				return c.fail(span, derr)
			}
			c.logFailure(derr)
			failures = append(failures, derr)
		}
	}

	if len(failures) > 0 {
		span.SetStatus(codes.Error, "dispatch failures")
		return errors.Join(failures...)
	}
	return nil
}

// resolve runs both subscription lookups in one unit of work.
func (c *CaseConsumer) resolve(ctx context.Context, occ ir.Occurrence, keys correlation.KeySet) (Matches, error) {
	ctx, span := c.tracer.Start(ctx, "dispatch.resolve")
	defer span.End()

	var matches Matches
	err := c.uow.Execute(ctx, func(ctx context.Context, s Session) error {
		var err error
		matches, err = c.resolver.Resolve(ctx, s, occ, keys)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Matches{}, err
	}
	return matches, nil
}

// dispatch runs one disposition in its own unit of work.
func (c *CaseConsumer) dispatch(ctx context.Context, occ ir.Occurrence, keys correlation.KeySet, sub ir.Subscription, d ir.Disposition) error {
	ctx, span := c.tracer.Start(ctx, "dispatch."+d.Kind.String(),
		trace.WithAttributes(attribute.String("subscription.id", sub.ID)),
	)
	defer span.End()

	var err error
	switch d.Kind {
	case ir.DispositionResume:
		span.SetAttributes(attribute.String("sub_scope.id", d.SubScopeID))
		err = c.uow.Execute(ctx, func(ctx context.Context, s Session) error {
			return s.Resume(ctx, d.SubScopeID, ir.EventInput(occ))
		})
		if err == nil {
			c.logger.Debug("wait state resumed",
				zap.String("sub_scope_id", d.SubScopeID),
				zap.String("subscription_id", sub.ID),
				zap.String("occurrence_id", occ.ID),
			)
		}

	case ir.DispositionStartNew:
		span.SetAttributes(attribute.String("scope_definition.id", d.ScopeDefinitionID))
		var res StartResult
		res, err = c.guard.Start(ctx, c.uow, occ, d.ScopeDefinitionID, keys)
		if err == nil {
			span.SetAttributes(attribute.String("start.outcome", res.Outcome.String()))
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *CaseConsumer) fail(span trace.Span, err *Error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(err.Code))
	c.logFailure(err)
	return err
}

func (c *CaseConsumer) logFailure(err *Error) {
	c.metrics.DispatchFailures.WithLabelValues(string(err.Code)).Inc()
	c.logger.Error("event dispatch failed",
		zap.String("code", string(err.Code)),
		zap.String("event_type", err.EventType),
		zap.String("occurrence_id", err.OccurrenceID),
		zap.String("subscription_id", err.SubscriptionID),
		zap.Int("remaining", err.Remaining),
		zap.Error(err.Err),
	)
}
