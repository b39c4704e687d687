// Package registry turns raw channel messages into typed occurrences and
// hands them to the consumer router.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/correlate/internal/ir"
	"github.com/roach88/correlate/internal/model"
)

var (
	// ErrUnknownChannel is returned for a channel key no model declares.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrUnknownEvent is returned when the detected event key has no
	// event model.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrMalformedEvent is returned for text that is not a JSON object or
	// whose fields do not match the event model.
	ErrMalformedEvent = errors.New("malformed event")
)

// Dispatcher receives deserialized occurrences. Implemented by
// dispatch.Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, occ ir.Occurrence) error
}

// Registry resolves channel messages against a model set.
type Registry struct {
	models     *model.Set
	dispatcher Dispatcher
	logger     *zap.Logger
	newID      func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithIDFunc sets the occurrence id source. Default: UUIDv7.
func WithIDFunc(f func() string) Option {
	return func(r *Registry) { r.newID = f }
}

// New creates a registry over models that hands occurrences to d.
func New(models *model.Set, d Dispatcher, opts ...Option) *Registry {
	r := &Registry{
		models:     models,
		dispatcher: d,
		logger:     zap.NewNop(),
		newID:      func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasChannel reports whether channelKey is declared.
func (r *Registry) HasChannel(channelKey string) bool {
	_, ok := r.models.Channel(channelKey)
	return ok
}

// EventReceived deserializes text received on channelKey and dispatches
// the resulting occurrence. The occurrence is returned even when dispatch
// fails.
func (r *Registry) EventReceived(ctx context.Context, channelKey, text string) (ir.Occurrence, error) {
	occ, err := r.Deserialize(channelKey, text)
	if err != nil {
		return ir.Occurrence{}, err
	}

	r.logger.Debug("event received",
		zap.String("channel", channelKey),
		zap.String("event_type", occ.ModelKey),
		zap.String("occurrence_id", occ.ID),
		zap.String("tenant_id", occ.TenantID),
	)

	if err := r.dispatcher.Dispatch(ctx, occ); err != nil {
		return occ, err
	}
	return occ, nil
}

// Deserialize builds an occurrence from text without dispatching it.
func (r *Registry) Deserialize(channelKey, text string) (ir.Occurrence, error) {
	channel, ok := r.models.Channel(channelKey)
	if !ok {
		return ir.Occurrence{}, fmt.Errorf("%w: %s", ErrUnknownChannel, channelKey)
	}

	fields, err := decodeObject(text)
	if err != nil {
		return ir.Occurrence{}, fmt.Errorf("%w on channel %s: %v", ErrMalformedEvent, channelKey, err)
	}

	eventKey := channel.Event
	if channel.EventField != "" {
		eventKey, err = stringField(fields, channel.EventField)
		if err != nil {
			return ir.Occurrence{}, fmt.Errorf("%w on channel %s: event key: %v", ErrMalformedEvent, channelKey, err)
		}
		if eventKey == "" {
			return ir.Occurrence{}, fmt.Errorf("%w on channel %s: field %q carries no event key", ErrMalformedEvent, channelKey, channel.EventField)
		}
	}

	em, ok := r.models.Event(eventKey)
	if !ok {
		return ir.Occurrence{}, fmt.Errorf("%w: %s (channel %s)", ErrUnknownEvent, eventKey, channelKey)
	}

	tenantID := channel.Tenant
	if channel.TenantField != "" {
		tenantID, err = stringField(fields, channel.TenantField)
		if err != nil {
			return ir.Occurrence{}, fmt.Errorf("%w on channel %s: tenant: %v", ErrMalformedEvent, channelKey, err)
		}
	}

	correlation, err := typedParameters(fields, em.Correlation)
	if err != nil {
		return ir.Occurrence{}, fmt.Errorf("%w %s: %v", ErrMalformedEvent, eventKey, err)
	}
	payload, err := typedParameters(fields, em.Payload)
	if err != nil {
		return ir.Occurrence{}, fmt.Errorf("%w %s: %v", ErrMalformedEvent, eventKey, err)
	}

	return ir.Occurrence{
		ID:                    r.newID(),
		ModelKey:              em.Key,
		ModelTenantID:         em.TenantID,
		TenantID:              tenantID,
		CorrelationParameters: correlation,
		Payload:               payload,
		ChannelKey:            channelKey,
		Raw:                   text,
	}, nil
}

func decodeObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("not a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON object")
	}
	return fields, nil
}

// stringField returns a string field; a missing or null field is "".
func stringField(fields map[string]any, name string) (string, error) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", name)
	}
	return s, nil
}

// typedParameters coerces the declared fields in declaration order.
// Missing and null fields are left out.
func typedParameters(fields map[string]any, defs []ir.FieldDef) ([]ir.Parameter, error) {
	params := make([]ir.Parameter, 0, len(defs))
	for _, def := range defs {
		raw, ok := fields[def.Name]
		if !ok || raw == nil {
			continue
		}
		v, err := ir.Coerce(def.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", def.Name, err)
		}
		params = append(params, ir.Parameter{Name: def.Name, Value: v})
	}
	return params, nil
}
