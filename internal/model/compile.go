// Package model compiles CUE declarations of event models and inbound
// channels.
//
//	events: orderPlaced: {
//	    tenant: ""
//	    correlation: [{name: "customerId", type: "string"}]
//	    payload: [{name: "amount", type: "integer"}]
//	}
//	channels: orders: {
//	    type:        "rabbitmq"
//	    eventField:  "type"
//	    tenantField: "tenantId"
//	}
package model

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/correlate/internal/ir"
)

// CompileEvent parses the CUE value of one entry under events into an
// EventModel. The model key is the entry's label.
func CompileEvent(v cue.Value) (ir.EventModel, error) {
	if err := v.Err(); err != nil {
		return ir.EventModel{}, formatCUEError(err)
	}

	m := ir.EventModel{Key: label(v)}

	tenant, _, err := optionalString(v, "tenant")
	if err != nil {
		return ir.EventModel{}, err
	}
	m.TenantID = tenant

	m.Correlation, err = parseFields(v, "correlation")
	if err != nil {
		return ir.EventModel{}, err
	}
	m.Payload, err = parseFields(v, "payload")
	if err != nil {
		return ir.EventModel{}, err
	}

	seen := make(map[string]bool, len(m.Correlation)+len(m.Payload))
	for _, f := range append(append([]ir.FieldDef{}, m.Correlation...), m.Payload...) {
		if seen[f.Name] {
			return ir.EventModel{}, &CompileError{
				Field:   "field",
				Message: fmt.Sprintf("field %q is declared twice", f.Name),
				Pos:     v.Pos(),
			}
		}
		seen[f.Name] = true
	}
	return m, nil
}

// parseFields reads a list of {name, type} structs. A missing list is
// empty.
func parseFields(v cue.Value, path string) ([]ir.FieldDef, error) {
	listVal := v.LookupPath(cue.ParsePath(path))
	if !listVal.Exists() {
		return nil, nil
	}

	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []ir.FieldDef
	for iter.Next() {
		fv := iter.Value()

		name, ok, err := optionalString(fv, "name")
		if err != nil {
			return nil, err
		}
		if !ok || name == "" {
			return nil, &CompileError{Field: path, Message: "field name is required", Pos: fv.Pos()}
		}

		typ, ok, err := optionalString(fv, "type")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &CompileError{Field: "type", Message: fmt.Sprintf("field %q has no type", name), Pos: fv.Pos()}
		}
		ft := ir.FieldType(typ)
		if !ir.ValidFieldTypes[ft] {
			msg := fmt.Sprintf("field %q has unsupported type %q", name, typ)
			if typ == "float" || typ == "number" {
				msg = fmt.Sprintf("field %q: float types are not supported, use integer or string", name)
			}
			return nil, &CompileError{Field: "type", Message: msg, Pos: fv.Pos()}
		}

		fields = append(fields, ir.FieldDef{Name: name, Type: ft})
	}
	return fields, nil
}

// CompileChannel parses the CUE value of one entry under channels.
func CompileChannel(v cue.Value) (ir.ChannelModel, error) {
	if err := v.Err(); err != nil {
		return ir.ChannelModel{}, formatCUEError(err)
	}

	c := ir.ChannelModel{Key: label(v)}

	typ, ok, err := optionalString(v, "type")
	if err != nil {
		return ir.ChannelModel{}, err
	}
	switch {
	case !ok:
		return ir.ChannelModel{}, &CompileError{Field: "channel", Message: "channel type is required", Pos: v.Pos()}
	case typ != ir.ChannelRabbitMQ && typ != ir.ChannelKafka && typ != ir.ChannelHTTP:
		return ir.ChannelModel{}, &CompileError{
			Field:   "channel",
			Message: fmt.Sprintf("unsupported channel type %q (want rabbitmq, kafka or http)", typ),
			Pos:     v.Pos(),
		}
	}
	c.Type = typ

	if c.Event, _, err = optionalString(v, "event"); err != nil {
		return ir.ChannelModel{}, err
	}
	if c.EventField, _, err = optionalString(v, "eventField"); err != nil {
		return ir.ChannelModel{}, err
	}
	if (c.Event == "") == (c.EventField == "") {
		return ir.ChannelModel{}, &CompileError{
			Field:   "event",
			Message: "exactly one of event or eventField is required",
			Pos:     v.Pos(),
		}
	}

	if c.Tenant, _, err = optionalString(v, "tenant"); err != nil {
		return ir.ChannelModel{}, err
	}
	if c.TenantField, _, err = optionalString(v, "tenantField"); err != nil {
		return ir.ChannelModel{}, err
	}
	if c.Tenant != "" && c.TenantField != "" {
		return ir.ChannelModel{}, &CompileError{
			Field:   "tenant",
			Message: "tenant and tenantField are mutually exclusive",
			Pos:     v.Pos(),
		}
	}
	return c, nil
}

func label(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	return sels[len(sels)-1].Unquoted()
}

func optionalString(v cue.Value, path string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", false, &CompileError{Field: path, Message: "must be a string", Pos: fv.Pos()}
	}
	return s, true, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
