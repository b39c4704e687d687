package ir

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is a sealed interface over the field value types an event model
// can declare. There is no float variant: correlation values are hashed and
// must have exactly one canonical text form.
type Value interface {
	value()
	// Text renders the value for logs and CLI output.
	Text() string
}

// String is a string field value.
type String string

func (String) value() {}

// Text implements Value.
func (s String) Text() string { return string(s) }

// Int is an integer field value.
type Int int64

func (Int) value() {}

// Text implements Value.
func (n Int) Text() string { return strconv.FormatInt(int64(n), 10) }

// Bool is a boolean field value.
type Bool bool

func (Bool) value() {}

// Text implements Value.
func (b Bool) Text() string { return strconv.FormatBool(bool(b)) }

// Coerce converts a value decoded from JSON (with UseNumber) to the
// declared field type.
//
// Strings accept any scalar and keep its JSON text. Integers accept
// integral numbers and numeric strings. Booleans accept booleans and the
// strings "true" and "false".
func Coerce(t FieldType, raw any) (Value, error) {
	switch t {
	case FieldString:
		switch v := raw.(type) {
		case string:
			return String(v), nil
		case json.Number:
			return String(v.String()), nil
		case bool:
			return String(strconv.FormatBool(v)), nil
		}
	case FieldInteger:
		switch v := raw.(type) {
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil, fmt.Errorf("integer field: %q is not integral", v.String())
			}
			return Int(n), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("integer field: %q is not an integer", v)
			}
			return Int(n), nil
		}
	case FieldBoolean:
		switch v := raw.(type) {
		case bool:
			return Bool(v), nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil || (v != "true" && v != "false") {
				return nil, fmt.Errorf("boolean field: %q is not a boolean", v)
			}
			return Bool(b), nil
		}
	default:
		return nil, fmt.Errorf("unsupported field type %q", t)
	}
	return nil, fmt.Errorf("%s field: unsupported JSON value %T", t, raw)
}
