package ir

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical renders parameters as a canonical JSON object.
//
// The output is stable for a given parameter set regardless of input order:
//   - keys ordered by UTF-16 code units (RFC 8785), not UTF-8 bytes
//   - strings NFC-normalized
//   - no HTML escaping, only quote, backslash and control characters escaped
//
// Duplicate parameter names are rejected.
func MarshalCanonical(params []Parameter) ([]byte, error) {
	sorted := make([]Parameter, len(params))
	copy(sorted, params)
	slices.SortFunc(sorted, func(a, b Parameter) int {
		return compareUTF16(norm.NFC.String(a.Name), norm.NFC.String(b.Name))
	})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range sorted {
		if i > 0 {
			if norm.NFC.String(sorted[i-1].Name) == norm.NFC.String(p.Name) {
				return nil, fmt.Errorf("canonical: duplicate parameter %q", p.Name)
			}
			buf.WriteByte(',')
		}
		writeCanonicalString(&buf, p.Name)
		buf.WriteByte(':')
		if err := writeCanonicalValue(&buf, p.Value); err != nil {
			return nil, fmt.Errorf("canonical: parameter %q: %w", p.Name, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeCanonicalValue(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case String:
		writeCanonicalString(buf, string(val))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case nil:
		return fmt.Errorf("null is not a correlation value")
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '\b':
			buf.WriteString(`\b`)
		case r == '\f':
			buf.WriteString(`\f`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r < 0x20:
			fmt.Fprintf(buf, `\u%04x`, r)
		default:
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}

// compareUTF16 orders strings by UTF-16 code units as RFC 8785 requires.
// Plain string comparison orders by UTF-8 bytes, which differs for
// characters outside the basic multilingual plane.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}
