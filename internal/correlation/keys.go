// Package correlation derives the correlation keys of an occurrence.
//
// A subscription registered against a subset of an event's correlation
// parameters stores the key value of that subset as its configuration.
// An occurrence therefore matches every subscription whose configuration
// is the key value of some non-empty subset of its own parameters.
package correlation

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/correlate/internal/ir"
)

// DefaultMaxParameters bounds the power set at 1023 keys.
const DefaultMaxParameters = 10

var (
	// ErrTooManyParameters is returned when an occurrence carries more
	// correlation parameters than the configured maximum.
	ErrTooManyParameters = errors.New("too many correlation parameters")

	// ErrDuplicateParameter is returned when two parameters share a name.
	ErrDuplicateParameter = errors.New("duplicate correlation parameter")
)

// Key is one correlation key: the stored value and the parameter names it
// was derived from, in sorted order.
type Key struct {
	Value      string
	Parameters []string
}

// KeySet is the set of keys derived from one occurrence.
type KeySet struct {
	keys []Key
	full Key
}

// Len returns the number of keys.
func (ks KeySet) Len() int { return len(ks.keys) }

// Empty reports whether no key was derived.
func (ks KeySet) Empty() bool { return len(ks.keys) == 0 }

// Keys returns the keys in enumeration order.
func (ks KeySet) Keys() []Key {
	return slices.Clone(ks.keys)
}

// Full returns the key over all parameters. ok is false for an empty set.
func (ks KeySet) Full() (Key, bool) {
	if ks.Empty() {
		return Key{}, false
	}
	return ks.full, true
}

// Values returns the key values sorted, ready for an IN (...) lookup.
func (ks KeySet) Values() []string {
	out := make([]string, len(ks.keys))
	for i, k := range ks.keys {
		out[i] = k.Value
	}
	slices.Sort(out)
	return out
}

// Option configures Derive.
type Option func(*options)

type options struct {
	maxParameters int
}

// WithMaxParameters overrides DefaultMaxParameters. Values below 1 are
// ignored.
func WithMaxParameters(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxParameters = n
		}
	}
}

// Derive computes one key per non-empty subset of params. Input order
// does not affect the result.
func Derive(params []ir.Parameter, opts ...Option) (KeySet, error) {
	o := options{maxParameters: DefaultMaxParameters}
	for _, opt := range opts {
		opt(&o)
	}

	if len(params) == 0 {
		return KeySet{}, nil
	}
	if len(params) > o.maxParameters {
		return KeySet{}, fmt.Errorf("%w: %d exceeds %d", ErrTooManyParameters, len(params), o.maxParameters)
	}

	sorted := slices.Clone(params)
	slices.SortFunc(sorted, func(a, b ir.Parameter) int {
		return strings.Compare(a.Name, b.Name)
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Name == sorted[i-1].Name {
			return KeySet{}, fmt.Errorf("%w: %q", ErrDuplicateParameter, sorted[i].Name)
		}
	}

	n := len(sorted)
	total := 1<<n - 1
	keys := make([]Key, 0, total)
	for mask := 1; mask <= total; mask++ {
		subset := subsetOf(sorted, mask)
		value, err := ir.CorrelationKeyValue(subset)
		if err != nil {
			return KeySet{}, err
		}
		names := make([]string, len(subset))
		for i, p := range subset {
			names[i] = p.Name
		}
		keys = append(keys, Key{Value: value, Parameters: names})
	}

	return KeySet{keys: keys, full: keys[len(keys)-1]}, nil
}

// Canonical returns the canonical JSON of the subset a key was derived
// from. Operators use it to see what a stored configuration stands for.
func Canonical(params []ir.Parameter, names []string) ([]byte, error) {
	subset := make([]ir.Parameter, 0, len(names))
	for _, name := range names {
		idx := slices.IndexFunc(params, func(p ir.Parameter) bool { return p.Name == name })
		if idx < 0 {
			return nil, fmt.Errorf("correlation: parameter %q not present", name)
		}
		subset = append(subset, params[idx])
	}
	return ir.MarshalCanonical(subset)
}

func subsetOf(sorted []ir.Parameter, mask int) []ir.Parameter {
	var out []ir.Parameter
	for i := range sorted {
		if mask&(1<<i) != 0 {
			out = append(out, sorted[i])
		}
	}
	return out
}
