package dispatch

import (
	"context"
	"fmt"

	"github.com/roach88/correlate/internal/correlation"
	"github.com/roach88/correlate/internal/ir"
)

// Matches holds the two disjoint subscription lists of one occurrence.
type Matches struct {
	// Unconditional subscriptions fire on the event type regardless of
	// correlation values.
	Unconditional []ir.Subscription
	// Correlated subscriptions were registered with one of the
	// occurrence's correlation key values.
	Correlated []ir.Subscription
}

// All returns the unconditional matches followed by the correlated ones.
func (m Matches) All() []ir.Subscription {
	out := make([]ir.Subscription, 0, len(m.Unconditional)+len(m.Correlated))
	out = append(out, m.Unconditional...)
	return append(out, m.Correlated...)
}

// Len returns the total number of matches.
func (m Matches) Len() int {
	return len(m.Unconditional) + len(m.Correlated)
}

// Resolver finds the subscriptions of one scope type matching an
// occurrence.
type Resolver struct {
	scopeType string
}

// NewResolver returns a resolver for subscriptions tagged scopeType.
func NewResolver(scopeType string) *Resolver {
	return &Resolver{scopeType: scopeType}
}

// Resolve runs the unconditional lookup and, only when keys is non-empty,
// the correlated lookup. Both use the same finder, so a caller running
// Resolve inside one unit of work gets both lists from one transaction.
func (r *Resolver) Resolve(ctx context.Context, f SubscriptionFinder, occ ir.Occurrence, keys correlation.KeySet) (Matches, error) {
	tenant := LookupTenant(occ.ModelTenantID)

	unconditional, err := f.FindSubscriptions(ctx, ir.SubscriptionQuery{
		EventType:            occ.ModelKey,
		ScopeType:            r.scopeType,
		Tenant:               tenant,
		WithoutConfiguration: true,
	})
	if err != nil {
		return Matches{}, fmt.Errorf("find unconditional subscriptions for %s: %w", occ.ModelKey, err)
	}

	m := Matches{Unconditional: unconditional}
	if keys.Empty() {
		return m, nil
	}

	correlated, err := f.FindSubscriptions(ctx, ir.SubscriptionQuery{
		EventType:      occ.ModelKey,
		ScopeType:      r.scopeType,
		Tenant:         tenant,
		Configurations: keys.Values(),
	})
	if err != nil {
		return Matches{}, fmt.Errorf("find correlated subscriptions for %s: %w", occ.ModelKey, err)
	}
	m.Correlated = correlated
	return m, nil
}
