package store

import (
	"fmt"
	"strings"

	"github.com/roach88/correlate/internal/ir"
)

const subscriptionColumns = "id, event_type, tenant_id, scope_type, configuration, sub_scope_id, scope_id, scope_definition_id, seq"

// subscriptionOrder is appended to every subscription query.
const subscriptionOrder = " ORDER BY seq ASC, id ASC COLLATE BINARY"

// compileSubscriptionQuery converts a lookup to parameterized SQL.
// Values are never interpolated.
//
// A query must either ask for unconfigured subscriptions or name at least
// one configuration; an empty IN () list is rejected rather than matching
// nothing.
func compileSubscriptionQuery(q ir.SubscriptionQuery) (string, []any, error) {
	if q.EventType == "" {
		return "", nil, fmt.Errorf("subscription query: event type is required")
	}
	if q.WithoutConfiguration && len(q.Configurations) > 0 {
		return "", nil, fmt.Errorf("subscription query: configurations given for an unconfigured lookup")
	}
	if !q.WithoutConfiguration && len(q.Configurations) == 0 {
		return "", nil, fmt.Errorf("subscription query: no configurations")
	}

	where := []string{"event_type = ?"}
	params := []any{q.EventType}

	if q.ScopeType != "" {
		where = append(where, "scope_type = ?")
		params = append(params, q.ScopeType)
	}
	if q.Tenant.Apply {
		where = append(where, "tenant_id = ?")
		params = append(params, q.Tenant.TenantID)
	}

	if q.WithoutConfiguration {
		where = append(where, "configuration IS NULL")
	} else {
		placeholders := make([]string, len(q.Configurations))
		for i, c := range q.Configurations {
			placeholders[i] = "?"
			params = append(params, c)
		}
		where = append(where, "configuration IN ("+strings.Join(placeholders, ", ")+")")
	}

	sql := "SELECT " + subscriptionColumns + " FROM event_subscriptions WHERE " +
		strings.Join(where, " AND ") + subscriptionOrder
	return sql, params, nil
}
