package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/correlate/internal/ir"
)

func TestCompileSubscriptionQuery(t *testing.T) {
	tests := []struct {
		name       string
		query      ir.SubscriptionQuery
		wantWhere  string
		wantParams []any
	}{
		{
			name: "unconfigured without tenant",
			query: ir.SubscriptionQuery{
				EventType:            "orderPlaced",
				ScopeType:            ir.ScopeTypeCase,
				WithoutConfiguration: true,
			},
			wantWhere:  "event_type = ? AND scope_type = ? AND configuration IS NULL",
			wantParams: []any{"orderPlaced", "cmmn"},
		},
		{
			name: "unconfigured with tenant",
			query: ir.SubscriptionQuery{
				EventType:            "orderPlaced",
				ScopeType:            ir.ScopeTypeCase,
				Tenant:               ir.ForTenant("acme"),
				WithoutConfiguration: true,
			},
			wantWhere:  "event_type = ? AND scope_type = ? AND tenant_id = ? AND configuration IS NULL",
			wantParams: []any{"orderPlaced", "cmmn", "acme"},
		},
		{
			name: "correlated",
			query: ir.SubscriptionQuery{
				EventType:      "orderPlaced",
				ScopeType:      ir.ScopeTypeCase,
				Configurations: []string{"k1", "k2"},
			},
			wantWhere:  "event_type = ? AND scope_type = ? AND configuration IN (?, ?)",
			wantParams: []any{"orderPlaced", "cmmn", "k1", "k2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := compileSubscriptionQuery(tt.query)
			require.NoError(t, err)

			want := "SELECT " + subscriptionColumns + " FROM event_subscriptions WHERE " + tt.wantWhere + subscriptionOrder
			assert.Equal(t, want, sql)
			assert.Equal(t, tt.wantParams, params)
		})
	}
}

func TestCompileSubscriptionQuery_AlwaysOrdered(t *testing.T) {
	sql, _, err := compileSubscriptionQuery(ir.SubscriptionQuery{EventType: "e", WithoutConfiguration: true})
	require.NoError(t, err)
	assert.Contains(t, sql, "ORDER BY seq ASC, id ASC COLLATE BINARY")
}

func TestCompileSubscriptionQuery_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		query ir.SubscriptionQuery
	}{
		{"missing event type", ir.SubscriptionQuery{WithoutConfiguration: true}},
		{"empty configuration list", ir.SubscriptionQuery{EventType: "e"}},
		{"both modes", ir.SubscriptionQuery{EventType: "e", WithoutConfiguration: true, Configurations: []string{"k"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := compileSubscriptionQuery(tt.query)
			assert.Error(t, err)
		})
	}
}
