package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/correlate/internal/ir"
)

func TestFindSubscriptions_Unconfigured(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustExecute(t, s, func(tx *Tx) error {
		subs := []ir.Subscription{
			startSubscription("sub-b", "orderPlaced", "def-1", 2),
			startSubscription("sub-a", "orderPlaced", "def-2", 2),
			startSubscription("sub-c", "orderPlaced", "def-3", 1),
			{ID: "sub-keyed", EventType: "orderPlaced", ScopeType: ir.ScopeTypeCase, Configuration: ir.Ptr("k1"), SubScopeID: ir.Ptr("plan-1"), Seq: 3},
			startSubscription("sub-other", "orderShipped", "def-1", 4),
		}
		for _, sub := range subs {
			if err := tx.WriteSubscription(ctx, sub); err != nil {
				return err
			}
		}
		return nil
	})

	var got []ir.Subscription
	mustExecute(t, s, func(tx *Tx) error {
		var err error
		got, err = tx.FindSubscriptions(ctx, ir.SubscriptionQuery{
			EventType:            "orderPlaced",
			ScopeType:            ir.ScopeTypeCase,
			WithoutConfiguration: true,
		})
		return err
	})

	ids := make([]string, len(got))
	for i, sub := range got {
		ids[i] = sub.ID
	}
	assert.Equal(t, []string{"sub-c", "sub-a", "sub-b"}, ids)
	assert.Nil(t, got[0].Configuration)
	assert.Nil(t, got[0].SubScopeID)
	require.NotNil(t, got[0].ScopeDefinitionID)
	assert.Equal(t, "def-3", *got[0].ScopeDefinitionID)
}

func TestFindSubscriptions_Correlated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustExecute(t, s, func(tx *Tx) error {
		for i, cfg := range []string{"k1", "k2", "k3"} {
			sub := ir.Subscription{
				ID:            "sub-" + cfg,
				EventType:     "orderPlaced",
				ScopeType:     ir.ScopeTypeCase,
				Configuration: ir.Ptr(cfg),
				SubScopeID:    ir.Ptr("plan-" + cfg),
				ScopeID:       ir.Ptr("case-1"),
				Seq:           int64(i + 1),
			}
			if err := tx.WriteSubscription(ctx, sub); err != nil {
				return err
			}
		}
		return nil
	})

	var got []ir.Subscription
	mustExecute(t, s, func(tx *Tx) error {
		var err error
		got, err = tx.FindSubscriptions(ctx, ir.SubscriptionQuery{
			EventType:      "orderPlaced",
			ScopeType:      ir.ScopeTypeCase,
			Configurations: []string{"k3", "k1", "missing"},
		})
		return err
	})

	require.Len(t, got, 2)
	assert.Equal(t, "sub-k1", got[0].ID)
	assert.Equal(t, "sub-k3", got[1].ID)
	assert.Equal(t, "plan-k3", *got[1].SubScopeID)
}

func TestFindSubscriptions_TenantFilter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustExecute(t, s, func(tx *Tx) error {
		a := startSubscription("sub-acme", "orderPlaced", "def-1", 1)
		a.TenantID = "acme"
		b := startSubscription("sub-globex", "orderPlaced", "def-1", 2)
		b.TenantID = "globex"
		c := startSubscription("sub-none", "orderPlaced", "def-1", 3)
		for _, sub := range []ir.Subscription{a, b, c} {
			if err := tx.WriteSubscription(ctx, sub); err != nil {
				return err
			}
		}
		return nil
	})

	find := func(filter ir.TenantFilter) []ir.Subscription {
		var got []ir.Subscription
		mustExecute(t, s, func(tx *Tx) error {
			var err error
			got, err = tx.FindSubscriptions(ctx, ir.SubscriptionQuery{
				EventType:            "orderPlaced",
				ScopeType:            ir.ScopeTypeCase,
				Tenant:               filter,
				WithoutConfiguration: true,
			})
			return err
		})
		return got
	}

	assert.Len(t, find(ir.TenantFilter{}), 3)

	acme := find(ir.ForTenant("acme"))
	require.Len(t, acme, 1)
	assert.Equal(t, "sub-acme", acme[0].ID)

	none := find(ir.ForTenant(ir.NoTenant))
	require.Len(t, none, 1)
	assert.Equal(t, "sub-none", none[0].ID)
}

func TestFindSubscriptions_EmptyResultIsNotNil(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustExecute(t, s, func(tx *Tx) error {
		got, err := tx.FindSubscriptions(ctx, ir.SubscriptionQuery{EventType: "nothing", WithoutConfiguration: true})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
		return nil
	})
}

func TestStartCorrelationConfiguration_FirstDeclaredWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seedDefinition(t, s, "def-unique",
		ir.Extension{Name: "other", Text: "x"},
		ir.Extension{Name: ir.StartCorrelationConfigurationKey, Text: ir.StartCorrelationStoreAsUniqueReferenceID},
		ir.Extension{Name: ir.StartCorrelationConfigurationKey, Text: "somethingElse"},
	)
	seedDefinition(t, s, "def-plain")

	mustExecute(t, s, func(tx *Tx) error {
		value, ok, err := tx.StartCorrelationConfiguration(ctx, "def-unique")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, ir.StartCorrelationStoreAsUniqueReferenceID, value)

		_, ok, err = tx.StartCorrelationConfiguration(ctx, "def-plain")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = tx.StartCorrelationConfiguration(ctx, "def-missing")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
}

func TestReadDefinition(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seedDefinition(t, s, "def-1",
		ir.Extension{Name: "a", Text: "1"},
		ir.Extension{Name: "b", Text: "2"},
	)

	mustExecute(t, s, func(tx *Tx) error {
		def, err := tx.ReadDefinition(ctx, "def-1")
		require.NoError(t, err)
		assert.Equal(t, "def-1", def.Key)
		assert.Equal(t, 1, def.Version)
		assert.Equal(t, []ir.Extension{{Name: "a", Text: "1"}, {Name: "b", Text: "2"}}, def.Extensions)

		_, err = tx.ReadDefinition(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
}

func TestCountCaseInstances(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seedDefinition(t, s, "def-1")
	seedDefinition(t, s, "def-2")

	mustExecute(t, s, func(tx *Tx) error {
		instances := []ir.CaseInstance{
			{ID: "c1", DefinitionID: "def-1", ReferenceID: "ref-1", ReferenceType: ir.ReferenceTypeEventCase, State: ir.CaseStatePending, CreatedSeq: 1},
			{ID: "c2", DefinitionID: "def-1", ReferenceID: "ref-2", ReferenceType: ir.ReferenceTypeEventCase, State: ir.CaseStateActive, CreatedSeq: 2},
			{ID: "c3", DefinitionID: "def-2", ReferenceID: "ref-1", ReferenceType: ir.ReferenceTypeEventCase, State: ir.CaseStateActive, CreatedSeq: 3},
			{ID: "c4", DefinitionID: "def-1", ReferenceID: "ref-1", ReferenceType: "other", State: ir.CaseStateActive, CreatedSeq: 4},
		}
		for _, inst := range instances {
			if err := tx.InsertCaseInstance(ctx, inst); err != nil {
				return err
			}
		}
		return nil
	})

	mustExecute(t, s, func(tx *Tx) error {
		n, err := tx.CountCaseInstances(ctx, "def-1", "ref-1", ir.ReferenceTypeEventCase)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = tx.CountCaseInstances(ctx, "def-1", "ref-3", ir.ReferenceTypeEventCase)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		return nil
	})
}

func TestPendingCaseInstances(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seedDefinition(t, s, "def-1")
	mustExecute(t, s, func(tx *Tx) error {
		for i, id := range []string{"c2", "c1", "c3"} {
			inst := ir.CaseInstance{ID: id, DefinitionID: "def-1", State: ir.CaseStatePending, CreatedSeq: int64(i + 1)}
			if err := tx.InsertCaseInstance(ctx, inst); err != nil {
				return err
			}
		}
		return tx.MarkCaseInstanceStarted(ctx, "c1", 10)
	})

	mustExecute(t, s, func(tx *Tx) error {
		pending, err := tx.PendingCaseInstances(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "c2", pending[0].ID)
		assert.Equal(t, "c3", pending[1].ID)

		started, err := tx.ReadCaseInstance(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, ir.CaseStateActive, started.State)
		assert.Equal(t, int64(10), started.StartedSeq)
		assert.Empty(t, started.ReferenceID)
		return nil
	})
}

func TestMaxSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustExecute(t, s, func(tx *Tx) error {
		seq, err := tx.MaxSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), seq)
		return nil
	})

	seedDefinition(t, s, "def-1")
	mustExecute(t, s, func(tx *Tx) error {
		if err := tx.WriteSubscription(ctx, startSubscription("sub-1", "e", "def-1", 4)); err != nil {
			return err
		}
		if err := tx.InsertCaseInstance(ctx, ir.CaseInstance{ID: "c1", DefinitionID: "def-1", State: ir.CaseStatePending, CreatedSeq: 7}); err != nil {
			return err
		}
		if err := tx.WritePlanItem(ctx, ir.PlanItem{ID: "p1", CaseInstanceID: "c1"}); err != nil {
			return err
		}
		return tx.TriggerPlanItem(ctx, "p1", 9)
	})

	mustExecute(t, s, func(tx *Tx) error {
		seq, err := tx.MaxSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(9), seq)
		return nil
	})
}
