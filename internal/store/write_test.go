package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/correlate/internal/ir"
)

func TestWriteDefinition_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seedDefinition(t, s, "def-1", ir.Extension{Name: "a", Text: "first"})
	seedDefinition(t, s, "def-1", ir.Extension{Name: "a", Text: "second"})

	mustExecute(t, s, func(tx *Tx) error {
		def, err := tx.ReadDefinition(ctx, "def-1")
		require.NoError(t, err)
		assert.Equal(t, []ir.Extension{{Name: "a", Text: "first"}}, def.Extensions)
		return nil
	})
}

func TestWriteSubscription_AssignsSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustExecute(t, s, func(tx *Tx) error {
		if err := tx.WriteSubscription(ctx, startSubscription("sub-1", "e", "def-1", 5)); err != nil {
			return err
		}
		return tx.WriteSubscription(ctx, startSubscription("sub-2", "e", "def-1", 0))
	})

	mustExecute(t, s, func(tx *Tx) error {
		subs, err := tx.ListSubscriptions(ctx, "e")
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.Equal(t, "sub-2", subs[1].ID)
		assert.Equal(t, int64(6), subs[1].Seq)
		return nil
	})
}

func TestWriteSubscription_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sub := startSubscription("sub-1", "e", "def-1", 1)
	mustExecute(t, s, func(tx *Tx) error { return tx.WriteSubscription(ctx, sub) })
	mustExecute(t, s, func(tx *Tx) error { return tx.WriteSubscription(ctx, sub) })

	mustExecute(t, s, func(tx *Tx) error {
		subs, err := tx.ListSubscriptions(ctx, "")
		require.NoError(t, err)
		assert.Len(t, subs, 1)
		return nil
	})
}

func TestDeleteSubscriptionsForSubScope(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustExecute(t, s, func(tx *Tx) error {
		for i, id := range []string{"sub-1", "sub-2", "sub-3"} {
			subScope := "plan-1"
			if id == "sub-3" {
				subScope = "plan-2"
			}
			sub := ir.Subscription{ID: id, EventType: "e", ScopeType: ir.ScopeTypeCase, SubScopeID: ir.Ptr(subScope), Seq: int64(i + 1)}
			if err := tx.WriteSubscription(ctx, sub); err != nil {
				return err
			}
		}
		return nil
	})

	mustExecute(t, s, func(tx *Tx) error {
		n, err := tx.DeleteSubscriptionsForSubScope(ctx, "plan-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		subs, err := tx.ListSubscriptions(ctx, "")
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, "sub-3", subs[0].ID)
		return nil
	})
}

func TestInsertCaseInstance_RequiresDefinition(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Execute(ctx, func(tx *Tx) error {
		return tx.InsertCaseInstance(ctx, ir.CaseInstance{ID: "c1", DefinitionID: "missing", State: ir.CaseStatePending, CreatedSeq: 1})
	})
	assert.Error(t, err)
}

func TestInsertCaseInstance_DuplicateID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seedDefinition(t, s, "def-1")
	inst := ir.CaseInstance{ID: "c1", DefinitionID: "def-1", State: ir.CaseStatePending, CreatedSeq: 1}
	mustExecute(t, s, func(tx *Tx) error { return tx.InsertCaseInstance(ctx, inst) })

	err := s.Execute(ctx, func(tx *Tx) error { return tx.InsertCaseInstance(ctx, inst) })
	assert.Error(t, err)
}

func TestInsertCaseInstance_StoresReferenceAndTenant(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seedDefinition(t, s, "def-1")
	want := ir.CaseInstance{
		ID:                       "c1",
		DefinitionID:             "def-1",
		TenantID:                 "acme",
		DefinitionTenantOverride: "acme",
		ReferenceID:              "ref-1",
		ReferenceType:            ir.ReferenceTypeEventCase,
		State:                    ir.CaseStatePending,
		CreatedSeq:               3,
	}
	mustExecute(t, s, func(tx *Tx) error { return tx.InsertCaseInstance(ctx, want) })

	mustExecute(t, s, func(tx *Tx) error {
		got, err := tx.ReadCaseInstance(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
		return nil
	})
}

func TestMarkCaseInstanceStarted_OnlyPending(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seedDefinition(t, s, "def-1")
	mustExecute(t, s, func(tx *Tx) error {
		return tx.InsertCaseInstance(ctx, ir.CaseInstance{ID: "c1", DefinitionID: "def-1", State: ir.CaseStatePending, CreatedSeq: 1})
	})
	mustExecute(t, s, func(tx *Tx) error { return tx.MarkCaseInstanceStarted(ctx, "c1", 2) })

	err := s.Execute(ctx, func(tx *Tx) error { return tx.MarkCaseInstanceStarted(ctx, "c1", 3) })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTriggerPlanItem(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustExecute(t, s, func(tx *Tx) error {
		return tx.WritePlanItem(ctx, ir.PlanItem{ID: "p1", CaseInstanceID: "c1"})
	})

	mustExecute(t, s, func(tx *Tx) error { return tx.TriggerPlanItem(ctx, "p1", 5) })

	mustExecute(t, s, func(tx *Tx) error {
		item, err := tx.ReadPlanItem(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, ir.PlanItemTriggered, item.State)
		return nil
	})

	err := s.Execute(ctx, func(tx *Tx) error { return tx.TriggerPlanItem(ctx, "p1", 6) })
	assert.ErrorIs(t, err, ErrWaitStateNotFound)

	err = s.Execute(ctx, func(tx *Tx) error { return tx.TriggerPlanItem(ctx, "missing", 7) })
	assert.ErrorIs(t, err, ErrWaitStateNotFound)
}
