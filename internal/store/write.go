package store

import (
	"context"
	"fmt"

	"github.com/roach88/correlate/internal/ir"
)

// WriteDefinition deploys a definition and its extension elements.
// Uses ON CONFLICT(id) DO NOTHING: definitions are immutable, so
// redeploying the same id is a no-op.
func (t *Tx) WriteDefinition(ctx context.Context, def ir.CaseDefinition) error {
	version := def.Version
	if version == 0 {
		version = 1
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO case_definitions (id, key, tenant_id, version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, def.ID, def.Key, def.TenantID, version)
	if err != nil {
		return fmt.Errorf("write definition %s: %w", def.ID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write definition %s: rows affected: %w", def.ID, err)
	}
	if inserted == 0 {
		return nil
	}

	for i, ext := range def.Extensions {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO definition_extensions (definition_id, name, position, text)
			VALUES (?, ?, ?, ?)
		`, def.ID, ext.Name, i, ext.Text)
		if err != nil {
			return fmt.Errorf("write definition %s: extension %q: %w", def.ID, ext.Name, err)
		}
	}
	return nil
}

// WriteSubscription stores a subscription. A zero Seq is replaced by the
// next sequence after the highest stored one.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (t *Tx) WriteSubscription(ctx context.Context, sub ir.Subscription) error {
	seq := sub.Seq
	if seq == 0 {
		if err := t.tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(seq), 0) + 1 FROM event_subscriptions",
		).Scan(&seq); err != nil {
			return fmt.Errorf("write subscription %s: next seq: %w", sub.ID, err)
		}
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO event_subscriptions
		(id, event_type, tenant_id, scope_type, configuration, sub_scope_id, scope_id, scope_definition_id, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sub.ID,
		sub.EventType,
		sub.TenantID,
		sub.ScopeType,
		nullString(sub.Configuration),
		nullString(sub.SubScopeID),
		nullString(sub.ScopeID),
		nullString(sub.ScopeDefinitionID),
		seq,
	)
	if err != nil {
		return fmt.Errorf("write subscription %s: %w", sub.ID, err)
	}
	return nil
}

// DeleteSubscriptionsForSubScope removes the subscriptions of a wait
// state. Returns the number removed.
func (t *Tx) DeleteSubscriptionsForSubScope(ctx context.Context, subScopeID string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM event_subscriptions WHERE sub_scope_id = ?
	`, subScopeID)
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions of %s: %w", subScopeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions of %s: rows affected: %w", subScopeID, err)
	}
	return n, nil
}

// InsertCaseInstance stores a new case instance. Unlike definitions and
// subscriptions a duplicate id is an error: instance ids are generated
// and a collision means two starts raced on the same id.
func (t *Tx) InsertCaseInstance(ctx context.Context, inst ir.CaseInstance) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO case_instances
		(id, definition_id, tenant_id, definition_tenant_override, reference_id, reference_type, state, created_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inst.ID,
		inst.DefinitionID,
		inst.TenantID,
		inst.DefinitionTenantOverride,
		nullIfEmpty(inst.ReferenceID),
		nullIfEmpty(inst.ReferenceType),
		inst.State,
		inst.CreatedSeq,
	)
	if err != nil {
		return fmt.Errorf("insert case instance %s: %w", inst.ID, err)
	}
	return nil
}

// MarkCaseInstanceStarted moves a pending instance to active.
// Returns ErrNotFound if no pending instance has the id.
func (t *Tx) MarkCaseInstanceStarted(ctx context.Context, id string, seq int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE case_instances SET state = ?, started_seq = ?
		WHERE id = ? AND state = ?
	`, ir.CaseStateActive, seq, id, ir.CaseStatePending)
	if err != nil {
		return fmt.Errorf("start case instance %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("start case instance %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("pending case instance %s: %w", id, ErrNotFound)
	}
	return nil
}

// WritePlanItem stores a plan item instance.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (t *Tx) WritePlanItem(ctx context.Context, item ir.PlanItem) error {
	state := item.State
	if state == "" {
		state = ir.PlanItemWaiting
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO plan_item_instances (id, case_instance_id, state)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, item.ID, item.CaseInstanceID, state)
	if err != nil {
		return fmt.Errorf("write plan item %s: %w", item.ID, err)
	}
	return nil
}

// TriggerPlanItem moves a waiting plan item to triggered.
// Returns ErrWaitStateNotFound if the item is missing or not waiting.
func (t *Tx) TriggerPlanItem(ctx context.Context, id string, seq int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE plan_item_instances SET state = ?, triggered_seq = ?
		WHERE id = ? AND state = ?
	`, ir.PlanItemTriggered, seq, id, ir.PlanItemWaiting)
	if err != nil {
		return fmt.Errorf("trigger plan item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("trigger plan item %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("plan item %s: %w", id, ErrWaitStateNotFound)
	}
	return nil
}
