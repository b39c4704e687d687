package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/correlate/internal/ir"
)

// FindSubscriptions returns the subscriptions matching q, ordered by
// seq ASC, id ASC.
//
// Returns an empty slice (not nil) if nothing matches.
func (t *Tx) FindSubscriptions(ctx context.Context, q ir.SubscriptionQuery) ([]ir.Subscription, error) {
	query, params, err := compileSubscriptionQuery(q)
	if err != nil {
		return nil, err
	}
	return t.querySubscriptions(ctx, query, params...)
}

// ListSubscriptions returns every stored subscription, optionally limited
// to one event type.
func (t *Tx) ListSubscriptions(ctx context.Context, eventType string) ([]ir.Subscription, error) {
	if eventType == "" {
		return t.querySubscriptions(ctx, "SELECT "+subscriptionColumns+" FROM event_subscriptions"+subscriptionOrder)
	}
	return t.querySubscriptions(ctx,
		"SELECT "+subscriptionColumns+" FROM event_subscriptions WHERE event_type = ?"+subscriptionOrder,
		eventType)
}

func (t *Tx) querySubscriptions(ctx context.Context, query string, params ...any) ([]ir.Subscription, error) {
	rows, err := t.tx.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []ir.Subscription{}
	for rows.Next() {
		var (
			sub                                             ir.Subscription
			configuration, subScope, scope, scopeDefinition sql.NullString
		)
		if err := rows.Scan(
			&sub.ID,
			&sub.EventType,
			&sub.TenantID,
			&sub.ScopeType,
			&configuration,
			&subScope,
			&scope,
			&scopeDefinition,
			&sub.Seq,
		); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.Configuration = stringPtr(configuration)
		sub.SubScopeID = stringPtr(subScope)
		sub.ScopeID = stringPtr(scope)
		sub.ScopeDefinitionID = stringPtr(scopeDefinition)
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

// StartCorrelationConfiguration returns the first declared value of the
// start-correlation extension of a definition. ok is false when the
// definition declares none.
func (t *Tx) StartCorrelationConfiguration(ctx context.Context, definitionID string) (value string, ok bool, err error) {
	return t.ExtensionValue(ctx, definitionID, ir.StartCorrelationConfigurationKey)
}

// ExtensionValue returns the first declared extension element with the
// given name.
func (t *Tx) ExtensionValue(ctx context.Context, definitionID, name string) (string, bool, error) {
	var text string
	err := t.tx.QueryRowContext(ctx, `
		SELECT text FROM definition_extensions
		WHERE definition_id = ? AND name = ?
		ORDER BY position ASC
		LIMIT 1
	`, definitionID, name).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read extension %q of %s: %w", name, definitionID, err)
	}
	return text, true, nil
}

// ReadDefinition returns a deployed definition with its extensions.
// Returns ErrNotFound if the definition does not exist.
func (t *Tx) ReadDefinition(ctx context.Context, id string) (ir.CaseDefinition, error) {
	var def ir.CaseDefinition
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, key, tenant_id, version FROM case_definitions WHERE id = ?
	`, id).Scan(&def.ID, &def.Key, &def.TenantID, &def.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.CaseDefinition{}, fmt.Errorf("definition %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.CaseDefinition{}, fmt.Errorf("read definition %s: %w", id, err)
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT name, text FROM definition_extensions
		WHERE definition_id = ?
		ORDER BY position ASC, name ASC COLLATE BINARY
	`, id)
	if err != nil {
		return ir.CaseDefinition{}, fmt.Errorf("query extensions of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var ext ir.Extension
		if err := rows.Scan(&ext.Name, &ext.Text); err != nil {
			return ir.CaseDefinition{}, fmt.Errorf("scan extension: %w", err)
		}
		def.Extensions = append(def.Extensions, ext)
	}
	if err := rows.Err(); err != nil {
		return ir.CaseDefinition{}, fmt.Errorf("iterate extensions: %w", err)
	}
	return def, nil
}

// CountCaseInstances counts instances of a definition carrying the given
// business reference.
func (t *Tx) CountCaseInstances(ctx context.Context, definitionID, referenceID, referenceType string) (int64, error) {
	var count int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM case_instances
		WHERE definition_id = ? AND reference_id = ? AND reference_type = ?
	`, definitionID, referenceID, referenceType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count case instances: %w", err)
	}
	return count, nil
}

const caseInstanceColumns = "id, definition_id, tenant_id, definition_tenant_override, reference_id, reference_type, state, created_seq, started_seq"

// ReadCaseInstance returns one case instance.
// Returns ErrNotFound if it does not exist.
func (t *Tx) ReadCaseInstance(ctx context.Context, id string) (ir.CaseInstance, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+caseInstanceColumns+" FROM case_instances WHERE id = ?", id)
	inst, err := scanCaseInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.CaseInstance{}, fmt.Errorf("case instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.CaseInstance{}, fmt.Errorf("read case instance %s: %w", id, err)
	}
	return inst, nil
}

// ListCaseInstances returns all case instances ordered by creation.
func (t *Tx) ListCaseInstances(ctx context.Context) ([]ir.CaseInstance, error) {
	return t.queryCaseInstances(ctx,
		"SELECT "+caseInstanceColumns+" FROM case_instances ORDER BY created_seq ASC, id ASC COLLATE BINARY")
}

// PendingCaseInstances returns instances inserted by a start that have not
// been initialized yet.
func (t *Tx) PendingCaseInstances(ctx context.Context) ([]ir.CaseInstance, error) {
	return t.queryCaseInstances(ctx,
		"SELECT "+caseInstanceColumns+" FROM case_instances WHERE state = ? ORDER BY created_seq ASC, id ASC COLLATE BINARY",
		ir.CaseStatePending)
}

func (t *Tx) queryCaseInstances(ctx context.Context, query string, params ...any) ([]ir.CaseInstance, error) {
	rows, err := t.tx.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query case instances: %w", err)
	}
	defer rows.Close()

	out := []ir.CaseInstance{}
	for rows.Next() {
		inst, err := scanCaseInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case instance: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate case instances: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCaseInstance(row scanner) (ir.CaseInstance, error) {
	var (
		inst                 ir.CaseInstance
		referenceID, refType sql.NullString
		startedSeq           sql.NullInt64
	)
	err := row.Scan(
		&inst.ID,
		&inst.DefinitionID,
		&inst.TenantID,
		&inst.DefinitionTenantOverride,
		&referenceID,
		&refType,
		&inst.State,
		&inst.CreatedSeq,
		&startedSeq,
	)
	if err != nil {
		return ir.CaseInstance{}, err
	}
	inst.ReferenceID = referenceID.String
	inst.ReferenceType = refType.String
	inst.StartedSeq = startedSeq.Int64
	return inst, nil
}

// ReadPlanItem returns one plan item instance.
// Returns ErrNotFound if it does not exist.
func (t *Tx) ReadPlanItem(ctx context.Context, id string) (ir.PlanItem, error) {
	var item ir.PlanItem
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, case_instance_id, state FROM plan_item_instances WHERE id = ?
	`, id).Scan(&item.ID, &item.CaseInstanceID, &item.State)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.PlanItem{}, fmt.Errorf("plan item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.PlanItem{}, fmt.Errorf("read plan item %s: %w", id, err)
	}
	return item, nil
}

// MaxSeq returns the highest sequence number recorded in any table, so a
// restarted runtime can resume its logical clock past it.
func (t *Tx) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT MAX(
			(SELECT COALESCE(MAX(seq), 0) FROM event_subscriptions),
			(SELECT COALESCE(MAX(created_seq), 0) FROM case_instances),
			(SELECT COALESCE(MAX(started_seq), 0) FROM case_instances),
			(SELECT COALESCE(MAX(triggered_seq), 0) FROM plan_item_instances)
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}
