package runtime

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/roach88/correlate/internal/dispatch"
	"github.com/roach88/correlate/internal/ir"
	"github.com/roach88/correlate/internal/store"
)

// session binds a store transaction to the runtime for one unit of work.
type session struct {
	rt          *Runtime
	tx          *store.Tx
	afterCommit []func(context.Context)
}

var _ dispatch.Session = (*session)(nil)

func (s *session) FindSubscriptions(ctx context.Context, q ir.SubscriptionQuery) ([]ir.Subscription, error) {
	return s.tx.FindSubscriptions(ctx, q)
}

// StartCorrelationConfiguration serves from the policy cache. Deployed
// definitions are immutable; Deploy evicts the entry of a definition.
func (s *session) StartCorrelationConfiguration(ctx context.Context, definitionID string) (string, bool, error) {
	if p, ok := s.rt.policies.Get(definitionID); ok {
		return p.value, p.ok, nil
	}
	value, ok, err := s.tx.StartCorrelationConfiguration(ctx, definitionID)
	if err != nil {
		return "", false, err
	}
	s.rt.policies.Add(definitionID, startPolicy{value: value, ok: ok})
	return value, ok, nil
}

func (s *session) CountStartedWithReference(ctx context.Context, definitionID, referenceID, referenceType string) (int64, error) {
	return s.tx.CountCaseInstances(ctx, definitionID, referenceID, referenceType)
}

// Resume triggers the waiting plan item and removes its subscriptions so
// a later event cannot resume it twice.
func (s *session) Resume(ctx context.Context, subScopeID string, input ir.TransientInput) error {
	r := s.rt
	if err := s.tx.TriggerPlanItem(ctx, subScopeID, r.clock.Next()); err != nil {
		if errors.Is(err, store.ErrWaitStateNotFound) {
			return NewWaitStateNotFoundError(subScopeID, err)
		}
		return err
	}

	removed, err := s.tx.DeleteSubscriptionsForSubScope(ctx, subScopeID)
	if err != nil {
		return err
	}

	item, err := s.tx.ReadPlanItem(ctx, subScopeID)
	if err != nil {
		return err
	}

	s.afterCommit = append(s.afterCommit, func(ctx context.Context) {
		r.logger.Debug("plan item resumed",
			zap.String("plan_item_id", item.ID),
			zap.String("case_instance_id", item.CaseInstanceID),
			zap.Int64("subscriptions_removed", removed),
		)
		for _, h := range r.onResumed {
			h(ctx, item, input)
		}
	})
	return nil
}

// StartAsync inserts a pending case instance and queues its
// initialization for after commit.
func (s *session) StartAsync(ctx context.Context, req ir.StartRequest) (string, error) {
	r := s.rt
	if r.stopped.Load() {
		return "", &RuntimeError{Code: ErrCodeStopped, Message: "runtime is stopped", DefinitionID: req.DefinitionID}
	}

	def, err := s.tx.ReadDefinition(ctx, req.DefinitionID)
	if errors.Is(err, store.ErrNotFound) {
		return "", NewDefinitionNotFoundError(req.DefinitionID, err)
	}
	if err != nil {
		return "", err
	}

	tenantID := req.TenantID
	if tenantID == ir.NoTenant {
		tenantID = def.TenantID
	}

	inst := ir.CaseInstance{
		ID:                       r.ids.Generate(),
		DefinitionID:             def.ID,
		TenantID:                 tenantID,
		DefinitionTenantOverride: req.OverrideDefinitionTenantID,
		ReferenceID:              req.ReferenceID,
		ReferenceType:            req.ReferenceType,
		State:                    ir.CaseStatePending,
		CreatedSeq:               r.clock.Next(),
	}
	if err := s.tx.InsertCaseInstance(ctx, inst); err != nil {
		return "", err
	}

	input := req.Input
	s.afterCommit = append(s.afterCommit, func(context.Context) {
		if !r.queue.Enqueue(initJob{InstanceID: inst.ID, Input: input}) {
			r.logger.Warn("runtime stopped before initialization was queued, case stays pending",
				zap.String("case_instance_id", inst.ID),
			)
		}
	})
	return inst.ID, nil
}
