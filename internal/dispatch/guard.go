package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/correlate/internal/correlation"
	"github.com/roach88/correlate/internal/ir"
	"github.com/roach88/correlate/internal/metrics"
)

// StartOutcome is the result of a StartNew disposition.
type StartOutcome int

const (
	// StartOutcomeStarted means the start was accepted by the runtime.
	StartOutcomeStarted StartOutcome = iota + 1
	// StartOutcomeSkippedAsDuplicate means a case with the same business
	// reference already exists.
	StartOutcomeSkippedAsDuplicate
)

func (o StartOutcome) String() string {
	switch o {
	case StartOutcomeStarted:
		return "started"
	case StartOutcomeSkippedAsDuplicate:
		return "skipped_as_duplicate"
	default:
		return "unknown"
	}
}

// StartResult describes one StartNew disposition.
type StartResult struct {
	Outcome     StartOutcome
	InstanceID  string
	ReferenceID string
}

// StartLocker serializes starts of the same (definition, business key)
// across processes. Release is called with a context that outlives a
// cancelled request.
type StartLocker interface {
	Lock(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// Guard starts new cases, skipping the start when the definition stores
// the full correlation key as a unique business reference and a case
// with that reference already exists.
type Guard struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	locker  StartLocker
}

// NewGuard creates a guard. locker may be nil.
func NewGuard(logger *zap.Logger, m *metrics.Metrics, locker StartLocker) *Guard {
	return &Guard{logger: logger, metrics: m, locker: locker}
}

// Start runs one StartNew disposition in its own unit of work.
//
// When a locker is configured and the occurrence has a full key, the lock
// is held until the unit of work has committed, so a concurrent start of
// the same definition and key sees the pending instance.
func (g *Guard) Start(ctx context.Context, uow UnitOfWork, occ ir.Occurrence, definitionID string, keys correlation.KeySet) (StartResult, error) {
	if g.locker != nil {
		if full, ok := keys.Full(); ok {
			release, err := g.locker.Lock(ctx, definitionID+"/"+full.Value)
			if err != nil {
				return StartResult{}, fmt.Errorf("lock start of %s: %w", definitionID, err)
			}
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					g.logger.Warn("failed to release start lock",
						zap.String("definition_id", definitionID),
						zap.Error(err),
					)
				}
			}()
		}
	}

	var res StartResult
	err := uow.Execute(ctx, func(ctx context.Context, s Session) error {
		var err error
		res, err = g.start(ctx, s, occ, definitionID, keys)
		return err
	})
	if err != nil {
		return StartResult{}, err
	}
	return res, nil
}

func (g *Guard) start(ctx context.Context, s Session, occ ir.Occurrence, definitionID string, keys correlation.KeySet) (StartResult, error) {
	tenantID, override := StartTenant(occ)
	req := ir.StartRequest{
		DefinitionID:               definitionID,
		TenantID:                   tenantID,
		OverrideDefinitionTenantID: override,
		Input:                      ir.EventInput(occ),
	}

	policy, ok, err := s.StartCorrelationConfiguration(ctx, definitionID)
	if err != nil {
		return StartResult{}, fmt.Errorf("read start correlation policy of %s: %w", definitionID, err)
	}

	if ok && policy == ir.StartCorrelationStoreAsUniqueReferenceID {
		full, hasKey := keys.Full()
		if !hasKey {
			g.logger.Warn("unique start policy but event has no correlation parameters, starting without reference",
				zap.String("definition_id", definitionID),
				zap.String("event_type", occ.ModelKey),
				zap.String("occurrence_id", occ.ID),
			)
		} else {
			count, err := s.CountStartedWithReference(ctx, definitionID, full.Value, ir.ReferenceTypeEventCase)
			if err != nil {
				return StartResult{}, fmt.Errorf("count cases of %s with reference: %w", definitionID, err)
			}
			if count > 0 {
				g.logger.Debug("event-to-case start skipped, case with reference already exists",
					zap.String("definition_id", definitionID),
					zap.String("reference_id", full.Value),
					zap.Int64("existing", count),
					zap.String("occurrence_id", occ.ID),
				)
				g.metrics.DuplicateStarts.WithLabelValues(definitionID).Inc()
				return StartResult{Outcome: StartOutcomeSkippedAsDuplicate, ReferenceID: full.Value}, nil
			}
			req.ReferenceID = full.Value
			req.ReferenceType = ir.ReferenceTypeEventCase
		}
	}

	id, err := s.StartAsync(ctx, req)
	if err != nil {
		return StartResult{}, fmt.Errorf("start case of %s: %w", definitionID, err)
	}

	g.logger.Debug("case start accepted",
		zap.String("definition_id", definitionID),
		zap.String("case_instance_id", id),
		zap.String("tenant_id", tenantID),
		zap.String("reference_id", req.ReferenceID),
	)
	return StartResult{Outcome: StartOutcomeStarted, InstanceID: id, ReferenceID: req.ReferenceID}, nil
}
