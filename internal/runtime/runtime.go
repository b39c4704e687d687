package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/roach88/correlate/internal/dispatch"
	"github.com/roach88/correlate/internal/ir"
	"github.com/roach88/correlate/internal/store"
)

// DefaultPolicyCacheSize bounds the start-policy cache.
const DefaultPolicyCacheSize = 1024

// StartedHook is called after the Run loop initialized a case instance.
type StartedHook func(ctx context.Context, inst ir.CaseInstance, input ir.TransientInput)

// ResumedHook is called after a resume committed.
type ResumedHook func(ctx context.Context, item ir.PlanItem, input ir.TransientInput)

type startPolicy struct {
	value string
	ok    bool
}

// Runtime implements dispatch.UnitOfWork over a store.
//
// Thread-safety model:
//   - Execute(): safe from any goroutine; the store serializes writers
//   - Run(): must be called from exactly one goroutine
type Runtime struct {
	store    *store.Store
	clock    *Clock
	queue    *jobQueue
	ids      IDGenerator
	logger   *zap.Logger
	policies *lru.Cache[string, startPolicy]
	stopped  atomic.Bool

	cacheSize int
	onStarted []StartedHook
	onResumed []ResumedHook
}

var _ dispatch.UnitOfWork = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock sets the logical clock. Default: NewClock().
func WithClock(c *Clock) Option {
	return func(r *Runtime) { r.clock = c }
}

// WithIDGenerator sets the case instance id generator.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Runtime) { r.ids = g }
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithPolicyCacheSize sets the number of cached start policies.
func WithPolicyCacheSize(n int) Option {
	return func(r *Runtime) { r.cacheSize = n }
}

// WithStartedHook registers a hook called for every initialized case.
func WithStartedHook(h StartedHook) Option {
	return func(r *Runtime) { r.onStarted = append(r.onStarted, h) }
}

// WithResumedHook registers a hook called for every resumed plan item.
func WithResumedHook(h ResumedHook) Option {
	return func(r *Runtime) { r.onResumed = append(r.onResumed, h) }
}

// New creates a runtime over s.
func New(s *store.Store, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		store:     s,
		clock:     NewClock(),
		queue:     newJobQueue(),
		ids:       UUIDv7Generator{},
		logger:    zap.NewNop(),
		cacheSize: DefaultPolicyCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}

	cache, err := lru.New[string, startPolicy](r.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create policy cache: %w", err)
	}
	r.policies = cache
	return r, nil
}

// Store returns the underlying store.
func (r *Runtime) Store() *store.Store {
	return r.store
}

// Clock returns the runtime's logical clock.
func (r *Runtime) Clock() *Clock {
	return r.clock
}

// Pending returns the number of queued initializations.
func (r *Runtime) Pending() int {
	return r.queue.Len()
}

// Execute runs fn in one store transaction. Initializations queued by
// StartAsync and resume hooks run only after the transaction committed.
func (r *Runtime) Execute(ctx context.Context, fn func(ctx context.Context, s dispatch.Session) error) error {
	sess := &session{rt: r}
	err := r.store.Execute(ctx, func(tx *store.Tx) error {
		sess.tx = tx
		return fn(ctx, sess)
	})
	sess.tx = nil
	if err != nil {
		return err
	}

	for _, f := range sess.afterCommit {
		f(ctx)
	}
	return nil
}

// Deploy stores a definition together with its definition-level
// subscriptions.
func (r *Runtime) Deploy(ctx context.Context, def ir.CaseDefinition, subs ...ir.Subscription) error {
	err := r.store.Execute(ctx, func(tx *store.Tx) error {
		if err := tx.WriteDefinition(ctx, def); err != nil {
			return err
		}
		return r.writeSubscriptions(ctx, tx, subs)
	})
	if err != nil {
		return fmt.Errorf("deploy %s: %w", def.ID, err)
	}
	r.policies.Remove(def.ID)
	return nil
}

// Wait stores a waiting plan item together with the subscriptions that
// resume it.
func (r *Runtime) Wait(ctx context.Context, item ir.PlanItem, subs ...ir.Subscription) error {
	item.State = ir.PlanItemWaiting
	err := r.store.Execute(ctx, func(tx *store.Tx) error {
		if err := tx.WritePlanItem(ctx, item); err != nil {
			return err
		}
		return r.writeSubscriptions(ctx, tx, subs)
	})
	if err != nil {
		return fmt.Errorf("wait %s: %w", item.ID, err)
	}
	return nil
}

func (r *Runtime) writeSubscriptions(ctx context.Context, tx *store.Tx, subs []ir.Subscription) error {
	for _, sub := range subs {
		if sub.Seq == 0 {
			sub.Seq = r.clock.Next()
		}
		if sub.ScopeType == "" {
			sub.ScopeType = ir.ScopeTypeCase
		}
		if err := tx.WriteSubscription(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

// Recover advances the clock past every stored sequence number and queues
// the instances left pending by a previous process. Their transient input
// did not survive the restart and is empty.
func (r *Runtime) Recover(ctx context.Context) (int, error) {
	var pending []ir.CaseInstance
	err := r.store.Execute(ctx, func(tx *store.Tx) error {
		seq, err := tx.MaxSeq(ctx)
		if err != nil {
			return err
		}
		r.clock.AdvanceTo(seq)

		pending, err = tx.PendingCaseInstances(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, inst := range pending {
		r.queue.Enqueue(initJob{InstanceID: inst.ID})
	}
	if len(pending) > 0 {
		r.logger.Warn("recovered pending case instances without their event input",
			zap.Int("count", len(pending)),
		)
	}
	return len(pending), nil
}

// Run recovers pending instances and then initializes queued instances
// until ctx is cancelled or Stop is called.
//
// Must be called from exactly ONE goroutine.
//
// A failed initialization is logged and the instance stays pending; the
// next Recover picks it up again.
func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("case runtime starting")

	if _, err := r.Recover(ctx); err != nil {
		return fmt.Errorf("recover pending cases: %w", err)
	}

	for {
		if job, ok := r.queue.TryDequeue(); ok {
			if err := r.initialize(ctx, job); err != nil {
				r.logger.Error("case initialization failed",
					zap.String("case_instance_id", job.InstanceID),
					zap.Error(err),
				)
			}
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info("case runtime stopping: context cancelled")
			r.Stop()
			return ctx.Err()

		case <-r.queue.Wait():
			if r.queue.Closed() && r.queue.Len() == 0 {
				r.logger.Info("case runtime stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop stops accepting starts and lets Run return once the queue drained.
func (r *Runtime) Stop() {
	r.stopped.Store(true)
	r.queue.Close()
}

// initialize moves a pending instance to active.
// Called only from the Run goroutine.
func (r *Runtime) initialize(ctx context.Context, job initJob) error {
	seq := r.clock.Next()

	var inst ir.CaseInstance
	err := r.store.Execute(ctx, func(tx *store.Tx) error {
		if err := tx.MarkCaseInstanceStarted(ctx, job.InstanceID, seq); err != nil {
			return err
		}
		var err error
		inst, err = tx.ReadCaseInstance(ctx, job.InstanceID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Debug("case instance already initialized",
			zap.String("case_instance_id", job.InstanceID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("initialize %s: %w", job.InstanceID, err)
	}

	r.logger.Info("case instance started",
		zap.String("case_instance_id", inst.ID),
		zap.String("definition_id", inst.DefinitionID),
		zap.String("tenant_id", inst.TenantID),
		zap.Int64("seq", inst.StartedSeq),
	)
	for _, h := range r.onStarted {
		h(ctx, inst, job.Input)
	}
	return nil
}
