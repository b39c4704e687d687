package dispatch

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/correlate/internal/ir"
)

type resumeCall struct {
	SubScopeID string
	Input      ir.TransientInput
}

type countCall struct {
	DefinitionID, ReferenceID, ReferenceType string
}

// fakeEngine is an in-memory UnitOfWork. Effects of a unit of work are
// buffered and applied only when its function returns nil.
type fakeEngine struct {
	mu sync.Mutex

	subs     []ir.Subscription
	policies map[string]string

	// committed effects
	resumes   []resumeCall
	starts    []ir.StartRequest
	instances []ir.StartRequest

	// observations
	queries    []ir.SubscriptionQuery
	queryUnits []int
	counts     []countCall
	units      int

	findErr   error
	resumeErr map[string]error
	startErr  map[string]error
	nextID    int
}

func newFakeEngine(subs ...ir.Subscription) *fakeEngine {
	return &fakeEngine{
		subs:      subs,
		policies:  make(map[string]string),
		resumeErr: make(map[string]error),
		startErr:  make(map[string]error),
	}
}

func (e *fakeEngine) Execute(ctx context.Context, fn func(ctx context.Context, s Session) error) error {
	e.mu.Lock()
	e.units++
	s := &fakeSession{engine: e, unit: e.units}
	e.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumes = append(e.resumes, s.resumes...)
	e.starts = append(e.starts, s.starts...)
	e.instances = append(e.instances, s.starts...)
	return nil
}

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.starts)
}

type fakeSession struct {
	engine  *fakeEngine
	unit    int
	resumes []resumeCall
	starts  []ir.StartRequest
}

func (s *fakeSession) FindSubscriptions(_ context.Context, q ir.SubscriptionQuery) ([]ir.Subscription, error) {
	e := s.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	e.queries = append(e.queries, q)
	e.queryUnits = append(e.queryUnits, s.unit)
	if e.findErr != nil {
		return nil, e.findErr
	}

	var out []ir.Subscription
	for _, sub := range e.subs {
		if sub.EventType != q.EventType || sub.ScopeType != q.ScopeType {
			continue
		}
		if q.Tenant.Apply && sub.TenantID != q.Tenant.TenantID {
			continue
		}
		if q.WithoutConfiguration {
			if sub.Configuration != nil {
				continue
			}
		} else if sub.Configuration == nil || !slices.Contains(q.Configurations, *sub.Configuration) {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *fakeSession) StartCorrelationConfiguration(_ context.Context, definitionID string) (string, bool, error) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	v, ok := s.engine.policies[definitionID]
	return v, ok, nil
}

func (s *fakeSession) Resume(_ context.Context, subScopeID string, input ir.TransientInput) error {
	s.engine.mu.Lock()
	err := s.engine.resumeErr[subScopeID]
	s.engine.mu.Unlock()
	if err != nil {
		return err
	}
	s.resumes = append(s.resumes, resumeCall{SubScopeID: subScopeID, Input: input})
	return nil
}

func (s *fakeSession) StartAsync(_ context.Context, req ir.StartRequest) (string, error) {
	e := s.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.startErr[req.DefinitionID]; err != nil {
		return "", err
	}
	e.nextID++
	s.starts = append(s.starts, req)
	return fmt.Sprintf("case-%d", e.nextID), nil
}

func (s *fakeSession) CountStartedWithReference(_ context.Context, definitionID, referenceID, referenceType string) (int64, error) {
	e := s.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counts = append(e.counts, countCall{definitionID, referenceID, referenceType})

	var n int64
	for _, inst := range e.instances {
		if inst.DefinitionID == definitionID && inst.ReferenceID == referenceID && inst.ReferenceType == referenceType {
			n++
		}
	}
	return n, nil
}

// fakeLocker records lock keys and releases.
type fakeLocker struct {
	mu       sync.Mutex
	locked   []string
	released []string
	err      error
}

func (l *fakeLocker) Lock(_ context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.locked = append(l.locked, key)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released = append(l.released, key)
		return nil
	}, nil
}

func definitionSub(id, eventType, definitionID string) ir.Subscription {
	return ir.Subscription{
		ID:                id,
		EventType:         eventType,
		ScopeType:         ir.ScopeTypeCase,
		ScopeDefinitionID: ir.Ptr(definitionID),
	}
}

func waitingSub(id, eventType, planItemID string, configuration *string) ir.Subscription {
	return ir.Subscription{
		ID:                id,
		EventType:         eventType,
		ScopeType:         ir.ScopeTypeCase,
		Configuration:     configuration,
		SubScopeID:        ir.Ptr(planItemID),
		ScopeID:           ir.Ptr("case-waiting"),
		ScopeDefinitionID: ir.Ptr("def-waiting"),
	}
}

func orderOccurrence(params ...ir.Parameter) ir.Occurrence {
	return ir.Occurrence{
		ID:                    "occ-1",
		ModelKey:              "orderPlaced",
		CorrelationParameters: params,
		Payload:               []ir.Parameter{{Name: "amount", Value: ir.Int(100)}},
	}
}

func customer(v string) ir.Parameter {
	return ir.Parameter{Name: "customerId", Value: ir.String(v)}
}
