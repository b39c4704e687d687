package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/correlate/internal/dispatch"
	"github.com/roach88/correlate/internal/ir"
	"github.com/roach88/correlate/internal/model"
	"github.com/roach88/correlate/internal/registry"
	"github.com/roach88/correlate/internal/runtime"
	"github.com/roach88/correlate/internal/store"
	"github.com/roach88/correlate/internal/testutil"
)

// Option configures a run.
type Option func(*harness)

// WithLogger sets the logger handed to the runtime, consumer and registry.
func WithLogger(l *zap.Logger) Option {
	return func(h *harness) {
		if l != nil {
			h.logger = l
		}
	}
}

type harness struct {
	logger *zap.Logger
	rt     *runtime.Runtime
	result *Result

	// resumed buffers resume events until the delivery that caused them
	// has been traced.
	resumed []TraceEvent
}

// Run executes a scenario against a fresh in-memory store.
//
// Execution flow:
//  1. load the models and open the store
//  2. deploy definitions and park the wait states
//  3. deliver every message through the event registry
//  4. stop the runtime and drain the queued case starts
//  5. snapshot the cases and evaluate the assertions
//
// The returned error reports a broken scenario or infrastructure failure;
// failed expectations are recorded in the result.
func Run(s *Scenario, opts ...Option) (*Result, error) {
	h := &harness{logger: zap.NewNop(), result: NewResult()}
	for _, opt := range opts {
		opt(h)
	}
	return h.run(context.Background(), s)
}

func (h *harness) run(ctx context.Context, s *Scenario) (*Result, error) {
	models, errs := model.LoadDir(s.Models)
	if len(errs) > 0 {
		return nil, fmt.Errorf("load models %s: %w", s.Models, errors.Join(errs...))
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	h.rt, err = runtime.New(st,
		runtime.WithIDGenerator(testutil.NewSequenceGenerator("case")),
		runtime.WithLogger(h.logger),
		runtime.WithStartedHook(h.onStarted),
		runtime.WithResumedHook(h.onResumed),
	)
	if err != nil {
		return nil, err
	}

	if err := h.deploy(ctx, s.Definitions); err != nil {
		return nil, err
	}
	if err := h.park(ctx, s.Waits); err != nil {
		return nil, err
	}

	copts := []dispatch.Option{dispatch.WithLogger(h.logger)}
	if s.ContinueOnFailure {
		copts = append(copts, dispatch.WithContinueOnFailure())
	}
	router := dispatch.NewRouter()
	if err := router.Register(dispatch.NewCaseConsumer(h.rt, copts...)); err != nil {
		return nil, err
	}

	occIDs := testutil.NewSequenceGenerator("occ")
	reg := registry.New(models, router,
		registry.WithLogger(h.logger),
		registry.WithIDFunc(occIDs.Generate),
	)

	for i, d := range s.Deliveries {
		if err := h.deliver(ctx, reg, i, d); err != nil {
			return nil, err
		}
	}

	h.rt.Stop()
	if err := h.rt.Run(ctx); err != nil {
		return nil, fmt.Errorf("drain case starts: %w", err)
	}

	err = st.Execute(ctx, func(tx *store.Tx) error {
		insts, err := tx.ListCaseInstances(ctx)
		if err != nil {
			return err
		}
		for _, inst := range insts {
			h.result.Cases = append(h.result.Cases, snapshotCase(inst))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot cases: %w", err)
	}

	for _, a := range s.Assertions {
		if err := evaluate(ctx, st, h.result, a); err != nil {
			h.result.AddError(err.Error())
		}
	}
	return h.result, nil
}

func (h *harness) deploy(ctx context.Context, defs []DefinitionStep) error {
	for _, d := range defs {
		def := ir.CaseDefinition{ID: d.ID, Key: d.Key, TenantID: d.Tenant, Version: 1}
		if d.StartPolicy != "" {
			def.Extensions = []ir.Extension{{Name: ir.StartCorrelationConfigurationKey, Text: d.StartPolicy}}
		}

		subs := make([]ir.Subscription, 0, len(d.StartsOn))
		for _, event := range d.StartsOn {
			subs = append(subs, ir.Subscription{
				ID:                d.ID + "-start-" + event,
				EventType:         event,
				TenantID:          d.Tenant,
				ScopeDefinitionID: ir.Ptr(d.ID),
			})
		}

		if err := h.rt.Deploy(ctx, def, subs...); err != nil {
			return err
		}
	}
	return nil
}

func (h *harness) park(ctx context.Context, waits []WaitStep) error {
	for _, w := range waits {
		sub := ir.Subscription{
			ID:         "wait-" + w.PlanItem,
			EventType:  w.Event,
			TenantID:   w.Tenant,
			SubScopeID: ir.Ptr(w.PlanItem),
			ScopeID:    ir.Ptr(w.CaseInstance),
		}
		if len(w.Correlation) > 0 {
			key, err := correlationKey(w.Correlation)
			if err != nil {
				return fmt.Errorf("wait %s: %w", w.PlanItem, err)
			}
			sub.Configuration = ir.Ptr(key)
		}

		item := ir.PlanItem{ID: w.PlanItem, CaseInstanceID: w.CaseInstance}
		if err := h.rt.Wait(ctx, item, sub); err != nil {
			return err
		}
	}
	return nil
}

func (h *harness) deliver(ctx context.Context, reg *registry.Registry, i int, d DeliveryStep) error {
	body, err := json.Marshal(d.Message)
	if err != nil {
		return fmt.Errorf("deliveries[%d]: encode message: %w", i, err)
	}

	occ, err := reg.EventReceived(ctx, d.Channel, string(body))
	ev := TraceEvent{
		Type:         TraceDelivered,
		Channel:      d.Channel,
		EventType:    occ.ModelKey,
		OccurrenceID: occ.ID,
	}
	if err != nil {
		ev.Type = TraceRejected
		ev.Error = err.Error()
	}
	h.result.Trace = append(h.result.Trace, ev)
	h.result.Trace = append(h.result.Trace, h.resumed...)
	h.resumed = nil

	switch {
	case err != nil && d.ExpectError == "":
		h.result.AddError(fmt.Sprintf("deliveries[%d] on %s: unexpected error: %v", i, d.Channel, err))
	case err != nil && !strings.Contains(err.Error(), d.ExpectError):
		h.result.AddError(fmt.Sprintf("deliveries[%d] on %s: error %q does not contain %q", i, d.Channel, err.Error(), d.ExpectError))
	case err == nil && d.ExpectError != "":
		h.result.AddError(fmt.Sprintf("deliveries[%d] on %s: expected error containing %q", i, d.Channel, d.ExpectError))
	}
	return nil
}

func (h *harness) onResumed(_ context.Context, item ir.PlanItem, input ir.TransientInput) {
	h.resumed = append(h.resumed, TraceEvent{
		Type:           TraceResumed,
		EventType:      input.Occurrence.ModelKey,
		OccurrenceID:   input.Occurrence.ID,
		CaseInstanceID: item.CaseInstanceID,
		PlanItemID:     item.ID,
	})
}

func (h *harness) onStarted(_ context.Context, inst ir.CaseInstance, input ir.TransientInput) {
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Type:           TraceStarted,
		EventType:      input.Occurrence.ModelKey,
		OccurrenceID:   input.Occurrence.ID,
		DefinitionID:   inst.DefinitionID,
		CaseInstanceID: inst.ID,
	})
}

func snapshotCase(inst ir.CaseInstance) CaseSnapshot {
	return CaseSnapshot{
		ID:                       inst.ID,
		DefinitionID:             inst.DefinitionID,
		TenantID:                 inst.TenantID,
		DefinitionTenantOverride: inst.DefinitionTenantOverride,
		ReferenceID:              inst.ReferenceID,
		ReferenceType:            inst.ReferenceType,
		State:                    inst.State,
	}
}

// correlationKey computes the key a wait or reference assertion expects
// for the given YAML parameters.
func correlationKey(fields map[string]any) (string, error) {
	params := make([]ir.Parameter, 0, len(fields))
	for name, raw := range fields {
		v, err := yamlValue(raw)
		if err != nil {
			return "", fmt.Errorf("parameter %q: %w", name, err)
		}
		params = append(params, ir.Parameter{Name: name, Value: v})
	}
	return ir.CorrelationKeyValue(params)
}

func yamlValue(raw any) (ir.Value, error) {
	switch v := raw.(type) {
	case string:
		return ir.String(v), nil
	case int:
		return ir.Int(v), nil
	case int64:
		return ir.Int(v), nil
	case bool:
		return ir.Bool(v), nil
	default:
		return nil, fmt.Errorf("unsupported value %v (%T)", raw, raw)
	}
}
