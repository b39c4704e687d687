package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/correlate/internal/ir"
	"github.com/roach88/correlate/internal/store"
)

func evaluate(ctx context.Context, st *store.Store, result *Result, a Assertion) error {
	switch a.Type {
	case AssertCaseCount:
		return assertCaseCount(result, a)
	case AssertCase:
		return assertCase(result, a)
	case AssertPlanItem:
		return assertPlanItem(ctx, st, result, a)
	case AssertSubscriptionCount:
		return assertSubscriptionCount(ctx, st, result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertCaseCount(result *Result, a Assertion) error {
	count := 0
	for _, c := range result.Cases {
		if c.DefinitionID == a.Definition {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertCaseCount,
			Expected: fmt.Sprintf("%d case(s) of %s", a.Count, a.Definition),
			Actual:   fmt.Sprintf("%d case(s)", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertCase(result *Result, a Assertion) error {
	var found *CaseSnapshot
	for i := range result.Cases {
		if result.Cases[i].ID == a.ID {
			found = &result.Cases[i]
			break
		}
	}
	if found == nil {
		return &AssertionError{
			Type:     AssertCase,
			Expected: fmt.Sprintf("case %s", a.ID),
			Actual:   "no such case",
			Trace:    result.Trace,
		}
	}

	fields := caseFields(*found)
	if err := matchFields(AssertCase, a.ID, fields, a.Expect, result.Trace); err != nil {
		return err
	}

	if len(a.ReferenceOf) > 0 {
		want, err := correlationKey(a.ReferenceOf)
		if err != nil {
			return fmt.Errorf("case %s: reference_of: %w", a.ID, err)
		}
		if found.ReferenceID != want {
			return &AssertionError{
				Type:     AssertCase,
				Expected: fmt.Sprintf("case %s referenced by %v", a.ID, a.ReferenceOf),
				Actual:   fmt.Sprintf("reference_id %q", found.ReferenceID),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertPlanItem(ctx context.Context, st *store.Store, result *Result, a Assertion) error {
	var item ir.PlanItem
	err := st.Execute(ctx, func(tx *store.Tx) error {
		var err error
		item, err = tx.ReadPlanItem(ctx, a.ID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return &AssertionError{
			Type:     AssertPlanItem,
			Expected: fmt.Sprintf("plan item %s", a.ID),
			Actual:   "no such plan item",
			Trace:    result.Trace,
		}
	}
	if err != nil {
		return fmt.Errorf("plan_item %s: %w", a.ID, err)
	}

	fields := map[string]string{
		"state":            item.State,
		"case_instance_id": item.CaseInstanceID,
	}
	return matchFields(AssertPlanItem, a.ID, fields, a.Expect, result.Trace)
}

func assertSubscriptionCount(ctx context.Context, st *store.Store, result *Result, a Assertion) error {
	var subs []ir.Subscription
	err := st.Execute(ctx, func(tx *store.Tx) error {
		var err error
		subs, err = tx.ListSubscriptions(ctx, a.Event)
		return err
	})
	if err != nil {
		return fmt.Errorf("subscription_count %s: %w", a.Event, err)
	}
	if len(subs) != a.Count {
		return &AssertionError{
			Type:     AssertSubscriptionCount,
			Expected: fmt.Sprintf("%d subscription(s) for %s", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d subscription(s)", len(subs)),
			Trace:    result.Trace,
		}
	}
	return nil
}

func caseFields(c CaseSnapshot) map[string]string {
	return map[string]string{
		"definition_id":              c.DefinitionID,
		"tenant_id":                  c.TenantID,
		"definition_tenant_override": c.DefinitionTenantOverride,
		"reference_id":               c.ReferenceID,
		"reference_type":             c.ReferenceType,
		"state":                      c.State,
	}
}

// matchFields compares the expected subset against actual. Keys are
// checked in sorted order so the first reported mismatch is stable.
func matchFields(typ, id string, actual map[string]string, expect map[string]any, trace []TraceEvent) error {
	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return fmt.Errorf("%s %s: unknown field %q", typ, id, k)
		}
		want := fmt.Sprint(expect[k])
		if got != want {
			mismatches = append(mismatches, fmt.Sprintf("%s=%q (want %q)", k, got, want))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%s %s with %v", typ, id, expect),
			Actual:   strings.Join(mismatches, ", "),
			Trace:    trace,
		}
	}
	return nil
}
