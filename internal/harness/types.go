package harness

import (
	"fmt"
	"strings"
)

// Trace event types.
const (
	TraceDelivered = "delivered"
	TraceRejected  = "rejected"
	TraceResumed   = "resumed"
	TraceStarted   = "started"
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Type           string `json:"type"`
	Channel        string `json:"channel,omitempty"`
	EventType      string `json:"event_type,omitempty"`
	OccurrenceID   string `json:"occurrence_id,omitempty"`
	DefinitionID   string `json:"definition_id,omitempty"`
	CaseInstanceID string `json:"case_instance_id,omitempty"`
	PlanItemID     string `json:"plan_item_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// CaseSnapshot is a case instance as left behind by a run. Sequence
// numbers are omitted so snapshots stay comparable.
type CaseSnapshot struct {
	ID                       string `json:"id"`
	DefinitionID             string `json:"definition_id"`
	TenantID                 string `json:"tenant_id,omitempty"`
	DefinitionTenantOverride string `json:"definition_tenant_override,omitempty"`
	ReferenceID              string `json:"reference_id,omitempty"`
	ReferenceType            string `json:"reference_type,omitempty"`
	State                    string `json:"state"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every delivery behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent   `json:"trace"`
	Errors []string       `json:"errors,omitempty"`
	Cases  []CaseSnapshot `json:"cases"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Cases:  []CaseSnapshot{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AssertionError is returned when an assertion does not hold.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", i+1, ev.Type)
			if ev.EventType != "" {
				fmt.Fprintf(&buf, " %s", ev.EventType)
			}
			if ev.CaseInstanceID != "" {
				fmt.Fprintf(&buf, " case=%s", ev.CaseInstanceID)
			}
			if ev.PlanItemID != "" {
				fmt.Fprintf(&buf, " plan_item=%s", ev.PlanItemID)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}
