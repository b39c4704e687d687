package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is one end-to-end correlation test.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Models is the directory holding the event and channel models.
	Models string `yaml:"models"`

	Definitions []DefinitionStep `yaml:"definitions"`
	Waits       []WaitStep       `yaml:"waits,omitempty"`
	Deliveries  []DeliveryStep   `yaml:"deliveries"`
	Assertions  []Assertion      `yaml:"assertions"`

	// ContinueOnFailure keeps dispatching the remaining subscriptions of a
	// delivery after one of them failed.
	ContinueOnFailure bool `yaml:"continue_on_failure,omitempty"`
}

// DefinitionStep deploys a case definition.
type DefinitionStep struct {
	ID     string `yaml:"id"`
	Key    string `yaml:"key"`
	Tenant string `yaml:"tenant,omitempty"`

	// StartPolicy becomes the start correlation extension of the
	// definition.
	StartPolicy string `yaml:"start_policy,omitempty"`

	// StartsOn lists the event types that start a new case.
	StartsOn []string `yaml:"starts_on,omitempty"`
}

// WaitStep parks a plan item until a matching event arrives.
type WaitStep struct {
	PlanItem     string `yaml:"plan_item"`
	CaseInstance string `yaml:"case_instance"`
	Event        string `yaml:"event"`
	Tenant       string `yaml:"tenant,omitempty"`

	// Correlation restricts the wait to events carrying exactly these
	// correlation parameters. Empty waits for any event of the type.
	Correlation map[string]any `yaml:"correlation,omitempty"`
}

// DeliveryStep sends one raw message to a channel.
type DeliveryStep struct {
	Channel string         `yaml:"channel"`
	Message map[string]any `yaml:"message"`

	// ExpectError is a substring of the expected delivery error. Empty
	// means the delivery must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion checks the state left behind by a scenario.
type Assertion struct {
	Type string `yaml:"type"`

	// Definition is used by case_count.
	Definition string `yaml:"definition,omitempty"`

	// ID names the case instance (case) or plan item (plan_item).
	ID string `yaml:"id,omitempty"`

	// Event is used by subscription_count.
	Event string `yaml:"event,omitempty"`

	// Count is used by case_count and subscription_count.
	Count int `yaml:"count,omitempty"`

	// Expect holds the expected fields for case and plan_item.
	Expect map[string]any `yaml:"expect,omitempty"`

	// ReferenceOf holds correlation parameters whose key the case
	// reference must equal.
	ReferenceOf map[string]any `yaml:"reference_of,omitempty"`
}

// Assertion types.
const (
	AssertCaseCount         = "case_count"
	AssertCase              = "case"
	AssertPlanItem          = "plan_item"
	AssertSubscriptionCount = "subscription_count"
)

// LoadScenario reads a scenario file. Unknown fields are rejected and the
// models path is resolved relative to the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if s.Models != "" && !filepath.IsAbs(s.Models) {
		s.Models = filepath.Join(filepath.Dir(path), s.Models)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Models == "" {
		return fmt.Errorf("models is required")
	}
	if len(s.Deliveries) == 0 {
		return fmt.Errorf("deliveries list is required and must be non-empty")
	}

	defs := make(map[string]bool, len(s.Definitions))
	for i, d := range s.Definitions {
		if d.ID == "" || d.Key == "" {
			return fmt.Errorf("definitions[%d]: id and key are required", i)
		}
		if defs[d.ID] {
			return fmt.Errorf("definitions[%d]: duplicate id %q", i, d.ID)
		}
		defs[d.ID] = true
	}

	for i, w := range s.Waits {
		if w.PlanItem == "" || w.CaseInstance == "" || w.Event == "" {
			return fmt.Errorf("waits[%d]: plan_item, case_instance and event are required", i)
		}
	}

	for i, d := range s.Deliveries {
		if d.Channel == "" {
			return fmt.Errorf("deliveries[%d]: channel is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertCaseCount:
		if a.Definition == "" {
			return fmt.Errorf("case_count requires definition")
		}
	case AssertCase:
		if a.ID == "" {
			return fmt.Errorf("case requires id")
		}
	case AssertPlanItem:
		if a.ID == "" {
			return fmt.Errorf("plan_item requires id")
		}
	case AssertSubscriptionCount:
		if a.Event == "" {
			return fmt.Errorf("subscription_count requires event")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
