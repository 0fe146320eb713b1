package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: a space, a set of
// named actions with watched paths, a sequence of writes, and
// assertions over the resulting trigger trace and final document
// state. Grounded on the teacher's Scenario (setup/flow/assertions
// shape), reworked from action invocations to direct document writes
// against the reactive engine.
type Scenario struct {
	// Name uniquely identifies this scenario and seeds its entity id
	// generator.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Space is the space every step in this scenario writes into.
	Space string `yaml:"space"`

	// IDSeed overrides the seed used to generate scenario-local entity
	// ids. Defaults to Name when empty.
	IDSeed string `yaml:"id_seed,omitempty"`

	// Actions registers named reactive dependencies watched throughout
	// the scenario (reactive.Engine.Register).
	Actions []ActionSpec `yaml:"actions,omitempty"`

	// Setup contains writes applied before the main flow, not subject
	// to trigger assertions.
	Setup []WriteStep `yaml:"setup,omitempty"`

	// Flow contains the writes under test.
	Flow []WriteStep `yaml:"flow"`

	// Assertions validate the trigger trace and final document state.
	Assertions []Assertion `yaml:"assertions"`
}

// ActionSpec names one reactive.Engine action and the paths it reads,
// within one scenario-local entity.
type ActionSpec struct {
	Name   string   `yaml:"name"`
	Entity string   `yaml:"entity"`
	Path   []string `yaml:"path"`
}

// WriteStep writes value at path within a scenario-local entity.
type WriteStep struct {
	Entity string      `yaml:"entity"`
	Path   []string    `yaml:"path"`
	Value  interface{} `yaml:"value"`
}

// Assertion validates the trigger trace or final document state.
type Assertion struct {
	// Type is one of AssertTriggered, AssertTriggerOrder, AssertFinalState.
	Type string `yaml:"type"`

	// Action names the watched action (AssertTriggered, AssertTriggerOrder).
	Action string `yaml:"action,omitempty"`

	// Count is the expected trigger count (AssertTriggered).
	Count int `yaml:"count,omitempty"`

	// Actions gives the expected first-trigger order (AssertTriggerOrder).
	Actions []string `yaml:"actions,omitempty"`

	// Entity/Path/Expect locate and compare a value (AssertFinalState).
	Entity string      `yaml:"entity,omitempty"`
	Path   []string    `yaml:"path,omitempty"`
	Expect interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTriggered    = "triggered"
	AssertTriggerOrder = "trigger_order"
	AssertFinalState   = "final_state"
)

// LoadScenario reads and parses a scenario YAML file, rejecting
// unknown fields exactly as the teacher's LoadScenario does.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Space == "" {
		return fmt.Errorf("space is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, a := range s.Actions {
		if a.Name == "" {
			return fmt.Errorf("actions[%d]: name is required", i)
		}
		if a.Entity == "" {
			return fmt.Errorf("actions[%d]: entity is required", i)
		}
	}
	for i, step := range s.Setup {
		if step.Entity == "" {
			return fmt.Errorf("setup[%d]: entity is required", i)
		}
	}
	for i, step := range s.Flow {
		if step.Entity == "" {
			return fmt.Errorf("flow[%d]: entity is required", i)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	switch a.Type {
	case AssertTriggered:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for %s", index, AssertTriggered)
		}
	case AssertTriggerOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for %s", index, AssertTriggerOrder)
		}
	case AssertFinalState:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for %s", index, AssertFinalState)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
