package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/weftrun/weave/internal/value"
)

// TraceSnapshot captures a scenario run's complete trigger trace for
// golden-file comparison.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TriggerEvent
}

// toValue builds a value.Value tree for canonical serialization,
// mirroring the teacher's toCanonicalMap but over this domain's own
// TriggerEvent shape rather than a generic map[string]any.
func (s *TraceSnapshot) toValue() value.Value {
	events := make(value.Array, len(s.Trace))
	for i, event := range s.Trace {
		path := make(value.Array, len(event.Path))
		for j, p := range event.Path {
			path[j] = value.String(p)
		}
		triggered := make(value.Array, len(event.Triggered))
		for j, action := range event.Triggered {
			triggered[j] = value.String(action)
		}
		events[i] = value.Object{
			"step_index": value.Number(event.StepIndex),
			"entity":     value.String(event.Entity),
			"path":       path,
			"triggered":  triggered,
		}
	}

	return value.Object{
		"scenario_name": value.String(s.ScenarioName),
		"trace":         events,
	}
}

// RunWithGolden executes scenario and compares its trigger trace
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares result's trigger trace against a golden file
// named for scenarioName, without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	traceJSON, err := value.MarshalCanonical(snapshot.toValue())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
