package harness

import (
	"fmt"
	"strings"

	"github.com/weftrun/weave/internal/value"
)

// AssertionError is returned when an assertion fails. It includes the
// full trigger trace for debugging context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TriggerEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s\n", e.Actual)
	fmt.Fprintf(&buf, "\ntrace:\n")
	for i, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s%v -> %v\n", i+1, event.Entity, event.Path, event.Triggered)
	}
	return buf.String()
}

// assertTriggered checks that the named action was triggered exactly
// assertion.Count times across the flow.
func assertTriggered(trace []TriggerEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		for _, action := range event.Triggered {
			if string(action) == assertion.Action {
				count++
			}
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTriggered,
			Expected: fmt.Sprintf("%d triggers of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d triggers", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTriggerOrder checks that the named actions were each first
// triggered in the given order. Actions need not be consecutive.
func assertTriggerOrder(trace []TriggerEvent, assertion Assertion) error {
	firstSeen := map[string]int{}
	for i, event := range trace {
		for _, action := range event.Triggered {
			name := string(action)
			if _, seen := firstSeen[name]; !seen {
				firstSeen[name] = i
			}
		}
	}

	for _, name := range assertion.Actions {
		if _, ok := firstSeen[name]; !ok {
			return &AssertionError{
				Type:     AssertTriggerOrder,
				Expected: fmt.Sprintf("all actions triggered: %v", assertion.Actions),
				Actual:   fmt.Sprintf("action %s never triggered", name),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev, curr := assertion.Actions[i-1], assertion.Actions[i]
		if firstSeen[prev] >= firstSeen[curr] {
			return &AssertionError{
				Type:     AssertTriggerOrder,
				Expected: fmt.Sprintf("actions triggered in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (step %d) did not precede %s (step %d)",
					prev, firstSeen[prev], curr, firstSeen[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertFinalState reads the committed value at assertion.Path within
// assertion.Entity's document and compares it against assertion.Expect.
func assertFinalState(h *Harness, assertion Assertion) error {
	actual, ok := h.finalValueAt(assertion.Entity, assertion.Path)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("entity %q to be known", assertion.Entity),
			Actual:   "entity never referenced by the scenario",
		}
	}

	expected, err := value.FromAny(assertion.Expect)
	if err != nil {
		return fmt.Errorf("final_state assertion: %w", err)
	}

	if !valuesEqual(actual, expected) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%v", value.ToAny(expected)),
			Actual:   fmt.Sprintf("%v", value.ToAny(actual)),
		}
	}
	return nil
}

// valuesEqual compares two document values structurally.
func valuesEqual(a, b value.Value) bool {
	canonA, errA := value.MarshalCanonical(a)
	canonB, errB := value.MarshalCanonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(canonA) == string(canonB)
}

// AssertionContext carries the harness state final_state assertions
// read from.
type AssertionContext struct {
	Harness *Harness
}

// EvaluateAssertions evaluates every assertion against result and the
// harness's document state, returning one error message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTriggered:
			err = assertTriggered(result.Trace, assertion)
		case AssertTriggerOrder:
			err = assertTriggerOrder(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Harness == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires harness context", i)
			} else {
				err = assertFinalState(actx.Harness, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
