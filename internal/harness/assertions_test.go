package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftrun/weave/internal/reactive"
)

func toActionIDs(names ...string) []reactive.ActionID {
	ids := make([]reactive.ActionID, len(names))
	for i, n := range names {
		ids[i] = reactive.ActionID(n)
	}
	return ids
}

func TestAssertTriggered_CountMatches(t *testing.T) {
	events := []TriggerEvent{
		{Triggered: toActionIDs("reviewerCount")},
		{Triggered: toActionIDs()},
	}
	err := assertTriggered(events, Assertion{Type: AssertTriggered, Action: "reviewerCount", Count: 1})
	assert.NoError(t, err)
}

func TestAssertTriggered_CountMismatch(t *testing.T) {
	events := []TriggerEvent{
		{Triggered: toActionIDs("reviewerCount")},
		{Triggered: toActionIDs("reviewerCount")},
	}
	err := assertTriggered(events, Assertion{Type: AssertTriggered, Action: "reviewerCount", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "triggered")
}

func TestAssertTriggerOrder_InOrderPasses(t *testing.T) {
	events := []TriggerEvent{
		{Triggered: toActionIDs("reviewerCount")},
		{Triggered: toActionIDs("statusChanged")},
	}
	err := assertTriggerOrder(events, Assertion{Type: AssertTriggerOrder, Actions: []string{"reviewerCount", "statusChanged"}})
	assert.NoError(t, err)
}

func TestAssertTriggerOrder_ReversedFails(t *testing.T) {
	events := []TriggerEvent{
		{Triggered: toActionIDs("reviewerCount")},
		{Triggered: toActionIDs("statusChanged")},
	}
	err := assertTriggerOrder(events, Assertion{Type: AssertTriggerOrder, Actions: []string{"statusChanged", "reviewerCount"}})
	require.Error(t, err)
}

func TestAssertTriggerOrder_MissingActionFails(t *testing.T) {
	events := []TriggerEvent{
		{Triggered: toActionIDs("reviewerCount")},
	}
	err := assertTriggerOrder(events, Assertion{Type: AssertTriggerOrder, Actions: []string{"reviewerCount", "neverFires"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never triggered")
}

func TestEvaluateAssertions_UnknownTypeReportsError(t *testing.T) {
	result := NewResult()
	errs := EvaluateAssertions(result, []Assertion{{Type: "not_real"}}, &AssertionContext{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "unknown assertion type")
}

func TestEvaluateAssertions_FinalStateWithoutContextReportsError(t *testing.T) {
	result := NewResult()
	errs := EvaluateAssertions(result, []Assertion{{Type: AssertFinalState, Entity: "proposal"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "harness context")
}
