package harness

import "github.com/weftrun/weave/internal/reactive"

// TriggerEvent records one write step's effect on the reactive engine:
// which registered actions it triggered. It replaces the teacher's
// invocation/completion TraceEvent pair — there is nothing to invoke
// here, only documents to write and actions to observe reacting.
type TriggerEvent struct {
	// StepIndex is the position of the write step within Flow that
	// produced this event (setup steps do not produce trigger events).
	StepIndex int `json:"step_index"`

	// Entity/Path name the scenario-local write target.
	Entity string   `json:"entity"`
	Path   []string `json:"path,omitempty"`

	// Triggered lists the actions (in registration order) that
	// DetermineTriggeredActions reported as triggered by this write.
	Triggered []reactive.ActionID `json:"triggered,omitempty"`
}

// Result is the outcome of running one scenario: the trace of trigger
// events produced by its flow, plus pass/fail status from evaluating
// its assertions.
type Result struct {
	// Pass indicates every assertion held.
	Pass bool `json:"pass"`

	// Trace records one TriggerEvent per flow step.
	Trace []TriggerEvent `json:"trace"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrigger appends one flow step's trigger event to the trace.
func (r *Result) AddTrigger(event TriggerEvent) {
	r.Trace = append(r.Trace, event)
}
