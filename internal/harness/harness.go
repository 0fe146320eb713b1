package harness

import (
	"fmt"
	"log/slog"

	"github.com/weftrun/weave/internal/addr"
	"github.com/weftrun/weave/internal/docstore"
	"github.com/weftrun/weave/internal/queryproxy"
	"github.com/weftrun/weave/internal/reactive"
	"github.com/weftrun/weave/internal/replica"
	"github.com/weftrun/weave/internal/testutil"
	"github.com/weftrun/weave/internal/txn"
	"github.com/weftrun/weave/internal/value"
)

const mediaTypeJSON = "application/json"

// Harness drives a scenario's writes against a real document store,
// reactive engine, and transaction layer, then evaluates assertions
// against the resulting trigger trace and final document state.
type Harness struct {
	docs   *docstore.Store
	repl   *replica.Replica
	engine *reactive.Engine
	ids    *testutil.FixedIDGenerator
	logger *slog.Logger

	space       string
	entities    map[string]value.EntityID
	actions     map[string]reactive.ActionID
	actionOrder []string
}

// Run executes scenario against a fresh in-memory document store and
// reactive engine, and returns the resulting trace and assertion
// outcome.
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		docs:     docstore.New(),
		repl:     replica.New(),
		engine:   reactive.New(),
		ids:      testutil.NewFixedIDGenerator(idSeed(scenario)),
		logger:   slog.New(slog.DiscardHandler),
		space:    scenario.Space,
		entities: map[string]value.EntityID{},
		actions:  map[string]reactive.ActionID{},
	}

	tx := txn.New(h.docs, h.repl)

	for _, a := range scenario.Actions {
		id := h.entityID(a.Entity)
		actionID := reactive.ActionID(a.Name)
		h.actions[a.Name] = actionID
		h.actionOrder = append(h.actionOrder, a.Name)
		h.engine.Register(actionID, []addr.Address{{
			Space:     h.space,
			ID:        id,
			MediaType: mediaTypeJSON,
			Path:      value.Path(a.Path),
		}})
	}

	result := NewResult()

	for i, step := range scenario.Setup {
		if _, err := h.applyStep(tx, step); err != nil {
			return nil, fmt.Errorf("setup step %d: %w", i, err)
		}
	}

	for i, step := range scenario.Flow {
		event, err := h.applyStep(tx, step)
		if err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
		event.StepIndex = i
		result.AddTrigger(*event)
		h.logger.Info("flow step applied",
			"step", i,
			"entity", step.Entity,
			"path", step.Path,
			"triggered", event.Triggered,
		)
	}

	if _, err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	actx := &AssertionContext{Harness: h}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// idSeed picks the entity-id generator's seed: the scenario's own
// IDSeed if set, otherwise its name.
func idSeed(scenario *Scenario) string {
	if scenario.IDSeed != "" {
		return scenario.IDSeed
	}
	return scenario.Name
}

// entityID resolves a scenario-local entity name to a stable id,
// assigning one from the fixed generator on first reference.
func (h *Harness) entityID(name string) value.EntityID {
	if id, ok := h.entities[name]; ok {
		return id
	}
	id := h.ids.Next()
	h.entities[name] = id
	return id
}

// applyStep writes step.Value at step.Path within step.Entity's
// document through a query-proxy cursor (C6) rooted on the entity, and
// reports which registered actions it triggered.
func (h *Harness) applyStep(tx *txn.Transaction, step WriteStep) (*TriggerEvent, error) {
	id := h.entityID(step.Entity)
	path := value.Path(step.Path)

	before := h.currentValueAt(id, path)

	newValue, err := value.FromAny(step.Value)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", step.Entity, err)
	}

	root := queryproxy.New(tx, addr.Address{Space: h.space, ID: id, MediaType: mediaTypeJSON}, 0)
	if err := root.SetPath(path, newValue); err != nil {
		return nil, fmt.Errorf("write to entity %s at %s: %w", step.Entity, path.String(), err)
	}

	triggeredSet := h.engine.DetermineTriggeredActions(h.space, id, mediaTypeJSON, before, newValue, path)

	var triggered []reactive.ActionID
	for _, name := range h.actionOrder {
		actionID := h.actions[name]
		if triggeredSet[actionID] {
			triggered = append(triggered, actionID)
		}
	}

	return &TriggerEvent{
		Entity:    step.Entity,
		Path:      step.Path,
		Triggered: triggered,
	}, nil
}

// currentValueAt returns the value currently stored at path within
// id's document, or value.Null{} if the document or path does not yet
// exist — the "before" half of a DetermineTriggeredActions call.
func (h *Harness) currentValueAt(id value.EntityID, path value.Path) value.Value {
	handle, _, err := h.docs.GetByEntityID(h.space, id, mediaTypeJSON, false, nil)
	if err != nil || handle == nil {
		return value.Null{}
	}
	defer handle.Release()

	v, ok := handle.ReadAtPath(path)
	if !ok {
		return value.Null{}
	}
	return v
}

// finalValueAt returns the committed value at path within name's
// document, for final_state assertions.
func (h *Harness) finalValueAt(name string, path []string) (value.Value, bool) {
	id, ok := h.entities[name]
	if !ok {
		return nil, false
	}
	return h.currentValueAt(id, value.Path(path)), true
}
