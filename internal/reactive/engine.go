package reactive

import (
	"sync"

	"github.com/weftrun/weave/internal/value"
)

// ActionID identifies a registered action (a computation known to the
// scheduler, §3.1).
type ActionID string

// Engine tracks, per registered action, its sorted-and-compact
// dependency set, and answers determineTriggeredActions queries against
// a document's before/after values.
type Engine struct {
	mu   sync.Mutex
	deps map[ActionID][]Address
}

// New returns an empty reactive engine.
func New() *Engine {
	return &Engine{deps: map[ActionID][]Address{}}
}

// Register replaces an action's dependency set. Called once per run of
// the action, after its reads have been collected by the transaction
// layer (C7).
func (e *Engine) Register(action ActionID, addresses []Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deps[action] = SortedAndCompactAddresses(addresses)
}

// Forget removes an action's dependency set entirely, e.g. when the
// action is torn down.
func (e *Engine) Forget(action ActionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.deps, action)
}

// Dependencies returns the current compact dependency set for action.
func (e *Engine) Dependencies(action ActionID) []Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Address(nil), e.deps[action]...)
}

// DetermineTriggeredActions computes the subset of registered actions
// with at least one dependency address pointing at (space, id,
// mediaType) whose value differs between before and after at some
// position covered by the action's dependency paths (§4.5, P3).
//
// If startPath is non-empty, only dependencies whose path starts with
// it are considered, and before/after are treated as the values at
// startPath (i.e. dependency paths are read relative to startPath).
func (e *Engine) DetermineTriggeredActions(space string, id value.EntityID, mediaType string, before, after value.Value, startPath value.Path) map[ActionID]bool {
	e.mu.Lock()
	snapshot := make(map[ActionID][]Address, len(e.deps))
	for action, addrs := range e.deps {
		snapshot[action] = addrs
	}
	e.mu.Unlock()

	triggered := map[ActionID]bool{}
	// equalityCache amortizes deepEqual checks across actions that share
	// an exact dependency path — a single pass covers every overlapping
	// subscriber at that path instead of recomputing it per action.
	equalityCache := map[string]bool{}

	for action, addrs := range snapshot {
		for _, addr := range addrs {
			if addr.Space != space || addr.ID != id || addr.MediaType != mediaType {
				continue
			}
			if len(startPath) > 0 && !value.StartsWith(addr.Path, startPath) {
				continue
			}
			relPath := addr.Path[len(startPath):]

			key := relPath.String()
			unequal, cached := equalityCache[key]
			if !cached {
				beforeVal, _ := value.Get(before, relPath)
				afterVal, _ := value.Get(after, relPath)
				unequal = !value.DeepEqual(beforeVal, afterVal)
				equalityCache[key] = unequal
			}
			if unequal {
				triggered[action] = true
				break
			}
		}
	}
	return triggered
}
