// Package scheduler implements the single-threaded cooperative action
// queue (C10): actions triggered by a document change (as determined by
// the reactive engine, C5) run to completion in deterministic,
// registration order before the scheduler is idle; re-entrant triggers
// start a follow-up wave (§4.10, §5). Grounded on the teacher's
// internal/engine event queue, which plays the same "drain to
// exhaustion, single active drainer" role for invocations/completions.
package scheduler

import (
	"strconv"
	"sync"

	"github.com/weftrun/weave/internal/reactive"
)

// ActionID identifies a registered action, shared with the reactive
// engine's dependency keys.
type ActionID = reactive.ActionID

// ActionFunc is the body of a registered action.
type ActionFunc func()

type registration struct {
	fn        ActionFunc
	cancelled bool
}

// Scheduler owns the action queue. All registered actions run on
// whichever goroutine calls Trigger (or drains an already-running
// wave); Trigger never recurses into drain — a trigger issued from
// inside a running action body just extends the queue the active
// drain loop is already consuming, which is what gives re-entrant
// writes a deterministic follow-up wave instead of unbounded
// recursion.
type Scheduler struct {
	mu sync.Mutex

	registrations  map[ActionID]*registration
	insertionOrder []ActionID
	nextID         int

	queued     map[ActionID]bool
	processing bool

	idleWaiters []chan struct{}
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		registrations: map[ActionID]*registration{},
		queued:        map[ActionID]bool{},
	}
}

// Register adds an action and returns its id plus an idempotent cancel
// function. A cancelled action is never invoked again, even if already
// queued (§4.10).
func (s *Scheduler) Register(fn ActionFunc) (ActionID, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := ActionID("action-" + strconv.Itoa(s.nextID))
	s.registrations[id] = &registration{fn: fn}
	s.insertionOrder = append(s.insertionOrder, id)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if reg, ok := s.registrations[id]; ok {
				reg.cancelled = true
			}
		})
	}
	return id, cancel
}

// Trigger enqueues the given actions (typically the set returned by
// reactive.Engine.DetermineTriggeredActions) and, if no drain is
// already in progress on this call stack, drains the queue to
// exhaustion before returning.
func (s *Scheduler) Trigger(ids map[ActionID]bool) {
	s.mu.Lock()
	for id := range ids {
		s.enqueueLocked(id)
	}
	alreadyDraining := s.processing
	if !alreadyDraining {
		s.processing = true
	}
	s.mu.Unlock()

	if alreadyDraining {
		return
	}
	s.drain()
}

func (s *Scheduler) enqueueLocked(id ActionID) {
	reg, ok := s.registrations[id]
	if !ok || reg.cancelled {
		return
	}
	s.queued[id] = true
}

func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		id, ok := s.popFrontLocked()
		if !ok {
			s.processing = false
			s.notifyIdleLocked()
			s.mu.Unlock()
			return
		}
		reg := s.registrations[id]
		s.mu.Unlock()

		if reg != nil && !reg.cancelled {
			reg.fn()
		}
	}
}

// popFrontLocked returns the queued action with the lowest registration
// order, giving deterministic within-wave ordering (§4.10).
func (s *Scheduler) popFrontLocked() (ActionID, bool) {
	for _, id := range s.insertionOrder {
		if s.queued[id] {
			delete(s.queued, id)
			return id, true
		}
	}
	return "", false
}

// Idle returns a channel that closes once the queue is empty and no
// action is currently running or re-arming another (§4.10). If the
// scheduler is already idle, the returned channel is closed
// immediately.
func (s *Scheduler) Idle() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{})
	if !s.processing && len(s.queued) == 0 {
		close(ch)
		return ch
	}
	s.idleWaiters = append(s.idleWaiters, ch)
	return ch
}

func (s *Scheduler) notifyIdleLocked() {
	for _, ch := range s.idleWaiters {
		close(ch)
	}
	s.idleWaiters = nil
}
