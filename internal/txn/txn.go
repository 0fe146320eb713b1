// Package txn implements the transaction layer (C7): readers/writers
// scoped to a single write-space, the invariant log, and commit/abort
// against the document store and storage replica. Grounded on the
// teacher's internal/store write path (invocation → completion →
// commit) and internal/engine's scope.go for the "one bound scope per
// run" shape mirrored here as "one bound write-space per transaction".
package txn

import (
	"sync"

	"github.com/weftrun/weave/internal/addr"
	"github.com/weftrun/weave/internal/docstore"
	"github.com/weftrun/weave/internal/replica"
	"github.com/weftrun/weave/internal/value"
	"github.com/weftrun/weave/internal/weaveerr"
)

// Address is the dependency/read/write coordinate shared across C5-C7.
type Address = addr.Address

// Status is a transaction's lifecycle state (§4.7).
type Status string

const (
	StatusOpen  Status = "open"
	StatusDone  Status = "done"
	StatusError Status = "error"
)

// Invariant is one logged read or write (§4.7).
type Invariant struct {
	Kind    string // "read" | "write"
	Address Address
	Value   value.Value
	Cause   value.Value

	// Classification carries the schema-derived ifc.classification
	// labels in effect for this write (C11, §4.6.1 step 4's "carrying
	// any schema-derived classification to the length write"), nil when
	// no schema governs the position.
	Classification []string
}

// Transaction coordinates reads/writes against the document store and
// hands commits to the replica. Not safe for concurrent use by more
// than one logical caller at a time (the cooperative scheduling model,
// §5, assumes a single writer thread).
type Transaction struct {
	mu sync.Mutex

	docs *docstore.Store
	repl *replica.Replica

	writeSpace      string
	writeSpaceBound bool

	status Status
	log    []Invariant

	touchedEntities map[string]map[value.EntityID]bool // space -> ids written
}

// New opens a transaction against docs and repl.
func New(docs *docstore.Store, repl *replica.Replica) *Transaction {
	return &Transaction{
		docs:            docs,
		repl:            repl,
		status:          StatusOpen,
		touchedEntities: map[string]map[value.EntityID]bool{},
	}
}

// Store exposes the underlying document store for callers (e.g. the
// query proxy, C6) that must create new entities as part of a write
// rather than merely reading/writing paths within existing ones.
func (t *Transaction) Store() *docstore.Store { return t.docs }

// Status reports the transaction's current lifecycle state.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Log returns the invariant log in append order, for callers (e.g.
// telemetry) that consume it after completion.
func (t *Transaction) Log() []Invariant {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Invariant(nil), t.log...)
}

func (t *Transaction) requireOpen() error {
	if t.status != StatusOpen {
		return weaveerr.Inactive(string(t.status))
	}
	return nil
}

// Reader is a read-only view scoped to one space.
type Reader struct {
	txn   *Transaction
	space string
}

// Reader returns a Reader bound to space. Multiple readers across
// different spaces may coexist in one transaction.
func (t *Transaction) Reader(space string) *Reader {
	return &Reader{txn: t, space: space}
}

// Read resolves the value at addr.Path within addr's entity, logging a
// read invariant.
func (r *Reader) Read(a Address) (value.Value, error) {
	return r.txn.read(r.space, a)
}

// Writer is a write-capable view scoped to one space — the space
// bound by the transaction's first Writer() call.
type Writer struct {
	txn   *Transaction
	space string
}

// Writer returns a Writer bound to space. The first call across the
// transaction's lifetime binds the write space (P5); any later call
// with a different space fails with WriteIsolationViolation.
func (t *Transaction) Writer(space string) (*Writer, error) {
	t.mu.Lock()
	if err := t.requireOpen(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	if !t.writeSpaceBound {
		t.writeSpaceBound = true
		t.writeSpace = space
	} else if t.writeSpace != space {
		err := weaveerr.WriteIsolation(t.writeSpace, space)
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()
	return &Writer{txn: t, space: space}, nil
}

// Write mutates the value at a.Path within a's entity, logging a write
// invariant. Fails with NotFound if the parent path does not resolve
// to an object or array.
func (w *Writer) Write(a Address, v value.Value) error {
	return w.txn.write(w.space, a, v)
}

// Read is the transaction-level convenience form of Reader(a.Space).Read(a).
func (t *Transaction) Read(a Address) (value.Value, error) {
	return t.read(a.Space, a)
}

// Write is the transaction-level convenience form of Writer(a.Space).Write(a, v).
func (t *Transaction) Write(a Address, v value.Value) error {
	w, err := t.Writer(a.Space)
	if err != nil {
		return err
	}
	return w.Write(a, v)
}

// WriteWithClassification writes exactly as Write does, then tags the
// write invariant it produced with labels — the query proxy's
// schema-aware diff (C11) uses this so a classification on an array
// also governs the derived length write, without the label itself
// becoming part of the stored JSON value.
func (t *Transaction) WriteWithClassification(a Address, v value.Value, labels []string) error {
	if err := t.Write(a, v); err != nil {
		return err
	}
	if len(labels) == 0 {
		return nil
	}
	t.mu.Lock()
	if n := len(t.log); n > 0 {
		t.log[n-1].Classification = labels
	}
	t.mu.Unlock()
	return nil
}

func (t *Transaction) read(space string, a Address) (value.Value, error) {
	t.mu.Lock()
	if err := t.requireOpen(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	h, _, err := t.docs.GetByEntityID(space, a.ID, a.MediaType, false, nil)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, weaveerr.NotFoundf(nil, "entity %s not found in space %s", a.ID, space)
	}
	defer h.Release()

	v, ok := h.ReadAtPath(a.Path)
	if !ok {
		return nil, weaveerr.NotFoundf(deepestPrefix(h.ReadRaw(), a.Path), "path %s not found", a.Path.String())
	}

	t.mu.Lock()
	t.log = append(t.log, Invariant{Kind: "read", Address: a, Value: v})
	t.mu.Unlock()
	return v, nil
}

func (t *Transaction) write(space string, a Address, v value.Value) error {
	t.mu.Lock()
	if err := t.requireOpen(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	h, _, err := t.docs.GetByEntityID(space, a.ID, a.MediaType, true, nil)
	if err != nil {
		return err
	}
	defer h.Release()

	if len(a.Path) > 0 {
		parent := a.Path[:len(a.Path)-1]
		if len(parent) > 0 {
			parentVal, ok := h.ReadAtPath(parent)
			if !ok {
				return weaveerr.NotFoundf(deepestPrefix(h.ReadRaw(), parent), "parent path %s not found", parent.String())
			}
			if _, isObj := parentVal.(value.Object); !isObj {
				if _, isArr := parentVal.(value.Array); !isArr {
					return weaveerr.NotFoundf(deepestPrefix(h.ReadRaw(), parent), "parent at %s is not a record", parent.String())
				}
			}
		}
	}

	if _, err := h.WriteAtPath(a.Path, v); err != nil {
		return err
	}

	t.mu.Lock()
	t.log = append(t.log, Invariant{Kind: "write", Address: a, Value: v})
	if t.touchedEntities[space] == nil {
		t.touchedEntities[space] = map[value.EntityID]bool{}
	}
	t.touchedEntities[space][a.ID] = true
	t.mu.Unlock()
	return nil
}

// deepestPrefix walks path against root as far as it resolves, for
// NotFound's "deepest resolved prefix" payload.
func deepestPrefix(root value.Value, path value.Path) []string {
	depth := 0
	for i := range path {
		if _, ok := value.Get(root, path[:i+1]); !ok {
			break
		}
		depth = i + 1
	}
	return append([]string(nil), path[:depth]...)
}

// Commit validates every read invariant against the document store's
// current state, groups writes by entity in the write space, and hands
// them to the replica as a pending commit (§4.7).
func (t *Transaction) Commit() (string, error) {
	t.mu.Lock()
	if err := t.requireOpen(); err != nil {
		t.mu.Unlock()
		return "", err
	}
	reads := make([]Invariant, 0, len(t.log))
	for _, inv := range t.log {
		if inv.Kind == "read" {
			reads = append(reads, inv)
		}
	}
	writeSpace := t.writeSpace
	touched := t.touchedEntities[writeSpace]
	t.mu.Unlock()

	var offending []map[string]any
	for _, inv := range reads {
		h, _, err := t.docs.GetByEntityID(inv.Address.Space, inv.Address.ID, inv.Address.MediaType, false, nil)
		if err != nil || h == nil {
			offending = append(offending, map[string]any{"address": inv.Address, "reason": "entity no longer present"})
			continue
		}
		current, ok := h.ReadAtPath(inv.Address.Path)
		h.Release()
		if !ok || !value.DeepEqual(current, inv.Value) {
			offending = append(offending, map[string]any{"address": inv.Address, "recorded": inv.Value})
		}
	}
	if len(offending) > 0 {
		t.fail()
		return "", weaveerr.InconsistentReads(offending)
	}

	var ops []replica.Operation
	var confirmedReads []replica.ConfirmedRead
	var pendingReads []replica.PendingRead

	for id := range touched {
		h, _, err := t.docs.GetByEntityID(writeSpace, id, "", false, nil)
		if err != nil || h == nil {
			continue
		}
		ops = append(ops, replica.Operation{Kind: replica.OpSet, ID: id, Value: h.ReadRaw()})
		h.Release()
	}

	seen := map[value.EntityID]bool{}
	for _, inv := range reads {
		if seen[inv.Address.ID] {
			continue
		}
		seen[inv.Address.ID] = true
		if version, ok := t.repl.ConfirmedVersion(inv.Address.Space, inv.Address.ID); ok {
			confirmedReads = append(confirmedReads, replica.ConfirmedRead{ID: inv.Address.ID, Version: version})
		} else if hash, ok := t.repl.PendingSourceHash(inv.Address.Space, inv.Address.ID); ok {
			pendingReads = append(pendingReads, replica.PendingRead{ID: inv.Address.ID, FromCommit: hash})
		}
	}

	hash, _, err := t.repl.Commit(writeSpace, ops, confirmedReads, pendingReads)
	if err != nil {
		t.fail()
		return "", err
	}

	t.mu.Lock()
	t.status = StatusDone
	t.mu.Unlock()
	return hash, nil
}

// Abort discards the transaction's invariants with no side effects on
// shared state. Pending subscriptions to storage remain (§5).
func (t *Transaction) Abort(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusOpen {
		t.status = StatusDone
	}
}

func (t *Transaction) fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusError
}
