// Package docstore implements the per-space document graph (C4): a map
// from entity id to document, with lifecycle, source-cell linkage, and
// freeze semantics (§4.4). Grounded on the teacher's store.Store (an
// append-only SQLite log keyed by content-addressed id) but reshaped into
// an in-memory, softly-referenced map per §9's "arena + index" design
// note: documents live in a per-space slab with stable integer indices,
// and eviction is an explicit drop-counted sweep rather than a GC weak
// map.
package docstore

import (
	"sync"

	"github.com/weftrun/weave/internal/value"
	"github.com/weftrun/weave/internal/weaveerr"
)

// UpdateListener is notified whenever a document's value changes via
// WriteAtPath or Send, carrying the before/after root values.
type UpdateListener func(before, after value.Value)

// Document is a versionable JSON value bound to (space, entityId,
// mediaType), §3.1. It is never constructed directly by callers — use
// Store.GetByEntityID / Store.GetOrCreate.
type Document struct {
	mu sync.Mutex

	space     string
	id        value.EntityID
	mediaType string

	root      value.Value
	source    *value.EntityID
	frozen    bool
	ephemeral bool

	listeners   map[int]UpdateListener
	nextListener int
}

// Space returns the space this document belongs to.
func (d *Document) Space() string { return d.space }

// ID returns the document's entity id.
func (d *Document) ID() value.EntityID { return d.id }

// MediaType returns the document's media type. Non-application/json
// media types are opaque blobs — writes to them (WriteAtPath, Send)
// fail with UnsupportedMediaType; reads are not checked.
func (d *Document) MediaType() string { return d.mediaType }

// ReadRaw returns the current root value without logging (logging of
// reads is the transaction layer's responsibility, not the store's).
func (d *Document) ReadRaw() value.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root
}

// ReadAtPath resolves a path against the current root.
func (d *Document) ReadAtPath(path value.Path) (value.Value, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return value.Get(d.root, path)
}

// WriteAtPath mutates the document at path, rejecting the write if the
// document is frozen (invariant 3) or not JSON (media type guard).
// Returns whether the value changed by deep-equal.
func (d *Document) WriteAtPath(path value.Path, newValue value.Value) (bool, error) {
	if err := d.checkWritable(); err != nil {
		return false, err
	}

	d.mu.Lock()
	before := d.root
	changed, err := value.Set(&d.root, path, newValue)
	after := d.root
	d.mu.Unlock()

	if err != nil {
		return false, err
	}
	if changed {
		d.notify(before, after)
	}
	return changed, nil
}

// Send replaces the document's entire root value.
func (d *Document) Send(newRoot value.Value) (bool, error) {
	if err := d.checkWritable(); err != nil {
		return false, err
	}

	d.mu.Lock()
	before := d.root
	changed := !value.DeepEqual(before, newRoot)
	d.root = newRoot
	d.mu.Unlock()

	if changed {
		d.notify(before, newRoot)
	}
	return changed, nil
}

func (d *Document) checkWritable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frozen {
		return weaveerr.Frozen(d.space, string(d.id))
	}
	if d.mediaType != "" && d.mediaType != "application/json" {
		return weaveerr.New(weaveerr.UnsupportedMediaType, "cannot write path into non-JSON document", map[string]any{
			"mediaType": d.mediaType,
		})
	}
	return nil
}

// SubscribeToUpdates registers a listener invoked on every change. Returns
// a cancel function; cancellation is idempotent (§5).
func (d *Document) SubscribeToUpdates(fn UpdateListener) (cancel func()) {
	d.mu.Lock()
	id := d.nextListener
	d.nextListener++
	if d.listeners == nil {
		d.listeners = map[int]UpdateListener{}
	}
	d.listeners[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, id)
			d.mu.Unlock()
		})
	}
}

func (d *Document) notify(before, after value.Value) {
	d.mu.Lock()
	cbs := make([]UpdateListener, 0, len(d.listeners))
	for _, cb := range d.listeners {
		cbs = append(cbs, cb)
	}
	d.mu.Unlock()
	for _, cb := range cbs {
		cb(before, after)
	}
}

// Freeze latches the document into a read-only state. Thaw is never
// permitted (invariant 3).
func (d *Document) Freeze() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frozen = true
}

func (d *Document) IsFrozen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frozen
}

// SetSource assigns the document's lineage reference. Once set to X it
// cannot be replaced by Y != X (invariant 2).
func (d *Document) SetSource(source value.EntityID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.source != nil && *d.source != source {
		return weaveerr.New(weaveerr.InvalidIdentity, "source cell is monotonic; cannot replace once set", map[string]any{
			"current":  string(*d.source),
			"attempted": string(source),
		})
	}
	d.source = &source
	return nil
}

func (d *Document) GetSource() (value.EntityID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.source == nil {
		return "", false
	}
	return *d.source, true
}

// SetEphemeral marks the document as never pushed to storage (invariant
// 4) while still participating in local reactivity. Storage sync errors
// also degrade a document to ephemeral+frozen per §7.
func (d *Document) SetEphemeral(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ephemeral = v
}

func (d *Document) IsEphemeral() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ephemeral
}

// ToJSON returns the document's entity-id sigil — documents serialize as
// a reference to themselves, never inline, matching the spec's "toJSON
// (returns id sigil)".
func (d *Document) ToJSON() value.Value {
	return d.id.ToSigil()
}
