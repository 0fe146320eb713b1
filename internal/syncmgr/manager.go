// Package syncmgr implements the storage manager & sync protocol (C9):
// per-space provider caching, doc<->storage translation, the dirty-set
// push loop, and the sync(cell)/synced() protocol (§4.9). Grounded on
// the teacher's internal/engine.Run — the single loop that owns both
// the event queue and the durable store — reshaped here into a manager
// that owns both the docstore's update subscriptions and a provider per
// space.
package syncmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/weftrun/weave/internal/docstore"
	"github.com/weftrun/weave/internal/provider"
	"github.com/weftrun/weave/internal/schema"
	"github.com/weftrun/weave/internal/value"
)

// ProviderFactory opens (or returns a cached) provider for space. The
// manager calls this at most once per space, and again only after
// Reopen drops the cached provider (§4.9: "open and cache one provider
// per space on first use").
type ProviderFactory func(space string) (*provider.Provider, error)

// syncKey is (space, entityId, schema-selector) per §4.9 step 1. Schema
// is carried as its canonical JSON so it can key a map.
type syncKey struct {
	space  string
	id     value.EntityID
	schema string
}

// Manager owns the provider cache, the dirty push set, and the
// in-flight sync loading set.
type Manager struct {
	mu sync.Mutex

	docs       *docstore.Store
	newProvider ProviderFactory
	providers  map[string]*provider.Provider
	cursors    map[string]int64 // space -> last Sink cursor consumed

	dirty   map[dirtyKey]bool
	loading map[syncKey]bool

	schemaFor func(space string) (value.Value, bool)

	log *slog.Logger
}

type dirtyKey struct {
	space string
	id    value.EntityID
}

// New returns a Manager backed by docs, opening providers lazily via
// newProvider.
func New(docs *docstore.Store, newProvider ProviderFactory) *Manager {
	return &Manager{
		docs:        docs,
		newProvider: newProvider,
		providers:   map[string]*provider.Provider{},
		cursors:     map[string]int64{},
		dirty:       map[dirtyKey]bool{},
		loading:     map[syncKey]bool{},
		log:         slog.Default(),
	}
}

// WithSchemas configures the manager to resolve asCell boundaries (C11)
// through schemaFor when discovering link closures, rather than only
// following links already in sigil form.
func (m *Manager) WithSchemas(schemaFor func(space string) (value.Value, bool)) *Manager {
	m.schemaFor = schemaFor
	return m
}

// discoverLinks finds the link closure reachable from root, consulting
// the space's configured schema (if any) so asCell positions count as
// links even before they have been written in sigil form.
func (m *Manager) discoverLinks(space string, root value.Value) []value.DiscoveredLink {
	if m.schemaFor == nil {
		return value.DiscoverLinks(root, space)
	}
	rootSchema, ok := m.schemaFor(space)
	if !ok || rootSchema == nil {
		return value.DiscoverLinks(root, space)
	}
	opts := value.TraverseOptions{
		SchemaAt: func(path value.Path) bool {
			at, ok := schema.ResolveAt(rootSchema, path)
			return ok && schema.IsCell(rootSchema, at)
		},
	}
	return value.DiscoverLinksWithOptions(root, space, opts)
}

func (m *Manager) providerFor(space string) (*provider.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.providers[space]; ok {
		return p, nil
	}
	p, err := m.newProvider(space)
	if err != nil {
		return nil, fmt.Errorf("opening provider for space %s: %w", space, err)
	}
	m.providers[space] = p
	return p, nil
}

// WatchDocument wires the doc -> storage half of §4.9's bidirectional
// subscription: any local change to the document enqueues a push,
// deduplicated via the dirty set. Returns the cancel func from the
// underlying docstore subscription.
func (m *Manager) WatchDocument(space string, h *docstore.Handle) func() {
	return h.SubscribeToUpdates(func(before, after value.Value) {
		m.markDirty(space, h.ID())
	})
}

func (m *Manager) markDirty(space string, id value.EntityID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty[dirtyKey{space, id}] = true
}

// Sync implements §4.9's sync(cell) protocol for entityId in space.
// Concurrent Sync calls for the same (space, id, schema) join the same
// loading entry rather than issuing redundant provider requests — here
// expressed as a no-op second call rather than a joined promise, since
// the scheduler's cooperative single-thread model never actually calls
// Sync reentrantly for the same key.
func (m *Manager) Sync(ctx context.Context, space string, id value.EntityID, schema value.Value) error {
	key, err := m.keyFor(space, id, schema)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.loading[key] {
		m.mu.Unlock()
		return nil
	}
	m.loading[key] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.loading, key)
		m.mu.Unlock()
	}()

	p, err := m.providerFor(space)
	if err != nil {
		return err
	}

	rec, ok, err := p.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("sync fetch %s/%s: %w", space, id, err)
	}
	if !ok {
		return nil
	}

	if err := m.reconcileClosure(ctx, space, id, rec, p); err != nil {
		return err
	}
	return nil
}

func (m *Manager) keyFor(space string, id value.EntityID, schema value.Value) (syncKey, error) {
	if schema == nil {
		return syncKey{space: space, id: id}, nil
	}
	canonical, err := value.MarshalCanonical(schema)
	if err != nil {
		return syncKey{}, fmt.Errorf("canonicalizing sync schema: %w", err)
	}
	return syncKey{space: space, id: id, schema: string(canonical)}, nil
}

// reconcileClosure implements §4.9 steps 3-4: discover the closure of
// linked entities reachable from rec's value, and for each entity in
// the closure apply "server wins if different, else queue a push",
// always subscribing both directions.
func (m *Manager) reconcileClosure(ctx context.Context, space string, id value.EntityID, rec provider.Record, p *provider.Provider) error {
	if err := m.applyServerValue(space, id, rec); err != nil {
		return err
	}

	if rec.Value == nil {
		return nil
	}
	for _, link := range m.discoverLinks(space, rec.Value) {
		if link.Link.Space != space {
			continue // cross-space links are resolved by their own space's sync, not this closure
		}
		childRec, ok, err := p.Get(ctx, link.Link.ID)
		if err != nil {
			return fmt.Errorf("sync closure fetch %s/%s: %w", space, link.Link.ID, err)
		}
		if !ok {
			continue
		}
		if err := m.applyServerValue(space, link.Link.ID, childRec); err != nil {
			return err
		}
	}
	return nil
}

// applyServerValue implements the per-entity merge of §4.9 step 4: if
// the server has a value and the local doc differs, copy server to
// doc (bypassing the push path so this doesn't loop back as a dirty
// write); if the local doc has a value the server lacks, queue a push.
func (m *Manager) applyServerValue(space string, id value.EntityID, rec provider.Record) error {
	h, created, err := m.docs.GetByEntityID(space, id, "", true, nil)
	if err != nil {
		return err
	}
	defer h.Release()

	local := h.ReadRaw()
	localAbsent := created // a freshly created placeholder has nothing local worth pushing

	switch {
	case rec.Value != nil && !value.DeepEqual(local, rec.Value):
		if _, err := h.Send(rec.Value); err != nil {
			return fmt.Errorf("applying server value for %s/%s: %w", space, id, err)
		}
	case rec.Value == nil && !localAbsent:
		m.markDirty(space, id)
	}
	return nil
}

// FlushPushes implements §4.9's "pushes are flushed [only when] the
// scheduler is idle" rule: callers pass idle=true only once they have
// confirmed the scheduler has drained (scheduler.Scheduler.Idle), so
// server-state reads are never interrupted mid-update by a concurrent
// local write.
func (m *Manager) FlushPushes(ctx context.Context, idle bool) error {
	if !idle {
		return nil
	}

	m.mu.Lock()
	keys := make([]dirtyKey, 0, len(m.dirty))
	for k := range m.dirty {
		keys = append(keys, k)
	}
	m.dirty = map[dirtyKey]bool{}
	m.mu.Unlock()

	for _, k := range keys {
		if err := m.pushOne(ctx, k.space, k.id); err != nil {
			return err
		}
	}
	return nil
}

// pushOne pushes a single entity's current value, first pushing any
// linked entity not yet known to the provider in the same logical
// commit (§3's "link closure for push").
func (m *Manager) pushOne(ctx context.Context, space string, id value.EntityID) error {
	h, _, err := m.docs.GetByEntityID(space, id, "", false, nil)
	if err != nil {
		return err
	}
	if h == nil {
		return nil
	}
	defer h.Release()

	if h.IsEphemeral() {
		return nil // ephemeral documents are never pushed to storage (§3 invariant 4)
	}

	root := h.ReadRaw()
	p, err := m.providerFor(space)
	if err != nil {
		return err
	}

	for _, link := range m.discoverLinks(space, root) {
		if link.Link.Space != space {
			continue
		}
		if _, ok, err := p.Get(ctx, link.Link.ID); err == nil && !ok {
			if err := m.pushOne(ctx, space, link.Link.ID); err != nil {
				return err
			}
		}
	}

	rec, _, err := p.Get(ctx, id)
	nextVersion := int64(1)
	if err == nil && rec.Version > 0 {
		nextVersion = rec.Version + 1
	}

	if _, err := p.Send(ctx, id, nextVersion, root); err != nil {
		return fmt.Errorf("pushing %s/%s: %w", space, id, err)
	}
	m.log.Info("pushed entity", "space", space, "id", id, "version", nextVersion)
	return nil
}

// DrainUpdates applies every provider outbox entry for space recorded
// since the last drain (the storage -> doc half of §4.9's bidirectional
// subscription, for changes originating from another client rather than
// a direct Sync fetch), bypassing the push path so applied entries are
// never queued back onto the dirty set as an echo.
func (m *Manager) DrainUpdates(ctx context.Context, space string) error {
	p, err := m.providerFor(space)
	if err != nil {
		return err
	}

	m.mu.Lock()
	cursor := m.cursors[space]
	m.mu.Unlock()

	recs, next, err := p.Sink(ctx, cursor)
	if err != nil {
		return fmt.Errorf("draining updates for space %s: %w", space, err)
	}

	for _, rec := range recs {
		h, _, err := m.docs.GetByEntityID(space, rec.ID, "", false, nil)
		if err != nil {
			return err
		}
		if h == nil {
			continue // nothing local is watching this entity; skip rather than materialize it unasked
		}
		if rec.Value != nil && !value.DeepEqual(h.ReadRaw(), rec.Value) {
			if _, err := h.Send(rec.Value); err != nil {
				h.Release()
				return fmt.Errorf("applying drained update for %s/%s: %w", space, rec.ID, err)
			}
		}
		h.Release()
	}

	m.mu.Lock()
	m.cursors[space] = next
	m.mu.Unlock()
	return nil
}

// Synced reports whether the manager has no outstanding loads and no
// pending pushes (§4.9's synced()).
func (m *Manager) Synced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loading) == 0 && len(m.dirty) == 0
}

// Reopen drops the cached provider for space so that the next use
// opens it again through the factory, modeling §4.9's "reconnection is transparent" guarantee: the caller
// re-drives whichever keys it cares about through Sync after calling
// this, exactly as it would on first use.
func (m *Manager) Reopen(space string) {
	m.mu.Lock()
	delete(m.providers, space)
	m.mu.Unlock()
}
