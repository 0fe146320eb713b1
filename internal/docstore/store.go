package docstore

import (
	"sync"

	"github.com/weftrun/weave/internal/value"
)

// docKey identifies a document within a space: entity id plus media type,
// since the same id may back distinct blobs across media types (§3.1).
type docKey struct {
	id        value.EntityID
	mediaType string
}

// slab holds documents for one space as a stable-index arena: indices
// into docs never get reused while a document is live, so a Handle can
// cheaply reference its slot without chasing a map on every access.
type slab struct {
	mu    sync.Mutex
	docs  []*entry
	index map[docKey]int
}

type entry struct {
	doc      *Document
	refcount int32
}

// Store is the top-level document graph: one slab per space.
type Store struct {
	mu     sync.Mutex
	spaces map[string]*slab
}

// New returns an empty document store.
func New() *Store {
	return &Store{spaces: map[string]*slab{}}
}

func (s *Store) spaceSlab(space string) *slab {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.spaces[space]
	if !ok {
		sl = &slab{index: map[docKey]int{}}
		s.spaces[space] = sl
	}
	return sl
}

// Handle is a refcounted reference to a live document. Callers must call
// Release when done; the store only evicts a document once its refcount
// reaches zero and Sweep is called (§9's explicit drop-counted sweep,
// in place of a GC weak map).
type Handle struct {
	*Document
	release func()
}

// Release decrements the handle's refcount. Idempotent.
func (h *Handle) Release() {
	if h.release == nil {
		return
	}
	rel := h.release
	h.release = nil
	rel()
}

// GetByEntityID looks up a document by (space, id, mediaType), optionally
// creating it with an empty object root if absent. Matches the spec's
// getByEntityId operation (§4.4).
func (s *Store) GetByEntityID(space string, id value.EntityID, mediaType string, createIfNotFound bool, sourceIfCreated *value.EntityID) (*Handle, bool, error) {
	if mediaType == "" {
		mediaType = "application/json"
	}
	sl := s.spaceSlab(space)
	key := docKey{id: id, mediaType: mediaType}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if idx, ok := sl.index[key]; ok {
		e := sl.docs[idx]
		e.refcount++
		return s.handleFor(sl, idx), false, nil
	}

	if !createIfNotFound {
		return nil, false, nil
	}

	doc := &Document{
		space:     space,
		id:        id,
		mediaType: mediaType,
		root:      value.Object{},
	}
	if sourceIfCreated != nil {
		doc.source = sourceIfCreated
	}

	idx := len(sl.docs)
	sl.docs = append(sl.docs, &entry{doc: doc, refcount: 1})
	sl.index[key] = idx

	return s.handleFor(sl, idx), true, nil
}

func (s *Store) handleFor(sl *slab, idx int) *Handle {
	e := sl.docs[idx]
	var once sync.Once
	return &Handle{
		Document: e.doc,
		release: func() {
			once.Do(func() {
				sl.mu.Lock()
				e.refcount--
				sl.mu.Unlock()
			})
		},
	}
}

// Register binds an already-constructed document at (space, id,
// mediaType). Fails if a different document is already registered there.
func (s *Store) Register(space string, id value.EntityID, mediaType string, doc *Document) error {
	if mediaType == "" {
		mediaType = "application/json"
	}
	sl := s.spaceSlab(space)
	key := docKey{id: id, mediaType: mediaType}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if idx, ok := sl.index[key]; ok {
		if sl.docs[idx].doc != doc {
			return errAlreadyRegistered(space, id)
		}
		sl.docs[idx].refcount++
		return nil
	}

	idx := len(sl.docs)
	sl.docs = append(sl.docs, &entry{doc: doc, refcount: 1})
	sl.index[key] = idx
	return nil
}

// GetOrCreate computes an entity id from (sourceValue, cause) and
// returns the document at that id within space, creating it with
// sourceValue as its initial content if absent. Idempotent per P2.
func (s *Store) GetOrCreate(space string, sourceValue, cause value.Value) (*Handle, bool, error) {
	id, err := value.ComputeEntityID(sourceValue, cause)
	if err != nil {
		return nil, false, err
	}

	sl := s.spaceSlab(space)
	key := docKey{id: id, mediaType: "application/json"}

	sl.mu.Lock()
	if idx, ok := sl.index[key]; ok {
		sl.docs[idx].refcount++
		h := s.handleFor(sl, idx)
		sl.mu.Unlock()
		return h, false, nil
	}
	sl.mu.Unlock()

	doc := &Document{
		space:     space,
		id:        id,
		mediaType: "application/json",
		root:      sourceValue,
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if idx, ok := sl.index[key]; ok {
		sl.docs[idx].refcount++
		return s.handleFor(sl, idx), false, nil
	}
	idx := len(sl.docs)
	sl.docs = append(sl.docs, &entry{doc: doc, refcount: 1})
	sl.index[key] = idx
	return s.handleFor(sl, idx), true, nil
}

// Sweep drops every document in space whose refcount has reached zero.
// The sync command calls this once the scheduler reports idle, rather
// than relying on garbage collection, so eviction timing is
// deterministic and testable.
func (s *Store) Sweep(space string) int {
	sl := s.spaceSlab(space)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	dropped := 0
	kept := make([]*entry, 0, len(sl.docs))
	newIndex := map[docKey]int{}
	for key, idx := range sl.index {
		e := sl.docs[idx]
		if e.refcount <= 0 {
			dropped++
			continue
		}
		newIndex[key] = len(kept)
		kept = append(kept, e)
	}
	sl.docs = kept
	sl.index = newIndex
	return dropped
}

// Cleanup removes every document across every space (§4.4 cleanup).
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spaces = map[string]*slab{}
}

// Len reports the number of live documents in a space, including
// zero-refcount ones not yet swept. Primarily for tests.
func (s *Store) Len(space string) int {
	sl := s.spaceSlab(space)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.docs)
}
