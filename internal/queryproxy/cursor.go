// Package queryproxy implements the query-result proxy (C6): a cursor
// over (transaction?, link, depth) that presents the JSON value at a
// link as a mutable structure, interleaving reads/writes with the
// transaction log and resolving links transparently (§4.6). Go has no
// runtime proxy/trap mechanism, so the source's dynamic property-access
// interception becomes an explicit Cursor with Get/Set/array-mutator
// methods — the "small interpreter over the value variant" described
// in §9's design notes. Grounded on the teacher's internal/engine
// scope/flow handling, which plays an analogous "small stateful
// interpreter driven by the transaction" role for sync-rule clauses.
package queryproxy

import (
	"strconv"

	"github.com/weftrun/weave/internal/addr"
	"github.com/weftrun/weave/internal/txn"
	"github.com/weftrun/weave/internal/value"
	"github.com/weftrun/weave/internal/weaveerr"
)

// DefaultMaxRecursionDepth is the proxy depth cap (§7's RecursionLimit,
// §9 Open Question: configurable, default 100).
const DefaultMaxRecursionDepth = 100

// Cursor is a read/write view onto the value at an address, scoped to
// at most one transaction. Every read and write goes through that
// transaction; with a nil transaction, reads (Value, Get, Len) and
// writes (Set, SetPath) all fail with InactiveTransaction.
type Cursor struct {
	tx       *txn.Transaction
	link     addr.Address
	depth    int
	maxDepth int

	// rootSchema is the schema (C11) governing link, nil when no schema
	// is in scope. It travels with the cursor so a later Set/SetPath can
	// consult schema.IsCell/Classification at the write's exact path.
	rootSchema value.Value
}

// New returns a root cursor over link. tx may be nil, but such a cursor
// can neither read nor write: every access fails with InactiveTransaction.
func New(tx *txn.Transaction, link addr.Address, maxDepth int) *Cursor {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxRecursionDepth
	}
	return &Cursor{tx: tx, link: link, maxDepth: maxDepth}
}

// NewWithSchema is New, additionally binding rootSchema (C11) so writes
// through the returned cursor consult schema.IsCell/Classification.
func NewWithSchema(tx *txn.Transaction, link addr.Address, maxDepth int, rootSchema value.Value) *Cursor {
	c := New(tx, link, maxDepth)
	c.rootSchema = rootSchema
	return c
}

// Link returns the address this cursor currently resolves to, after
// any link-following performed by prior Get calls.
func (c *Cursor) Link() addr.Address { return c.link }

// Value reads the cursor's current position in full (logging a read).
func (c *Cursor) Value() (value.Value, error) {
	return c.read(c.link)
}

func (c *Cursor) read(a addr.Address) (value.Value, error) {
	if c.tx != nil {
		return c.tx.Read(a)
	}
	return nil, weaveerr.Inactive("absent")
}

// Get resolves the child at key: if the child is a link, the returned
// cursor is re-rooted onto the linked entity (§4.6's "resolves links
// at the current position"); otherwise it stays within the same
// entity one path segment deeper. Exceeding the recursion cap fails
// with RecursionLimit.
func (c *Cursor) Get(key string) (*Cursor, value.Value, error) {
	if c.depth+1 > c.maxDepth {
		return nil, nil, weaveerr.Recursion(c.maxDepth)
	}

	childAddr := c.link
	childAddr.Path = append(c.link.Path.Clone(), key)

	v, err := c.read(childAddr)
	if err != nil {
		return nil, nil, err
	}

	if link, ok := asLink(v); ok {
		re := addr.Address{Space: link.Space, ID: link.ID, MediaType: link.MediaType, Path: link.Path}
		childSchema := c.rootSchema
		if link.RootSchema != nil {
			childSchema = link.RootSchema
		}
		return &Cursor{tx: c.tx, link: re, depth: c.depth + 1, maxDepth: c.maxDepth, rootSchema: childSchema}, v, nil
	}

	return &Cursor{tx: c.tx, link: childAddr, depth: c.depth + 1, maxDepth: c.maxDepth, rootSchema: c.rootSchema}, v, nil
}

// asLink normalizes either in-memory Link values or their sigil wire
// form into a Link, so Get treats them identically.
func asLink(v value.Value) (value.Link, bool) {
	if l, ok := v.(value.Link); ok {
		return l, true
	}
	if parsed, ok := value.ParseLink(v, ""); ok {
		return parsed, true
	}
	return value.Link{}, false
}

// Set performs the diff-and-update write algorithm of §4.6.1 at key
// beneath the cursor's current position, logging the write through
// read-your-writes. Fails if no transaction is bound.
func (c *Cursor) Set(key string, newValue value.Value) error {
	if c.tx == nil {
		return weaveerr.Inactive("absent")
	}

	childAddr := c.link
	childAddr.Path = append(c.link.Path.Clone(), key)

	current, err := c.read(childAddr)
	if err != nil {
		current = value.Null{}
	}
	return diffAndUpdate(c.tx, childAddr, current, newValue, c.rootSchema)
}

// SetPath performs the §4.6.1 diff-and-update write at path beneath the
// cursor's current position in one call, rather than walking Get for
// every intermediate segment — the multi-segment entry point callers
// like the scenario harness and the CLI use so a whole-document write
// still goes through the proxy's diff algorithm instead of a raw
// transaction write.
func (c *Cursor) SetPath(path value.Path, newValue value.Value) error {
	if c.tx == nil {
		return weaveerr.Inactive("absent")
	}

	target := c.link
	target.Path = append(c.link.Path.Clone(), path...)

	current, err := c.read(target)
	if err != nil {
		current = value.Null{}
	}
	return diffAndUpdate(c.tx, target, current, newValue, c.rootSchema)
}

// Len reads the current position's array length via the live
// transaction snapshot (§4.6's "live length property").
func (c *Cursor) Len() (int, error) {
	v, err := c.read(c.link)
	if err != nil {
		return 0, err
	}
	arr, ok := v.(value.Array)
	if !ok {
		return 0, weaveerr.New(weaveerr.UnsupportedMediaType, "Len called on a non-array position", nil)
	}
	return len(arr), nil
}

// Index returns a child cursor for the array element at i, with the
// same link-following behavior as Get.
func (c *Cursor) Index(i int) (*Cursor, value.Value, error) {
	return c.Get(strconv.Itoa(i))
}
