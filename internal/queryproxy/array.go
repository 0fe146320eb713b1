package queryproxy

import (
	"sort"

	"github.com/weftrun/weave/internal/addr"
	"github.com/weftrun/weave/internal/value"
)

// readArray fetches the cursor's current position as a value.Array,
// failing if it cannot be read; a non-array value is treated as an
// empty array.
func (c *Cursor) readArray() (value.Array, error) {
	v, err := c.read(c.link)
	if err != nil {
		return nil, err
	}
	arr, ok := v.(value.Array)
	if !ok {
		arr = value.Array{}
	}
	return arr, nil
}

func (c *Cursor) writeArray(arr value.Array) error {
	current, err := c.read(c.link)
	if err != nil {
		current = value.Null{}
	}
	return diffAndUpdate(c.tx, c.link, current, arr, c.rootSchema)
}

// Push appends items to the end of the array (write-only: diffs the
// whole cloned slice back rather than logging per-element reads).
func (c *Cursor) Push(items ...value.Value) (int, error) {
	arr, err := c.readArray()
	if err != nil {
		return 0, err
	}
	next := append(append(value.Array{}, arr...), items...)
	if err := c.writeArray(next); err != nil {
		return 0, err
	}
	return len(next), nil
}

// Unshift prepends items to the front of the array.
func (c *Cursor) Unshift(items ...value.Value) (int, error) {
	arr, err := c.readArray()
	if err != nil {
		return 0, err
	}
	next := append(append(value.Array{}, items...), arr...)
	if err := c.writeArray(next); err != nil {
		return 0, err
	}
	return len(next), nil
}

// Fill overwrites elements in [start, end) with v.
func (c *Cursor) Fill(v value.Value, start, end int) error {
	arr, err := c.readArray()
	if err != nil {
		return err
	}
	next := append(value.Array{}, arr...)
	start, end = clampRange(start, end, len(next))
	for i := start; i < end; i++ {
		next[i] = v
	}
	return c.writeArray(next)
}

// Pop removes and returns the last element.
func (c *Cursor) Pop() (value.Value, error) {
	arr, err := c.readArray()
	if err != nil {
		return nil, err
	}
	if len(arr) == 0 {
		return value.Null{}, nil
	}
	last := arr[len(arr)-1]
	if err := c.writeArray(arr[:len(arr)-1]); err != nil {
		return nil, err
	}
	return last, nil
}

// Shift removes and returns the first element.
func (c *Cursor) Shift() (value.Value, error) {
	arr, err := c.readArray()
	if err != nil {
		return nil, err
	}
	if len(arr) == 0 {
		return value.Null{}, nil
	}
	first := arr[0]
	if err := c.writeArray(append(value.Array{}, arr[1:]...)); err != nil {
		return nil, err
	}
	return first, nil
}

// Reverse reverses the array in place, preserving each element's
// identity as it moves (§4.6's "per-element wrapper" requirement is
// satisfied here because diffAndUpdate recurses by target index, so a
// relocated link value is compared against its new index's prior
// occupant rather than rewritten wholesale).
func (c *Cursor) Reverse() error {
	arr, err := c.readArray()
	if err != nil {
		return err
	}
	next := append(value.Array{}, arr...)
	for i, j := 0, len(next)-1; i < j; i, j = i+1, j-1 {
		next[i], next[j] = next[j], next[i]
	}
	return c.writeArray(next)
}

// Sort reorders the array according to less, which compares two
// elements and reports whether the first should sort before the second.
func (c *Cursor) Sort(less func(a, b value.Value) bool) error {
	arr, err := c.readArray()
	if err != nil {
		return err
	}
	next := append(value.Array{}, arr...)
	sort.SliceStable(next, func(i, j int) bool { return less(next[i], next[j]) })
	return c.writeArray(next)
}

// Splice removes deleteCount elements starting at start and inserts
// items in their place, returning the removed elements.
func (c *Cursor) Splice(start, deleteCount int, items ...value.Value) (value.Array, error) {
	arr, err := c.readArray()
	if err != nil {
		return nil, err
	}
	if start < 0 {
		start = 0
	}
	if start > len(arr) {
		start = len(arr)
	}
	end := start + deleteCount
	if end > len(arr) {
		end = len(arr)
	}
	removed := append(value.Array{}, arr[start:end]...)

	next := append(value.Array{}, arr[:start]...)
	next = append(next, items...)
	next = append(next, arr[end:]...)
	return removed, c.writeArray(next)
}

// CopyWithin copies the slice [start, end) to target, shifting as
// needed, per the standard copyWithin semantics.
func (c *Cursor) CopyWithin(target, start, end int) error {
	arr, err := c.readArray()
	if err != nil {
		return err
	}
	next := append(value.Array{}, arr...)
	n := len(next)
	target = clampIndex(target, n)
	start, end = clampRange(start, end, n)
	chunk := append(value.Array{}, next[start:end]...)
	for i, v := range chunk {
		if target+i >= n {
			break
		}
		next[target+i] = v
	}
	return c.writeArray(next)
}

// Map materializes a derived document holding fn applied to each
// element, returning a cursor onto that document (§4.6's "methods
// returning arrays materialize a fresh derived document" rule).
func (c *Cursor) Map(callSite string, fn func(v value.Value, i int) value.Value) (*Cursor, error) {
	arr, err := c.readArray()
	if err != nil {
		return nil, err
	}
	mapped := make(value.Array, len(arr))
	for i, v := range arr {
		mapped[i] = fn(v, i)
	}
	return c.materializeDerived("map", callSite, mapped)
}

// Filter materializes a derived document holding only elements for
// which keep returns true.
func (c *Cursor) Filter(callSite string, keep func(v value.Value, i int) bool) (*Cursor, error) {
	arr, err := c.readArray()
	if err != nil {
		return nil, err
	}
	var filtered value.Array
	for i, v := range arr {
		if keep(v, i) {
			filtered = append(filtered, v)
		}
	}
	return c.materializeDerived("filter", callSite, filtered)
}

func (c *Cursor) materializeDerived(method, callSite string, content value.Array) (*Cursor, error) {
	cause := value.Object{
		"parentId": value.String(c.link.ID),
		"method":   value.String(method),
		"callSite": value.String(callSite),
	}
	id, err := value.ComputeEntityID(value.Object{"parentId": value.String(c.link.ID), "method": value.String(method)}, cause)
	if err != nil {
		return nil, err
	}

	h, _, err := c.tx.Store().GetByEntityID(c.link.Space, id, c.link.MediaType, true, nil)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	derivedAddr := addr.Address{Space: c.link.Space, ID: id, MediaType: c.link.MediaType, Path: nil}
	if err := diffAndUpdate(c.tx, derivedAddr, h.ReadRaw(), content, nil); err != nil {
		return nil, err
	}
	return &Cursor{tx: c.tx, link: derivedAddr, depth: c.depth + 1, maxDepth: c.maxDepth}, nil
}

func clampIndex(i, n int) int {
	if i < 0 {
		i = 0
	}
	if i > n {
		i = n
	}
	return i
}

func clampRange(start, end, n int) (int, int) {
	start = clampIndex(start, n)
	end = clampIndex(end, n)
	if end < start {
		end = start
	}
	return start, end
}
