package value

import (
	"fmt"
	"sort"
	"strconv"
)

// Path is an ordered sequence of string components identifying a position
// inside a document's JSON value (§3.1). Array indices are decimal
// strings, matching the JSON-pointer-like convention used throughout the
// spec (§4.2's traverseCellLinks, §4.3's path utilities).
type Path []string

func (p Path) String() string {
	s := ""
	for i, c := range p {
		if i > 0 {
			s += "/"
		}
		s += c
	}
	return s
}

// Clone returns a copy so callers can safely append without aliasing.
func (p Path) Clone() Path {
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Get performs stepwise descent; a missing intermediate returns (nil, false)
// rather than an error, matching §4.3's getValueAtPath semantics.
func Get(v Value, path Path) (Value, bool) {
	cur := v
	for _, comp := range path {
		switch c := cur.(type) {
		case Object:
			child, ok := c[comp]
			if !ok {
				return nil, false
			}
			cur = child
		case Array:
			idx, err := strconv.Atoi(comp)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set mutates *root in place (creating intermediate objects as needed) and
// reports whether the write changed the value by deep-equal (§4.3). The
// root pointer indirection lets the root itself be replaced — e.g. going
// from Null to Object{} for an empty document's first write.
func Set(root *Value, path Path, newValue Value) (bool, error) {
	if len(path) == 0 {
		changed := !DeepEqual(*root, newValue)
		*root = newValue
		return changed, nil
	}

	if *root == nil {
		*root = Null{}
	}
	if _, ok := (*root).(Object); !ok {
		if _, isNull := (*root).(Null); isNull {
			*root = Object{}
		}
	}

	return setAt(*root, path, newValue)
}

func setAt(parent Value, path Path, newValue Value) (bool, error) {
	comp := path[0]
	rest := path[1:]

	switch p := parent.(type) {
	case Object:
		child, exists := p[comp]
		if len(rest) == 0 {
			changed := !exists || !DeepEqual(child, newValue)
			if _, isUndefinedWrite := newValue.(Null); isUndefinedWrite && !exists {
				return false, nil
			}
			p[comp] = newValue
			return changed, nil
		}
		if !exists {
			child = Object{}
			p[comp] = child
		}
		if _, ok := child.(Object); !ok {
			if _, ok := child.(Array); !ok {
				child = Object{}
				p[comp] = child
			}
		}
		changed, err := setAt(child, rest, newValue)
		if err != nil {
			return false, err
		}
		// child may have been a value type replaced in place (map/slice are
		// reference types so in-place mutation is visible through p[comp]
		// already); re-store defensively in case setAt swapped the root kind.
		return changed, nil
	case Array:
		idx, err := strconv.Atoi(comp)
		if err != nil || idx < 0 {
			return false, fmt.Errorf("setAt: non-numeric array index %q", comp)
		}
		for len(p) <= idx {
			p = append(p, Null{})
		}
		if len(rest) == 0 {
			changed := idx >= len(p) || !DeepEqual(p[idx], newValue)
			p[idx] = newValue
			return changed, nil
		}
		child := p[idx]
		if child == nil {
			child = Object{}
			p[idx] = child
		}
		return setAt(child, rest, newValue)
	default:
		return false, fmt.Errorf("setAt: cannot descend into non-container at %q", comp)
	}
}

// DeepEqual treats arrays and objects recursively, distinguishes
// undefined/null (Go has no undefined, so Null is the only "absent" value
// here), and follows Object.is semantics for NaN/-0 per §4.3.
func DeepEqual(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Number:
		bv, ok := b.(Number)
		if !ok {
			return false
		}
		return numbersIs(float64(av), float64(bv))
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, ok := bv[k]
			if !ok || !DeepEqual(v, bval) {
				return false
			}
		}
		return true
	case Link:
		bv, ok := b.(Link)
		if !ok {
			return false
		}
		return av.Space == bv.Space && av.ID == bv.ID && pathsEqual(av.Path, bv.Path) && av.MediaType == bv.MediaType
	default:
		return false
	}
}

func pathsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// numbersIs implements Object.is for floats: NaN equals NaN, +0 and -0
// are distinct, matching §4.3's note that deepEqual follows Object.is for
// NaN and -0 rather than IEEE-754 ==.
func numbersIs(a, b float64) bool {
	if a != a && b != b {
		return true // both NaN
	}
	if a == 0 && b == 0 {
		return (1/a > 0) == (1/b > 0) // distinguish +0 from -0
	}
	return a == b
}

// StartsWith reports whether path begins with prefix, elementwise.
func StartsWith(path, prefix Path) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, c := range prefix {
		if path[i] != c {
			return false
		}
	}
	return true
}

// SortAndCompact sorts paths lexicographically and removes any path that
// has another kept path as a prefix — watching the shorter path already covers the
// longer one (§4.5's SortedAndCompactPaths). The set of paths *covered*
// (each path plus all its extensions) is unchanged by compaction (P4).
func SortAndCompact(paths []Path) []Path {
	sorted := make([]Path, len(paths))
	copy(sorted, paths)
	sort.Slice(sorted, func(i, j int) bool { return ComparePaths(sorted[i], sorted[j]) < 0 })

	var out []Path
	for _, p := range sorted {
		if len(out) > 0 && StartsWith(p, out[len(out)-1]) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ComparePaths orders paths lexicographically by component, ties broken
// by length (§4.3).
func ComparePaths(a, b Path) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
