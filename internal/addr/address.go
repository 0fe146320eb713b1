// Package addr defines the address coordinate shared across the
// reactive engine (C5), transaction layer (C7), and query proxy (C6):
// a document coordinate plus a path into it (§6 "Addresses").
package addr

import (
	"sort"

	"github.com/weftrun/weave/internal/value"
)

// Address is `{ space, id, type, path }` from §6.
type Address struct {
	Space     string
	ID        value.EntityID
	MediaType string
	Path      value.Path
}

// Compare orders two addresses by (space, id, mediaType, path), the
// sort order used for dependency sets in §4.5.
func Compare(a, b Address) int {
	if a.Space != b.Space {
		if a.Space < b.Space {
			return -1
		}
		return 1
	}
	if a.ID != b.ID {
		if a.ID < b.ID {
			return -1
		}
		return 1
	}
	if a.MediaType != b.MediaType {
		if a.MediaType < b.MediaType {
			return -1
		}
		return 1
	}
	return value.ComparePaths(a.Path, b.Path)
}

// SameDocument reports whether a and b address the same (space, id,
// mediaType), ignoring path.
func SameDocument(a, b Address) bool {
	return a.Space == b.Space && a.ID == b.ID && a.MediaType == b.MediaType
}

// SortedAndCompact sorts addresses by (space, id, mediaType, path) and
// drops any address whose path is covered by a shorter path already
// kept for the same document (P4).
func SortedAndCompact(addresses []Address) []Address {
	if len(addresses) == 0 {
		return nil
	}

	sorted := append([]Address(nil), addresses...)
	sort.Slice(sorted, func(i, j int) bool {
		return Compare(sorted[i], sorted[j]) < 0
	})

	out := sorted[:0:0]
	for _, a := range sorted {
		covered := false
		for _, kept := range out {
			if SameDocument(kept, a) && value.StartsWith(a.Path, kept.Path) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, a)
		}
	}
	return out
}
