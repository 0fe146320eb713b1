// Package reactive implements the reactive dependency engine (C5):
// per-action dependency sets and determineTriggeredActions, the
// path-precise diff that maps a document mutation to the minimal set
// of actions that must re-run (§4.5). Grounded on the teacher's
// internal/engine, which plays the analogous role of mapping a
// completion back to the sync rules it re-arms.
package reactive

import "github.com/weftrun/weave/internal/addr"

// Address is a dependency key: a document coordinate plus a path into
// it, shared with the transaction layer and query proxy (§6).
type Address = addr.Address

// SortedAndCompactAddresses sorts addresses by (space, id, mediaType,
// path) and removes any address whose path is covered by a shorter
// path already present for the same document.
func SortedAndCompactAddresses(addresses []Address) []Address {
	return addr.SortedAndCompact(addresses)
}
