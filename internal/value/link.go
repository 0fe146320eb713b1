package value

import (
	"strconv"
	"strings"
)

// LinkSigilTag is the sigil field name inside the outer "/" wrapper that
// distinguishes a link object from an entity-id sigil, per §6: JSON object
// { "/": { "<LINK_V1_TAG>": { id, space?, path?, schema?, rootSchema? } } }.
const LinkSigilTag = "weave/link/v1"

// dataURIPrefix marks an inlined link whose "id" actually carries the
// linked value rather than referencing stored state (§4.2: "unless
// link.id begins with data:, in which case traverse into the inlined
// value").
const dataURIPrefix = "data:"

// IsLinkSigil detects sigil-form links (§4.2's isLink) and returns the
// inner payload object.
func IsLinkSigil(v Value) (Object, bool) {
	outer, ok := v.(Object)
	if !ok || len(outer) != 1 {
		return nil, false
	}
	wrapped, ok := outer["/"]
	if !ok {
		return nil, false
	}
	inner, ok := wrapped.(Object)
	if !ok || len(inner) != 1 {
		return nil, false
	}
	payload, ok := inner[LinkSigilTag]
	if !ok {
		return nil, false
	}
	payloadObj, ok := payload.(Object)
	if !ok {
		return nil, false
	}
	return payloadObj, true
}

// ParseLink produces a NormalizedFullLink (§4.2) from either an already-
// structured Link value or a sigil-form object, filling a missing space
// from context.
func ParseLink(v Value, contextSpace string) (Link, bool) {
	switch val := v.(type) {
	case Link:
		l := val
		if l.Space == "" {
			l.Space = contextSpace
		}
		return l, true
	case Object:
		payload, ok := IsLinkSigil(val)
		if !ok {
			return Link{}, false
		}
		return linkFromPayload(payload, contextSpace), true
	default:
		return Link{}, false
	}
}

func linkFromPayload(payload Object, contextSpace string) Link {
	l := Link{MediaType: "application/json"}
	if idv, ok := payload["id"]; ok {
		if s, ok := idv.(String); ok {
			id, _ := EntityIDFromURI(string(s))
			l.ID = id
		}
	}
	if sv, ok := payload["space"]; ok {
		if s, ok := sv.(String); ok {
			l.Space = string(s)
		}
	}
	if l.Space == "" {
		l.Space = contextSpace
	}
	if pv, ok := payload["path"]; ok {
		if arr, ok := pv.(Array); ok {
			for _, e := range arr {
				if s, ok := e.(String); ok {
					l.Path = append(l.Path, string(s))
				}
			}
		}
	}
	if mv, ok := payload["media-type"]; ok {
		if s, ok := mv.(String); ok {
			l.MediaType = string(s)
		}
	}
	if sv, ok := payload["schema"]; ok {
		l.Schema = sv
	}
	if rv, ok := payload["rootSchema"]; ok {
		l.RootSchema = rv
	}
	return l
}

// linkToSigil renders a Link in its canonical wire serialization (§6).
func linkToSigil(l Link) Value {
	payload := Object{"id": String(l.ID.ToURI())}
	if l.Space != "" {
		payload["space"] = String(l.Space)
	}
	if len(l.Path) > 0 {
		arr := make(Array, len(l.Path))
		for i, c := range l.Path {
			arr[i] = String(c)
		}
		payload["path"] = arr
	}
	if l.MediaType != "" && l.MediaType != "application/json" {
		payload["media-type"] = String(l.MediaType)
	}
	if l.Schema != nil {
		payload["schema"] = l.Schema
	}
	if l.RootSchema != nil {
		payload["rootSchema"] = l.RootSchema
	}
	return Object{"/": Object{LinkSigilTag: payload}}
}

// TraverseOptions configures link traversal (§4.2).
type TraverseOptions struct {
	// SchemaAt, if set, is consulted at each descent with the child path
	// and reports whether that position should be treated as a link
	// boundary even when not already in sigil form (C11's asCell: true).
	SchemaAt func(path Path) bool
}

// TraverseLinks performs the cycle-safe value traversal of §4.2,
// invoking visit for every link reachable from root. defaultSpace fills
// in links whose sigil omits "space". Traversal skips object properties
// whose name begins with "$" (reserved for view/internal state) and
// stops at links whose id has the data: scheme without visiting them;
// the inlined value is not recursed into.
func TraverseLinks(root Value, defaultSpace string, opts TraverseOptions, visit func(link Link, path Path)) {
	seen := map[uintptr]bool{}
	traverse(root, defaultSpace, opts, seen, Path{}, visit)
}

func traverse(v Value, defaultSpace string, opts TraverseOptions, seen map[uintptr]bool, path Path, visit func(Link, Path)) {
	if link, ok := ParseLink(v, defaultSpace); ok {
		if strings.HasPrefix(string(link.ID), dataURIPrefix) {
			// Inlined — there is no separate stored value to visit; the
			// spec's "traverse into the inlined value" degenerates to a
			// no-op here because our Link carries no inline payload field
			// distinct from id (data: URIs are opaque in this model).
			return
		}
		visit(link, path.Clone())
		return
	}

	switch val := v.(type) {
	case Array:
		if ptr, ok := dataPointer(val); ok {
			if seen[ptr] {
				return
			}
			seen[ptr] = true
		}
		for i, elem := range val {
			childPath := append(path.Clone(), strconv.Itoa(i))
			if opts.SchemaAt != nil && opts.SchemaAt(childPath) {
				if link, ok := ParseLink(elem, defaultSpace); ok {
					visit(link, childPath)
					continue
				}
			}
			traverse(elem, defaultSpace, opts, seen, childPath, visit)
		}
	case Object:
		if ptr, ok := dataPointer(val); ok {
			if seen[ptr] {
				return
			}
			seen[ptr] = true
		}
		for k, elem := range val {
			if strings.HasPrefix(k, "$") {
				continue
			}
			childPath := append(path.Clone(), k)
			if opts.SchemaAt != nil && opts.SchemaAt(childPath) {
				if link, ok := ParseLink(elem, defaultSpace); ok {
					visit(link, childPath)
					continue
				}
			}
			traverse(elem, defaultSpace, opts, seen, childPath, visit)
		}
	default:
		return
	}
}


// DiscoveredLink pairs a link with the path where it was first found,
// matching discoverLinksFrom's contract (§4.2).
type DiscoveredLink struct {
	Link Link
	Path Path
}

// DiscoverLinks returns the set of unique (space, id) links reachable
// from root, each with the path where first encountered.
func DiscoverLinks(root Value, defaultSpace string) []DiscoveredLink {
	return DiscoverLinksWithOptions(root, defaultSpace, TraverseOptions{})
}

// DiscoverLinksWithOptions is DiscoverLinks with caller-supplied
// TraverseOptions, so a schema-aware caller (syncmgr, C9) can make
// asCell boundaries (C11) count as links even where the stored value
// isn't already in sigil form.
func DiscoverLinksWithOptions(root Value, defaultSpace string, opts TraverseOptions) []DiscoveredLink {
	type key struct {
		space string
		id    EntityID
	}
	seenKeys := map[key]bool{}
	var out []DiscoveredLink
	TraverseLinks(root, defaultSpace, opts, func(link Link, path Path) {
		k := key{link.Space, link.ID}
		if seenKeys[k] {
			return
		}
		seenKeys[k] = true
		out = append(out, DiscoveredLink{Link: link, Path: path})
	})
	return out
}
