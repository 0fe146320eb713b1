// Package schema implements JSON-Schema-guided path resolution and the
// domain-specific classification extensions (C11): primitive types,
// properties/required, items, enum, anyOf, $ref ($defs and
// properties pointers), $defs rename-maps, additionalProperties,
// asCell, and ifc.classification propagation (§4.11). Grounded on the
// teacher's CUE-based compiler (internal/compiler), which plays the
// analogous "schema describes and constrains a document shape" role,
// reshaped around JSON Schema's $ref/$defs vocabulary instead of CUE's
// unification since that is the vocabulary the spec names.
package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/weftrun/weave/internal/value"
	"github.com/weftrun/weave/internal/weaveerr"
)

// Schema is a JSON Schema document expressed as a Value — schemas are
// themselves ordinary JSON, so no separate AST is introduced.
type Schema = value.Value

// AsObject returns schema's Object form, following exactly one level of
// dereferencing against root if schema is a bare $ref.
func AsObject(root, schema Schema) (value.Object, bool) {
	deref, err := Deref(root, schema)
	if err != nil {
		return nil, false
	}
	obj, ok := deref.(value.Object)
	return obj, ok
}

// Deref resolves a single $ref on schema against root, merging any
// defaults declared at the use site over the target's own defaults
// (§4.11: "defaults declared at a $ref use-site override defaults in
// the target definition"). Non-$ref schemas are returned unchanged.
func Deref(root, schema Schema) (Schema, error) {
	obj, ok := schema.(value.Object)
	if !ok {
		return schema, nil
	}
	refVal, hasRef := obj["$ref"]
	if !hasRef {
		return schema, nil
	}
	ref, ok := refVal.(value.String)
	if !ok {
		return nil, fmt.Errorf("schema: $ref must be a string")
	}

	target, err := resolvePointer(root, string(ref))
	if err != nil {
		return nil, err
	}

	// A $ref target may itself be a $ref (chained); resolve until stable.
	resolved, err := Deref(root, target)
	if err != nil {
		return nil, err
	}

	if useSiteDefault, hasDefault := obj["default"]; hasDefault {
		if resolvedObj, ok := resolved.(value.Object); ok {
			merged := make(value.Object, len(resolvedObj)+1)
			for k, v := range resolvedObj {
				merged[k] = v
			}
			merged["default"] = useSiteDefault
			return merged, nil
		}
	}
	return resolved, nil
}

// resolvePointer resolves a "#/a/b/c" JSON-pointer-style $ref against
// root, including the spec's #/$defs/… and #/properties/… forms.
func resolvePointer(root Schema, ref string) (Schema, error) {
	if !strings.HasPrefix(ref, "#/") && ref != "#" {
		return nil, fmt.Errorf("schema: only in-document $ref pointers are supported, got %q", ref)
	}
	if ref == "#" {
		return root, nil
	}

	cur := root
	for _, raw := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		comp := unescapePointerComponent(raw)
		obj, ok := cur.(value.Object)
		if !ok {
			return nil, fmt.Errorf("schema: cannot resolve %q: not an object at %q", ref, comp)
		}
		child, ok := obj[comp]
		if !ok {
			return nil, fmt.Errorf("schema: $ref %q: no such member %q", ref, comp)
		}
		cur = child
	}
	return cur, nil
}

func unescapePointerComponent(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	s = strings.ReplaceAll(s, "~0", "~")
	return s
}

// ResolveAt walks path against root's schema, following $ref at every
// level (including through #/properties/… and #/$defs/… indirection),
// descending through "properties" for object keys and "items" for
// array indices, and honoring "additionalProperties" for keys with no
// declared property schema. Returns false if no schema governs path
// (an unconstrained position).
func ResolveAt(root Schema, path value.Path) (Schema, bool) {
	cur, err := Deref(root, root)
	if err != nil {
		return nil, false
	}

	for _, comp := range path {
		obj, ok := cur.(value.Object)
		if !ok {
			return nil, false
		}

		next, ok := descend(obj, comp)
		if !ok {
			return nil, false
		}

		deref, err := Deref(root, next)
		if err != nil {
			return nil, false
		}
		cur = deref
	}
	return cur, true
}

func descend(obj value.Object, comp string) (Schema, bool) {
	if props, ok := obj["properties"].(value.Object); ok {
		if child, ok := props[comp]; ok {
			return child, true
		}
	}
	if _, err := strconv.Atoi(comp); err == nil {
		if items, ok := obj["items"]; ok {
			return items, true
		}
	}
	if additional, ok := obj["additionalProperties"]; ok {
		if b, isBool := additional.(value.Bool); isBool {
			if bool(b) {
				return value.Object{}, true // any value permitted, unconstrained
			}
			return nil, false
		}
		return additional, true // additionalProperties is itself a schema
	}
	return nil, false
}

// IsCell reports whether schema marks its position as a cell handle
// rather than an inlined value (`asCell: true`, §4.11).
func IsCell(root, schema Schema) bool {
	obj, ok := AsObject(root, schema)
	if !ok {
		return false
	}
	b, ok := obj["asCell"].(value.Bool)
	return ok && bool(b)
}

// Classification returns the ifc.classification labels declared on
// schema, or nil if none.
func Classification(root, schema Schema) []string {
	obj, ok := AsObject(root, schema)
	if !ok {
		return nil
	}
	arr, ok := obj["ifc.classification"].(value.Array)
	if !ok {
		return nil
	}
	labels := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(value.String); ok {
			labels = append(labels, string(s))
		}
	}
	return labels
}

// LUB computes the least-upper-bound label set across labels — the
// classification lattice itself is left to the caller's domain (the
// spec does not name one), so this is the conservative choice: the
// union of every label in play, deduplicated and sorted for
// determinism. An array's derived "length" classification, for
// instance, is the LUB of its own classification and its elements'.
func LUB(labelSets ...[]string) []string {
	seen := map[string]bool{}
	for _, labels := range labelSets {
		for _, l := range labels {
			seen[l] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// MergeDefs combines the $defs of multiple named schemas into one
// namespace, renaming on collision by prefixing the owning schema's
// name (§4.11's "$defs rename-maps to avoid collisions"). It returns
// the merged $defs object and, per source name, a map from original
// def name to its (possibly renamed) key in the merged object.
func MergeDefs(schemas map[string]Schema) (value.Object, map[string]map[string]string, error) {
	merged := value.Object{}
	renames := map[string]map[string]string{}

	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic merge order

	for _, name := range names {
		root := schemas[name]
		obj, ok := root.(value.Object)
		if !ok {
			continue
		}
		defs, ok := obj["$defs"].(value.Object)
		if !ok {
			continue
		}
		renames[name] = map[string]string{}
		for defName, defSchema := range defs {
			key := defName
			if _, collision := merged[key]; collision {
				key = name + "." + defName
				if _, stillCollides := merged[key]; stillCollides {
					return nil, nil, weaveerr.InvalidIdentityf("schema: cannot deconflict $defs name %q from %q", defName, name)
				}
			}
			merged[key] = defSchema
			renames[name][defName] = key
		}
	}
	return merged, renames, nil
}
