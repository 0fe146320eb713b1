package value

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
)

// EntityID is an opaque content hash of (source, cause), §3.1/§4.1. It
// serializes as {"/": "<hash>"} and has a lossless URI form "of:<hash>".
type EntityID string

const uriPrefix = "of:"

// domainEntity namespaces entity-id hashing the way the teacher's
// hashWithDomain namespaces invocation/completion ids — a null-byte
// separator prevents domain/data boundary ambiguity.
const domainEntity = "weave/entity/v1"

// ToURI renders an EntityID in "of:<hash>" form.
func (id EntityID) ToURI() string {
	return uriPrefix + string(id)
}

// EntityIDFromURI parses either "of:<hash>" or a bare hash back into an
// EntityID. Round-trips with ToURI (R1).
func EntityIDFromURI(uri string) (EntityID, error) {
	if strings.HasPrefix(uri, uriPrefix) {
		return EntityID(strings.TrimPrefix(uri, uriPrefix)), nil
	}
	if uri == "" {
		return "", &identityError{"empty id URI"}
	}
	return EntityID(uri), nil
}

// ToSigil renders the canonical {"/": "<hash>"} serialization form.
func (id EntityID) ToSigil() Object {
	return Object{"/": String(id)}
}

// IsEntityIDSigil reports whether v is an entity-id sigil object, and
// returns the parsed id if so.
func IsEntityIDSigil(v Value) (EntityID, bool) {
	obj, ok := v.(Object)
	if !ok || len(obj) != 1 {
		return "", false
	}
	s, ok := obj["/"].(String)
	if !ok {
		return "", false
	}
	return EntityID(s), true
}

type identityError struct{ msg string }

func (e *identityError) Error() string { return e.msg }

// ComputeEntityID performs the bounded normalizing traversal of §4.1 over
// (source, cause) and hashes the result with RFC 8785 canonical JSON +
// SHA-256, domain-separated the way ir.hashWithDomain domain-separates
// invocation/completion ids.
//
// Normalization rules (§4.1):
//   - already-an-id sigils are left intact
//   - Link values are replaced by their id
//   - cycles are broken by returning Null on revisit
func ComputeEntityID(source, cause Value) (EntityID, error) {
	seen := map[uintptr]bool{} // keyed by the underlying map/slice data pointer
	normSource, err := normalizeForIdentity(source, seen)
	if err != nil {
		return "", fmt.Errorf("computing entity id: %w", err)
	}
	normCause, err := normalizeForIdentity(cause, seen)
	if err != nil {
		return "", fmt.Errorf("computing entity id: %w", err)
	}

	obj := Object{"source": normSource, "cause": normCause}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("computing entity id: %w", err)
	}
	return EntityID(hashWithDomain(domainEntity, canonical)), nil
}

// normalizeForIdentity performs the §4.1 traversal. Functions and
// `undefined` have no representation in our closed Value variant (Go has
// no such runtime values), so the only teacher-derived special case that
// still applies is cycle-breaking and Link-unwrapping.
func normalizeForIdentity(v Value, seen map[uintptr]bool) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Link:
		// An entity reference inside source/cause contributes its id, not
		// its contents — two documents citing the same linked entity by id
		// must hash identically regardless of that entity's current value.
		return String(val.ID), nil
	case Object:
		if ptr, ok := dataPointer(val); ok {
			if seen[ptr] {
				return Null{}, nil
			}
			seen[ptr] = true
		}
		out := make(Object, len(val))
		for k, child := range val {
			nv, err := normalizeForIdentity(child, seen)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case Array:
		if ptr, ok := dataPointer(val); ok {
			if seen[ptr] {
				return Null{}, nil
			}
			seen[ptr] = true
		}
		out := make(Array, len(val))
		for i, child := range val {
			nv, err := normalizeForIdentity(child, seen)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return v, nil
	}
}

// dataPointer returns the underlying map/slice data pointer for cycle
// detection. A nil map or empty slice has no meaningful pointer and is
// reported as not-ok (nothing to revisit).
func dataPointer(v any) (uintptr, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	case reflect.Slice:
		if rv.IsNil() || rv.Len() == 0 {
			return 0, false
		}
		return rv.Pointer(), true
	default:
		return 0, false
	}
}

// RandomEntityID produces a fresh, non-deterministic id, used as the
// fallback described in §4.1 ("a random id if not yet stable") when a
// referent lacks an id of its own. Callers relying on determinism must
// pre-assign ids instead of relying on this path.
func RandomEntityID() EntityID {
	return EntityID(hashWithDomain(domainEntity, []byte(uuid.Must(uuid.NewV7()).String())))
}

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
