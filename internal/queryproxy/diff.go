package queryproxy

import (
	"github.com/weftrun/weave/internal/addr"
	"github.com/weftrun/weave/internal/schema"
	"github.com/weftrun/weave/internal/txn"
	"github.com/weftrun/weave/internal/value"
)

// IDFieldKey is the JSON key by which a written object requests
// name-based sibling reuse: `{IDFieldKey: "name", name: "control"}`
// asks the write to look for a sibling whose own "name" field already
// equals "control" before minting a new entity (§4.6.1 step 1).
const IDFieldKey = "ID_FIELD"

// IDKey is the JSON key by which a written object requests a derived,
// stable entity id: `{IDKey: "control", ...}` (§4.6.1 step 2).
const IDKey = "ID"

// diffAndUpdate implements §4.6.1: given the current value at target
// and a newValue to write, performs the minimal set of writes that
// make target observe newValue, recursing through links, arrays, and
// objects rather than always overwriting target wholesale. rootSchema
// is the C11 schema governing target's document, or nil when no
// schema is in scope for this write.
func diffAndUpdate(tx *txn.Transaction, target addr.Address, current, newValue value.Value, rootSchema value.Value) error {
	if obj, ok := newValue.(value.Object); ok {
		if fieldNameVal, ok := obj[IDFieldKey]; ok {
			if handled, err := reuseByNamedSibling(tx, target, fieldNameVal, obj); handled || err != nil {
				return err
			}
		}
		if idVal, ok := obj[IDKey]; ok {
			return createDerivedEntity(tx, target, idVal, obj)
		}
	}

	if newLink, ok := asLink(newValue); ok {
		if curLink, ok := asLink(current); ok && sameLink(curLink, newLink) {
			return nil
		}
		return tx.Write(target, newValue)
	}

	// The write always proceeds through the logical target: if current
	// is itself a link, redirect through it rather than clobbering the
	// reference with inlined content.
	if curLink, ok := asLink(current); ok {
		redirected := addr.Address{Space: curLink.Space, ID: curLink.ID, MediaType: curLink.MediaType, Path: curLink.Path}
		redirectedCurrent, err := tx.Read(redirected)
		if err != nil {
			redirectedCurrent = value.Null{}
		}
		return diffAndUpdate(tx, redirected, redirectedCurrent, newValue, rootSchema)
	}

	// asCell positions (C11) are written as a flat cell reference rather
	// than recursed into, even when the new value is a composite.
	if rootSchema != nil {
		if targetSchema, ok := schema.ResolveAt(rootSchema, target.Path); ok && schema.IsCell(rootSchema, targetSchema) {
			if !value.DeepEqual(current, newValue) {
				return tx.Write(target, newValue)
			}
			return nil
		}
	}

	if newArr, ok := newValue.(value.Array); ok {
		if _, curIsArr := current.(value.Array); curIsArr {
			return diffArray(tx, target, current, newArr, rootSchema)
		}
	}

	if newObj, ok := newValue.(value.Object); ok {
		if _, curIsObj := current.(value.Object); curIsObj {
			return diffObject(tx, target, current, newObj, rootSchema)
		}
	}

	if !value.DeepEqual(current, newValue) {
		return tx.Write(target, newValue)
	}
	return nil
}

func sameLink(a, b value.Link) bool {
	return a.Space == b.Space && a.ID == b.ID && value.StartsWith(a.Path, b.Path) && value.StartsWith(b.Path, a.Path)
}

// reuseByNamedSibling implements §4.6.1 step 1: search target's parent
// container for an existing sibling link whose target entity already
// has fieldName == fieldNameVal's declared field, and if found, write
// newValue's remaining content into that shared entity instead of
// minting a new one.
func reuseByNamedSibling(tx *txn.Transaction, target addr.Address, fieldNameVal value.Value, obj value.Object) (bool, error) {
	fieldName, ok := fieldNameVal.(value.String)
	if !ok || len(target.Path) == 0 {
		return false, nil
	}
	wantedVal, hasWanted := obj[string(fieldName)]
	if !hasWanted {
		return false, nil
	}

	parentPath := target.Path[:len(target.Path)-1]
	parentAddr := addr.Address{Space: target.Space, ID: target.ID, MediaType: target.MediaType, Path: parentPath}
	parent, err := tx.Read(parentAddr)
	if err != nil {
		return false, nil
	}

	siblings, ok := parent.(value.Array)
	if !ok {
		return false, nil
	}

	lastComp := target.Path[len(target.Path)-1]
	for i, sib := range siblings {
		if value.String(indexOf(i)) == value.String(lastComp) {
			continue
		}
		link, ok := asLink(sib)
		if !ok {
			continue
		}
		entityAddr := addr.Address{Space: link.Space, ID: link.ID, MediaType: link.MediaType, Path: nil}
		entityVal, err := tx.Read(entityAddr)
		if err != nil {
			continue
		}
		entityObj, ok := entityVal.(value.Object)
		if !ok {
			continue
		}
		if !value.DeepEqual(entityObj[string(fieldName)], wantedVal) {
			continue
		}

		rest := value.Object{}
		for k, v := range obj {
			if k == IDFieldKey {
				continue
			}
			rest[k] = v
		}
		// rest targets a different entity than target's own document, so
		// target's rootSchema does not apply here; nil leaves the reused
		// sibling unconstrained rather than misapplying a foreign schema.
		if err := diffAndUpdate(tx, addr.Address{Space: link.Space, ID: link.ID, MediaType: link.MediaType, Path: nil}, entityObj, rest, nil); err != nil {
			return true, err
		}
		return true, tx.Write(target, value.Link{Space: link.Space, ID: link.ID})
	}
	return false, nil
}

func indexOf(i int) string {
	if i == 0 {
		return "0"
	}
	digits := [20]byte{}
	pos := len(digits)
	n := i
	for n > 0 {
		pos--
		digits[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[pos:])
}

// createDerivedEntity implements §4.6.1 step 2: derive a fresh entity
// id from {id} x {parent-context}, replace target with a link to it,
// and recurse into the new entity's content.
func createDerivedEntity(tx *txn.Transaction, target addr.Address, idVal value.Value, obj value.Object) error {
	cause := value.Object{
		"parentSpace": value.String(target.Space),
		"parentId":    value.String(target.ID),
		"parentPath":  pathToValue(target.Path),
	}
	newID, err := value.ComputeEntityID(idVal, cause)
	if err != nil {
		return err
	}

	h, _, err := tx.Store().GetByEntityID(target.Space, newID, target.MediaType, true, nil)
	if err != nil {
		return err
	}
	currentEntityVal := h.ReadRaw()
	h.Release()

	rest := value.Object{}
	for k, v := range obj {
		if k == IDKey {
			continue
		}
		rest[k] = v
	}

	// The derived entity is a distinct document from target; its schema
	// is unknown here, so recurse unconstrained rather than propagate
	// target's rootSchema onto it.
	if err := diffAndUpdate(tx, addr.Address{Space: target.Space, ID: newID, MediaType: target.MediaType, Path: nil}, currentEntityVal, rest, nil); err != nil {
		return err
	}
	return tx.Write(target, value.Link{Space: target.Space, ID: newID, MediaType: target.MediaType})
}

func pathToValue(p value.Path) value.Array {
	arr := make(value.Array, len(p))
	for i, c := range p {
		arr[i] = value.String(c)
	}
	return arr
}

// diffArray implements §4.6.1 step 4: recurse index-wise; a shrunk
// array explicitly writes its new length and evicts removed indices.
// The length write carries the LUB (C11) of the array's own
// classification and every new element's classification, so a
// classified array's size remains governed by the same label even
// though "length" itself has no schema position of its own.
func diffArray(tx *txn.Transaction, target addr.Address, current value.Value, newArr value.Array, rootSchema value.Value) error {
	currentArr, _ := current.(value.Array)

	var arraySchema value.Value
	if rootSchema != nil {
		arraySchema, _ = schema.ResolveAt(rootSchema, target.Path)
	}
	labels := schema.Classification(rootSchema, arraySchema)

	n := len(newArr)
	if len(currentArr) > n {
		n = len(currentArr)
	}
	for i := 0; i < n; i++ {
		idxAddr := addr.Address{Space: target.Space, ID: target.ID, MediaType: target.MediaType, Path: append(target.Path.Clone(), indexOf(i))}
		if i < len(newArr) {
			var cur value.Value = value.Null{}
			if i < len(currentArr) {
				cur = currentArr[i]
			}
			if err := diffAndUpdate(tx, idxAddr, cur, newArr[i], rootSchema); err != nil {
				return err
			}
			if rootSchema != nil {
				if elemSchema, ok := schema.ResolveAt(rootSchema, idxAddr.Path); ok {
					labels = schema.LUB(labels, schema.Classification(rootSchema, elemSchema))
				}
			}
		} else {
			// Evicted index: write undefined (Null) to clear it.
			if err := tx.Write(idxAddr, value.Null{}); err != nil {
				return err
			}
		}
	}

	if len(newArr) != len(currentArr) {
		lengthAddr := addr.Address{Space: target.Space, ID: target.ID, MediaType: target.MediaType, Path: append(target.Path.Clone(), "length")}
		if err := tx.WriteWithClassification(lengthAddr, value.Number(len(newArr)), labels); err != nil {
			return err
		}
	}
	return nil
}

// diffObject implements §4.6.1 step 5: recurse on the union of keys;
// keys removed in newObj are written as undefined (Null).
func diffObject(tx *txn.Transaction, target addr.Address, current value.Value, newObj value.Object, rootSchema value.Value) error {
	currentObj, _ := current.(value.Object)

	keys := map[string]bool{}
	for k := range currentObj {
		keys[k] = true
	}
	for k := range newObj {
		keys[k] = true
	}

	for k := range keys {
		childAddr := addr.Address{Space: target.Space, ID: target.ID, MediaType: target.MediaType, Path: append(target.Path.Clone(), k)}
		newChild, stillPresent := newObj[k]
		if !stillPresent {
			if err := tx.Write(childAddr, value.Null{}); err != nil {
				return err
			}
			continue
		}
		var curChild value.Value = value.Null{}
		if currentObj != nil {
			if v, ok := currentObj[k]; ok {
				curChild = v
			}
		}
		if err := diffAndUpdate(tx, childAddr, curChild, newChild, rootSchema); err != nil {
			return err
		}
	}
	return nil
}
