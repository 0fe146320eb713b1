package docstore

import (
	"testing"

	"github.com/weftrun/weave/internal/value"
)

func newTestDoc() *Document {
	return &Document{
		space:     "did:x",
		id:        value.RandomEntityID(),
		mediaType: "application/json",
		root:      value.Object{},
	}
}

func TestWriteAtPath_ReportsChangeOnce(t *testing.T) {
	d := newTestDoc()

	changed, err := d.WriteAtPath(value.Path{"a"}, value.String("v"))
	if err != nil {
		t.Fatalf("WriteAtPath: %v", err)
	}
	if !changed {
		t.Fatalf("expected first write to report change")
	}

	changed, err = d.WriteAtPath(value.Path{"a"}, value.String("v"))
	if err != nil {
		t.Fatalf("WriteAtPath: %v", err)
	}
	if changed {
		t.Fatalf("expected identical write to report no change")
	}
}

func TestWriteAtPath_RejectedWhenFrozen(t *testing.T) {
	d := newTestDoc()
	d.Freeze()

	if _, err := d.WriteAtPath(value.Path{"a"}, value.String("v")); err == nil {
		t.Fatalf("expected write to frozen document to fail")
	}
}

func TestSetSource_IsMonotonic(t *testing.T) {
	d := newTestDoc()
	a := value.RandomEntityID()
	b := value.RandomEntityID()

	if err := d.SetSource(a); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	if err := d.SetSource(a); err != nil {
		t.Fatalf("re-setting to the same source should succeed: %v", err)
	}
	if err := d.SetSource(b); err == nil {
		t.Fatalf("expected replacing source with a different id to fail")
	}

	got, ok := d.GetSource()
	if !ok || got != a {
		t.Fatalf("expected source to remain %s, got %s", a, got)
	}
}

func TestSubscribeToUpdates_FiresOnChangeAndCancels(t *testing.T) {
	d := newTestDoc()

	var calls int
	cancel := d.SubscribeToUpdates(func(before, after value.Value) {
		calls++
	})

	if _, err := d.WriteAtPath(value.Path{"a"}, value.String("v")); err != nil {
		t.Fatalf("WriteAtPath: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 notification, got %d", calls)
	}

	cancel()
	cancel() // idempotent per §5

	if _, err := d.WriteAtPath(value.Path{"b"}, value.String("w")); err != nil {
		t.Fatalf("WriteAtPath: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no further notifications after cancel, got %d", calls)
	}
}

func TestToJSON_ReturnsSigilNotInlineContent(t *testing.T) {
	d := newTestDoc()
	d.root = value.Object{"secret": value.String("never inlined")}

	sigil := d.ToJSON()
	obj, ok := sigil.(value.Object)
	if !ok {
		t.Fatalf("expected sigil object, got %T", sigil)
	}
	if _, ok := obj["/"]; !ok {
		t.Fatalf("expected sigil under '/' tag")
	}
}

func TestWriteAtPath_RejectedForNonJSONMediaType(t *testing.T) {
	d := newTestDoc()
	d.mediaType = "image/png"

	if _, err := d.WriteAtPath(value.Path{"a"}, value.String("v")); err == nil {
		t.Fatalf("expected path write on non-JSON media type to fail")
	}
}
