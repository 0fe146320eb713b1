package reactive

import (
	"testing"

	"github.com/weftrun/weave/internal/value"
)

const testSpace = "did:x"

func TestRegister_CompactsOverlappingPaths(t *testing.T) {
	e := New()
	id := value.RandomEntityID()

	e.Register("a1", []Address{
		{Space: testSpace, ID: id, MediaType: "application/json", Path: value.Path{"a", "b", "c"}},
		{Space: testSpace, ID: id, MediaType: "application/json", Path: value.Path{"a", "b"}},
	})

	deps := e.Dependencies("a1")
	if len(deps) != 1 {
		t.Fatalf("expected compaction to a single covering path, got %d", len(deps))
	}
	if deps[0].Path.String() != "a/b" {
		t.Fatalf("expected shorter covering path to survive, got %s", deps[0].Path)
	}
}

func TestDetermineTriggeredActions_FiresOnlyForChangedDependency(t *testing.T) {
	e := New()
	id := value.RandomEntityID()

	e.Register("watchesA", []Address{{Space: testSpace, ID: id, MediaType: "application/json", Path: value.Path{"a"}}})
	e.Register("watchesB", []Address{{Space: testSpace, ID: id, MediaType: "application/json", Path: value.Path{"b"}}})

	before := value.Object{"a": value.String("1"), "b": value.String("1")}
	after := value.Object{"a": value.String("2"), "b": value.String("1")}

	triggered := e.DetermineTriggeredActions(testSpace, id, "application/json", before, after, nil)
	if !triggered["watchesA"] {
		t.Fatalf("expected watchesA to be triggered")
	}
	if triggered["watchesB"] {
		t.Fatalf("expected watchesB not to be triggered")
	}
}

func TestDetermineTriggeredActions_IgnoresOtherDocuments(t *testing.T) {
	e := New()
	id := value.RandomEntityID()
	other := value.RandomEntityID()

	e.Register("a1", []Address{{Space: testSpace, ID: other, MediaType: "application/json", Path: value.Path{"x"}}})

	before := value.Object{"x": value.String("1")}
	after := value.Object{"x": value.String("2")}

	triggered := e.DetermineTriggeredActions(testSpace, id, "application/json", before, after, nil)
	if len(triggered) != 0 {
		t.Fatalf("expected no triggers for an unrelated document, got %v", triggered)
	}
}

func TestDetermineTriggeredActions_FiltersByStartPath(t *testing.T) {
	e := New()
	id := value.RandomEntityID()

	e.Register("nested", []Address{{Space: testSpace, ID: id, MediaType: "application/json", Path: value.Path{"items", "0", "name"}}})
	e.Register("unrelated", []Address{{Space: testSpace, ID: id, MediaType: "application/json", Path: value.Path{"other"}}})

	before := value.Object{"name": value.String("old")}
	after := value.Object{"name": value.String("new")}

	triggered := e.DetermineTriggeredActions(testSpace, id, "application/json", before, after, value.Path{"items", "0"})
	if !triggered["nested"] {
		t.Fatalf("expected nested (re-rooted) dependency to trigger")
	}
	if triggered["unrelated"] {
		t.Fatalf("expected dependency outside startPath to be filtered out")
	}
}

func TestDetermineTriggeredActions_DeterministicAcrossCalls(t *testing.T) {
	e := New()
	id := value.RandomEntityID()
	e.Register("a1", []Address{{Space: testSpace, ID: id, MediaType: "application/json", Path: value.Path{"a"}}})

	before := value.Object{"a": value.String("1")}
	after := value.Object{"a": value.String("2")}

	r1 := e.DetermineTriggeredActions(testSpace, id, "application/json", before, after, nil)
	r2 := e.DetermineTriggeredActions(testSpace, id, "application/json", before, after, nil)
	if len(r1) != len(r2) || !r1["a1"] || !r2["a1"] {
		t.Fatalf("expected stable, set-equal results across calls")
	}
}
