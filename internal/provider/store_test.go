package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/weftrun/weave/internal/value"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	p, err := Open(path, "did:x")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	p1, err := Open(path, "did:x")
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	p1.Close()

	p2, err := Open(path, "did:x")
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer p2.Close()
}

func TestSendThenGet_RoundTripsValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := Open(path, "did:x")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	id := value.RandomEntityID()
	root := value.Object{"name": value.String("ivy"), "count": value.Number(3)}

	if _, err := p.Send(ctx, id, 1, root); err != nil {
		t.Fatalf("Send: %v", err)
	}

	rec, ok, err := p.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to be present")
	}
	if !value.DeepEqual(rec.Value, root) {
		t.Fatalf("expected round-tripped value to equal sent value, got %v", rec.Value)
	}
	if rec.Version != 1 {
		t.Fatalf("expected version 1, got %d", rec.Version)
	}
}

func TestSendWithLink_StoresSigilForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := Open(path, "did:x")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	targetID := value.RandomEntityID()
	id := value.RandomEntityID()
	root := value.Object{"ref": value.Link{Space: "did:x", ID: targetID}}

	if _, err := p.Send(ctx, id, 1, root); err != nil {
		t.Fatalf("Send: %v", err)
	}

	rec, ok, err := p.Get(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	obj, ok := rec.Value.(value.Object)
	if !ok {
		t.Fatalf("expected object, got %T", rec.Value)
	}
	refVal := obj["ref"]
	parsed, ok := value.ParseLink(refVal, "did:x")
	if !ok {
		t.Fatalf("expected stored link to parse back as a link sigil, got %v", refVal)
	}
	if parsed.ID != targetID {
		t.Fatalf("expected round-tripped link id %v, got %v", targetID, parsed.ID)
	}
}

func TestGet_AbsentEntityReportsNotOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := Open(path, "did:x")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	_, ok, err := p.Get(context.Background(), value.RandomEntityID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected absent entity to report ok=false")
	}
}

func TestDestroy_TombstonesEntity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := Open(path, "did:x")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	id := value.RandomEntityID()
	if _, err := p.Send(ctx, id, 1, value.Object{"a": value.Number(1)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := p.Destroy(ctx, id, 2); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	rec, ok, err := p.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected tombstoned entity to still be present as a row")
	}
	if !rec.Tombstone {
		t.Fatalf("expected Tombstone=true after Destroy")
	}
	if rec.Value != nil {
		t.Fatalf("expected nil value for a tombstone, got %v", rec.Value)
	}
}

func TestSink_ReturnsEntriesAfterCursorInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := Open(path, "did:x")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	idA := value.RandomEntityID()
	idB := value.RandomEntityID()
	if _, err := p.Send(ctx, idA, 1, value.Number(1)); err != nil {
		t.Fatalf("Send a: %v", err)
	}
	if _, err := p.Send(ctx, idB, 1, value.Number(2)); err != nil {
		t.Fatalf("Send b: %v", err)
	}

	recs, cursor, err := p.Sink(ctx, 0)
	if err != nil {
		t.Fatalf("Sink: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 sink entries, got %d", len(recs))
	}
	if recs[0].ID != idA || recs[1].ID != idB {
		t.Fatalf("expected sink order [a b], got [%v %v]", recs[0].ID, recs[1].ID)
	}

	moreRecs, _, err := p.Sink(ctx, cursor)
	if err != nil {
		t.Fatalf("Sink after cursor: %v", err)
	}
	if len(moreRecs) != 0 {
		t.Fatalf("expected no new entries past the cursor, got %d", len(moreRecs))
	}
}
