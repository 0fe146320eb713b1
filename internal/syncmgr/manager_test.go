package syncmgr

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/weftrun/weave/internal/docstore"
	"github.com/weftrun/weave/internal/provider"
	"github.com/weftrun/weave/internal/value"
)

const testSpace = "did:x"

func newHarness(t *testing.T) (*Manager, *docstore.Store, *provider.Provider) {
	t.Helper()
	docs := docstore.New()
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := provider.Open(path, testSpace)
	if err != nil {
		t.Fatalf("provider.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	opened := false
	m := New(docs, func(space string) (*provider.Provider, error) {
		if space != testSpace {
			t.Fatalf("unexpected space requested: %s", space)
		}
		opened = true
		return p, nil
	})
	_ = opened
	return m, docs, p
}

func TestSync_AppliesServerValueIntoLocalDocument(t *testing.T) {
	m, docs, p := newHarness(t)
	ctx := context.Background()

	id := value.RandomEntityID()
	root := value.Object{"name": value.String("ivy")}
	if _, err := p.Send(ctx, id, 1, root); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := m.Sync(ctx, testSpace, id, nil); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	h, created, err := docs.GetByEntityID(testSpace, id, "", false, nil)
	if err != nil {
		t.Fatalf("GetByEntityID: %v", err)
	}
	defer h.Release()
	if created {
		t.Fatalf("expected Sync to have already materialized the document")
	}
	if !value.DeepEqual(h.ReadRaw(), root) {
		t.Fatalf("expected local document to equal server value, got %v", h.ReadRaw())
	}
}

func TestSync_UnknownEntityIsANoop(t *testing.T) {
	m, docs, _ := newHarness(t)
	ctx := context.Background()

	id := value.RandomEntityID()
	if err := m.Sync(ctx, testSpace, id, nil); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if docs.Len(testSpace) != 0 {
		t.Fatalf("expected no document to be materialized for an absent entity")
	}
}

func TestSync_FollowsLinkClosureIntoChildEntities(t *testing.T) {
	m, docs, p := newHarness(t)
	ctx := context.Background()

	childID := value.RandomEntityID()
	childVal := value.Object{"leaf": value.Bool(true)}
	if _, err := p.Send(ctx, childID, 1, childVal); err != nil {
		t.Fatalf("Send child: %v", err)
	}

	parentID := value.RandomEntityID()
	parentVal := value.Object{"child": value.Link{Space: testSpace, ID: childID}}
	if _, err := p.Send(ctx, parentID, 1, parentVal); err != nil {
		t.Fatalf("Send parent: %v", err)
	}

	if err := m.Sync(ctx, testSpace, parentID, nil); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	h, _, err := docs.GetByEntityID(testSpace, childID, "", false, nil)
	if err != nil {
		t.Fatalf("GetByEntityID child: %v", err)
	}
	if h == nil {
		t.Fatalf("expected linked child entity to be materialized by closure reconciliation")
	}
	defer h.Release()
	if !value.DeepEqual(h.ReadRaw(), childVal) {
		t.Fatalf("expected child document to equal server value, got %v", h.ReadRaw())
	}
}

func TestApplyServerValue_LocalOnlyEntityIsQueuedForPush(t *testing.T) {
	m, docs, p := newHarness(t)
	ctx := context.Background()

	id := value.RandomEntityID()
	h, created, err := docs.GetByEntityID(testSpace, id, "", true, nil)
	if err != nil {
		t.Fatalf("GetByEntityID: %v", err)
	}
	if !created {
		t.Fatalf("expected document to be newly created")
	}
	if _, err := h.Send(value.Object{"local": value.Bool(true)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.Release()

	rec, ok, err := p.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected no server record yet")
	}

	if err := m.applyServerValue(testSpace, id, rec); err != nil {
		t.Fatalf("applyServerValue: %v", err)
	}

	if !m.dirty[dirtyKey{testSpace, id}] {
		t.Fatalf("expected local-only entity to be marked dirty for push")
	}
}

func TestFlushPushes_SkipsWhenNotIdle(t *testing.T) {
	m, docs, p := newHarness(t)
	ctx := context.Background()

	id := value.RandomEntityID()
	h, _, err := docs.GetByEntityID(testSpace, id, "", true, nil)
	if err != nil {
		t.Fatalf("GetByEntityID: %v", err)
	}
	m.markDirty(testSpace, h.ID())
	h.Release()

	if err := m.FlushPushes(ctx, false); err != nil {
		t.Fatalf("FlushPushes: %v", err)
	}

	if _, ok, err := p.Get(ctx, id); err != nil || ok {
		t.Fatalf("expected no push while not idle, ok=%v err=%v", ok, err)
	}
	if !m.dirty[dirtyKey{testSpace, id}] {
		t.Fatalf("expected dirty entry to survive a non-idle flush")
	}
}

func TestFlushPushes_PushesDirtyEntityWhenIdle(t *testing.T) {
	m, docs, p := newHarness(t)
	ctx := context.Background()

	h, _, err := docs.GetByEntityID(testSpace, value.RandomEntityID(), "", true, nil)
	if err != nil {
		t.Fatalf("GetByEntityID: %v", err)
	}
	id := h.ID()
	root := value.Object{"x": value.Number(9)}
	if _, err := h.Send(root); err != nil {
		t.Fatalf("Send: %v", err)
	}
	m.markDirty(testSpace, id)
	h.Release()

	if err := m.FlushPushes(ctx, true); err != nil {
		t.Fatalf("FlushPushes: %v", err)
	}

	rec, ok, err := p.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected entity to have been pushed")
	}
	if !value.DeepEqual(rec.Value, root) {
		t.Fatalf("expected pushed value to equal local document, got %v", rec.Value)
	}
	if len(m.dirty) != 0 {
		t.Fatalf("expected dirty set to be cleared after a successful flush")
	}
}

func TestPushOne_PushesLinkedEntityBeforeParent(t *testing.T) {
	m, docs, p := newHarness(t)
	ctx := context.Background()

	childH, _, err := docs.GetByEntityID(testSpace, value.RandomEntityID(), "", true, nil)
	if err != nil {
		t.Fatalf("GetByEntityID child: %v", err)
	}
	childID := childH.ID()
	if _, err := childH.Send(value.Object{"leaf": value.Bool(true)}); err != nil {
		t.Fatalf("Send child: %v", err)
	}
	childH.Release()

	parentH, _, err := docs.GetByEntityID(testSpace, value.RandomEntityID(), "", true, nil)
	if err != nil {
		t.Fatalf("GetByEntityID parent: %v", err)
	}
	parentID := parentH.ID()
	if _, err := parentH.Send(value.Object{"child": value.Link{Space: testSpace, ID: childID}}); err != nil {
		t.Fatalf("Send parent: %v", err)
	}
	parentH.Release()

	if err := m.pushOne(ctx, testSpace, parentID); err != nil {
		t.Fatalf("pushOne: %v", err)
	}

	if _, ok, err := p.Get(ctx, childID); err != nil || !ok {
		t.Fatalf("expected linked child to have been pushed ahead of its parent, ok=%v err=%v", ok, err)
	}
	if _, ok, err := p.Get(ctx, parentID); err != nil || !ok {
		t.Fatalf("expected parent to have been pushed, ok=%v err=%v", ok, err)
	}
}

func TestPushOne_SkipsEphemeralDocuments(t *testing.T) {
	m, docs, p := newHarness(t)
	ctx := context.Background()

	h, _, err := docs.GetByEntityID(testSpace, value.RandomEntityID(), "", true, nil)
	if err != nil {
		t.Fatalf("GetByEntityID: %v", err)
	}
	id := h.ID()
	h.SetEphemeral(true)
	if _, err := h.Send(value.Object{"x": value.Number(1)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.Release()

	if err := m.pushOne(ctx, testSpace, id); err != nil {
		t.Fatalf("pushOne: %v", err)
	}

	if _, ok, err := p.Get(ctx, id); err != nil || ok {
		t.Fatalf("expected ephemeral document to never be pushed, ok=%v err=%v", ok, err)
	}
}

func TestDrainUpdates_AppliesOutboxEntriesToWatchedDocuments(t *testing.T) {
	m, docs, p := newHarness(t)
	ctx := context.Background()

	h, _, err := docs.GetByEntityID(testSpace, value.RandomEntityID(), "", true, nil)
	if err != nil {
		t.Fatalf("GetByEntityID: %v", err)
	}
	id := h.ID()
	h.Release()

	root := value.Object{"fromServer": value.Bool(true)}
	if _, err := p.Send(ctx, id, 1, root); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := m.DrainUpdates(ctx, testSpace); err != nil {
		t.Fatalf("DrainUpdates: %v", err)
	}

	h2, _, err := docs.GetByEntityID(testSpace, id, "", false, nil)
	if err != nil {
		t.Fatalf("GetByEntityID: %v", err)
	}
	if h2 == nil {
		t.Fatalf("expected document to still be present")
	}
	defer h2.Release()
	if !value.DeepEqual(h2.ReadRaw(), root) {
		t.Fatalf("expected drained update to be applied, got %v", h2.ReadRaw())
	}
}

func TestDrainUpdates_AdvancesCursorSoReplayIsNotRepeated(t *testing.T) {
	m, docs, p := newHarness(t)
	ctx := context.Background()

	h, _, err := docs.GetByEntityID(testSpace, value.RandomEntityID(), "", true, nil)
	if err != nil {
		t.Fatalf("GetByEntityID: %v", err)
	}
	id := h.ID()
	h.Release()

	if _, err := p.Send(ctx, id, 1, value.Object{"v": value.Number(1)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := m.DrainUpdates(ctx, testSpace); err != nil {
		t.Fatalf("first DrainUpdates: %v", err)
	}

	h2, _, err := docs.GetByEntityID(testSpace, id, "", false, nil)
	if err != nil {
		t.Fatalf("GetByEntityID: %v", err)
	}
	if _, err := h2.Send(value.Object{"v": value.Number(1), "local": value.Bool(true)}); err != nil {
		t.Fatalf("Send local: %v", err)
	}
	h2.Release()

	if err := m.DrainUpdates(ctx, testSpace); err != nil {
		t.Fatalf("second DrainUpdates: %v", err)
	}

	h3, _, err := docs.GetByEntityID(testSpace, id, "", false, nil)
	if err != nil {
		t.Fatalf("GetByEntityID: %v", err)
	}
	defer h3.Release()
	want := value.Object{"v": value.Number(1), "local": value.Bool(true)}
	if !value.DeepEqual(h3.ReadRaw(), want) {
		t.Fatalf("expected local edit to survive a re-drain past the cursor, got %v", h3.ReadRaw())
	}
}

func TestSynced_ReportsFalseWithPendingPushes(t *testing.T) {
	m, docs, _ := newHarness(t)

	h, _, err := docs.GetByEntityID(testSpace, value.RandomEntityID(), "", true, nil)
	if err != nil {
		t.Fatalf("GetByEntityID: %v", err)
	}
	id := h.ID()
	h.Release()

	if !m.Synced() {
		t.Fatalf("expected a freshly created manager to report synced")
	}

	m.markDirty(testSpace, id)
	if m.Synced() {
		t.Fatalf("expected manager with a pending push to report not synced")
	}
}

func TestReopen_ForcesProviderFactoryToBeCalledAgain(t *testing.T) {
	docs := docstore.New()
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := provider.Open(path, testSpace)
	if err != nil {
		t.Fatalf("provider.Open: %v", err)
	}
	defer p.Close()

	calls := 0
	m := New(docs, func(space string) (*provider.Provider, error) {
		calls++
		return p, nil
	})

	if _, err := m.providerFor(testSpace); err != nil {
		t.Fatalf("providerFor: %v", err)
	}
	if _, err := m.providerFor(testSpace); err != nil {
		t.Fatalf("providerFor: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected provider to be cached across calls, got %d calls", calls)
	}

	m.Reopen(testSpace)
	if _, err := m.providerFor(testSpace); err != nil {
		t.Fatalf("providerFor after Reopen: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected Reopen to force the factory to run again, got %d calls", calls)
	}
}
