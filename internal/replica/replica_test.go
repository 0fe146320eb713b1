package replica

import (
	"testing"

	"github.com/weftrun/weave/internal/value"
)

func TestRead_PrefersNewestPendingOverConfirmed(t *testing.T) {
	r := New()
	id := value.RandomEntityID()

	hash1, _, err := r.Commit("did:x", []Operation{{Kind: OpSet, ID: id, Value: value.Number(1)}}, nil, nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := r.Confirm("did:x", hash1, 1); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	if _, _, err := r.Commit("did:x", []Operation{{Kind: OpSet, ID: id, Value: value.Number(2)}}, nil, nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	v, source, ok := r.Read("did:x", id)
	if !ok {
		t.Fatalf("expected a value")
	}
	if source != "pending" {
		t.Fatalf("expected pending to take precedence, got %s", source)
	}
	if v != value.Number(2) {
		t.Fatalf("expected newest pending value, got %v", v)
	}
}

func TestRead_FallsBackToConfirmed(t *testing.T) {
	r := New()
	id := value.RandomEntityID()

	hash, _, _ := r.Commit("did:x", []Operation{{Kind: OpSet, ID: id, Value: value.String("v")}}, nil, nil)
	if _, err := r.Confirm("did:x", hash, 1); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	v, source, ok := r.Read("did:x", id)
	if !ok || source != "confirmed" || v != value.String("v") {
		t.Fatalf("expected confirmed value, got %v %s %v", v, source, ok)
	}
}

func TestReject_CascadesToDependentCommits(t *testing.T) {
	r := New()
	a := value.RandomEntityID()
	b := value.RandomEntityID()

	hashP1, _, err := r.Commit("did:x", []Operation{{Kind: OpSet, ID: a, Value: value.Number(1)}}, nil, nil)
	if err != nil {
		t.Fatalf("Commit P1: %v", err)
	}

	_, _, err = r.Commit("did:x",
		[]Operation{{Kind: OpSet, ID: b, Value: value.Number(2)}},
		nil,
		[]PendingRead{{ID: a, FromCommit: hashP1}},
	)
	if err != nil {
		t.Fatalf("Commit P2: %v", err)
	}

	changes, err := r.Reject("did:x", hashP1)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}

	var sawB bool
	for _, c := range changes {
		if c.ID == b {
			sawB = true
			if c.Value != nil {
				t.Fatalf("expected B to revert to unset, got %v", c.Value)
			}
		}
	}
	if !sawB {
		t.Fatalf("expected cascade rejection to report a change for B, got %v", changes)
	}

	if _, _, ok := r.Read("did:x", b); ok {
		t.Fatalf("expected B to be unknown after cascade rejection")
	}
}

func TestConfirm_UnknownHashReturnsNotFound(t *testing.T) {
	r := New()
	if _, err := r.Confirm("did:x", "nonexistent", 1); err == nil {
		t.Fatalf("expected error confirming an unknown hash")
	}
}

func TestCommitHash_IsDeterministic(t *testing.T) {
	id := value.RandomEntityID()
	ops := []Operation{{Kind: OpSet, ID: id, Value: value.Number(1)}}

	h1 := commitHash(ops, nil, nil)
	h2 := commitHash(ops, nil, nil)
	if h1 != h2 {
		t.Fatalf("expected deterministic commit hash")
	}
}

func TestSwitchBranch_DiscardsPendingCommits(t *testing.T) {
	r := New()
	id := value.RandomEntityID()
	r.Commit("did:x", []Operation{{Kind: OpSet, ID: id, Value: value.Number(1)}}, nil, nil)

	r.SwitchBranch("did:x")

	if _, _, ok := r.Read("did:x", id); ok {
		t.Fatalf("expected branch switch to discard pending commits")
	}
}
