// Package replica implements the storage replica (C8): per-space
// confirmed/pending two-tier state, commit/confirm/reject/integrate,
// and cascade rejection (P7, P8). Grounded on the teacher's
// internal/store, which plays an analogous role reconciling locally
// generated invocations against a durable log, though here the log is
// held in two tiers rather than a single committed table.
package replica

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/weftrun/weave/internal/value"
	"github.com/weftrun/weave/internal/weaveerr"
)

// OperationKind is a commit operation's verb (§4.8, §6).
type OperationKind string

const (
	OpSet    OperationKind = "set"
	OpDelete OperationKind = "delete"
	OpPatch  OperationKind = "patch"
	OpClaim  OperationKind = "claim"
)

// Operation is one entity mutation within a commit.
type Operation struct {
	Kind  OperationKind
	ID    value.EntityID
	Value value.Value // meaningful for set/claim
}

// ConfirmedRead names a confirmed-tier read the commit depended on.
type ConfirmedRead struct {
	ID      value.EntityID
	Version int64
}

// PendingRead names a pending-tier read the commit depended on — it
// read a value written by an as-yet-unconfirmed commit, identified by
// that commit's hash.
type PendingRead struct {
	ID         value.EntityID
	FromCommit string
}

// EntityChange is emitted whenever a replica operation changes what a
// read of an entity would observe.
type EntityChange struct {
	ID     value.EntityID
	Value  value.Value // nil = tombstone/unknown
	Source string      // "pending" | "confirmed"
}

// entityWrite is the per-entity effect of a pending commit. Patch
// writes carry no resolved value (the server resolves the full value;
// §4.8), so Value is nil until promoted by Confirm with server data.
type entityWrite struct {
	kind  OperationKind
	value value.Value
}

// PendingCommit is a provisionally-applied, not-yet-acknowledged commit.
type PendingCommit struct {
	Hash           string
	Writes         map[value.EntityID]entityWrite
	ConfirmedReads []ConfirmedRead
	PendingReads   []PendingRead
}

type confirmedEntry struct {
	version int64
	hash    string
	value   value.Value // nil = tombstone/unknown
}

type space struct {
	mu        sync.Mutex
	confirmed map[value.EntityID]confirmedEntry
	pending   []PendingCommit
}

// Replica holds per-space confirmed/pending state for a storage client.
type Replica struct {
	mu     sync.Mutex
	spaces map[string]*space
}

// New returns an empty replica.
func New() *Replica {
	return &Replica{spaces: map[string]*space{}}
}

func (r *Replica) spaceFor(name string) *space {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.spaces[name]
	if !ok {
		sp = &space{confirmed: map[value.EntityID]confirmedEntry{}}
		r.spaces[name] = sp
	}
	return sp
}

// Read returns the value of id as the replica currently sees it:
// the newest pending write if any, else the confirmed value. The
// boolean is false if the entity is entirely unknown (P7).
func (r *Replica) Read(spaceName string, id value.EntityID) (value.Value, string, bool) {
	sp := r.spaceFor(spaceName)
	sp.mu.Lock()
	defer sp.mu.Unlock()

	for i := len(sp.pending) - 1; i >= 0; i-- {
		w, ok := sp.pending[i].Writes[id]
		if !ok {
			continue
		}
		if w.kind == OpDelete {
			return nil, "pending", true
		}
		return w.value, "pending", true
	}

	if entry, ok := sp.confirmed[id]; ok {
		return entry.value, "confirmed", true
	}
	return nil, "", false
}

// ConfirmedVersion returns the confirmed-tier version for id, if known.
// Used by the transaction layer to build ConfirmedRead entries.
func (r *Replica) ConfirmedVersion(spaceName string, id value.EntityID) (int64, bool) {
	sp := r.spaceFor(spaceName)
	sp.mu.Lock()
	defer sp.mu.Unlock()
	entry, ok := sp.confirmed[id]
	if !ok {
		return 0, false
	}
	return entry.version, true
}

// PendingSourceHash returns the hash of the newest pending commit that
// writes id, if any. Used by the transaction layer to build
// PendingRead entries for reads observed against in-flight commits.
func (r *Replica) PendingSourceHash(spaceName string, id value.EntityID) (string, bool) {
	sp := r.spaceFor(spaceName)
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for i := len(sp.pending) - 1; i >= 0; i-- {
		if _, ok := sp.pending[i].Writes[id]; ok {
			return sp.pending[i].Hash, true
		}
	}
	return "", false
}

// Commit provisionally applies operations as a new PendingCommit and
// returns its hash plus the resulting entity changes (§4.8).
func (r *Replica) Commit(spaceName string, ops []Operation, confirmedReads []ConfirmedRead, pendingReads []PendingRead) (string, []EntityChange, error) {
	hash := commitHash(ops, confirmedReads, pendingReads)

	writes := make(map[value.EntityID]entityWrite, len(ops))
	changes := make([]EntityChange, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case OpSet, OpClaim:
			writes[op.ID] = entityWrite{kind: op.Kind, value: op.Value}
			changes = append(changes, EntityChange{ID: op.ID, Value: op.Value, Source: "pending"})
		case OpDelete:
			writes[op.ID] = entityWrite{kind: op.Kind}
			changes = append(changes, EntityChange{ID: op.ID, Value: nil, Source: "pending"})
		case OpPatch:
			writes[op.ID] = entityWrite{kind: op.Kind}
			changes = append(changes, EntityChange{ID: op.ID, Value: nil, Source: "pending"})
		}
	}

	sp := r.spaceFor(spaceName)
	sp.mu.Lock()
	sp.pending = append(sp.pending, PendingCommit{
		Hash:           hash,
		Writes:         writes,
		ConfirmedReads: confirmedReads,
		PendingReads:   pendingReads,
	})
	sp.mu.Unlock()

	return hash, changes, nil
}

// Confirm promotes a pending commit into the confirmed tier with the
// server-assigned version, removing it from pending.
func (r *Replica) Confirm(spaceName, hash string, serverVersion int64) ([]EntityChange, error) {
	sp := r.spaceFor(spaceName)
	sp.mu.Lock()
	defer sp.mu.Unlock()

	idx := indexOfCommit(sp.pending, hash)
	if idx < 0 {
		return nil, weaveerr.NotFoundf(nil, "no pending commit with hash %s", hash)
	}
	commit := sp.pending[idx]
	sp.pending = append(sp.pending[:idx], sp.pending[idx+1:]...)

	changes := make([]EntityChange, 0, len(commit.Writes))
	for id, w := range commit.Writes {
		var v value.Value
		if w.kind != OpDelete {
			v = w.value
		}
		sp.confirmed[id] = confirmedEntry{version: serverVersion, hash: hash, value: v}
		changes = append(changes, EntityChange{ID: id, Value: v, Source: "confirmed"})
	}
	return changes, nil
}

// Reject removes the named pending commit and every later pending
// commit whose pendingReads transitively depend on it (P8), emitting
// the net revert to confirmed (or earlier-pending) values.
func (r *Replica) Reject(spaceName, hash string) ([]EntityChange, error) {
	sp := r.spaceFor(spaceName)
	sp.mu.Lock()
	defer sp.mu.Unlock()

	idx := indexOfCommit(sp.pending, hash)
	if idx < 0 {
		return nil, weaveerr.NotFoundf(nil, "no pending commit with hash %s", hash)
	}

	rejected := map[string]bool{hash: true}
	affected := map[value.EntityID]bool{}
	for id := range sp.pending[idx].Writes {
		affected[id] = true
	}

	// Forward scan: a later commit joins the rejected set if any of its
	// pendingReads names an already-rejected hash. Because rejection can
	// cascade transitively, keep sweeping until a pass adds nothing new.
	for {
		grew := false
		for i := idx + 1; i < len(sp.pending); i++ {
			c := sp.pending[i]
			if rejected[c.Hash] {
				continue
			}
			for _, pr := range c.PendingReads {
				if rejected[pr.FromCommit] {
					rejected[c.Hash] = true
					for id := range c.Writes {
						affected[id] = true
					}
					grew = true
					break
				}
			}
		}
		if !grew {
			break
		}
	}

	kept := sp.pending[:0:0]
	for _, c := range sp.pending {
		if !rejected[c.Hash] {
			kept = append(kept, c)
		}
	}
	sp.pending = kept

	changes := make([]EntityChange, 0, len(affected))
	for id := range affected {
		v, source, ok := r.readLocked(sp, id)
		if !ok {
			changes = append(changes, EntityChange{ID: id, Value: nil, Source: "confirmed"})
			continue
		}
		changes = append(changes, EntityChange{ID: id, Value: v, Source: source})
	}
	return changes, nil
}

func (r *Replica) readLocked(sp *space, id value.EntityID) (value.Value, string, bool) {
	for i := len(sp.pending) - 1; i >= 0; i-- {
		w, ok := sp.pending[i].Writes[id]
		if !ok {
			continue
		}
		if w.kind == OpDelete {
			return nil, "pending", true
		}
		return w.value, "pending", true
	}
	if entry, ok := sp.confirmed[id]; ok {
		return entry.value, "confirmed", true
	}
	return nil, "", false
}

// ServerCommit names a commit pushed from another client (§4.8).
type ServerCommit struct {
	Version int64
}

// Integrate applies a server-pushed commit from another client directly
// into confirmed state, bumping each entity's version.
func (r *Replica) Integrate(spaceName string, commit ServerCommit, perEntityValues map[value.EntityID]value.Value) ([]EntityChange, error) {
	sp := r.spaceFor(spaceName)
	sp.mu.Lock()
	defer sp.mu.Unlock()

	changes := make([]EntityChange, 0, len(perEntityValues))
	for id, v := range perEntityValues {
		sp.confirmed[id] = confirmedEntry{version: commit.Version, value: v}
		changes = append(changes, EntityChange{ID: id, Value: v, Source: "confirmed"})
	}
	return changes, nil
}

// SwitchBranch clears all local state for spaceName — a branch switch
// discards pending commits, since they were computed against the
// branch being left.
func (r *Replica) SwitchBranch(spaceName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spaces[spaceName] = &space{confirmed: map[value.EntityID]confirmedEntry{}}
}

func indexOfCommit(pending []PendingCommit, hash string) int {
	for i, c := range pending {
		if c.Hash == hash {
			return i
		}
	}
	return -1
}

// commitHash computes a provisional hash from the commit's reads and
// operations, the same domain-separated canonical-JSON hashing idiom
// used for entity identity (internal/value/identity.go).
func commitHash(ops []Operation, confirmedReads []ConfirmedRead, pendingReads []PendingRead) string {
	opsValue := make(value.Array, 0, len(ops))
	for _, op := range ops {
		entry := value.Object{
			"op": value.String(op.Kind),
			"id": value.String(op.ID),
		}
		if op.Value != nil {
			entry["value"] = op.Value
		}
		opsValue = append(opsValue, entry)
	}

	confirmedValue := make(value.Array, 0, len(confirmedReads))
	for _, cr := range confirmedReads {
		confirmedValue = append(confirmedValue, value.Object{
			"id":      value.String(cr.ID),
			"version": value.Number(cr.Version),
		})
	}

	pendingValue := make(value.Array, 0, len(pendingReads))
	for _, pr := range pendingReads {
		pendingValue = append(pendingValue, value.Object{
			"id":         value.String(pr.ID),
			"fromCommit": value.String(pr.FromCommit),
		})
	}

	payload := value.Object{
		"operations": opsValue,
		"reads": value.Object{
			"confirmed": confirmedValue,
			"pending":   pendingValue,
		},
	}

	canonical, err := value.MarshalCanonical(payload)
	if err != nil {
		// Operations and reads are always built from well-formed Value
		// trees above; MarshalCanonical only fails on unrepresentable
		// inputs, which cannot occur here.
		panic("replica: unreachable canonicalization failure: " + err.Error())
	}

	h := sha256.New()
	h.Write([]byte("weave/commit/v1"))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
