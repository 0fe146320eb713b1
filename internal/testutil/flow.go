package testutil

import "github.com/weftrun/weave/internal/value"

// FixedIDGenerator produces a deterministic sequence of entity ids for
// tests, renamed and repurposed from the teacher's FixedFlowGenerator:
// where that generator always returned the same invocation flow token
// for an entire scenario, this generator advances through a fixed,
// golden-trace-stable sequence of entity ids so the same scenario run
// twice produces byte-identical ids instead of RandomEntityID's fresh
// UUIDv7 per call.
//
// Thread-safety: not safe for concurrent use; scenarios drive it from a
// single goroutine.
type FixedIDGenerator struct {
	seed string
	n    int
}

// NewFixedIDGenerator creates a generator rooted at seed. If seed is
// empty, "test-id-seed" is used.
func NewFixedIDGenerator(seed string) *FixedIDGenerator {
	if seed == "" {
		seed = "test-id-seed"
	}
	return &FixedIDGenerator{seed: seed}
}

// Next returns the next id in the sequence. The first call returns the
// id for n=1.
func (g *FixedIDGenerator) Next() value.EntityID {
	g.n++
	id, err := value.ComputeEntityID(value.String(g.seed), value.Number(g.n))
	if err != nil {
		// ComputeEntityID only fails on a Value outside the closed
		// variant; String/Number are always valid, so this is unreachable.
		panic(err)
	}
	return id
}

// Reset rewinds the generator so the next call to Next() again returns
// the id for n=1.
func (g *FixedIDGenerator) Reset() {
	g.n = 0
}
