// Package harness provides conformance testing for weave's reactive
// document runtime: it drives the real C4/C5/C7 stack (docstore,
// reactive engine, transaction layer) against declarative scenario
// fixtures, instead of manufacturing results from the fixture's own
// expectations.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: cascade_reject
//	description: "What this scenario validates"
//	space: did:example
//	actions:
//	  - name: reviewerCount
//	    entity: proposal
//	    path: [reviewers]
//	setup:
//	  - entity: proposal
//	    path: []
//	    value: { status: open, reviewers: [] }
//	flow:
//	  - entity: proposal
//	    path: [reviewers]
//	    value: [alice]
//	assertions:
//	  - type: triggered
//	    action: reviewerCount
//	    count: 1
//	  - type: final_state
//	    entity: proposal
//	    path: [status]
//	    expect: open
//
// "entity" names are scenario-local placeholders; the harness assigns
// each a stable entity id on first reference via a FixedIDGenerator
// seeded with the scenario name, so the same scenario always resolves
// the same name to the same id.
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - triggered: verifies a named action was triggered exactly Count
//     times by the flow (reactive.Engine.DetermineTriggeredActions)
//   - trigger_order: verifies named actions were first triggered in
//     the given order
//   - final_state: reads a path within a named entity's final document
//     value and compares it against expect
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory document store and
// replica, with entity ids generated by testutil.FixedIDGenerator
// rather than value.RandomEntityID, so repeated runs produce
// byte-identical traces for golden-file comparison.
package harness
