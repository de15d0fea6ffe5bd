// Package harness provides conformance testing for the chat session engine.
//
// The harness runs YAML scenarios against a real engine.Session wired to a
// fake REST API, a fake event channel, a manual clock and an in-memory
// store, then validates the final timelines and the session log.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	start_ms: 0
//	suffixes: [abc]
//	options: { media_timeout_ms: 30000 }
//	history:
//	  r1:
//	    - { id: "h1", sender: peer, body: "earlier", at_ms: -1000 }
//	steps:
//	  - op: connect
//	  - op: join
//	    room: r1
//	  - op: hold_sends
//	  - op: send_text
//	    room: r1
//	    body: hi
//	    as: hi
//	  - op: queue_send
//	    message_id: "551"
//	  - op: release_sends
//	assertions:
//	  - type: timeline
//	    room: r1
//	    ids: ["551"]
//	    states: [CONFIRMED]
//	  - type: pending
//	    count: 0
//
// A send step's "as" names the entry it creates; later steps and
// assertions refer to its provisional id as "$name", and server messages
// may echo its client token with token: "$name".
//
// # Assertion Types
//
//   - timeline: room entry ids, and optionally states, in order
//   - message: state, body or read_count of one entry
//   - pending: size of the pending set
//   - typing: peers currently typing
//   - terminated: whether the session ended
//   - signals: how often a signal fired
//   - written: event names written on the current connection
//   - trace_contains, trace_order, trace_count: the session log
//
// # Principles
//
// After every step the harness checks the properties in Principles (no
// duplicate ids, createdAt order, pending entries visible, and so on).
// A violation fails the scenario even if every assertion passes.
//
// # Deterministic Testing
//
// Durable calls run inline unless held, timers fire only when the scenario
// advances the clock, and provisional ids and tokens come from a fixed
// generator, so a scenario always produces the same timelines. Final
// timelines are compared against golden files in testdata/golden.
package harness
