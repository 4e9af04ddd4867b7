// Package harness runs conformance scenarios against a live host.
//
// A scenario drives one host over an in-memory registry through caller
// operations and restart cycles. Object IDs come from a sequence generator
// ("obj-1", "obj-2", ...) and steps are numbered by a deterministic clock, so
// the same scenario always yields a byte-identical trace. Traces are compared
// against golden files in testdata/golden.
//
// # Scenario Format
//
//	name: hello_parallel
//	description: "Three chunks arrive out of order"
//	principals: [tester]        # optional; empty allows every caller
//	steps:
//	  - op: begin
//	    expect: { object: obj-1 }
//	  - op: insert
//	    object: obj-1
//	    ordinal: 2
//	    data: "lo"
//	  - op: consolidate
//	    object: obj-1
//	    expected: 3
//	    expect: { error: INCOMPLETE_UPLOAD, missing: [1] }
//	  - op: restart
//	    corrupt: [obj-1]          # damage the snapshot between save and restore
//	assertions:
//	  - type: trace_count
//	    op: insert
//	    count: 1
//	  - type: final_state
//	    key: large_objects/index
//
// Payloads are a plain string, or a mapping with exactly one of text, hex,
// repeat {byte, count} or random {size, seed}.
//
// Expect clauses use subset semantics over the step outcome, compared by
// canonical JSON. A step without an expected "error" must succeed.
package harness
