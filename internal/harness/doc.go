// Package harness provides conformance testing for the annotation lifecycle.
//
// The harness runs scripted sessions against a real engine over an
// in-memory document, then checks the final state, the exported model and
// the journaled trace.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: create_edit_view
//	description: "Select, confirm, save a note, then delete it"
//	document: "hello brave new world"
//	model:                       # optional initial model
//	  - id: 7
//	    quote: brave
//	    ranges: [{start: "/", startOffset: 6, end: "/", endOffset: 11}]
//	options:
//	  edit_cancel: idle          # or view (default)
//	fail_templates: [edit]       # optional
//	steps:
//	  - action: select
//	    ranges: [[0, 5]]
//	    at: {x: 10, y: 20}
//	  - action: confirm
//	  - action: save
//	    fields: {text: "a note"}
//	assertions:
//	  - type: state
//	    state: viewing
//	  - type: trace_order
//	    kinds: [select, confirm, register, save]
//
// # Step Actions
//
//   - select: completes a selection over ranges at a pointer position
//   - confirm, cancel: resolve or dismiss the active surface
//   - save: writes fields into the edit surface's working copy and saves it
//   - edit, delete: the view surface's two intents
//   - hover, leave: pointer enters or leaves an annotation's highlight
//   - render: re-hydrates the store from the model
//
// # Assertion Types
//
//   - state: the final lifecycle state
//   - surface: the active surface kind, or "none"
//   - export_count: the number of exported annotations
//   - export_contains: an exported annotation matching id, quote and fields
//   - trace_order: journal entry kinds appear in the given order
//   - trace_count: a journal entry kind appears exactly N times
//
// # Deterministic Testing
//
// Every scenario runs with a deterministic logical clock, sequential session
// tokens and an in-memory journal, so the same scenario always produces the
// same trace. Snapshots are compared against testdata/golden with goldie.
package harness
