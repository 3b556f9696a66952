// Package engine implements the annotation lifecycle orchestrator.
//
// The engine links text selection to the create surface, the highlight
// renderer, the store, and the edit/view surfaces, and keeps the bound
// external model in sync with the store.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every input is an Event on a FIFO queue; one goroutine drains it. This
// ensures:
//   - lifecycle state is never touched concurrently
//   - surface results are applied in the order they settled
//   - journal traces are reproducible
//
// Event Processing Flow:
//  1. Select/Render/PointerEnter/PointerLeave enqueue events (any goroutine)
//  2. The loop opens surfaces through the surface.Coordinator; each request
//     carries a fresh interaction token
//  3. When a surface settles, its handle enqueues a Settled event with that
//     token; settlements whose token is no longer current are ignored
//  4. Handlers advance the state machine and journal the transition
//
// States:
//
//	Idle ──selection──▶ Creating ──confirm──▶ Editing ──save──▶ Viewing
//	  ▲                    │cancel              │cancel            │ "edit"
//	  └────────────────────┘                    └──────▶ Viewing ◀─┘
//	  ▲                                                  │ "delete"/dismiss
//	  └──────────────────────────────────────────────────┘
//
// A surface that fails to construct leaves no surface behind and returns the
// machine to Idle. A superseded surface is a normal cancellation.
//
// Journal:
// Each transition is recorded with a seq from the logical Clock and the
// session token of the interaction cycle. Wall-clock time is never used for
// ordering.
package engine
