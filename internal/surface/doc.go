// Package surface coordinates the single positioned, modal interaction surface
// (create, edit or view) the annotator shows at any time.
//
// # Contract
//
// Coordinator.Open returns a Handle that settles exactly once: resolved with
// the value a controller closes the surface with, or rejected with the reason
// it was dismissed. Every variant goes through the same contract, so callers
// only ever distinguish "got a value" from "did not".
//
// # Single flight
//
// At most one surface is active. Opening a surface while another one is
// active, or while an earlier Open is still fetching its template, rejects
// the older handle with ErrSuperseded before the new surface is built. Each
// Open takes a generation number; a template fetch whose generation is no
// longer current drops its markup instead of constructing a second surface.
//
// # Construction
//
//  1. The template is fetched on its own goroutine (the only suspension point).
//  2. Under the coordinator lock: an isolated Scope is created, the payload
//     and the Instance are bound into the kind's controller, the markup is
//     mounted at the requested position, and the instance becomes active.
//
// Close and Dismiss settle the handle and then tear down the mounted subtree
// and the scope unconditionally, even when nobody observes the result.
package surface
