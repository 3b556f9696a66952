// Package store holds the authoritative in-memory collection of annotations.
//
// The store assigns ids, merges edits into existing entries and notifies
// subscribers after every successful update. It never persists anything;
// the bound model decides what happens to the exported collection.
//
// # Invariants
//
//   - Every stored annotation's ID equals its key.
//   - Ids are strictly increasing within a store and never reused, including
//     after bulk imports that carry their own ids.
//   - Update never creates entries: an unknown id is a no-op that returns the
//     input unchanged and notifies nobody.
//   - Export returns deep copies ordered by id with the local flag cleared;
//     callers can mutate them freely.
//
// # Concurrency
//
// All methods are safe for concurrent use. Update callbacks run synchronously
// in subscription order on the caller's goroutine, after the store lock has
// been released, so a callback may call Export.
package store
