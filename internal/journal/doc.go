// Package journal persists the orchestrator's lifecycle trace in SQLite.
//
// Every state transition the engine makes is appended as an Entry stamped
// with a logical sequence number. Entries are grouped by session: the token
// the engine issues when an interaction cycle leaves Idle. Reads are ordered
// by seq, so a session replays in the order it happened.
//
// The journal is append-only. Writing an entry whose seq already exists is a
// no-op, which makes re-recording a trace idempotent.
package journal
