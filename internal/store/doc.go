// Package store persists nudged's per-day completion state.
//
// It currently supports:
//   - Tracked day state (which rules the user acknowledged today)
//   - Completion history (bounded retention, feeds the stats package)
//
// Backends: in-memory (persistence disabled), file (snapshot + jsonl),
// and SQLite.
package store
