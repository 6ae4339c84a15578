// Package storage persists the last notification snapshot so a restart does
// not re-alert the same pending counts. Only the latest snapshot is kept.
//
// Drivers:
//   - "file": JSON snapshot rewritten with an atomic rename
//   - "sqlite": single-row table via modernc.org/sqlite
package storage
