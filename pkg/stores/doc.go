// Package stores provides the SQLite persistence layer for the engine.
//
// One database holds three concerns:
//
//   - config_files: versioned declarative files, optimistic concurrency on
//     the version counter
//   - resources: the live compliance resources the engine reconciles, with
//     soft deletes and a flat JSON attribute map per row
//   - audit_entries: an append-only record of apply invocations
//
// SQLiteStore implements engine.FileStore, engine.ResourceStoreProvider and
// engine.AuditRecorder. Schema management uses embedded golang-migrate
// migrations; call Init then Migrate before first use.
package stores
