// Package database provides the SQLite store behind the run history and
// the audit log.
//
// The connection runs in WAL mode with a busy timeout, and the pool is
// pinned to a single connection to match SQLite's single writer. Schema
// changes are plain SQL files applied by Migrate and tracked in the
// schema_migrations table.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements and the database file is
// created with 0600 permissions.
package database
