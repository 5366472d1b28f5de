// Package database is the storage boundary of kvstore.
//
// It exposes one physical SQLite connection as a Handle: the opaque
// capability the connection pool in package kvdb drives with raw
// statements (BEGIN, COMMIT, ROLLBACK, PRAGMA) and key/value operations
// against the kvstore table.
//
// Two engines are available and selected by Config.Driver:
//   - "sqlite3": github.com/mattn/go-sqlite3 through database/sql (cgo)
//   - "zombiezen": zombiezen.com/go/sqlite (pure Go, modernc transpile)
//
// A Handle is NOT safe for concurrent use. Callers serialise access
// (kvdb.Connection holds a mutex around every handle call).
//
// # Persisted layout
//
// The schema is created by the embedded migrations in /migrations:
//
//	CREATE TABLE kvstore (
//	    rowid  INTEGER PRIMARY KEY AUTOINCREMENT,
//	    _key   TEXT NOT NULL,
//	    _value BLOB
//	);
//	CREATE UNIQUE INDEX keyindex ON kvstore (_key);
//
// Applied migrations are recorded in schema_migrations.
//
// # Usage
//
//	h, err := database.Open(ctx, database.Config{
//	    Path:        "/var/lib/kvstore/kvstore.db",
//	    Flags:       database.DefaultFlags,
//	    Driver:      database.DriverSQLite3,
//	    BusyTimeout: 2500 * time.Millisecond,
//	})
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	if err := database.Migrate(ctx, h); err != nil {
//	    return err
//	}
package database
