// Package kvdb provides pooled, write-serialised access to an embedded
// SQLite key/value store.
//
// Many goroutines share a small number of connections to one database
// file. Writes are serialised by a pool-wide write lock; reads run
// concurrently with a writer when the file is in WAL mode. A connection
// is never physically closed while it owns an open transaction.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                            Registry                              │
//	│            canonical path ──▶ *Database (ref counted)            │
//	└───────────────────────────────┬──────────────────────────────────┘
//	                                │ one per path
//	┌───────────────────────────────▼──────────────────────────────────┐
//	│                              Pool                                │
//	│   Owner ──▶ *Connection   (≤ MaxConnections)     WriteLock (1)   │
//	└───────────────────────────────┬──────────────────────────────────┘
//	                                │
//	┌───────────────────────────────▼──────────────────────────────────┐
//	│   Connection: TxState (Idle | ReadActive | WriteActive),         │
//	│               pending close, database.Handle                     │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Owners
//
// Go has no goroutine identity, so a connection is bound to an explicit
// Owner key instead. Asking the pool twice with the same Owner returns
// the same Connection, reopened in place if it was closed.
//
// # Lock order
//
// Pool lock before connection lock, never the reverse. The read
// admission check only touches a leaf lock, so a connection may consult
// it while holding its own lock. The registry lock is independent.
//
// # Usage
//
//	db, err := kvdb.Open(ctx, kvdb.Config{Dir: "/var/lib/kvstore"})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	err = db.Update(ctx, kvdb.NewOwner(), func(c *kvdb.Connection) error {
//	    if err := c.PutString(ctx, "a", "1"); err != nil {
//	        return err
//	    }
//	    return c.PutString(ctx, "b", "2")
//	})
package kvdb
