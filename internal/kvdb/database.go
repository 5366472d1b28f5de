package kvdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nerrad567/kvstore/internal/infrastructure/database"
	_ "github.com/nerrad567/kvstore/migrations" // Registers the embedded schema
)

// Database is one open database file. It owns the connection pool for
// that file and is shared by every Open of the same path.
type Database struct {
	registry *Registry
	cfg      Config
	path     string
	pool     *Pool

	// refs and closed are guarded by registry.mu.
	refs   int
	closed bool
}

// newDatabase builds the pool and bootstraps the file.
//
// A probe connection is opened before the Database is returned so that
// open failures surface here. For writable opens the probe also takes
// the write lock, switches a new file to WAL when configured, and
// applies pending schema migrations.
func newDatabase(ctx context.Context, r *Registry, cfg Config, path string) (*Database, error) {
	db := &Database{
		registry: r,
		cfg:      cfg,
		path:     path,
		pool:     newPool(cfg, path),
	}

	isNew := !database.Exists(path)
	if err := db.bootstrap(ctx, isNew); err != nil {
		db.pool.Close() //nolint:errcheck // Reporting the bootstrap error
		return nil, err
	}

	cfg.Logger.Info("database opened",
		"path", path,
		"driver", cfg.Driver,
		"wal", db.pool.wal,
		"created", isNew && cfg.Flags.Writable(),
	)
	return db, nil
}

func (db *Database) bootstrap(ctx context.Context, isNew bool) error {
	owner := Owner("bootstrap-" + NewOwner())
	c, err := db.pool.Get(ctx, owner)
	if err != nil {
		return err
	}
	defer db.pool.Release(c) //nolint:errcheck // Probe connection

	if !db.cfg.Flags.Writable() {
		mode, err := journalMode(ctx, c, "PRAGMA journal_mode")
		if err != nil {
			return err
		}
		db.pool.wal = mode == "wal"
		return nil
	}

	if err := db.pool.AcquireWriteLockBlocking(ctx); err != nil {
		return fmt.Errorf("%w: bootstrap: %w", ErrOpen, err)
	}
	defer db.pool.ReleaseWriteLock() //nolint:errcheck // Acquired above

	// journal_mode cannot change inside a transaction, so it runs first.
	stmt := "PRAGMA journal_mode"
	if isNew && db.cfg.WAL() {
		stmt = "PRAGMA journal_mode=WAL"
	}
	mode, err := journalMode(ctx, c, stmt)
	if err != nil {
		return err
	}
	db.pool.wal = mode == "wal"

	err = c.withHandle(func(h database.Handle) error {
		return database.Migrate(ctx, h)
	})
	if err != nil {
		return fmt.Errorf("%w: migrating schema: %w", ErrOpen, err)
	}

	if isNew {
		db.cfg.Logger.Info("database bootstrapped", "path", db.path, "journal_mode", mode)
	}
	return nil
}

// journalMode runs a journal_mode pragma on c's handle. It bypasses
// Connection.Query because setting the mode writes the file header.
func journalMode(ctx context.Context, c *Connection, stmt string) (string, error) {
	var rows [][]string
	err := c.withHandle(func(h database.Handle) error {
		var err error
		rows, err = h.Query(ctx, stmt)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrOpen, stmt, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", fmt.Errorf("%w: %s returned no rows", ErrOpen, stmt)
	}
	return strings.ToLower(rows[0][0]), nil
}

// Path returns the canonical file path.
func (db *Database) Path() string { return db.path }

// Config returns the configuration the database was opened with.
func (db *Database) Config() Config { return db.cfg }

// Pool returns the connection pool.
func (db *Database) Pool() *Pool { return db.pool }

// Stats returns a snapshot of the connection pool.
func (db *Database) Stats() PoolStats { return db.pool.Stats() }

// Connection returns the connection bound to owner. The caller must
// Release it; prefer Do, View or Update, which always do.
func (db *Database) Connection(ctx context.Context, owner Owner) (*Connection, error) {
	return db.pool.Get(ctx, owner)
}

// Do acquires owner's connection, runs fn and releases the connection
// on every exit path, including panics.
func (db *Database) Do(ctx context.Context, owner Owner, fn func(c *Connection) error) (err error) {
	c, err := db.pool.Get(ctx, owner)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := db.pool.Release(c); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(c)
}

// View runs fn inside a read transaction on owner's connection.
func (db *Database) View(ctx context.Context, owner Owner, fn func(c *Connection) error) error {
	return db.Do(ctx, owner, func(c *Connection) error {
		return inTransaction(ctx, c, c.BeginRead, c.EndRead, fn)
	})
}

// Update runs fn inside a write transaction on owner's connection.
// The transaction commits if fn returns nil and rolls back otherwise.
func (db *Database) Update(ctx context.Context, owner Owner, fn func(c *Connection) error) error {
	return db.Do(ctx, owner, func(c *Connection) error {
		return inTransaction(ctx, c, c.BeginWrite, c.EndWrite, fn)
	})
}

func inTransaction(
	ctx context.Context,
	c *Connection,
	begin, end func(context.Context) error,
	fn func(c *Connection) error,
) (err error) {
	if err := begin(ctx); err != nil {
		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rbErr := c.Rollback(ctx)
		if r := recover(); r != nil {
			panic(r)
		}
		if rbErr != nil {
			err = errors.Join(err, rbErr)
		}
	}()

	if err := fn(c); err != nil {
		return err
	}
	if err := end(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

// WritePrometheus writes the database's metrics in Prometheus text format.
func (db *Database) WritePrometheus(w io.Writer) {
	db.pool.metrics.writePrometheus(w)
}

// Close drops one reference. The last Close closes the pool; the
// registry entry becomes stale and is purged on the next lookup.
func (db *Database) Close() error {
	return db.registry.release(db)
}
