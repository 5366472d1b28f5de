package kvdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/kvstore/internal/infrastructure/database"
)

// Transaction statements. Writers take the engine's RESERVED lock up
// front so a busy engine fails at BEGIN rather than at the first write.
const (
	beginReadStmt  = "BEGIN"
	beginWriteStmt = "BEGIN IMMEDIATE"
	commitStmt     = "COMMIT"
	rollbackStmt   = "ROLLBACK"
)

// Connection is one pooled connection bound to an Owner.
//
// Every method is safe for concurrent use; handle calls are serialised
// by the connection's mutex. A connection is meant to be used by its
// owner only.
//
// Close and Release never interrupt an open transaction. The close is
// recorded and carried out when the transaction ends.
type Connection struct {
	id    string
	owner Owner
	pool  *Pool

	// released is set once the pool drops the connection; it never reopens.
	released atomic.Bool

	mu           sync.Mutex
	handle       database.Handle // nil when physically closed
	state        TxState
	pendingClose bool
	changes      changeSet
	txStart      time.Time
	lockWait     time.Duration
}

func newConnection(p *Pool, owner Owner) *Connection {
	return &Connection{
		id:    uuid.NewString(),
		owner: owner,
		pool:  p,
	}
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string { return c.id }

// Owner returns the key the connection is bound to.
func (c *Connection) Owner() Owner { return c.owner }

// State returns the current transaction state.
func (c *Connection) State() TxState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PendingClose reports whether a close is waiting for the transaction to end.
func (c *Connection) PendingClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingClose
}

// IsOpen reports whether the physical handle is open.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// Open opens the physical handle if it is closed. A pending close is
// cancelled. Opening an open connection is a no-op.
// A released connection cannot be reopened and returns
// ErrConnectionClosed; use Pool.Get for a fresh one.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ctx)
}

func (c *Connection) openLocked(ctx context.Context) error {
	if c.released.Load() {
		return fmt.Errorf("%w: connection %s was released", ErrConnectionClosed, c.id)
	}
	c.pendingClose = false
	if c.handle != nil {
		return nil
	}

	h, err := c.pool.cfg.Opener(ctx, c.pool.cfg.handleConfig(c.pool.path))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpen, err)
	}
	c.handle = h
	c.state = Idle
	c.pool.log.Debug("connection opened", "connection_id", c.id, "owner", c.owner)
	return nil
}

// Close closes the physical handle. While a transaction is active the
// close is deferred until EndRead, EndWrite or Rollback.
// Closing a closed connection is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return nil
	}
	if c.state != Idle {
		c.pendingClose = true
		c.pool.log.Debug("connection close deferred",
			"connection_id", c.id,
			"state", c.state.String(),
		)
		return nil
	}
	return c.closeLocked()
}

// Release returns the connection to its pool: it is unbound from its
// owner and closed, deferred if a transaction is active.
func (c *Connection) Release() error {
	return c.pool.Release(c)
}

func (c *Connection) closeLocked() error {
	err := c.handle.Close()
	c.handle = nil
	c.pendingClose = false
	c.pool.log.Debug("connection closed", "connection_id", c.id, "owner", c.owner)
	if err != nil {
		return fmt.Errorf("%w: close: %w", ErrEngine, err)
	}
	return nil
}

// closeIfPendingLocked carries out a deferred close once Idle.
func (c *Connection) closeIfPendingLocked() error {
	if !c.pendingClose || c.handle == nil {
		return nil
	}
	return c.closeLocked()
}

// checkBeginLocked applies the guards shared by BeginRead and BeginWrite.
func (c *Connection) checkBeginLocked() error {
	if c.pendingClose {
		return ErrConnectionClosing
	}
	if c.handle == nil {
		return ErrConnectionClosed
	}
	if c.state != Idle {
		return fmt.Errorf("%w: connection is %s", ErrNestedTransaction, c.state)
	}
	return nil
}

// BeginRead opens a read transaction.
//
// Returns:
//   - ErrConnectionClosing: Close was requested
//   - ErrNestedTransaction: A transaction is already active
//   - ErrReadBlocked: A writer is active and the file is not in WAL mode
//   - ErrEngine: BEGIN failed; the connection stays Idle
func (c *Connection) BeginRead(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkBeginLocked(); err != nil {
		return err
	}
	if !c.pool.admitReader() {
		return ErrReadBlocked
	}
	if err := c.handle.Exec(ctx, beginReadStmt); err != nil {
		c.pool.readerDone()
		return fmt.Errorf("%w: begin read: %w", ErrEngine, err)
	}

	c.state = ReadActive
	c.txStart = time.Now()
	c.lockWait = 0
	return nil
}

// EndRead commits the read transaction. If COMMIT fails the transaction
// stays open and the caller should Rollback.
func (c *Connection) EndRead(ctx context.Context) error {
	c.mu.Lock()
	if c.state != ReadActive {
		c.mu.Unlock()
		return fmt.Errorf("%w: no read transaction", ErrNoTransaction)
	}
	if err := c.handle.Exec(ctx, commitStmt); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: end read: %w", ErrEngine, err)
	}

	event := c.finishLocked(KindRead, OutcomeCommit)
	closeErr := c.closeIfPendingLocked()
	c.mu.Unlock()

	c.pool.notify(event)
	return closeErr
}

// BeginWrite acquires the pool write lock, waiting up to the configured
// WriteLockTimeout, and opens a write transaction.
//
// The connection lock is not held while waiting for the write lock, so
// Close may run concurrently. The guards are re-checked once the lock
// is acquired and the write lock is given back if they fail.
//
// Returns:
//   - ErrConnectionClosing: Close was requested, before or during the wait
//   - ErrNestedTransaction: A transaction is already active
//   - ErrWriteLockTimeout: Another writer held the lock for the whole timeout
//   - ErrEngine: BEGIN failed; the write lock is released
func (c *Connection) BeginWrite(ctx context.Context) error {
	c.mu.Lock()
	err := c.checkBeginLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	start := time.Now()
	if err := c.pool.writeLock.Acquire(ctx, c.pool.cfg.WriteLockTimeout); err != nil {
		if errors.Is(err, ErrWriteLockTimeout) {
			c.pool.metrics.lockTimeouts.Inc()
			c.pool.log.Warn("write lock timeout",
				"connection_id", c.id,
				"owner", c.owner,
				"timeout", c.pool.cfg.WriteLockTimeout,
			)
		}
		return err
	}
	wait := time.Since(start)
	c.pool.metrics.lockWaited(wait)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkBeginLocked(); err != nil {
		c.pool.writeLock.Release() //nolint:errcheck // Acquired above
		if errors.Is(err, ErrConnectionClosed) {
			return ErrConnectionClosing
		}
		return err
	}
	if err := c.handle.Exec(ctx, beginWriteStmt); err != nil {
		c.pool.writeLock.Release() //nolint:errcheck // Acquired above
		return fmt.Errorf("%w: begin write: %w", ErrEngine, err)
	}

	c.pool.writerStarted()
	c.state = WriteActive
	c.txStart = time.Now()
	c.lockWait = wait
	c.changes = changeSet{}
	return nil
}

// EndWrite commits the write transaction and releases the write lock.
// If COMMIT fails the transaction stays open, the lock stays held and
// the caller should Rollback.
func (c *Connection) EndWrite(ctx context.Context) error {
	c.mu.Lock()
	if c.state != WriteActive {
		c.mu.Unlock()
		return fmt.Errorf("%w: no write transaction", ErrNoTransaction)
	}
	if err := c.handle.Exec(ctx, commitStmt); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: end write: %w", ErrEngine, err)
	}

	event := c.finishLocked(KindWrite, OutcomeCommit)
	closeErr := c.closeIfPendingLocked()
	c.mu.Unlock()

	c.pool.notify(event)
	return closeErr
}

// Rollback aborts the active transaction and, for writes, releases the
// write lock. The connection returns to Idle even if ROLLBACK fails so
// the write lock is never stranded.
func (c *Connection) Rollback(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return fmt.Errorf("%w: nothing to roll back", ErrNoTransaction)
	}

	var rbErr error
	if err := c.handle.Exec(ctx, rollbackStmt); err != nil {
		rbErr = fmt.Errorf("%w: rollback: %w", ErrEngine, err)
	}

	kind := KindRead
	if c.state == WriteActive {
		kind = KindWrite
	}
	event := c.finishLocked(kind, OutcomeRollback)
	closeErr := c.closeIfPendingLocked()
	c.mu.Unlock()

	c.pool.notify(event)
	return errors.Join(rbErr, closeErr)
}

// finishLocked moves the connection to Idle, releases whatever the
// transaction held and returns its event.
func (c *Connection) finishLocked(kind TxKind, outcome TxOutcome) TxEvent {
	event := TxEvent{
		Database:     c.pool.path,
		ConnectionID: c.id,
		Owner:        c.owner,
		Kind:         kind,
		Outcome:      outcome,
		LockWait:     c.lockWait,
		Duration:     time.Since(c.txStart),
		At:           time.Now().UTC(),
	}

	switch c.state {
	case ReadActive:
		c.pool.readerDone()
	case WriteActive:
		if outcome == OutcomeCommit {
			event.Changes = c.changes.list()
		}
		c.pool.writerDone()
		c.pool.writeLock.Release() //nolint:errcheck // Held since BeginWrite
	}

	c.state = Idle
	c.changes = nil
	return event
}

// Raw operations.

// withHandle runs fn under the connection lock with an open handle.
func (c *Connection) withHandle(fn func(h database.Handle) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return ErrConnectionClosed
	}
	return fn(c.handle)
}

// recordWriteLocked notes a written key. Outside a write transaction it
// returns the auto-commit event to publish.
func (c *Connection) recordWriteLocked(key string, op ChangeOp) (TxEvent, bool) {
	if c.state == WriteActive {
		c.changes[key] = op
		return TxEvent{}, false
	}
	if c.state == ReadActive {
		return TxEvent{}, false
	}
	return TxEvent{
		Database:     c.pool.path,
		ConnectionID: c.id,
		Owner:        c.owner,
		Kind:         KindAuto,
		Outcome:      OutcomeCommit,
		Changes:      []Change{{Key: key, Op: op}},
		At:           time.Now().UTC(),
	}, true
}

// Get returns the value stored under key.
// Returns ErrKeyNotFound when the key is absent.
func (c *Connection) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}

	var value []byte
	err := c.withHandle(func(h database.Handle) error {
		v, found, err := h.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("%w: get %q: %w", ErrEngine, key, err)
		}
		if !found {
			return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
		value = v
		return nil
	})
	return value, err
}

// Exists reports whether key is stored.
func (c *Connection) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}

	var found bool
	err := c.withHandle(func(h database.Handle) error {
		var err error
		_, found, err = h.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("%w: get %q: %w", ErrEngine, key, err)
		}
		return nil
	})
	return found, err
}

// Put stores value under key, replacing any previous value.
// A nil value is rejected; use an empty slice to store zero bytes.
func (c *Connection) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	if value == nil {
		return fmt.Errorf("%w: nil value for %q", ErrInvalidArgument, key)
	}
	return c.write(ctx, key, OpPut, func(h database.Handle) error {
		return h.Put(ctx, key, value)
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Connection) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	return c.write(ctx, key, OpDelete, func(h database.Handle) error {
		return h.Delete(ctx, key)
	})
}

func (c *Connection) write(ctx context.Context, key string, op ChangeOp, fn func(h database.Handle) error) error {
	c.mu.Lock()
	if c.handle == nil {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if err := fn(c.handle); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s %q: %w", ErrEngine, op, key, err)
	}
	event, auto := c.recordWriteLocked(key, op)
	c.mu.Unlock()

	if auto {
		c.pool.notify(event)
	}
	return nil
}

// Count returns the number of stored keys.
func (c *Connection) Count(ctx context.Context) (int64, error) {
	return c.CountPrefix(ctx, "")
}

// CountPrefix returns the number of stored keys starting with prefix.
func (c *Connection) CountPrefix(ctx context.Context, prefix string) (int64, error) {
	var n int64
	err := c.withHandle(func(h database.Handle) error {
		var err error
		n, err = h.Count(ctx, prefix)
		if err != nil {
			return fmt.Errorf("%w: count: %w", ErrEngine, err)
		}
		return nil
	})
	return n, err
}

// Query runs a read-only statement and returns its rows rendered as
// text. A statement that would modify the store is refused with
// ErrInvalidArgument, since it would bypass the write lock; use
// Execute inside a write transaction instead.
func (c *Connection) Query(ctx context.Context, stmt string, args ...any) ([][]string, error) {
	if stmt == "" {
		return nil, fmt.Errorf("%w: empty statement", ErrInvalidArgument)
	}

	var rows [][]string
	err := c.withHandle(func(h database.Handle) error {
		var err error
		rows, err = h.ReadQuery(ctx, stmt, args...)
		switch {
		case errors.Is(err, database.ErrWriteStatement):
			return fmt.Errorf("%w: query must not modify the store: %w", ErrInvalidArgument, err)
		case err != nil:
			return fmt.Errorf("%w: query: %w", ErrEngine, err)
		}
		return nil
	})
	return rows, err
}

// Execute runs a raw statement. Transaction control belongs to the
// Begin/End methods; issuing BEGIN or COMMIT here desynchronises the
// connection state.
func (c *Connection) Execute(ctx context.Context, stmt string, args ...any) error {
	if stmt == "" {
		return fmt.Errorf("%w: empty statement", ErrInvalidArgument)
	}
	return c.withHandle(func(h database.Handle) error {
		if err := h.Exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("%w: execute: %w", ErrEngine, err)
		}
		return nil
	})
}
