package kvdb

import "errors"

// Domain errors for the kvdb package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, kvdb.ErrWriteLockTimeout) {
//	    // back off and retry
//	}
var (
	// ErrOpen is returned when the physical open or schema bootstrap fails.
	ErrOpen = errors.New("kvdb: open failed")

	// ErrPoolExhausted is returned when the pool is at its connection ceiling.
	ErrPoolExhausted = errors.New("kvdb: connection pool exhausted")

	// ErrNestedTransaction is returned when a transaction is begun on a
	// connection that already has one active.
	ErrNestedTransaction = errors.New("kvdb: nested transaction")

	// ErrConnectionClosing is returned for transaction operations after
	// a deferred close has been requested.
	ErrConnectionClosing = errors.New("kvdb: connection is closing")

	// ErrConnectionClosed is returned for operations on a physically
	// closed connection.
	ErrConnectionClosed = errors.New("kvdb: connection closed")

	// ErrWriteLockTimeout is returned when the write lock could not be
	// acquired within the configured timeout.
	ErrWriteLockTimeout = errors.New("kvdb: write lock timeout")

	// ErrWriteLockNotHeld is returned when releasing a write lock that
	// nobody holds.
	ErrWriteLockNotHeld = errors.New("kvdb: write lock not held")

	// ErrReadBlocked is returned when a read transaction is refused
	// because a writer is active and the file is not in WAL mode.
	ErrReadBlocked = errors.New("kvdb: read blocked by active writer")

	// ErrNoTransaction is returned when ending a transaction that is not active.
	ErrNoTransaction = errors.New("kvdb: no active transaction")

	// ErrEngine wraps any failure reported by the storage engine.
	ErrEngine = errors.New("kvdb: engine error")

	// ErrInvalidArgument is returned for an empty key or a missing value.
	ErrInvalidArgument = errors.New("kvdb: invalid argument")

	// ErrValueType is returned when a stored value cannot be decoded as
	// the requested type.
	ErrValueType = errors.New("kvdb: stored value has the wrong type")

	// ErrKeyNotFound is returned when getting a key that is not stored.
	ErrKeyNotFound = errors.New("kvdb: key not found")

	// ErrDatabaseClosed is returned when using a database after its last
	// reference was closed.
	ErrDatabaseClosed = errors.New("kvdb: database closed")
)

// IsRetryable reports whether err signals contention rather than misuse.
// Pool exhaustion, write lock timeouts and blocked reads may succeed
// when retried with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, ErrWriteLockTimeout) ||
		errors.Is(err, ErrReadBlocked)
}
