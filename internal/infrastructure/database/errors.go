package database

import "errors"

// Domain errors for the storage boundary.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrOpen is returned when the engine cannot open the database file.
	ErrOpen = errors.New("database: open failed")

	// ErrReadOnly is returned when a read/write open lands on a file the
	// process cannot write.
	ErrReadOnly = errors.New("database: file is read-only")

	// ErrUnknownDriver is returned for a Config.Driver that is not registered.
	ErrUnknownDriver = errors.New("database: unknown driver")

	// ErrBusy is returned when the engine reports SQLITE_BUSY or SQLITE_LOCKED.
	ErrBusy = errors.New("database: busy")

	// ErrWriteStatement is returned by ReadQuery for a statement that
	// would modify the database.
	ErrWriteStatement = errors.New("database: statement is not read-only")

	// ErrClosed is returned for operations on a closed handle.
	ErrClosed = errors.New("database: handle closed")
)
