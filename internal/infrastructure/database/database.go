package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Database configuration constants.
const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	// DefaultBusyTimeout is how long the engine waits on a locked file
	// before reporting SQLITE_BUSY.
	DefaultBusyTimeout = 2500 * time.Millisecond
)

// Statements shared by every driver.
const (
	getStmt        = "SELECT _value FROM kvstore WHERE _key = ?"
	putStmt        = "INSERT OR REPLACE INTO kvstore (_key, _value) VALUES (?, ?)"
	deleteStmt     = "DELETE FROM kvstore WHERE _key = ?"
	countStmt      = "SELECT COUNT(*) FROM kvstore"
	countPrefixSQL = "SELECT COUNT(*) FROM kvstore WHERE substr(_key, 1, length(?1)) = ?1"

	queryOnlyOn  = "PRAGMA query_only = ON"
	queryOnlyOff = "PRAGMA query_only = OFF"
)

// OpenFlags selects how the database file is opened.
// The bit values are part of the client API and must not change.
type OpenFlags int

const (
	// OpenReadOnly opens an existing file for reading only.
	OpenReadOnly OpenFlags = 0x001

	// OpenReadWrite opens an existing file for reading and writing.
	OpenReadWrite OpenFlags = 0x010

	// OpenCreate opens for reading and writing, creating the file if needed.
	OpenCreate OpenFlags = 0x100

	// DefaultFlags is OpenReadWrite|OpenCreate.
	DefaultFlags = OpenReadWrite | OpenCreate
)

// Has reports whether all bits of other are set.
func (f OpenFlags) Has(other OpenFlags) bool {
	return f&other == other
}

// Writable reports whether connections opened with f may write.
// OpenCreate implies read/write; otherwise OpenReadOnly wins.
func (f OpenFlags) Writable() bool {
	if f.Has(OpenCreate) {
		return true
	}
	return !f.Has(OpenReadOnly)
}

// mode returns the SQLite URI mode parameter for f.
func (f OpenFlags) mode() string {
	switch {
	case f.Has(OpenCreate):
		return "rwc"
	case f.Has(OpenReadOnly):
		return "ro"
	default:
		return "rw"
	}
}

// Driver names a storage engine implementation.
type Driver string

const (
	// DriverSQLite3 uses github.com/mattn/go-sqlite3 (cgo).
	DriverSQLite3 Driver = "sqlite3"

	// DriverZombiezen uses zombiezen.com/go/sqlite (pure Go).
	DriverZombiezen Driver = "zombiezen"
)

// Config contains the parameters for opening one physical connection.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// With OpenCreate the parent directory is created if missing.
	Path string

	// Flags selects read-only, read/write or create semantics.
	Flags OpenFlags

	// Driver selects the engine. Empty means DriverSQLite3.
	Driver Driver

	// BusyTimeout is the maximum time the engine waits for a file lock.
	// Zero means DefaultBusyTimeout.
	BusyTimeout time.Duration
}

// Handle is one open connection to the storage engine.
//
// Handles are not safe for concurrent use.
type Handle interface {
	// Exec runs a statement that returns no rows of interest
	// (BEGIN, COMMIT, PRAGMA, DDL, DML).
	Exec(ctx context.Context, stmt string, args ...any) error

	// ExecScript runs a sequence of semicolon-separated statements.
	ExecScript(ctx context.Context, script string) error

	// Get returns the value stored under key. found is false when the
	// key is absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Put inserts or replaces the value stored under key.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Count returns the number of keys starting with prefix.
	// An empty prefix counts every key.
	Count(ctx context.Context, prefix string) (int64, error)

	// Query runs a statement and returns every row with each column
	// rendered as text. NULL columns become empty strings.
	Query(ctx context.Context, stmt string, args ...any) ([][]string, error)

	// ReadQuery is Query with the connection switched to query_only for
	// the duration of the call. A statement that would modify the file
	// fails with ErrWriteStatement and changes nothing.
	ReadQuery(ctx context.Context, stmt string, args ...any) ([][]string, error)

	// Close releases the physical connection.
	Close() error
}

// opener opens a Handle for a driver.
type opener func(ctx context.Context, cfg Config) (Handle, error)

// drivers maps driver names to their openers.
var drivers = map[Driver]opener{
	DriverSQLite3:   openSQLite3,
	DriverZombiezen: openZombiezen,
}

// Open opens one physical connection with the given configuration.
//
// It performs the following setup:
//  1. Creates the database directory if OpenCreate is set
//  2. Rejects read/write opens of files the process cannot write
//  3. Opens the file through the selected driver with the busy timeout applied
//  4. Restricts file permissions to 0600 on files it created
//
// Parameters:
//   - ctx: Context for the open
//   - cfg: Connection configuration
//
// Returns:
//   - Handle: Open connection
//   - error: ErrOpen (wrapping the cause), ErrReadOnly or ErrUnknownDriver
func Open(ctx context.Context, cfg Config) (Handle, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrOpen)
	}
	if cfg.Flags == 0 {
		cfg.Flags = DefaultFlags
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite3
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = DefaultBusyTimeout
	}

	open, ok := drivers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	_, statErr := os.Stat(cfg.Path)
	existed := statErr == nil

	if cfg.Flags.Has(OpenCreate) && !existed {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("%w: creating directory: %w", ErrOpen, err)
		}
	}

	if existed && cfg.Flags.Writable() {
		if err := checkWritable(cfg.Path); err != nil {
			return nil, err
		}
	}

	h, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, cfg.Path, err)
	}

	if !existed {
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // File may only appear on first write
	}

	return h, nil
}

// Exists reports whether a database file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// checkWritable probes path for write access.
func checkWritable(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %s", ErrReadOnly, path)
		}
		return fmt.Errorf("%w: %w", ErrOpen, err)
	}
	return f.Close()
}
