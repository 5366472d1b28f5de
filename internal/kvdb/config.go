package kvdb

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nerrad567/kvstore/internal/infrastructure/database"
)

// Default configuration values.
const (
	// DefaultName is the database file name used when Config.Name is empty.
	DefaultName = "kvstore.db"

	// DefaultMaxConnections is the pool ceiling.
	DefaultMaxConnections = 5

	// DefaultWriteLockTimeout bounds BeginWrite's wait for the write lock.
	DefaultWriteLockTimeout = 3 * time.Second
)

// OpenFlags selects read-only, read/write or create semantics.
type OpenFlags = database.OpenFlags

// Open flag values, combinable with |.
const (
	OpenReadOnly  = database.OpenReadOnly
	OpenReadWrite = database.OpenReadWrite
	OpenCreate    = database.OpenCreate
	DefaultFlags  = database.DefaultFlags
)

// Opener opens one physical connection. database.Open is the default;
// tests substitute fakes.
type Opener func(ctx context.Context, cfg database.Config) (database.Handle, error)

// Config describes one database. A Database copies it on construction
// and never changes it afterwards.
type Config struct {
	// Dir is the directory holding the database file.
	Dir string

	// Name is the file name within Dir. Empty means DefaultName.
	Name string

	// Flags selects open semantics. Zero means DefaultFlags.
	Flags OpenFlags

	// WALMode switches new files to write-ahead-log journaling.
	// Nil means true.
	WALMode *bool

	// Driver selects the storage engine. Empty means database.DriverSQLite3.
	Driver database.Driver

	// MaxConnections is the pool ceiling. Zero means DefaultMaxConnections.
	MaxConnections int

	// WriteLockTimeout bounds BeginWrite. Zero means DefaultWriteLockTimeout.
	WriteLockTimeout time.Duration

	// BusyTimeout is the engine's own lock wait. Zero means
	// database.DefaultBusyTimeout.
	BusyTimeout time.Duration

	// Logger receives pool and bootstrap events. Nil discards them.
	Logger Logger

	// Observers are notified after every transaction ends.
	Observers []Observer

	// Opener opens physical connections. Nil means database.Open.
	Opener Opener
}

// Bool returns a pointer to b, for Config.WALMode.
func Bool(b bool) *bool {
	return &b
}

// withDefaults returns a copy of c with zero values replaced.
func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Flags == 0 {
		c.Flags = DefaultFlags
	}
	if c.WALMode == nil {
		c.WALMode = Bool(true)
	}
	if c.Driver == "" {
		c.Driver = database.DriverSQLite3
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.WriteLockTimeout <= 0 {
		c.WriteLockTimeout = DefaultWriteLockTimeout
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = database.DefaultBusyTimeout
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	if c.Opener == nil {
		c.Opener = database.Open
	}
	// Observers are shared with the caller's slice otherwise.
	c.Observers = append([]Observer(nil), c.Observers...)
	return c
}

// WAL reports whether new files are switched to WAL journaling.
func (c Config) WAL() bool {
	return c.WALMode == nil || *c.WALMode
}

// Path returns the canonical absolute path of the database file.
func (c Config) Path() (string, error) {
	if c.Dir == "" {
		return "", fmt.Errorf("%w: dir is required", ErrInvalidArgument)
	}
	name := c.Name
	if name == "" {
		name = DefaultName
	}
	if filepath.Base(name) != name {
		return "", fmt.Errorf("%w: name %q must not contain a path separator", ErrInvalidArgument, name)
	}

	abs, err := filepath.Abs(filepath.Join(c.Dir, name))
	if err != nil {
		return "", fmt.Errorf("%w: resolving path: %w", ErrInvalidArgument, err)
	}
	// Resolve symlinks on the directory so two spellings of one file
	// share a registry entry. A missing directory is left as is.
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(dir, filepath.Base(abs))
	}
	return abs, nil
}

// handleConfig returns the storage configuration for one connection.
func (c Config) handleConfig(path string) database.Config {
	return database.Config{
		Path:        path,
		Flags:       c.Flags,
		Driver:      c.Driver,
		BusyTimeout: c.BusyTimeout,
	}
}

// Logger defines the logging interface used by kvdb.
// *slog.Logger and logging.Logger satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
