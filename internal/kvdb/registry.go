package kvdb

import (
	"context"
	"fmt"
	"sync"
)

// Registry maps canonical file paths to their open Database so that
// every Open of one path shares one pool.
//
// Entries are reference counted. When the last reference is closed the
// entry is marked stale and purged on the next lookup.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Database

	// opening holds a channel per path whose first open is in flight.
	// It is closed when that open finishes, successfully or not.
	opening map[string]chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Database),
		opening: make(map[string]chan struct{}),
	}
}

// defaultRegistry backs the package-level Open.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used by Open.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Open opens cfg's database through the process-wide registry.
func Open(ctx context.Context, cfg Config) (*Database, error) {
	return defaultRegistry.Open(ctx, cfg)
}

// Open returns the live Database for cfg's path, adding a reference,
// or opens and registers a new one.
//
// When an entry already exists its configuration wins; cfg is only
// used to resolve the path. On failure nothing is registered.
//
// Only opens of the same path wait for one another: a second Open
// arriving while the first bootstraps waits for it, then shares its
// result or, if it failed, makes its own attempt.
//
// Parameters:
//   - ctx: Context for the physical open and bootstrap
//   - cfg: Database configuration; zero fields take defaults
//
// Returns:
//   - *Database: Shared instance; call Close once per successful Open
//   - error: ErrInvalidArgument for a bad path, ErrOpen otherwise
func (r *Registry) Open(ctx context.Context, cfg Config) (*Database, error) {
	cfg = cfg.withDefaults()
	path, err := cfg.Path()
	if err != nil {
		return nil, err
	}

	for {
		r.mu.Lock()
		if db := r.lookupLocked(path); db != nil {
			db.refs++
			r.mu.Unlock()
			return db, nil
		}
		inFlight, busy := r.opening[path]
		if !busy {
			break // r.mu stays held until the in-flight mark is set
		}
		r.mu.Unlock()

		select {
		case <-inFlight:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for %s: %w", ErrOpen, path, ctx.Err())
		}
	}

	done := make(chan struct{})
	r.opening[path] = done
	r.mu.Unlock()

	db, err := newDatabase(ctx, r, cfg, path)

	r.mu.Lock()
	delete(r.opening, path)
	if err == nil {
		db.refs = 1
		r.entries[path] = db
	}
	r.mu.Unlock()
	close(done)

	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return db, nil
}

// Lookup returns the live Database registered under path, purging a
// stale entry. path must be canonical, as returned by Database.Path.
func (r *Registry) Lookup(path string) (*Database, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	db := r.lookupLocked(path)
	return db, db != nil
}

// Deregister removes path's entry whether or not it is live.
// The Database itself stays usable by its holders.
func (r *Registry) Deregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, path)
}

// Len returns the number of live entries, purging stale ones.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for path, db := range r.entries {
		if db.closed {
			delete(r.entries, path)
		}
	}
	return len(r.entries)
}

func (r *Registry) lookupLocked(path string) *Database {
	db, ok := r.entries[path]
	if !ok {
		return nil
	}
	if db.closed {
		delete(r.entries, path)
		return nil
	}
	return db
}

// release drops one reference to db and closes its pool at zero.
func (r *Registry) release(db *Database) error {
	r.mu.Lock()
	if db.closed {
		r.mu.Unlock()
		return nil
	}
	db.refs--
	if db.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	db.closed = true
	r.mu.Unlock()

	db.cfg.Logger.Info("database closed", "path", db.path)
	return db.pool.Close()
}
