package kvdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Owner identifies the holder a pooled connection is bound to.
// Requests with the same Owner share one Connection.
type Owner string

// NewOwner returns a fresh random Owner.
func NewOwner() Owner {
	return Owner(uuid.NewString())
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Active        int  `json:"active"`
	Max           int  `json:"max"`
	WriteLockHeld bool `json:"write_lock_held"`
	Writers       int  `json:"writers"`
	Readers       int  `json:"readers"`
	WAL           bool `json:"wal"`
}

// Pool hands out owner-bound connections to one database file and hosts
// its write lock.
//
// All public methods are thread-safe.
type Pool struct {
	cfg       Config
	path      string
	log       Logger
	writeLock *WriteLock
	metrics   *poolMetrics

	// wal is the journal mode the file is actually in. Set once during
	// bootstrap, before any connection is handed out.
	wal bool

	mu     sync.Mutex // Protects conns, bound, closed
	conns  map[*Connection]struct{}
	bound  map[Owner]*Connection
	closed bool

	// admit is a leaf lock guarding the transaction counters. It may be
	// taken while holding a connection lock.
	admit   sync.Mutex
	readers int
	writers int
}

// newPool creates an empty pool. cfg must already have defaults applied.
func newPool(cfg Config, path string) *Pool {
	p := &Pool{
		cfg:       cfg,
		path:      path,
		log:       cfg.Logger,
		writeLock: NewWriteLock(),
		wal:       cfg.WAL(),
		conns:     make(map[*Connection]struct{}),
		bound:     make(map[Owner]*Connection),
	}
	p.metrics = newPoolMetrics(path, func() float64 {
		return float64(p.Stats().Active)
	})
	return p
}

// Get returns the connection bound to owner.
//
// An existing binding is returned as is, reopened in place if its handle
// was closed. Otherwise a new connection is opened and bound, provided
// the pool is below its ceiling.
//
// Returns:
//   - *Connection: Open connection bound to owner
//   - error: ErrPoolExhausted, ErrDatabaseClosed, ErrInvalidArgument or ErrOpen
func (p *Pool) Get(ctx context.Context, owner Owner) (*Connection, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner", ErrInvalidArgument)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrDatabaseClosed
	}

	if c, ok := p.bound[owner]; ok {
		if c.IsOpen() {
			return c, nil
		}
		if err := c.Open(ctx); err != nil {
			return nil, err
		}
		p.log.Debug("connection reopened", "connection_id", c.id, "owner", owner)
		return c, nil
	}

	if len(p.conns) >= p.cfg.MaxConnections {
		p.metrics.exhausted.Inc()
		return nil, fmt.Errorf("%w: %d of %d in use", ErrPoolExhausted, len(p.conns), p.cfg.MaxConnections)
	}

	c := newConnection(p, owner)
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	p.conns[c] = struct{}{}
	p.bound[owner] = c

	p.log.Debug("connection acquired",
		"connection_id", c.id,
		"owner", owner,
		"active", len(p.conns),
	)
	return c, nil
}

// Release unbinds c from its owner, removes it from the pool and closes
// it. The close is deferred while c has an open transaction.
// Releasing a connection the pool does not track is a no-op.
func (p *Pool) Release(c *Connection) error {
	if c == nil {
		return nil
	}

	p.mu.Lock()
	if _, ok := p.conns[c]; !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.conns, c)
	if p.bound[c.owner] == c {
		delete(p.bound, c.owner)
	}
	c.released.Store(true)
	active := len(p.conns)
	p.mu.Unlock()

	p.log.Debug("connection released", "connection_id", c.id, "owner", c.owner, "active", active)
	return c.Close()
}

// CanProceedWithRead reports whether a read transaction may begin now.
// In WAL mode reads never wait on writers; otherwise an active writer
// excludes all readers.
func (p *Pool) CanProceedWithRead() bool {
	if p.wal {
		return true
	}
	p.admit.Lock()
	defer p.admit.Unlock()
	return p.writers == 0
}

// admitReader performs the read admission check and counts the reader
// in one step.
func (p *Pool) admitReader() bool {
	p.admit.Lock()
	defer p.admit.Unlock()
	if !p.wal && p.writers > 0 {
		return false
	}
	p.readers++
	return true
}

func (p *Pool) readerDone() {
	p.admit.Lock()
	p.readers--
	p.admit.Unlock()
}

func (p *Pool) writerStarted() {
	p.admit.Lock()
	p.writers++
	p.admit.Unlock()
}

func (p *Pool) writerDone() {
	p.admit.Lock()
	p.writers--
	p.admit.Unlock()
}

// AcquireWriteLock waits up to timeout for the pool write lock.
// Connections take it themselves in BeginWrite.
func (p *Pool) AcquireWriteLock(ctx context.Context, timeout time.Duration) error {
	return p.writeLock.Acquire(ctx, timeout)
}

// AcquireWriteLockBlocking waits for the pool write lock until ctx is done.
func (p *Pool) AcquireWriteLockBlocking(ctx context.Context) error {
	return p.writeLock.AcquireBlocking(ctx)
}

// TryAcquireWriteLock takes the pool write lock if it is free.
func (p *Pool) TryAcquireWriteLock() bool {
	return p.writeLock.TryAcquire()
}

// ReleaseWriteLock frees the pool write lock.
func (p *Pool) ReleaseWriteLock() error {
	return p.writeLock.Release()
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	active := len(p.conns)
	p.mu.Unlock()

	p.admit.Lock()
	readers, writers := p.readers, p.writers
	p.admit.Unlock()

	return PoolStats{
		Active:        active,
		Max:           p.cfg.MaxConnections,
		WriteLockHeld: p.writeLock.Held(),
		Writers:       writers,
		Readers:       readers,
		WAL:           p.wal,
	}
}

// Close closes every connection and refuses further Gets.
// Connections with open transactions close when those end.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*Connection, 0, len(p.conns))
	for c := range p.conns {
		c.released.Store(true)
		conns = append(conns, c)
	}
	p.conns = make(map[*Connection]struct{})
	p.bound = make(map[Owner]*Connection)
	p.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// notify records the transaction and hands it to observers.
// Must be called without any connection lock held.
func (p *Pool) notify(e TxEvent) {
	p.metrics.transaction(e.Kind, e.Outcome)
	for _, o := range p.cfg.Observers {
		p.observe(o, e)
	}
}

func (p *Pool) observe(o Observer, e TxEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("observer panicked", "panic", r, "connection_id", e.ConnectionID)
		}
	}()
	o.ObserveTransaction(e)
}
