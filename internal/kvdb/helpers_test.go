package kvdb

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/kvstore/internal/infrastructure/database"
)

var testDrivers = []database.Driver{database.DriverSQLite3, database.DriverZombiezen}

// forEachDriver runs fn once per storage driver.
func forEachDriver(t *testing.T, fn func(t *testing.T, driver database.Driver)) {
	t.Helper()
	for _, d := range testDrivers {
		t.Run(string(d), func(t *testing.T) {
			fn(t, d)
		})
	}
}

// testConfig returns a config for a fresh directory.
func testConfig(t *testing.T, driver database.Driver) Config {
	t.Helper()
	return Config{
		Dir:              t.TempDir(),
		Driver:           driver,
		WriteLockTimeout: 2 * time.Second,
	}
}

// openTestDB opens cfg through a private registry and closes it on cleanup.
func openTestDB(t *testing.T, cfg Config) *Database {
	t.Helper()
	db, err := NewRegistry().Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

// mustConn returns owner's connection and releases it on cleanup.
func mustConn(t *testing.T, db *Database, owner Owner) *Connection {
	t.Helper()
	c, err := db.Connection(context.Background(), owner)
	if err != nil {
		t.Fatalf("Connection(%q) error = %v", owner, err)
	}
	t.Cleanup(func() { c.Release() }) //nolint:errcheck // Test cleanup
	return c
}

// countingHandle counts physical closes.
type countingHandle struct {
	database.Handle
	closes *atomic.Int32
}

func (h countingHandle) Close() error {
	h.closes.Add(1)
	return h.Handle.Close()
}

// countingOpener wraps database.Open so closes can be observed.
func countingOpener(closes *atomic.Int32) Opener {
	return func(ctx context.Context, cfg database.Config) (database.Handle, error) {
		h, err := database.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return countingHandle{Handle: h, closes: closes}, nil
	}
}

// eventRecorder collects observer events.
type eventRecorder struct {
	events chan TxEvent
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan TxEvent, 64)}
}

func (r *eventRecorder) ObserveTransaction(e TxEvent) {
	r.events <- e
}

func (r *eventRecorder) next(t *testing.T) TxEvent {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(time.Second):
		t.Fatal("no transaction event")
		return TxEvent{}
	}
}
