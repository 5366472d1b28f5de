package kvdb

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/kvstore/internal/infrastructure/database"
)

func TestPoolOwnerBinding(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, testConfig(t, database.DriverSQLite3))
	p := db.Pool()

	first, err := p.Get(ctx, "owner")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	again, err := p.Get(ctx, "owner")
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if first != again {
		t.Fatal("same owner got two connections")
	}
	if got := p.Stats().Active; got != 1 {
		t.Errorf("Active = %d, want 1", got)
	}

	t.Run("closed connection is reopened in place", func(t *testing.T) {
		if err := first.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if first.IsOpen() {
			t.Fatal("IsOpen() = true after Close")
		}

		reopened, err := p.Get(ctx, "owner")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if reopened != first {
			t.Error("closed connection was replaced instead of reopened")
		}
		if !reopened.IsOpen() {
			t.Error("IsOpen() = false after reopen")
		}
		if err := reopened.PutString(ctx, "k", "v"); err != nil {
			t.Errorf("PutString() on reopened connection error = %v", err)
		}
	})

	t.Run("empty owner", func(t *testing.T) {
		if _, err := p.Get(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Get(\"\") error = %v, want ErrInvalidArgument", err)
		}
	})

	if err := p.Release(first); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

func TestPoolCeiling(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, database.DriverZombiezen)
	cfg.MaxConnections = 2
	db := openTestDB(t, cfg)
	p := db.Pool()

	a, err := p.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get(a) error = %v", err)
	}
	if _, err := p.Get(ctx, "b"); err != nil {
		t.Fatalf("Get(b) error = %v", err)
	}

	_, err = p.Get(ctx, "c")
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Get(c) error = %v, want ErrPoolExhausted", err)
	}
	if !IsRetryable(err) {
		t.Error("pool exhaustion should be retryable")
	}

	// Bound owners are still served at the ceiling.
	if _, err := p.Get(ctx, "a"); err != nil {
		t.Errorf("Get(a) at ceiling error = %v", err)
	}

	if err := p.Release(a); err != nil {
		t.Fatalf("Release(a) error = %v", err)
	}
	c, err := p.Get(ctx, "c")
	if err != nil {
		t.Fatalf("Get(c) after release error = %v", err)
	}

	s := p.Stats()
	if s.Active != 2 || s.Max != 2 {
		t.Errorf("Stats() active/max = %d/%d, want 2/2", s.Active, s.Max)
	}
	p.Release(c) //nolint:errcheck // Test cleanup
}

func TestPoolRelease(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, testConfig(t, database.DriverSQLite3))
	p := db.Pool()

	c, err := p.Get(ctx, "once")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := c.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if c.IsOpen() {
		t.Error("idle connection not closed by Release")
	}

	// Untracked releases are no-ops.
	if err := c.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	if err := p.Release(nil); err != nil {
		t.Errorf("Release(nil) error = %v", err)
	}
	if got := p.Stats().Active; got != 0 {
		t.Errorf("Active = %d, want 0", got)
	}
}

func TestPoolReleasedConnectionStaysClosed(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, database.DriverSQLite3)
	cfg.MaxConnections = 2
	db := openTestDB(t, cfg)
	p := db.Pool()

	for i := 0; i < 5; i++ {
		c, err := p.Get(ctx, "cycle")
		if err != nil {
			t.Fatalf("Get() #%d error = %v", i, err)
		}
		if err := c.Release(); err != nil {
			t.Fatalf("Release() #%d error = %v", i, err)
		}

		if err := c.Open(ctx); !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("Open() after Release #%d error = %v, want ErrConnectionClosed", i, err)
		}
		if c.IsOpen() {
			t.Fatalf("released connection #%d reopened", i)
		}
		if err := c.BeginWrite(ctx); !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("BeginWrite() on released connection #%d error = %v, want ErrConnectionClosed", i, err)
		}
	}

	if got := p.Stats(); got.Active != 0 || got.WriteLockHeld {
		t.Errorf("Stats() = %+v, want no active connections and a free write lock", got)
	}

	// A connection released mid-transaction finishes it, then stays closed.
	c, err := p.Get(ctx, "tx")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := c.BeginWrite(ctx); err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	if err := c.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := c.PutString(ctx, "k", "v"); err != nil {
		t.Fatalf("PutString() in released transaction error = %v", err)
	}
	if err := c.EndWrite(ctx); err != nil {
		t.Fatalf("EndWrite() error = %v", err)
	}
	if err := c.Open(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Open() after deferred close error = %v, want ErrConnectionClosed", err)
	}

	// Closing the pool detaches every connection too.
	held, err := p.Get(ctx, "held")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := held.Open(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Open() after pool Close error = %v, want ErrConnectionClosed", err)
	}
}

func TestPoolWriteLockPassthrough(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, testConfig(t, database.DriverSQLite3))
	p := db.Pool()

	if err := p.AcquireWriteLock(ctx, 0); err != nil {
		t.Fatalf("AcquireWriteLock() error = %v", err)
	}
	if !p.Stats().WriteLockHeld {
		t.Error("WriteLockHeld = false")
	}
	if p.TryAcquireWriteLock() {
		t.Error("TryAcquireWriteLock() = true while held")
	}
	if err := p.ReleaseWriteLock(); err != nil {
		t.Fatalf("ReleaseWriteLock() error = %v", err)
	}
	if err := p.ReleaseWriteLock(); !errors.Is(err, ErrWriteLockNotHeld) {
		t.Errorf("ReleaseWriteLock() twice error = %v, want ErrWriteLockNotHeld", err)
	}
	if err := p.AcquireWriteLockBlocking(ctx); err != nil {
		t.Fatalf("AcquireWriteLockBlocking() error = %v", err)
	}
	p.ReleaseWriteLock() //nolint:errcheck // Test cleanup
}

func TestPoolClose(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, testConfig(t, database.DriverSQLite3))
	p := db.Pool()

	idle, err := p.Get(ctx, "idle")
	if err != nil {
		t.Fatal(err)
	}
	busy, err := p.Get(ctx, "busy")
	if err != nil {
		t.Fatal(err)
	}
	if err := busy.BeginWrite(ctx); err != nil {
		t.Fatal(err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if idle.IsOpen() {
		t.Error("idle connection still open after pool Close")
	}
	if !busy.IsOpen() || !busy.PendingClose() {
		t.Error("busy connection should stay open with a pending close")
	}
	if err := busy.EndWrite(ctx); err != nil {
		t.Fatalf("EndWrite() error = %v", err)
	}
	if busy.IsOpen() {
		t.Error("busy connection still open after its transaction ended")
	}

	if _, err := p.Get(ctx, "late"); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Get() after Close error = %v, want ErrDatabaseClosed", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
