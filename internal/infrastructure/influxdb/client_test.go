package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/kvstore/internal/infrastructure/config"
	"github.com/nerrad567/kvstore/internal/infrastructure/influxdb"
	"github.com/nerrad567/kvstore/internal/kvdb"
)

// fakeInflux answers pings and records line protocol bodies.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
	status int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/ping"):
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(r.URL.Path, "/write"):
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
		f.mu.Lock()
		f.writes = append(f.writes, string(body))
		status := f.status
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

func newServer(t *testing.T) (*fakeInflux, config.InfluxDBConfig) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "test-token",
		Org:           "kvstore",
		Bucket:        "telemetry",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, cfg config.InfluxDBConfig) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() {
		client.Close() //nolint:errcheck // Test cleanup
	})
	return client
}

func TestConnect(t *testing.T) {
	_, cfg := newServer(t)
	client := connect(t, cfg)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	client, err := influxdb.Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("expected nil client when disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(context.Background(), config.InfluxDBConfig{Enabled: true, URL: url})
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestObserveTransaction(t *testing.T) {
	fake, cfg := newServer(t)
	client := connect(t, cfg)

	client.ObserveTransaction(kvdb.TxEvent{
		Database: "/data/app.db",
		Kind:     kvdb.KindWrite,
		Outcome:  kvdb.OutcomeCommit,
		Changes:  []kvdb.Change{{Key: "a", Op: kvdb.OpPut}, {Key: "b", Op: kvdb.OpDelete}},
		LockWait: 2 * time.Millisecond,
		Duration: 5 * time.Millisecond,
		At:       time.Now(),
	})
	client.Flush()

	body := fake.body()
	for _, want := range []string{
		"kvstore_transactions,",
		"database=/data/app.db",
		"kind=write",
		"outcome=commit",
		"changes=2i",
		"lock_wait_ms=2",
		"duration_ms=5",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("line protocol %q missing %q", body, want)
		}
	}
}

func TestWritePoolStats(t *testing.T) {
	fake, cfg := newServer(t)
	client := connect(t, cfg)

	client.WritePoolStats("/data/app.db", kvdb.PoolStats{Active: 2, Max: 5, Readers: 1, WriteLockHeld: true})
	client.Flush()

	body := fake.body()
	for _, want := range []string{"kvstore_pool,database=/data/app.db", "active=2i", "max=5i", "write_lock_held=true"} {
		if !strings.Contains(body, want) {
			t.Errorf("line protocol %q missing %q", body, want)
		}
	}
}

func TestWriteErrorCallback(t *testing.T) {
	fake, cfg := newServer(t)
	fake.status = http.StatusBadRequest
	client := connect(t, cfg)

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.ObserveTransaction(kvdb.TxEvent{Database: "/data/app.db", Kind: kvdb.KindAuto, Outcome: kvdb.OutcomeCommit})
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for write error")
	}
}

func TestClose(t *testing.T) {
	_, cfg := newServer(t)
	client, err := influxdb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	// Safe after close.
	client.Flush()
	client.ObserveTransaction(kvdb.TxEvent{})
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

var _ kvdb.Observer = (*influxdb.Client)(nil)
