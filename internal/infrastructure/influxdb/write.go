package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/kvstore/internal/kvdb"
)

// Measurement names.
const (
	MeasurementTransactions = "kvstore_transactions"
	MeasurementPool         = "kvstore_pool"
)

// ObserveTransaction writes one point per finished transaction, making
// Client a kvdb.Observer. Keys are not recorded, only their count.
//
// Tags: database, kind, outcome
// Fields: changes, lock_wait_ms, duration_ms
func (c *Client) ObserveTransaction(e kvdb.TxEvent) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(transactionPoint(e))
}

func transactionPoint(e kvdb.TxEvent) *write.Point {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		MeasurementTransactions,
		map[string]string{
			"database": e.Database,
			"kind":     string(e.Kind),
			"outcome":  string(e.Outcome),
		},
		map[string]any{
			"changes":      len(e.Changes),
			"lock_wait_ms": milliseconds(e.LockWait),
			"duration_ms":  milliseconds(e.Duration),
		},
		at,
	)
}

// WritePoolStats records a snapshot of a database's connection pool.
//
// Example:
//
//	client.WritePoolStats(db.Path(), db.Stats())
func (c *Client) WritePoolStats(database string, stats kvdb.PoolStats) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(poolPoint(database, stats, time.Now()))
}

func poolPoint(database string, stats kvdb.PoolStats, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPool,
		map[string]string{"database": database},
		map[string]any{
			"active":          stats.Active,
			"max":             stats.Max,
			"readers":         stats.Readers,
			"writers":         stats.Writers,
			"write_lock_held": stats.WriteLockHeld,
		},
		at,
	)
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
