package kvdb

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// poolMetrics holds the Prometheus series of one database.
// Each database owns its own set so closing it drops its series.
type poolMetrics struct {
	set   *metrics.Set
	label string

	lockTimeouts *metrics.Counter
	exhausted    *metrics.Counter
	lockWait     *metrics.Histogram
}

func newPoolMetrics(path string, active func() float64) *poolMetrics {
	set := metrics.NewSet()
	label := fmt.Sprintf("db=%q", path)

	m := &poolMetrics{
		set:          set,
		label:        label,
		lockTimeouts: set.NewCounter(fmt.Sprintf("kvstore_write_lock_timeouts_total{%s}", label)),
		exhausted:    set.NewCounter(fmt.Sprintf("kvstore_pool_exhausted_total{%s}", label)),
		lockWait:     set.NewHistogram(fmt.Sprintf("kvstore_write_lock_wait_seconds{%s}", label)),
	}
	set.NewGauge(fmt.Sprintf("kvstore_pool_active_connections{%s}", label), active)
	return m
}

func (m *poolMetrics) transaction(kind TxKind, outcome TxOutcome) {
	m.set.GetOrCreateCounter(fmt.Sprintf(
		"kvstore_transactions_total{%s,kind=%q,outcome=%q}", m.label, kind, outcome,
	)).Inc()
}

func (m *poolMetrics) lockWaited(d time.Duration) {
	m.lockWait.Update(d.Seconds())
}

func (m *poolMetrics) writePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
