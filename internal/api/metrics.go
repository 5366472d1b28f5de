package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/nerrad567/kvstore/internal/kvdb"
)

// StatsResponse is the body of /api/v1/stats.
type StatsResponse struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Database      DatabaseStats  `json:"database"`
	Runtime       RuntimeMetrics `json:"runtime"`
}

// DatabaseStats describes the served database and its pool.
type DatabaseStats struct {
	Path   string         `json:"path"`
	Driver string         `json:"driver"`
	Pool   kvdb.PoolStats `json:"pool"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, StatsResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Database: DatabaseStats{
			Path:   s.db.Path(),
			Driver: string(s.db.Config().Driver),
			Pool:   s.db.Stats(),
		},
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
	})
}

// handlePrometheus writes the database series followed by the process-wide
// set (HTTP counters, Go runtime and process metrics).
func (s *Server) handlePrometheus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.db.WritePrometheus(w)
	metrics.WritePrometheus(w, true)
}
