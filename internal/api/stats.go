package api

import (
	"net/http"
	"runtime"
	"time"
)

// statsResponse is the /stats payload: the gateway's own bus counters plus
// a handful of process-level runtime figures.
type statsResponse struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       runtimeMetrics `json:"runtime"`
	Gateway       any            `json:"gateway"`
}

type runtimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
}

// handleStats returns the gateway's liveness counters (ack timeouts, busy
// events, queue overflows) alongside process runtime figures. The gateway
// reports its queue depth as 0.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := statsResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: runtimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
		},
		Gateway: s.gw.Stats(),
	}

	writeJSON(w, http.StatusOK, resp)
}
