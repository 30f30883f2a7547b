package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	Experiments   ExperimentMetrics `json:"experiments"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedMessages  uint64 `json:"dropped_messages"`
}

// ExperimentMetrics counts runs in flight in this instance.
type ExperimentMetrics struct {
	Running int `json:"running"`
}

// handleSystemMetrics returns a JSON snapshot of process health.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedMessages:  s.hub.Dropped(),
		},
		Experiments: ExperimentMetrics{
			Running: len(s.launcher.Running()),
		},
	})
}
