package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// HealthStatus is the full health report.
type HealthStatus struct {
	Status     string                            `json:"status"`
	Timestamp  time.Time                         `json:"timestamp"`
	Uptime     string                            `json:"uptime"`
	System     SystemInfo                        `json:"system"`
	Components map[string]map[string]interface{} `json:"components"`
}

// SystemInfo reports process-level runtime details.
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
}

// HealthHandler reports service health with per-component statistics.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]map[string]interface{}, len(s.statsSources))
	for name, source := range s.statsSources {
		components[name] = source.Stats()
	}

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startedAt).String(),
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			NumCPU:       runtime.NumCPU(),
		},
		Components: components,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.WithError(err).Error("Failed to encode health response")
	}
}

// LivenessHandler is the minimal liveness probe.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"alive"}`))
}
