package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/config"
)

// DetectorHealth reports one detector worker with its derived drop rate.
type DetectorHealth struct {
	FramesProcessed   uint64    `json:"frames_processed"`
	FramesDropped     uint64    `json:"frames_dropped"`
	InferencesEmitted uint64    `json:"inferences_emitted"`
	DropRate          float64   `json:"drop_rate"`
	AvgLatencyMS      float64   `json:"avg_latency_ms"`
	LastSeenAt        time.Time `json:"last_seen_at"`
	Restarts          uint64    `json:"restarts"`
}

// HealthStatus is the readiness payload: overall state plus
// per-component detail.
type HealthStatus struct {
	Status          string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds   int64                     `json:"uptime_seconds"`
	StreamConnected bool                      `json:"stream_connected"`
	MQTTConnected   bool                      `json:"mqtt_connected"`
	SpeechReady     bool                      `json:"speech_ready"`
	ScanMode        bool                      `json:"scan_mode"`
	BatteryPercent  int                       `json:"battery_percent"`
	LowPower        bool                      `json:"low_power"`
	LatencyMeanMS   float64                   `json:"latency_mean_ms"`
	LatencyP95MS    float64                   `json:"latency_p95_ms"`
	Detectors       map[string]DetectorHealth `json:"detectors,omitempty"`
}

// StatusFunc produces the current health snapshot. The orchestrator
// owns the component view; the server only serves it.
type StatusFunc func() HealthStatus

// Server is the observability HTTP endpoint: liveness, readiness and
// the Prometheus scrape.
type Server struct {
	status  StatusFunc
	metrics *Metrics
	srv     *http.Server
	started time.Time
}

func NewServer(cfg config.HealthConfig, status StatusFunc, m *Metrics) *Server {
	s := &Server{
		status:  status,
		metrics: m,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.Handle("/metrics", m.Handler())

	s.srv = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves in a background goroutine and does not block.
func (s *Server) Start() {
	slog.Info("Health server starting",
		"addr", s.srv.Addr,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Health server failed", "error", err)
		}
	}()
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// LivenessHandler answers /health: the process is alive.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// ReadinessHandler answers /readiness: 200 while the pipeline can serve
// (degraded still counts), 503 when it cannot.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.status()
	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
