package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ocean-Moist/rholive/internal/config"
	"github.com/Ocean-Moist/rholive/internal/metrics"
	"github.com/Ocean-Moist/rholive/internal/segment"
	"github.com/Ocean-Moist/rholive/internal/session"
	"github.com/Ocean-Moist/rholive/internal/vad"
	"github.com/Ocean-Moist/rholive/internal/worker"
)

// SegmenterInfo is the read-only view of a segmenter the API reports on
type SegmenterInfo interface {
	GetStats() segment.Stats
	VADStats() vad.ProcessorStats
	Config() segment.Config
}

// SessionInfo is the read-only view of a session runner
type SessionInfo interface {
	GetStats() session.Stats
}

// PoolInfo is the read-only view of a transcription worker pool
type PoolInfo interface {
	GetStats() worker.Stats
}

// Sources groups what the API reports on. Session and Workers may be nil.
type Sources struct {
	Segmenter SegmenterInfo
	Session   SessionInfo
	Workers   PoolInfo
	Gatherer  prometheus.Gatherer // prometheus.DefaultGatherer when nil
}

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	config  *config.Config
	sources Sources
	metrics *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, sources Sources, m *metrics.Metrics) *HTTPServer {

	if logger == nil {
		logger = slog.Default()
	}

	if sources.Gatherer == nil {
		sources.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sources:   sources,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, fmt.Sprintf("%d", cfg.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.sources.Gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the API handler, for embedding or tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Addr returns the configured listen address
func (h *HTTPServer) Addr() string {
	return h.server.Addr
}

// ListenAndServe serves until Stop is called. A clean shutdown returns nil.
func (h *HTTPServer) ListenAndServe() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	segStats := h.sources.Segmenter.GetStats()

	components := map[string]any{
		"segmenter": map[string]any{
			"status":     "running",
			"state":      segStats.State,
			"generation": segStats.Generation,
		},
	}

	if h.sources.Session != nil {
		sessionStats := h.sources.Session.GetStats()
		status := "finished"
		if sessionStats.Running {
			status = "running"
		}
		components["session"] = map[string]any{
			"status":          status,
			"turns_delivered": sessionStats.TurnsDelivered,
		}
	}

	if h.sources.Workers != nil {
		poolStats := h.sources.Workers.GetStats()
		components["transcription"] = map[string]any{
			"status":  "running",
			"workers": poolStats.Workers,
			"queued":  poolStats.Queued,
		}
	} else {
		components["transcription"] = map[string]any{
			"status": "disabled",
		}
	}

	writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "rholive-segmenter",
			"version": "1.0.0",
		},
		"components": components,
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"segmenter": h.sources.Segmenter.GetStats(),
		"vad":       h.sources.Segmenter.VADStats(),
	}

	if h.sources.Session != nil {
		stats["session"] = h.sources.Session.GetStats()
	}

	if h.sources.Workers != nil {
		stats["workers"] = h.sources.Workers.GetStats()
	}

	writeJSON(w, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	seg := h.sources.Segmenter.Config()
	precedence := make([]string, len(seg.Precedence))
	for i, reason := range seg.Precedence {
		precedence[i] = reason.String()
	}

	// Effective segmenter settings, which may differ from the file by defaulting
	sanitizedConfig := map[string]any{
		"segmenter": map[string]any{
			"open_voiced_frames": seg.OpenVoicedFrames,
			"close_silence_ms":   seg.CloseSilence.Milliseconds(),
			"max_turn_ms":        seg.MaxTurn.Milliseconds(),
			"min_clause_tokens":  seg.MinClauseTokens,
			"whisper_poll_ms":    seg.PollInterval.Milliseconds(),
			"drain_timeout_ms":   seg.DrainTimeout.Milliseconds(),
			"close_precedence":   precedence,
		},
	}

	if h.config != nil {
		sanitizedConfig["vad"] = map[string]any{
			"energy_threshold": h.config.VAD.EnergyThreshold,
		}
		sanitizedConfig["transcription"] = map[string]any{
			"backend":        h.config.Transcription.Backend,
			"model_path":     h.config.Transcription.ModelPath,
			"language":       h.config.Transcription.Language,
			"endpoint":       h.config.Transcription.Endpoint,
			"model":          h.config.Transcription.Model,
			"timeout":        h.config.Transcription.Timeout,
			"max_retries":    h.config.Transcription.MaxRetries,
			"max_concurrent": h.config.Transcription.MaxConcurrent,
			// API key is never returned
		}
		sanitizedConfig["workers"] = map[string]any{
			"count":       h.config.Workers.Count,
			"queue_size":  h.config.Workers.QueueSize,
			"job_timeout": h.config.Workers.JobTimeout,
		}
		sanitizedConfig["input"] = map[string]any{
			"path":          h.config.Input.Path,
			"format":        h.config.Input.ResolvedFormat(),
			"realtime":      h.config.Input.Realtime,
			"chunk_samples": h.config.Input.ChunkSamples,
		}
		sanitizedConfig["recorder"] = map[string]any{
			"enabled": h.config.Recorder.Enabled,
			"dir":     h.config.Recorder.Dir,
		}
		sanitizedConfig["logging"] = map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		}
	}

	writeJSON(w, sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, map[string]any{
		"service": "rholive turn segmenter",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":        "API documentation",
			"GET /health":  "Service health check",
			"GET /config":  "Effective configuration",
			"GET /stats":   "Segmenter, VAD, session and worker statistics",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
