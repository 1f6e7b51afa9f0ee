package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JeffJna/instant-meeting-insights/internal/alert"
	"github.com/JeffJna/instant-meeting-insights/internal/capture"
	"github.com/JeffJna/instant-meeting-insights/internal/config"
	"github.com/JeffJna/instant-meeting-insights/internal/device"
	"github.com/JeffJna/instant-meeting-insights/internal/events"
	"github.com/JeffJna/instant-meeting-insights/internal/metrics"
	"github.com/JeffJna/instant-meeting-insights/internal/stream"
	"github.com/JeffJna/instant-meeting-insights/internal/summary"
	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
)

// Version is reported by / and /health.
var Version = "dev"

// Dependencies are the components the API exposes. Dispatcher, Engine,
// Summarizer and Gatherer are optional.
type Dependencies struct {
	Config     *config.Config
	Devices    *device.Registry
	Streams    *stream.Manager
	Log        *transcript.Log
	Rules      *alert.Registry
	Engine     *alert.Engine
	Dispatcher *alert.Dispatcher
	Summarizer summary.Summarizer
	Bus        *events.Bus
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
}

// HTTPServer provides the control API, the event WebSocket and monitoring
// endpoints.
type HTTPServer struct {
	server *http.Server
	logger *slog.Logger
	deps   Dependencies
	hub    *eventHub

	// Server state
	startTime   time.Time
	mu          sync.RWMutex
	lastSummary *summary.Document
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, deps Dependencies) (*HTTPServer, error) {
	if deps.Config == nil || deps.Devices == nil || deps.Streams == nil || deps.Log == nil || deps.Rules == nil {
		return nil, fmt.Errorf("config, devices, streams, transcript log and rules are required")
	}
	if deps.Bus == nil || deps.Metrics == nil {
		return nil, fmt.Errorf("event bus and metrics are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger,
		deps:      deps,
		hub:       newEventHub(deps.Bus, deps.Metrics, logger),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// Summaries may wait on a remote model.
		WriteTimeout: deps.Config.Summary.GetTimeoutDuration() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h, nil
}

// Handler returns the routed handler, for tests and embedding.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /devices", h.withMetrics("/devices", h.handleDevices))

	// Capture session
	mux.HandleFunc("GET /session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("POST /session/start", h.withMetrics("/session/start", h.handleSessionStart))
	mux.HandleFunc("POST /session/stop", h.withMetrics("/session/stop", h.handleSessionStop))

	// Transcript
	mux.HandleFunc("GET /transcript", h.withMetrics("/transcript", h.handleTranscript))
	mux.HandleFunc("DELETE /transcript", h.withMetrics("/transcript", h.handleClearTranscript))

	// Alert rules
	mux.HandleFunc("GET /alerts", h.withMetrics("/alerts", h.handleListAlerts))
	mux.HandleFunc("POST /alerts", h.withMetrics("/alerts", h.handleAddAlert))
	mux.HandleFunc("PATCH /alerts/{id}", h.withMetrics("/alerts/{id}", h.handleUpdateAlert))
	mux.HandleFunc("DELETE /alerts/{id}", h.withMetrics("/alerts/{id}", h.handleRemoveAlert))

	mux.HandleFunc("POST /summary", h.withMetrics("/summary", h.handleSummary))
	mux.HandleFunc("GET /summary", h.withMetrics("/summary", h.handleLastSummary))

	// Live events; the connection outlives the handler metrics would measure.
	mux.HandleFunc("GET /events", h.hub.serveWS)

	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))

	gatherer := h.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
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

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server and disconnects event clients.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	h.hub.closeAll()
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes.
func (h *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.logger.Error("API request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]interface{}{
		"error":  err.Error(),
		"status": status,
	})
}

func statusFor(err error) int {
	var (
		startErr       *capture.CaptureStartError
		interruptedErr *transcript.InterruptedError
		summaryErr     *summary.SummarizationFailedError
		enumErr        *device.EnumerationError
	)
	switch {
	case errors.Is(err, capture.ErrSessionBusy),
		errors.Is(err, alert.ErrDuplicateKeyword),
		errors.Is(err, stream.ErrSessionActive),
		errors.Is(err, summary.ErrEmptyTranscript):
		return http.StatusConflict
	case errors.Is(err, alert.ErrEmptyKeyword),
		errors.Is(err, alert.ErrInvalidPriority):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, device.ErrUnknownDevice),
		errors.Is(err, alert.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.As(err, &startErr),
		errors.As(err, &interruptedErr),
		errors.As(err, &summaryErr),
		errors.As(err, &enumErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":  msg,
		"status": http.StatusBadRequest,
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.deps.Streams.Status()

	components := map[string]interface{}{
		"capture": map[string]interface{}{
			"backend": h.deps.Devices.Backend(),
			"state":   status.Session.State,
		},
		"transcription": map[string]interface{}{
			"backend": h.deps.Config.Transcription.Backend,
			"running": status.Running,
		},
		"alerts": map[string]interface{}{
			"rules": h.deps.Rules.Len(),
		},
		"events": map[string]interface{}{
			"clients": h.hub.count(),
		},
	}

	health := "healthy"
	if status.Session.State == capture.Failed {
		health = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    health,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "instant-meeting-insights",
			"version": Version,
		},
		"components": components,
	})
}

// handleDevices enumerates input devices, asking for permission if needed.
func (h *HTTPServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.deps.Devices.Enumerate(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backend": h.deps.Devices.Backend(),
		"count":   len(devices),
		"devices": devices,
	})
}

func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Streams.Status())
}

type startRequest struct {
	DeviceID string `json:"device_id"`
}

func (h *HTTPServer) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.DeviceID == "" {
		badRequest(w, "device_id is required")
		return
	}

	// The session outlives the request; the manager owns its context.
	sess, err := h.deps.Streams.Start(r.Context(), req.DeviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (h *HTTPServer) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Streams.Stop(); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Streams.Status())
}

func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	segments := h.deps.Log.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(segments),
		"segments": segments,
	})
}

func (h *HTTPServer) handleClearTranscript(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Streams.ClearTranscript(); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPServer) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	rules := h.deps.Rules.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(rules),
		"rules": rules,
	})
}

type addRuleRequest struct {
	Keyword  string `json:"keyword"`
	Priority string `json:"priority"`
	Sound    *bool  `json:"sound_enabled,omitempty"`
}

func (h *HTTPServer) handleAddAlert(w http.ResponseWriter, r *http.Request) {
	var req addRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	priority := alert.Medium
	if req.Priority != "" {
		p, err := alert.ParsePriority(req.Priority)
		if err != nil {
			h.writeError(w, err)
			return
		}
		priority = p
	}
	sound := true
	if req.Sound != nil {
		sound = *req.Sound
	}

	rule, err := h.deps.Rules.AddWithOptions(req.Keyword, priority, sound, alert.OriginManual)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

type updateRuleRequest struct {
	Priority *string `json:"priority,omitempty"`
	Sound    *bool   `json:"sound_enabled,omitempty"`
}

func (h *HTTPServer) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Priority == nil && req.Sound == nil {
		badRequest(w, "nothing to update: set priority or sound_enabled")
		return
	}

	var priority alert.Priority
	if req.Priority != nil {
		p, err := alert.ParsePriority(*req.Priority)
		if err != nil {
			h.writeError(w, err)
			return
		}
		priority = p
	}

	rule, ok := h.deps.Rules.Get(id)
	if !ok {
		h.writeError(w, fmt.Errorf("%w: %s", alert.ErrRuleNotFound, id))
		return
	}
	var err error
	if req.Priority != nil {
		if rule, err = h.deps.Rules.SetPriority(id, priority); err != nil {
			h.writeError(w, err)
			return
		}
	}
	if req.Sound != nil {
		if rule, err = h.deps.Rules.SetSoundEnabled(id, *req.Sound); err != nil {
			h.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *HTTPServer) handleRemoveAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Rules.Remove(r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type summaryRequest struct {
	// Export writes the document to the configured output directory.
	Export bool `json:"export"`
}

func (h *HTTPServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	if h.deps.Summarizer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":  "summarizer not configured",
			"status": http.StatusServiceUnavailable,
		})
		return
	}

	var req summaryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body: "+err.Error())
			return
		}
	}

	backend := h.deps.Summarizer.Name()
	doc, err := h.deps.Summarizer.Summarize(r.Context(), h.deps.Log.Snapshot())
	h.deps.Metrics.RecordSummary(backend, err == nil)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.mu.Lock()
	h.lastSummary = &doc
	h.mu.Unlock()

	response := map[string]interface{}{
		"document": doc,
	}
	if req.Export {
		path, err := summary.Export(h.deps.Config.Summary.OutputDir, doc)
		if err != nil {
			h.writeError(w, err)
			return
		}
		response["path"] = path
		h.logger.Info("Meeting minutes exported", slog.String("path", path))
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *HTTPServer) handleLastSummary(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	doc := h.lastSummary
	h.mu.RUnlock()

	if doc == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":  "no summary generated yet",
			"status": http.StatusNotFound,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"document": doc})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Config

	// API keys are never returned.
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"address": cfg.HTTP.Address,
			"port":    cfg.HTTP.Port,
		},
		"capture": map[string]interface{}{
			"backend":           cfg.Capture.Backend,
			"wav_dir":           cfg.Capture.WAVDir,
			"frames_per_buffer": cfg.Capture.FramesPerBuffer,
			"loop":              cfg.Capture.Loop,
		},
		"transcription": map[string]interface{}{
			"backend":           cfg.Transcription.Backend,
			"endpoint":          cfg.Transcription.Endpoint,
			"model":             cfg.Transcription.Model,
			"language":          cfg.Transcription.Language,
			"timeout":           cfg.Transcription.Timeout,
			"max_retries":       cfg.Transcription.MaxRetries,
			"max_concurrent":    cfg.Transcription.MaxConcurrent,
			"reorder_window_ms": cfg.Transcription.ReorderWindow,
		},
		"alerts": map[string]interface{}{
			"rules_file":          cfg.Alerts.RulesFile,
			"dispatch_queue_size": cfg.Alerts.DispatchQueueSize,
		},
		"sound": map[string]interface{}{
			"enabled": cfg.Sound.Enabled,
			"notify":  cfg.Sound.Notify,
		},
		"summary": map[string]interface{}{
			"backend":    cfg.Summary.Backend,
			"base_url":   cfg.Summary.BaseURL,
			"model":      cfg.Summary.Model,
			"output_dir": cfg.Summary.OutputDir,
		},
		"store": map[string]interface{}{
			"enabled": cfg.Store.Enabled,
			"path":    cfg.Store.Path,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	status := h.deps.Streams.Status()

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"session":   status,
		"transcript": map[string]interface{}{
			"segments": h.deps.Log.Len(),
		},
		"alerts": map[string]interface{}{
			"rules": h.deps.Rules.Len(),
		},
		"events": map[string]interface{}{
			"clients":     h.hub.count(),
			"subscribers": h.deps.Bus.Subscribers(),
		},
	}
	if h.deps.Engine != nil {
		stats["engine"] = h.deps.Engine.Stats()
	}
	if h.deps.Dispatcher != nil {
		stats["sinks"] = h.deps.Dispatcher.Stats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Instant Meeting Insights",
		"version": Version,
		"endpoints": map[string]interface{}{
			"GET /":                "API documentation",
			"GET /health":          "Service health check",
			"GET /devices":         "Enumerate audio input devices",
			"GET /session":         "Current capture session and stream counters",
			"POST /session/start":  "Start capturing a device ({\"device_id\": ...})",
			"POST /session/stop":   "Stop the capture session",
			"GET /transcript":      "Finalized transcript segments",
			"DELETE /transcript":   "Clear the transcript (session must be idle)",
			"GET /alerts":          "List keyword alert rules",
			"POST /alerts":         "Add a rule ({\"keyword\", \"priority\", \"sound_enabled\"})",
			"PATCH /alerts/{id}":   "Change a rule's priority or sound flag",
			"DELETE /alerts/{id}":  "Remove a rule",
			"POST /summary":        "Generate meeting minutes ({\"export\": true} writes the file)",
			"GET /summary":         "Last generated minutes",
			"GET /events":          "WebSocket of live events (?types=...&replay=true)",
			"GET /config":          "Service configuration without secrets",
			"GET /stats":           "Service statistics",
			"GET /metrics":         "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
