package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JeffJna/instant-meeting-insights/internal/alert"
	"github.com/JeffJna/instant-meeting-insights/internal/audio"
	"github.com/JeffJna/instant-meeting-insights/internal/capture"
	"github.com/JeffJna/instant-meeting-insights/internal/config"
	"github.com/JeffJna/instant-meeting-insights/internal/device"
	"github.com/JeffJna/instant-meeting-insights/internal/events"
	"github.com/JeffJna/instant-meeting-insights/internal/metrics"
	"github.com/JeffJna/instant-meeting-insights/internal/stream"
	"github.com/JeffJna/instant-meeting-insights/internal/summary"
	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
	"github.com/JeffJna/instant-meeting-insights/internal/transcription"
)

type scriptedBackend struct {
	results chan transcription.Result
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Transcribe(ctx context.Context, frames <-chan audio.Frame) (<-chan transcription.Result, error) {
	go func() {
		for range frames {
		}
	}()
	return b.results, nil
}

type testAPI struct {
	server  *httptest.Server
	log     *transcript.Log
	rules   *alert.Registry
	bus     *events.Bus
	backend *scriptedBackend
	config  *config.Config
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func createTestAPI(t *testing.T) *testAPI {
	t.Helper()

	dir := t.TempDir()
	wav, err := audio.EncodeWAV(make([]int16, 1600), 16000)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sala.wav"), wav, 0o644); err != nil {
		t.Fatalf("Failed to write WAV: %v", err)
	}

	logger := newTestLogger()
	cfg := config.Default()
	cfg.Capture.WAVDir = dir
	cfg.Transcription.APIKey = "sk-transcription-secret"
	cfg.Summary.APIKey = "sk-summary-secret"
	cfg.Summary.OutputDir = filepath.Join(dir, "atas")

	registry := device.NewRegistry(device.NewWAVFileBackend(dir, device.WAVFileOptions{FramesPerBuffer: 160, Loop: true, Logger: logger}), logger)
	promRegistry := prometheus.NewRegistry()
	m := metrics.NewMetrics(promRegistry)
	bus := events.NewBus(64, 64, logger)
	log := transcript.NewLog()
	rules := alert.NewRegistry(logger)
	engine := alert.NewEngine(rules, alert.EngineConfig{Logger: logger})
	engine.Attach(log)
	stream.PublishRuleChanges(rules, bus, m)

	backend := &scriptedBackend{results: make(chan transcription.Result, 16)}
	manager, err := stream.NewManager(stream.ManagerConfig{
		Capture:    capture.NewController(registry, 160, logger),
		Log:        log,
		NewBackend: func(string) (transcription.Backend, error) { return backend, nil },
		Bus:        bus,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	h, err := NewHTTPServer(cfg.HTTP, logger, Dependencies{
		Config:     cfg,
		Devices:    registry,
		Streams:    manager,
		Log:        log,
		Rules:      rules,
		Engine:     engine,
		Summarizer: &summary.Template{Rules: rules.List},
		Bus:        bus,
		Metrics:    m,
		Gatherer:   promRegistry,
	})
	if err != nil {
		t.Fatalf("NewHTTPServer failed: %v", err)
	}

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		h.hub.closeAll()
		srv.Close()
		manager.Shutdown()
	})

	return &testAPI{server: srv, log: log, rules: rules, bus: bus, backend: backend, config: cfg}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, a.server.URL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]interface{}
	if len(raw) > 0 {
		json.Unmarshal(raw, &decoded)
	}
	return resp.StatusCode, decoded
}

func TestNewHTTPServerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPServer(config.HTTPConfig{}, nil, Dependencies{}); err == nil {
		t.Error("Expected error for missing dependencies")
	}
}

func TestRootAndHealth(t *testing.T) {
	api := createTestAPI(t)

	status, body := api.do(t, http.MethodGet, "/", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	endpoints, ok := body["endpoints"].(map[string]interface{})
	if !ok || endpoints["GET /events"] == nil {
		t.Errorf("Expected endpoint documentation, got %v", body)
	}

	status, body = api.do(t, http.MethodGet, "/health", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body["status"])
	}

	status, _ = api.do(t, http.MethodGet, "/nope", nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", status)
	}
}

func TestAlertRuleEndpoints(t *testing.T) {
	api := createTestAPI(t)

	status, body := api.do(t, http.MethodPost, "/alerts", map[string]interface{}{
		"keyword": "prazo", "priority": "medium",
	})
	if status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", status, body)
	}
	id, _ := body["id"].(string)
	if id == "" || body["priority"] != "medium" || body["sound_enabled"] != true {
		t.Errorf("Unexpected rule %v", body)
	}

	tests := []struct {
		name   string
		body   map[string]interface{}
		status int
	}{
		{"duplicate keyword", map[string]interface{}{"keyword": "PRAZO", "priority": "high"}, http.StatusConflict},
		{"empty keyword", map[string]interface{}{"keyword": "   ", "priority": "high"}, http.StatusBadRequest},
		{"invalid priority", map[string]interface{}{"keyword": "decisão", "priority": "urgent"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := api.do(t, http.MethodPost, "/alerts", tt.body)
			if status != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, status)
			}
		})
	}
	if api.rules.Len() != 1 {
		t.Errorf("Rejected adds must not change the registry, got %d rules", api.rules.Len())
	}

	status, body = api.do(t, http.MethodPatch, "/alerts/"+id, map[string]interface{}{
		"priority": "high", "sound_enabled": false,
	})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", status, body)
	}
	if body["priority"] != "high" || body["sound_enabled"] != false {
		t.Errorf("Update not applied: %v", body)
	}

	status, _ = api.do(t, http.MethodPatch, "/alerts/missing", map[string]interface{}{"priority": "low"})
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown rule, got %d", status)
	}
	status, _ = api.do(t, http.MethodPatch, "/alerts/"+id, map[string]interface{}{})
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty update, got %d", status)
	}

	status, body = api.do(t, http.MethodGet, "/alerts", nil)
	if status != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("Expected one rule, got %d %v", status, body)
	}

	status, _ = api.do(t, http.MethodDelete, "/alerts/"+id, nil)
	if status != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", status)
	}
	status, _ = api.do(t, http.MethodDelete, "/alerts/"+id, nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", status)
	}
}

func TestSessionEndpoints(t *testing.T) {
	api := createTestAPI(t)

	status, body := api.do(t, http.MethodGet, "/devices", nil)
	if status != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("Expected one device, got %d %v", status, body)
	}

	status, _ = api.do(t, http.MethodPost, "/session/start", map[string]interface{}{})
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 without device_id, got %d", status)
	}

	status, body = api.do(t, http.MethodPost, "/session/start", map[string]interface{}{"device_id": "sala.wav"})
	if status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", status, body)
	}
	if body["state"] != "active" {
		t.Errorf("Expected active session, got %v", body["state"])
	}

	status, _ = api.do(t, http.MethodPost, "/session/start", map[string]interface{}{"device_id": "sala.wav"})
	if status != http.StatusConflict {
		t.Errorf("Expected 409 while active, got %d", status)
	}

	api.backend.results <- transcription.Result{UtteranceID: "u1", Text: "Vamos revisar o orçamento.", Final: true}
	deadline := time.Now().Add(2 * time.Second)
	for api.log.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	status, body = api.do(t, http.MethodGet, "/transcript", nil)
	if status != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("Expected one segment, got %d %v", status, body)
	}

	status, _ = api.do(t, http.MethodDelete, "/transcript", nil)
	if status != http.StatusConflict {
		t.Errorf("Expected 409 clearing an active session, got %d", status)
	}

	status, body = api.do(t, http.MethodPost, "/session/stop", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", status, body)
	}
	if sess, _ := body["session"].(map[string]interface{}); sess["state"] != "idle" {
		t.Errorf("Expected idle after stop, got %v", body["session"])
	}

	status, _ = api.do(t, http.MethodDelete, "/transcript", nil)
	if status != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", status)
	}
	if api.log.Len() != 0 {
		t.Errorf("Expected empty transcript, got %d segments", api.log.Len())
	}
}

func TestStartUnknownDevice(t *testing.T) {
	api := createTestAPI(t)

	if status, _ := api.do(t, http.MethodGet, "/devices", nil); status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	status, _ := api.do(t, http.MethodPost, "/session/start", map[string]interface{}{"device_id": "ghost.wav"})
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown device, got %d", status)
	}

	_, body := api.do(t, http.MethodGet, "/session", nil)
	if sess, _ := body["session"].(map[string]interface{}); sess["state"] != "failed" {
		t.Errorf("Expected failed session, got %v", body["session"])
	}
}

func TestSummaryEndpoint(t *testing.T) {
	api := createTestAPI(t)

	status, _ := api.do(t, http.MethodPost, "/summary", nil)
	if status != http.StatusConflict {
		t.Errorf("Expected 409 for empty transcript, got %d", status)
	}
	status, _ = api.do(t, http.MethodGet, "/summary", nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 before any summary, got %d", status)
	}

	if _, err := api.rules.Add("decisão", alert.High); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.Local)
	for i, text := range []string{"Bom dia a todos.", "Precisamos de uma decisão hoje."} {
		seg := transcript.Segment{
			ID:        fmt.Sprintf("s%d", i),
			Text:      text,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Status:    transcript.Final,
		}
		if err := api.log.Append(seg); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	status, body := api.do(t, http.MethodPost, "/summary", map[string]interface{}{"export": true})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", status, body)
	}
	doc, _ := body["document"].(map[string]interface{})
	markdown, _ := doc["markdown"].(string)
	if !strings.Contains(markdown, "decisão") {
		t.Errorf("Expected keyword in minutes, got %q", markdown)
	}

	path, _ := body["path"].(string)
	if filepath.Dir(path) != api.config.Summary.OutputDir {
		t.Errorf("Expected export under %s, got %s", api.config.Summary.OutputDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Exported file missing: %v", err)
	}

	status, _ = api.do(t, http.MethodGet, "/summary", nil)
	if status != http.StatusOK {
		t.Errorf("Expected last summary, got %d", status)
	}
}

func TestConfigOmitsSecrets(t *testing.T) {
	api := createTestAPI(t)

	resp, err := http.Get(api.server.URL + "/config")
	if err != nil {
		t.Fatalf("GET /config failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	for _, secret := range []string{"sk-transcription-secret", "sk-summary-secret"} {
		if strings.Contains(string(raw), secret) {
			t.Errorf("Config response leaks %s", secret)
		}
	}
}

func TestStatsAndMetrics(t *testing.T) {
	api := createTestAPI(t)

	status, body := api.do(t, http.MethodGet, "/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if body["engine"] == nil {
		t.Error("Expected engine stats")
	}

	resp, err := http.Get(api.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "insights_http_requests_total") {
		t.Error("Expected HTTP request counter in metrics output")
	}
}

func TestEventsWebSocket(t *testing.T) {
	api := createTestAPI(t)

	url := "ws" + strings.TrimPrefix(api.server.URL, "http") + "/events?types=rule.changed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for api.bus.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := api.rules.Add("orçamento", alert.Medium); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e struct {
		Type string `json:"type"`
		Data struct {
			Kind string `json:"kind"`
			Rule struct {
				Keyword string `json:"keyword"`
			} `json:"rule"`
		} `json:"data"`
	}
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if e.Type != string(events.RuleChanged) || e.Data.Kind != "rule.added" || e.Data.Rule.Keyword != "orçamento" {
		t.Errorf("Unexpected event %+v", e)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"busy", capture.ErrSessionBusy, http.StatusConflict},
		{"duplicate", fmt.Errorf("add: %w", alert.ErrDuplicateKeyword), http.StatusConflict},
		{"session active", stream.ErrSessionActive, http.StatusConflict},
		{"empty keyword", alert.ErrEmptyKeyword, http.StatusBadRequest},
		{"permission", device.ErrPermissionDenied, http.StatusForbidden},
		{"permission at start", &capture.CaptureStartError{Reason: "open", Err: device.ErrPermissionDenied}, http.StatusForbidden},
		{"unknown rule", alert.ErrRuleNotFound, http.StatusNotFound},
		{"unknown device", &capture.CaptureStartError{Reason: "lookup", Err: device.ErrUnknownDevice}, http.StatusNotFound},
		{"capture failure", &capture.CaptureStartError{Reason: "open", Err: errors.New("device busy")}, http.StatusBadGateway},
		{"interrupted", &transcript.InterruptedError{Err: errors.New("dial")}, http.StatusBadGateway},
		{"summarization", &summary.SummarizationFailedError{Backend: "openai", Err: errors.New("timeout")}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}
