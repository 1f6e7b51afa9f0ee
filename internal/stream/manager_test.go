package stream

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JeffJna/instant-meeting-insights/internal/audio"
	"github.com/JeffJna/instant-meeting-insights/internal/capture"
	"github.com/JeffJna/instant-meeting-insights/internal/config"
	"github.com/JeffJna/instant-meeting-insights/internal/device"
	"github.com/JeffJna/instant-meeting-insights/internal/events"
	"github.com/JeffJna/instant-meeting-insights/internal/metrics"
	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
	"github.com/JeffJna/instant-meeting-insights/internal/transcription"
)

// scriptedBackend hands the test control over the results channel.
type scriptedBackend struct {
	results chan transcription.Result
	err     error
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Transcribe(ctx context.Context, frames <-chan audio.Frame) (<-chan transcription.Result, error) {
	if b.err != nil {
		return nil, b.err
	}
	go func() {
		for range frames {
		}
	}()
	return b.results, nil
}

type testRig struct {
	manager *Manager
	capture *capture.Controller
	log     *transcript.Log
	bus     *events.Bus
	metrics *metrics.Metrics
	backend *scriptedBackend
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// createTestRig builds a manager over a looping WAV file device.
func createTestRig(t *testing.T, reorder time.Duration, factoryErr error) *testRig {
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
	registry := device.NewRegistry(device.NewWAVFileBackend(dir, device.WAVFileOptions{FramesPerBuffer: 160, Loop: true, Logger: logger}), logger)
	if _, err := registry.Enumerate(context.Background()); err != nil {
		t.Fatalf("Failed to enumerate devices: %v", err)
	}

	rig := &testRig{
		capture: capture.NewController(registry, 160, logger),
		log:     transcript.NewLog(),
		bus:     events.NewBus(64, 64, logger),
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
		backend: &scriptedBackend{results: make(chan transcription.Result, 16)},
	}

	rig.manager, err = NewManager(ManagerConfig{
		Capture: rig.capture,
		Log:     rig.log,
		NewBackend: func(string) (transcription.Backend, error) {
			if factoryErr != nil {
				return nil, factoryErr
			}
			return rig.backend, nil
		},
		ReorderWindow: reorder,
		Bus:           rig.bus,
		Metrics:       rig.metrics,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { rig.manager.Shutdown() })
	return rig
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}); err == nil {
		t.Error("Expected error for missing dependencies")
	}
}

func TestStartTranscribeStop(t *testing.T) {
	rig := createTestRig(t, 0, nil)
	sub := rig.bus.Subscribe(context.Background(), false, events.SegmentFinal, events.SegmentInterim)

	session, err := rig.manager.Start(context.Background(), "sala.wav")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if session.State != capture.Active {
		t.Errorf("Expected active session, got %s", session.State)
	}
	if session.Device.Label != "sala" {
		t.Errorf("Expected device label 'sala', got '%s'", session.Device.Label)
	}

	rig.backend.results <- transcription.Result{UtteranceID: "u1", Text: "Vamos"}
	rig.backend.results <- transcription.Result{UtteranceID: "u1", Text: "Vamos revisar o orçamento.", Final: true}

	waitFor(t, "final segment", func() bool { return rig.log.Len() == 1 })

	interim := <-sub.C
	if interim.Type != events.SegmentInterim {
		t.Errorf("Expected interim event first, got %s", interim.Type)
	}
	final := <-sub.C
	if seg := final.Data.(transcript.Segment); seg.Text != "Vamos revisar o orçamento." {
		t.Errorf("Unexpected final text %q", seg.Text)
	}

	status := rig.manager.Status()
	if !status.Running || status.Backend != "scripted" || status.Stream.Finals != 1 {
		t.Errorf("Unexpected status %+v", status)
	}

	if err := rig.manager.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if rig.capture.State() != capture.Idle {
		t.Errorf("Expected idle after stop, got %s", rig.capture.State())
	}
	if got := testutil.ToFloat64(rig.metrics.SessionsStarted); got != 1 {
		t.Errorf("Expected 1 session started, got %v", got)
	}
	if got := testutil.ToFloat64(rig.metrics.SegmentsFinal); got != 1 {
		t.Errorf("Expected 1 final segment metric, got %v", got)
	}
}

func TestStartWhileActiveIsBusy(t *testing.T) {
	rig := createTestRig(t, 0, nil)

	if _, err := rig.manager.Start(context.Background(), "sala.wav"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := rig.manager.Start(context.Background(), "sala.wav"); !errors.Is(err, capture.ErrSessionBusy) {
		t.Errorf("Expected ErrSessionBusy, got %v", err)
	}
	if !rig.manager.Status().Running {
		t.Error("Existing session should keep running")
	}
}

func TestBackendErrorFailsSession(t *testing.T) {
	rig := createTestRig(t, 0, nil)

	if _, err := rig.manager.Start(context.Background(), "sala.wav"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rig.backend.results <- transcription.Result{Err: transcription.ErrDisconnected}

	waitFor(t, "failed session", func() bool { return rig.capture.State() == capture.Failed })

	status := rig.manager.Status()
	if status.Running {
		t.Error("Stream should not be running after interruption")
	}
	if status.LastError == "" {
		t.Error("Expected last error to be reported")
	}
	if got := testutil.ToFloat64(rig.metrics.Interruptions); got != 1 {
		t.Errorf("Expected 1 interruption, got %v", got)
	}

	if err := rig.manager.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if rig.capture.State() != capture.Idle {
		t.Errorf("Expected idle after stop, got %s", rig.capture.State())
	}
}

func TestBackendFactoryErrorFailsStart(t *testing.T) {
	rig := createTestRig(t, 0, errors.New("no credentials"))

	session, err := rig.manager.Start(context.Background(), "sala.wav")
	var interrupted *transcript.InterruptedError
	if !errors.As(err, &interrupted) {
		t.Fatalf("Expected InterruptedError, got %v", err)
	}
	if session.State != capture.Failed {
		t.Errorf("Expected failed session, got %s", session.State)
	}
	if err := rig.manager.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestStopFlushesHeldFinals(t *testing.T) {
	rig := createTestRig(t, time.Hour, nil)

	if _, err := rig.manager.Start(context.Background(), "sala.wav"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rig.backend.results <- transcription.Result{UtteranceID: "first", Text: "Quem será"}
	rig.backend.results <- transcription.Result{UtteranceID: "second", Text: "Qual é o prazo?", Final: true}

	waitFor(t, "both utterances seen", func() bool { return rig.manager.Status().Stream.Interims == 1 })
	time.Sleep(20 * time.Millisecond)
	if rig.log.Len() != 0 {
		t.Fatalf("Final should be held behind the open utterance, log has %d", rig.log.Len())
	}

	if err := rig.manager.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	segs := rig.log.Snapshot()
	if len(segs) != 1 || segs[0].ID != "second" {
		t.Fatalf("Expected only the completed utterance, got %+v", segs)
	}
	if got := testutil.ToFloat64(rig.metrics.SegmentsAbandoned); got != 1 {
		t.Errorf("Expected 1 abandoned utterance, got %v", got)
	}
}

func TestClearTranscriptRefusedWhileActive(t *testing.T) {
	rig := createTestRig(t, 0, nil)
	sub := rig.bus.Subscribe(context.Background(), false, events.TranscriptReset)

	if _, err := rig.manager.Start(context.Background(), "sala.wav"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rig.backend.results <- transcription.Result{UtteranceID: "u1", Text: "Olá", Final: true}
	waitFor(t, "final segment", func() bool { return rig.log.Len() == 1 })

	if err := rig.manager.ClearTranscript(); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive, got %v", err)
	}
	if rig.log.Len() != 1 {
		t.Error("Log must be untouched when clear is refused")
	}

	if err := rig.manager.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := rig.manager.ClearTranscript(); err != nil {
		t.Fatalf("ClearTranscript failed: %v", err)
	}
	if rig.log.Len() != 0 {
		t.Errorf("Expected empty log, got %d", rig.log.Len())
	}
	if e := <-sub.C; e.Type != events.TranscriptReset {
		t.Errorf("Expected reset event, got %s", e.Type)
	}
}

func TestBackendFromConfig(t *testing.T) {
	cfg := config.Default().Transcription

	tests := []struct {
		backend  string
		endpoint string
		wantName string
		wantErr  bool
	}{
		{backend: "mock", wantName: "mock"},
		{backend: "realtime", endpoint: "wss://example.invalid/v1/realtime", wantName: "realtime"},
		{backend: "http", endpoint: "http://127.0.0.1:8000/transcribe", wantName: "http"},
		{backend: "whisper.cpp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			c := cfg
			c.Backend = tt.backend
			c.Endpoint = tt.endpoint

			factory, err := BackendFromConfig(c, nil, nil)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error for unknown backend")
				}
				return
			}
			if err != nil {
				t.Fatalf("BackendFromConfig failed: %v", err)
			}

			backend, err := factory("session-1")
			if err != nil {
				t.Fatalf("Factory failed: %v", err)
			}
			if backend.Name() != tt.wantName {
				t.Errorf("Expected backend %s, got %s", tt.wantName, backend.Name())
			}
		})
	}
}
