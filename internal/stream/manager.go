package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JeffJna/instant-meeting-insights/internal/capture"
	"github.com/JeffJna/instant-meeting-insights/internal/events"
	"github.com/JeffJna/instant-meeting-insights/internal/metrics"
	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
	"github.com/JeffJna/instant-meeting-insights/internal/transcription"
)

// BackendFactory creates the recognition backend for one capture session.
type BackendFactory func(sessionID string) (transcription.Backend, error)

// ErrSessionActive is returned by ClearTranscript while a session is running.
var ErrSessionActive = errors.New("capture session is active")

// ManagerConfig contains configuration for the stream manager
type ManagerConfig struct {
	Capture       *capture.Controller
	Log           *transcript.Log
	NewBackend    BackendFactory
	ReorderWindow time.Duration

	// Bus and Metrics are optional.
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Status describes the current pipeline.
type Status struct {
	Session   capture.Session        `json:"session"`
	Running   bool                   `json:"running"`
	Backend   string                 `json:"backend,omitempty"`
	Stream    transcript.StreamStats `json:"stream"`
	LastError string                 `json:"last_error,omitempty"`
}

// pipelineRun is one capture session bound to a transcription stream.
type pipelineRun struct {
	sessionID string
	backend   string
	stream    *transcript.Stream
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

// Manager runs the capture -> transcription -> transcript pipeline for one
// session at a time. It is the only caller of the capture controller's
// Start and Stop.
type Manager struct {
	capture       *capture.Controller
	log           *transcript.Log
	newBackend    BackendFactory
	reorderWindow time.Duration
	bus           *events.Bus
	metrics       *metrics.Metrics
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	run     *pipelineRun
	lastErr string
}

// NewManager creates a stream manager and subscribes it to capture state
// changes.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Capture == nil || config.Log == nil {
		return nil, fmt.Errorf("capture controller and transcript log are required")
	}
	if config.NewBackend == nil {
		return nil, fmt.Errorf("backend factory is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		capture:       config.Capture,
		log:           config.Log,
		newBackend:    config.NewBackend,
		reorderWindow: config.ReorderWindow,
		bus:           config.Bus,
		metrics:       config.Metrics,
		logger:        config.Logger,
		ctx:           ctx,
		cancel:        cancel,
	}
	if m.metrics != nil {
		m.metrics.SetCaptureState(capture.Idle.String())
	}
	config.Capture.Observe(m.onStateChange)
	return m, nil
}

func (m *Manager) onStateChange(change capture.StateChange) {
	if m.metrics != nil {
		m.metrics.SetCaptureState(change.To.String())
		switch change.To {
		case capture.Active:
			m.metrics.RecordSessionStarted()
		case capture.Failed:
			m.metrics.RecordSessionFailed()
		case capture.Idle:
			if !change.Session.StartedAt.IsZero() {
				m.metrics.RecordSessionEnded(change.At.Sub(change.Session.StartedAt).Seconds())
			}
		}
	}
	if m.bus != nil {
		m.bus.Publish(events.SessionState, change)
	}
}

// Start opens deviceID and starts transcribing it. Capture errors are
// returned as is (capture.ErrSessionBusy, *capture.CaptureStartError). If
// the recognition backend cannot be started the session moves to Failed
// and a *transcript.InterruptedError is returned.
func (m *Manager) Start(ctx context.Context, deviceID string) (capture.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle, err := m.capture.Start(ctx, deviceID)
	if err != nil {
		m.lastErr = err.Error()
		return m.capture.Current(), err
	}

	backend, err := m.newBackend(handle.ID())
	if err == nil {
		run, startErr := m.startRun(handle, backend)
		if startErr == nil {
			m.run = run
			m.lastErr = ""
			return m.capture.Current(), nil
		}
		err = startErr
	}

	interrupted := &transcript.InterruptedError{LastGoodTimestamp: m.log.LastTimestamp(), Err: err}
	m.capture.Fail(interrupted)
	m.lastErr = interrupted.Error()
	m.logger.Error("Failed to start transcription",
		slog.String("session_id", handle.ID()),
		slog.String("error", err.Error()),
	)
	if m.metrics != nil {
		m.metrics.RecordInterruption()
	}
	return m.capture.Current(), interrupted
}

func (m *Manager) startRun(handle *capture.Handle, backend transcription.Backend) (*pipelineRun, error) {
	runCtx, cancel := context.WithCancel(m.ctx)
	results, err := backend.Transcribe(runCtx, handle.Frames())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start %s backend: %w", backend.Name(), err)
	}

	run := &pipelineRun{
		sessionID: handle.ID(),
		backend:   backend.Name(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	run.stream = transcript.NewStream(m.log, results, transcript.StreamConfig{
		ReorderWindow: m.reorderWindow,
		Observer:      m.observer(),
		Logger:        m.logger.With(slog.String("session_id", handle.ID())),
	})

	go m.runStream(runCtx, run)

	m.logger.Info("Transcription started",
		slog.String("session_id", run.sessionID),
		slog.String("backend", run.backend),
		slog.String("device_id", handle.Device().ID),
	)
	return run, nil
}

func (m *Manager) observer() transcript.Observer {
	return transcript.Observer{
		Interim: func(seg transcript.Segment) {
			if m.metrics != nil {
				m.metrics.RecordInterim()
			}
			if m.bus != nil {
				m.bus.Publish(events.SegmentInterim, seg)
			}
		},
		Final: func(seg transcript.Segment) {
			if m.metrics != nil {
				m.metrics.RecordFinal(seg.Late, m.log.Len())
			}
			if m.bus != nil {
				m.bus.Publish(events.SegmentFinal, seg)
			}
		},
		Abandoned: func(ids []string) {
			if m.metrics != nil {
				for range ids {
					m.metrics.RecordAbandoned()
				}
			}
		},
	}
}

// runStream runs the transcript stream and fails the capture session when
// the stream ends abnormally.
func (m *Manager) runStream(ctx context.Context, run *pipelineRun) {
	defer close(run.done)

	err := run.stream.Run(ctx)
	run.err = err
	if err == nil {
		m.logger.Debug("Transcription stream ended", slog.String("session_id", run.sessionID))
		return
	}

	var interrupted *transcript.InterruptedError
	switch {
	case errors.As(err, &interrupted):
		if m.metrics != nil {
			m.metrics.RecordInterruption()
		}
		m.logger.Error("Transcription interrupted",
			slog.String("session_id", run.sessionID),
			slog.String("backend", run.backend),
			slog.String("error", err.Error()),
		)
	case errors.Is(err, transcript.ErrInvalidSegment):
		if m.metrics != nil {
			m.metrics.RecordInvalidSegment()
		}
		m.logger.Error("Transcription stopped on invalid segment",
			slog.String("session_id", run.sessionID),
			slog.String("error", err.Error()),
		)
	default:
		m.logger.Error("Transcription stream failed",
			slog.String("session_id", run.sessionID),
			slog.String("error", err.Error()),
		)
	}

	m.capture.Fail(err)
}

// Stop cancels transcription, releasing completed utterances still held for
// reordering, then releases the capture device. It is a no-op when nothing
// is running.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run := m.run; run != nil {
		run.cancel()
		<-run.done
		if run.err != nil {
			m.lastErr = run.err.Error()
		}
		stats := run.stream.Stats()
		m.logger.Info("Transcription stopped",
			slog.String("session_id", run.sessionID),
			slog.Uint64("finals", stats.Finals),
			slog.Uint64("late", stats.Late),
			slog.Uint64("abandoned", stats.Abandoned),
		)
		m.run = nil
	}

	return m.capture.Stop()
}

// Status returns the current session and stream counters.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{Session: m.capture.Current(), LastError: m.lastErr}
	if run := m.run; run != nil {
		st.Backend = run.backend
		st.Stream = run.stream.Stats()
		select {
		case <-run.done:
			if run.err != nil {
				st.LastError = run.err.Error()
			}
		default:
			st.Running = true
		}
	}
	return st
}

// ClearTranscript empties the transcript log. It is refused unless the
// capture session is Idle.
func (m *Manager) ClearTranscript() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state := m.capture.State(); state != capture.Idle {
		return fmt.Errorf("%w: session is %s", ErrSessionActive, state)
	}
	m.log.Clear()
	if m.metrics != nil {
		m.metrics.SetTranscriptLength(0)
	}
	if m.bus != nil {
		m.bus.Publish(events.TranscriptReset, nil)
	}
	m.logger.Info("Transcript cleared")
	return nil
}

// Shutdown stops the running session and cancels everything the manager
// started.
func (m *Manager) Shutdown() error {
	m.logger.Info("Stopping stream manager...")
	err := m.Stop()
	m.cancel()
	return err
}
