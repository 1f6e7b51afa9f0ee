package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JeffJna/instant-meeting-insights/internal/audio"
	"github.com/JeffJna/instant-meeting-insights/internal/device"
)

// Handle gives the session owner access to the captured audio.
type Handle struct {
	id     string
	dev    device.Device
	frames <-chan audio.Frame
}

func (h *Handle) ID() string                 { return h.id }
func (h *Handle) Device() device.Device      { return h.dev }
func (h *Handle) Frames() <-chan audio.Frame { return h.frames }

type activeSession struct {
	session Session
	stream  device.Stream
	out     chan audio.Frame
	stop    chan struct{}
	relayed sync.WaitGroup
}

// Controller owns the single capture session. Start, Stop and Fail are
// serialized; State and Current never block.
type Controller struct {
	registry        *device.Registry
	framesPerBuffer int
	logger          *slog.Logger

	op sync.Mutex

	mu        sync.Mutex
	state     State
	active    *activeSession
	observers []func(StateChange)

	view atomic.Pointer[Session]
}

// NewController creates an idle controller opening devices from registry.
func NewController(registry *device.Registry, framesPerBuffer int, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{registry: registry, framesPerBuffer: framesPerBuffer, logger: logger}
	c.view.Store(&Session{State: Idle})
	return c
}

// Observe registers fn for every state change. Observers run synchronously
// and must not call Start, Stop or Fail.
func (c *Controller) Observe(fn func(StateChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// State returns the current state.
func (c *Controller) State() State {
	return c.view.Load().State
}

// Current returns the current or last session.
func (c *Controller) Current() Session {
	return *c.view.Load()
}

// Start opens deviceID and moves Idle -> Starting -> Active. It fails with
// ErrSessionBusy unless Idle, leaving the existing session untouched. Any
// other failure moves the session to Failed and returns *CaptureStartError.
func (c *Controller) Start(ctx context.Context, deviceID string) (*Handle, error) {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.state != Idle {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: session is %s", ErrSessionBusy, state)
	}
	a := &activeSession{session: Session{ID: uuid.NewString(), State: Starting}}
	if dev, ok := c.registry.Lookup(deviceID); ok {
		a.session.Device = dev
	} else {
		a.session.Device = device.Device{ID: deviceID}
	}
	c.active = a
	c.transitionLocked(Starting, nil)
	c.mu.Unlock()

	stream, dev, err := c.registry.Open(ctx, deviceID, device.StreamOptions{
		FramesPerBuffer:  c.framesPerBuffer,
		EchoCancellation: false,
		NoiseSuppression: false,
		AutoGainControl:  false,
	})
	if err != nil {
		return nil, c.failStart("open device", err)
	}

	settings := stream.Settings()
	if settings.Processed() {
		_ = stream.Close()
		return nil, c.failStart(fmt.Sprintf("device %s kept signal processing enabled (aec=%t ns=%t agc=%t)",
			dev.ID, settings.EchoCancellation, settings.NoiseSuppression, settings.AutoGainControl), nil)
	}

	c.mu.Lock()
	a.session.Device = dev
	a.session.Settings = settings
	a.session.StartedAt = time.Now()
	a.stream = stream
	a.out = make(chan audio.Frame, 16)
	a.stop = make(chan struct{})
	c.transitionLocked(Active, nil)
	c.mu.Unlock()

	a.relayed.Add(1)
	go c.relay(a)

	c.logger.Info("Capture session started",
		slog.String("session_id", a.session.ID),
		slog.String("device_id", dev.ID),
		slog.Int("sample_rate", settings.SampleRate),
	)
	return &Handle{id: a.session.ID, dev: dev, frames: a.out}, nil
}

func (c *Controller) failStart(reason string, err error) error {
	startErr := &CaptureStartError{Reason: reason, Err: err}
	c.mu.Lock()
	c.transitionLocked(Failed, startErr)
	c.mu.Unlock()

	c.logger.Error("Capture session failed to start", slog.String("error", startErr.Error()))
	return startErr
}

// relay forwards device frames to the handle. If the device stream ends with
// an error, an Active session moves to Failed and the stream is released.
func (c *Controller) relay(a *activeSession) {
	defer a.relayed.Done()
	defer close(a.out)

	for f := range a.stream.Frames() {
		select {
		case a.out <- f:
		case <-a.stop:
			return
		}
	}

	err := a.stream.Err()
	if err == nil {
		return
	}

	c.mu.Lock()
	if c.active == a && c.state == Active {
		c.logger.Error("Capture device failed",
			slog.String("session_id", a.session.ID),
			slog.String("error", err.Error()),
		)
		c.transitionLocked(Failed, fmt.Errorf("capture device: %w", err))
	}
	c.mu.Unlock()

	// A failed device is released right away; Stop closing it again is a no-op.
	if closeErr := a.stream.Close(); closeErr != nil {
		c.logger.Warn("Capture stream close reported an error",
			slog.String("session_id", a.session.ID),
			slog.String("error", closeErr.Error()),
		)
	}
}

// Stop releases the stream and returns to Idle. It is a no-op when Idle.
func (c *Controller) Stop() error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return nil
	}
	a := c.active
	c.transitionLocked(Stopping, nil)
	c.mu.Unlock()

	var closeErr error
	if a.stream != nil {
		close(a.stop)
		closeErr = a.stream.Close()
		a.relayed.Wait()
	}

	c.mu.Lock()
	c.transitionLocked(Idle, nil)
	c.active = nil
	c.mu.Unlock()

	if closeErr != nil {
		c.logger.Warn("Capture stream close reported an error",
			slog.String("session_id", a.session.ID),
			slog.String("error", closeErr.Error()),
		)
	}
	c.logger.Info("Capture session stopped", slog.String("session_id", a.session.ID))
	return nil
}

// Fail moves an Active session to Failed, keeping its stream until Stop.
// It reports whether a transition happened.
func (c *Controller) Fail(err error) bool {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return false
	}
	c.transitionLocked(Failed, err)
	return true
}

func (c *Controller) transitionLocked(to State, err error) {
	from := c.state
	c.state = to

	var sess Session
	if c.active != nil {
		c.active.session.State = to
		if err != nil {
			c.active.session.Error = err.Error()
		}
		sess = c.active.session
	} else {
		sess = Session{State: to}
	}
	c.view.Store(&sess)

	change := StateChange{SessionID: sess.ID, From: from, To: to, Err: err, At: time.Now(), Session: sess}
	for _, fn := range c.observers {
		fn(change)
	}
}
