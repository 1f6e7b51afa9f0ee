package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Registry enumerates devices through a backend and remembers the latest
// result, which is the only valid source of device ids for Open.
type Registry struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	granted bool
	latest  []Device
	byID    map[string]Device
}

// NewRegistry creates a registry over backend.
func NewRegistry(backend Backend, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{backend: backend, logger: logger, byID: make(map[string]Device)}
}

// Backend returns the backend name.
func (r *Registry) Backend() string {
	return r.backend.Name()
}

// Enumerate lists input devices in the order the platform reports them.
// Without a prior grant it asks for capture permission once and fails with
// ErrPermissionDenied if refused. An empty list is a valid result.
func (r *Registry) Enumerate(ctx context.Context) ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensurePermissionLocked(ctx); err != nil {
		return nil, err
	}

	devices, err := r.backend.Devices(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			r.granted = false
			return nil, err
		}
		return nil, &EnumerationError{Backend: r.backend.Name(), Err: err}
	}

	latest := make([]Device, len(devices))
	byID := make(map[string]Device, len(devices))
	for i, d := range devices {
		if d.Label == "" {
			d.Label = fallbackLabel(d.ID)
		}
		latest[i] = d
		byID[d.ID] = d
	}
	r.latest = latest
	r.byID = byID

	r.logger.Debug("Enumerated audio devices",
		slog.String("backend", r.backend.Name()),
		slog.Int("count", len(latest)),
	)

	out := make([]Device, len(latest))
	copy(out, latest)
	return out, nil
}

func (r *Registry) ensurePermissionLocked(ctx context.Context) error {
	if r.granted {
		return nil
	}

	granted, err := r.backend.PermissionGranted(ctx)
	if err != nil {
		return &EnumerationError{Backend: r.backend.Name(), Err: err}
	}
	if !granted {
		granted, err = r.backend.RequestPermission(ctx)
		if err != nil {
			return &EnumerationError{Backend: r.backend.Name(), Err: err}
		}
	}
	if !granted {
		r.logger.Warn("Audio capture permission refused", slog.String("backend", r.backend.Name()))
		return ErrPermissionDenied
	}
	r.granted = true
	return nil
}

// Latest returns the result of the last successful Enumerate.
func (r *Registry) Latest() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, len(r.latest))
	copy(out, r.latest)
	return out
}

// Lookup finds id in the latest enumeration.
func (r *Registry) Lookup(id string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	return d, ok
}

// Open opens a capture stream on a device from the latest enumeration.
func (r *Registry) Open(ctx context.Context, id string, opts StreamOptions) (Stream, Device, error) {
	dev, ok := r.Lookup(id)
	if !ok {
		return nil, Device{}, fmt.Errorf("%w: %q", ErrUnknownDevice, id)
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = dev.SampleRate
	}
	stream, err := r.backend.Open(ctx, dev, opts)
	if err != nil {
		return nil, dev, err
	}
	return stream, dev, nil
}

func fallbackLabel(id string) string {
	short := []rune(id)
	if len(short) > 5 {
		short = short[:5]
	}
	return fmt.Sprintf("Microphone %s...", string(short))
}
