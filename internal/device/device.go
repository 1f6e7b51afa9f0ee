package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/JeffJna/instant-meeting-insights/internal/audio"
)

// Device is an audio input as reported by a backend. Identity is ID.
type Device struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// StreamOptions are the requested capture settings. Signal processing
// toggles are always sent explicitly.
type StreamOptions struct {
	SampleRate       int
	FramesPerBuffer  int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Settings are the capture settings a stream actually applied.
type Settings struct {
	SampleRate       int  `json:"sample_rate"`
	Channels         int  `json:"channels"`
	EchoCancellation bool `json:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression"`
	AutoGainControl  bool `json:"auto_gain_control"`
}

// Processed reports whether any signal processing is active.
func (s Settings) Processed() bool {
	return s.EchoCancellation || s.NoiseSuppression || s.AutoGainControl
}

// Stream is an open capture stream. Frames is closed when the stream ends,
// either through Close or because the device failed; Err then reports the
// failure, or nil. Close is idempotent and releases the device.
type Stream interface {
	Frames() <-chan audio.Frame
	Settings() Settings
	Err() error
	Close() error
}

// Backend is a platform audio API.
type Backend interface {
	Name() string
	PermissionGranted(ctx context.Context) (bool, error)
	RequestPermission(ctx context.Context) (bool, error)
	Devices(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, dev Device, opts StreamOptions) (Stream, error)
}

var (
	ErrPermissionDenied   = errors.New("audio capture permission denied")
	ErrBackendUnavailable = errors.New("audio backend not available in this build")
	ErrUnknownDevice      = errors.New("device not in latest enumeration")
)

// EnumerationError wraps a backend failure to list devices.
type EnumerationError struct {
	Backend string
	Err     error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumerate %s devices: %v", e.Backend, e.Err)
}

func (e *EnumerationError) Unwrap() error {
	return e.Err
}
