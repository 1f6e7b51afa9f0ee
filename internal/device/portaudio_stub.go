//go:build !portaudio

package device

import (
	"context"
	"log/slog"
)

// PortAudioBackend is unavailable without the portaudio build tag.
type PortAudioBackend struct{}

// NewPortAudioBackend reports ErrBackendUnavailable; build with
// -tags portaudio to capture from host devices.
func NewPortAudioBackend(framesPerBuffer int, logger *slog.Logger) (*PortAudioBackend, error) {
	return nil, ErrBackendUnavailable
}

func (b *PortAudioBackend) Name() string { return "portaudio" }

func (b *PortAudioBackend) PermissionGranted(ctx context.Context) (bool, error) {
	return false, ErrBackendUnavailable
}

func (b *PortAudioBackend) RequestPermission(ctx context.Context) (bool, error) {
	return false, ErrBackendUnavailable
}

func (b *PortAudioBackend) Devices(ctx context.Context) ([]Device, error) {
	return nil, ErrBackendUnavailable
}

func (b *PortAudioBackend) Open(ctx context.Context, dev Device, opts StreamOptions) (Stream, error) {
	return nil, ErrBackendUnavailable
}
