//go:build portaudio

package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/JeffJna/instant-meeting-insights/internal/audio"
)

// PortAudioBackend captures from host input devices through PortAudio.
// PortAudio hands over the raw device signal, so no echo cancellation, noise
// suppression or gain control is ever applied.
type PortAudioBackend struct {
	framesPerBuffer int
	logger          *slog.Logger

	mu    sync.Mutex
	users int
}

// NewPortAudioBackend creates the PortAudio backend.
func NewPortAudioBackend(framesPerBuffer int, logger *slog.Logger) (*PortAudioBackend, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudioBackend{framesPerBuffer: framesPerBuffer, logger: logger}, nil
}

func (b *PortAudioBackend) Name() string { return "portaudio" }

// PermissionGranted is always true: PortAudio has no permission model of its
// own and the OS prompts, if at all, when the stream starts.
func (b *PortAudioBackend) PermissionGranted(ctx context.Context) (bool, error) {
	return true, nil
}

func (b *PortAudioBackend) RequestPermission(ctx context.Context) (bool, error) {
	return true, nil
}

func (b *PortAudioBackend) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.users == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio init: %w", err)
		}
	}
	b.users++
	return nil
}

func (b *PortAudioBackend) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users--
	if b.users == 0 {
		if err := portaudio.Terminate(); err != nil {
			b.logger.Warn("PortAudio terminate failed", slog.String("error", err.Error()))
		}
	}
}

func deviceID(info *portaudio.DeviceInfo) string {
	host := "default"
	if info.HostApi != nil {
		host = info.HostApi.Name
	}
	return host + "/" + info.Name
}

// Devices lists input-capable devices in host API order.
func (b *PortAudioBackend) Devices(ctx context.Context) ([]Device, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.release()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	devices := []Device{}
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		devices = append(devices, Device{
			ID:         deviceID(info),
			Label:      info.Name,
			SampleRate: int(info.DefaultSampleRate),
			Channels:   info.MaxInputChannels,
		})
	}
	return devices, nil
}

// Open captures mono PCM-16 at the requested rate, which defaults to the
// device's native rate.
func (b *PortAudioBackend) Open(ctx context.Context, dev Device, opts StreamOptions) (Stream, error) {
	if opts.EchoCancellation || opts.NoiseSuppression || opts.AutoGainControl {
		return nil, errors.New("portaudio does not provide signal processing")
	}
	if err := b.acquire(); err != nil {
		return nil, err
	}

	infos, err := portaudio.Devices()
	if err != nil {
		b.release()
		return nil, err
	}
	var info *portaudio.DeviceInfo
	for _, candidate := range infos {
		if deviceID(candidate) == dev.ID {
			info = candidate
			break
		}
	}
	if info == nil {
		b.release()
		return nil, fmt.Errorf("device %q disappeared", dev.ID)
	}

	rate := opts.SampleRate
	if rate <= 0 {
		rate = int(info.DefaultSampleRate)
	}
	frames := opts.FramesPerBuffer
	if frames <= 0 {
		frames = b.framesPerBuffer
	}

	buf := make([]int16, frames)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: 1,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: frames,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		b.release()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		b.release()
		return nil, fmt.Errorf("start stream: %w", err)
	}

	s := &paStream{
		backend:  b,
		stream:   stream,
		buf:      buf,
		rate:     rate,
		out:      make(chan audio.Frame, 32),
		settings: Settings{SampleRate: rate, Channels: 1},
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

type paStream struct {
	backend  *PortAudioBackend
	stream   *portaudio.Stream
	buf      []int16
	rate     int
	settings Settings

	out       chan audio.Frame
	stopping  atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
	dropped   atomic.Uint64

	errMu sync.Mutex
	err   error
}

func (s *paStream) Frames() <-chan audio.Frame { return s.out }
func (s *paStream) Settings() Settings         { return s.settings }

func (s *paStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *paStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stopping.Store(true)
		s.wg.Wait()
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		s.backend.release()
	})
	return err
}

func (s *paStream) run() {
	defer s.wg.Done()
	defer close(s.out)

	for !s.stopping.Load() {
		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				s.backend.logger.Debug("PortAudio input overflow")
				continue
			}
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
			return
		}

		samples := make([]int16, len(s.buf))
		copy(samples, s.buf)
		select {
		case s.out <- audio.Frame{Samples: samples, SampleRate: s.rate, Captured: time.Now()}:
		default:
			if s.dropped.Add(1)%100 == 1 {
				s.backend.logger.Warn("Capture consumer too slow, dropping frames",
					slog.Uint64("dropped", s.dropped.Load()),
				)
			}
		}
	}
}
