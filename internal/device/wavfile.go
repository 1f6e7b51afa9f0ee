package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JeffJna/instant-meeting-insights/internal/audio"
)

// headerProbeSize is how much of a file is read to learn its format.
const headerProbeSize = 64 * 1024

// WAVFileOptions configure the wavfile backend.
type WAVFileOptions struct {
	FramesPerBuffer int
	// Loop restarts a recording when it ends instead of closing the stream.
	Loop bool
	// Unpaced delivers frames as fast as the consumer reads them.
	Unpaced bool
	Logger  *slog.Logger
}

// WAVFileBackend exposes every .wav file in a directory as an input device.
// Recordings are replayed at their own sample rate, paced in real time.
type WAVFileBackend struct {
	dir  string
	opts WAVFileOptions
}

// NewWAVFileBackend creates a backend reading from dir.
func NewWAVFileBackend(dir string, opts WAVFileOptions) *WAVFileBackend {
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &WAVFileBackend{dir: dir, opts: opts}
}

func (b *WAVFileBackend) Name() string { return "wavfile" }

// PermissionGranted reports whether the directory can be read.
func (b *WAVFileBackend) PermissionGranted(ctx context.Context) (bool, error) {
	_, err := os.ReadDir(b.dir)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrPermission):
		return false, nil
	default:
		return false, err
	}
}

// RequestPermission cannot grant anything for a directory; it re-checks.
func (b *WAVFileBackend) RequestPermission(ctx context.Context) (bool, error) {
	return b.PermissionGranted(ctx)
}

// Devices lists readable PCM-16 WAV files in name order.
func (b *WAVFileBackend) Devices(ctx context.Context) ([]Device, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}

	devices := []Device{}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		info, err := probeWAV(filepath.Join(b.dir, e.Name()))
		if err != nil {
			b.opts.Logger.Warn("Skipping unreadable recording",
				slog.String("file", e.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		devices = append(devices, Device{
			ID:         e.Name(),
			Label:      strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			SampleRate: info.SampleRate,
			Channels:   info.Channels,
		})
	}
	return devices, nil
}

func probeWAV(path string) (*audio.WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head, err := io.ReadAll(io.LimitReader(f, headerProbeSize))
	if err != nil {
		return nil, err
	}
	_, info, err := audio.DecodeWAV(head)
	return info, err
}

// Open decodes the recording and starts replaying it.
func (b *WAVFileBackend) Open(ctx context.Context, dev Device, opts StreamOptions) (Stream, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, dev.ID))
	if err != nil {
		return nil, fmt.Errorf("open recording %s: %w", dev.ID, err)
	}
	samples, info, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode recording %s: %w", dev.ID, err)
	}

	frames := opts.FramesPerBuffer
	if frames <= 0 {
		frames = b.opts.FramesPerBuffer
	}

	s := &wavStream{
		samples:  samples,
		rate:     info.SampleRate,
		perFrame: frames,
		loop:     b.opts.Loop,
		unpaced:  b.opts.Unpaced,
		out:      make(chan audio.Frame, 8),
		done:     make(chan struct{}),
		// Replayed audio never passes through any processing stage.
		settings: Settings{SampleRate: info.SampleRate, Channels: 1},
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

type wavStream struct {
	samples  []int16
	rate     int
	perFrame int
	loop     bool
	unpaced  bool
	settings Settings

	out       chan audio.Frame
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (s *wavStream) Frames() <-chan audio.Frame { return s.out }
func (s *wavStream) Settings() Settings         { return s.settings }
func (s *wavStream) Err() error                 { return nil }

func (s *wavStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

func (s *wavStream) run() {
	defer s.wg.Done()
	defer close(s.out)

	interval := time.Duration(s.perFrame) * time.Second / time.Duration(s.rate)
	var ticker *time.Ticker
	if !s.unpaced {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	pos := 0
	for {
		if pos >= len(s.samples) {
			if !s.loop {
				return
			}
			pos = 0
		}
		end := min(pos+s.perFrame, len(s.samples))
		chunk := make([]int16, end-pos)
		copy(chunk, s.samples[pos:end])
		pos = end

		if ticker != nil {
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}

		select {
		case <-s.done:
			return
		case s.out <- audio.Frame{Samples: chunk, SampleRate: s.rate, Captured: time.Now()}:
		}
	}
}
