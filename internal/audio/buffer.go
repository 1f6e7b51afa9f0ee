package audio

import (
	"fmt"
	"sync"
)

// Buffer accumulates captured samples and hands them out as fixed-size,
// non-overlapping windows for VAD processing.
type Buffer struct {
	sampleRate int
	windowSize int

	pending []int16

	// Statistics
	totalSamples   uint64
	windowsEmitted uint64

	mu sync.Mutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	SampleRate     int    `json:"sample_rate"`
	WindowSize     int    `json:"window_size"`
	PendingSamples int    `json:"pending_samples"`
	TotalSamples   uint64 `json:"total_samples"`
	WindowsEmitted uint64 `json:"windows_emitted"`
}

// NewBuffer creates a windowing buffer
func NewBuffer(sampleRate, windowSize int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	return &Buffer{
		sampleRate: sampleRate,
		windowSize: windowSize,
		pending:    make([]int16, 0, windowSize*4),
	}, nil
}

// Write appends a frame, resampling it to the buffer's rate when needed.
func (b *Buffer) Write(frame Frame) {
	samples := frame.Samples
	if frame.SampleRate != b.sampleRate {
		samples = Resample(samples, frame.SampleRate, b.sampleRate)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, samples...)
	b.totalSamples += uint64(len(samples))
}

// Windows removes and returns every complete window currently buffered.
func (b *Buffer) Windows() [][]int16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.pending) / b.windowSize
	if n == 0 {
		return nil
	}

	windows := make([][]int16, n)
	for i := 0; i < n; i++ {
		w := make([]int16, b.windowSize)
		copy(w, b.pending[i*b.windowSize:])
		windows[i] = w
	}

	rest := copy(b.pending, b.pending[n*b.windowSize:])
	b.pending = b.pending[:rest]
	b.windowsEmitted += uint64(n)

	return windows
}

// GetStats returns buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BufferStats{
		SampleRate:     b.sampleRate,
		WindowSize:     b.windowSize,
		PendingSamples: len(b.pending),
		TotalSamples:   b.totalSamples,
		WindowsEmitted: b.windowsEmitted,
	}
}
