package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// fullScaleRMS is the RMS energy scored as certain speech.
const fullScaleRMS = 3000.0

// defaultSmoothing is the weight of the newest window in the running level.
const defaultSmoothing = 0.6

// Decision is the detector's verdict on one window.
type Decision struct {
	Probability float32 `json:"probability"`
	HasVoice    bool    `json:"has_voice"`
	// Confidence is the distance from the threshold, scaled to 0..1.
	Confidence float32 `json:"confidence"`
	Window     int     `json:"window"`
}

// Stats summarizes what a detector has seen since the last Reset.
type Stats struct {
	Windows     uint64  `json:"windows"`
	Voiced      uint64  `json:"voiced"`
	SpeechRatio float64 `json:"speech_ratio"`
}

// Detector scores fixed-size PCM windows by RMS energy, smoothed across
// windows so single clicks do not open an utterance.
type Detector struct {
	threshold  float32
	windowSize int
	sampleRate int
	smoothing  float32

	mu      sync.Mutex
	level   float32
	windows uint64
	voiced  uint64
}

// New creates a detector for windows of windowSize samples at sampleRate.
// threshold is the smoothed level, 0..1, at which a window counts as speech.
func New(threshold float32, windowSize, sampleRate int) (*Detector, error) {
	switch {
	case threshold < 0 || threshold > 1:
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	case windowSize <= 0:
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	case sampleRate <= 0:
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	return &Detector{
		threshold:  threshold,
		windowSize: windowSize,
		sampleRate: sampleRate,
		smoothing:  defaultSmoothing,
	}, nil
}

// Detect scores one window.
func (d *Detector) Detect(window []int16) (Decision, error) {
	if len(window) != d.windowSize {
		return Decision{}, fmt.Errorf("expected %d samples, got %d", d.windowSize, len(window))
	}
	level := rmsLevel(window)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.windows > 0 {
		level = d.smoothing*level + (1-d.smoothing)*d.level
	}
	d.level = level

	voiced := level >= d.threshold
	d.windows++
	if voiced {
		d.voiced++
	}

	distance := float32(math.Abs(float64(level - d.threshold)))
	return Decision{
		Probability: level,
		HasVoice:    voiced,
		Confidence:  min(distance, 0.5) * 2,
		Window:      int(d.windows - 1),
	}, nil
}

// rmsLevel maps a window's RMS energy onto 0..1.
func rmsLevel(window []int16) float32 {
	var sum float64
	for _, s := range window {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(window)))
	return float32(min(rms/fullScaleRMS, 1))
}

func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{Windows: d.windows, Voiced: d.voiced}
	if d.windows > 0 {
		s.SpeechRatio = float64(d.voiced) / float64(d.windows)
	}
	return s
}

// Reset forgets the smoothed level and the counters.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.level = 0
	d.windows = 0
	d.voiced = 0
}

func (d *Detector) WindowSize() int { return d.windowSize }

// WindowDuration is the audio length of one window.
func (d *Detector) WindowDuration() time.Duration {
	return time.Duration(d.windowSize) * time.Second / time.Duration(d.sampleRate)
}
