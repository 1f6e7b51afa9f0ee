package audio

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JeffJna/instant-meeting-insights/internal/vad"
)

// ChunkState represents the current state of the chunking process
type ChunkState int

const (
	StateIdle ChunkState = iota
	StateCollecting
	StateWaitingSilence
)

// AudioChunk is one utterance cut from the capture stream.
type AudioChunk struct {
	ChunkID     string        `json:"chunk_id"`
	StartOffset time.Duration `json:"start_offset"` // audio time since the chunker started
	Duration    time.Duration `json:"duration"`
	SampleRate  int           `json:"sample_rate"`
	Samples     []int16       `json:"-"`
	Confidence  float32       `json:"confidence"` // average VAD confidence
	Dropped     bool          `json:"dropped"`    // closed with too little speech, no audio attached
}

// ChunkingConfig contains configuration for the chunking process
type ChunkingConfig struct {
	MinDuration        time.Duration
	MaxDuration        time.Duration
	MinSpeechDuration  time.Duration
	MinSilenceDuration time.Duration
	SampleRate         int
}

// Chunker groups VAD windows into utterance chunks. Time is measured in
// audio duration, not wall clock, so a replayed recording chunks the same
// way every time.
type Chunker struct {
	config  ChunkingConfig
	state   ChunkState
	current *AudioChunk

	position        time.Duration
	speechDuration  time.Duration
	silenceDuration time.Duration
	confidenceSum   float32
	confidenceCount int

	// Statistics
	chunksCreated uint64
	chunksDropped uint64
	totalDuration time.Duration

	mu sync.Mutex
}

// ChunkerStats represents chunker statistics
type ChunkerStats struct {
	State         string        `json:"state"`
	ChunksCreated uint64        `json:"chunks_created"`
	ChunksDropped uint64        `json:"chunks_dropped"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgChunkSize  float64       `json:"avg_chunk_duration_sec"`
}

// NewChunker creates a new audio chunker
func NewChunker(config ChunkingConfig) *Chunker {
	return &Chunker{
		config: config,
		state:  StateIdle,
	}
}

// ProcessWindow feeds one VAD-scored window. It returns the id of a chunk the
// window opened (empty if none) and a chunk the window closed (nil if none).
func (c *Chunker) ProcessWindow(window []int16, result vad.Decision) (string, *AudioChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	windowDuration := time.Duration(len(window)) * time.Second / time.Duration(c.config.SampleRate)
	defer func() { c.position += windowDuration }()

	opened := ""

	switch c.state {
	case StateIdle:
		if !result.HasVoice {
			return "", nil
		}
		c.startNewChunk()
		opened = c.current.ChunkID
		c.state = StateCollecting
		c.appendWindow(window, result, windowDuration)
		c.speechDuration += windowDuration

	case StateCollecting:
		c.appendWindow(window, result, windowDuration)
		if result.HasVoice {
			c.speechDuration += windowDuration
			c.silenceDuration = 0
		} else {
			c.silenceDuration += windowDuration
			if c.silenceDuration >= c.config.MinSilenceDuration {
				if c.speechDuration >= c.config.MinSpeechDuration && c.current.Duration >= c.config.MinDuration {
					return opened, c.finalizeChunk(false)
				}
				// Not enough speech yet; give the speaker one more silence period.
				c.state = StateWaitingSilence
				c.silenceDuration = 0
			}
		}

	case StateWaitingSilence:
		c.appendWindow(window, result, windowDuration)
		if result.HasVoice {
			c.state = StateCollecting
			c.speechDuration += windowDuration
			c.silenceDuration = 0
		} else {
			c.silenceDuration += windowDuration
			if c.silenceDuration >= c.config.MinSilenceDuration {
				dropped := c.speechDuration < c.config.MinSpeechDuration
				return opened, c.finalizeChunk(dropped)
			}
		}
	}

	if c.current != nil && c.current.Duration >= c.config.MaxDuration {
		return opened, c.finalizeChunk(false)
	}

	return opened, nil
}

// startNewChunk initializes a new chunk collection
func (c *Chunker) startNewChunk() {
	c.current = &AudioChunk{
		ChunkID:     uuid.NewString(),
		StartOffset: c.position,
		SampleRate:  c.config.SampleRate,
	}
	c.speechDuration = 0
	c.silenceDuration = 0
	c.confidenceSum = 0
	c.confidenceCount = 0
}

func (c *Chunker) appendWindow(window []int16, result vad.Decision, d time.Duration) {
	c.current.Samples = append(c.current.Samples, window...)
	c.current.Duration += d
	c.confidenceSum += result.Confidence
	c.confidenceCount++
}

// finalizeChunk closes the current chunk and resets for the next one
func (c *Chunker) finalizeChunk(dropped bool) *AudioChunk {
	chunk := c.current
	if chunk == nil {
		return nil
	}

	if c.confidenceCount > 0 {
		chunk.Confidence = c.confidenceSum / float32(c.confidenceCount)
	}

	if dropped {
		chunk.Dropped = true
		chunk.Samples = nil
		c.chunksDropped++
	} else {
		c.chunksCreated++
		c.totalDuration += chunk.Duration
	}

	c.current = nil
	c.state = StateIdle
	c.speechDuration = 0
	c.silenceDuration = 0
	c.confidenceSum = 0
	c.confidenceCount = 0

	return chunk
}

// ForceFinalize closes the chunk being collected, if any. Used when capture
// ends mid-utterance.
func (c *Chunker) ForceFinalize() *AudioChunk {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle || c.current == nil {
		return nil
	}

	return c.finalizeChunk(c.speechDuration < c.config.MinSpeechDuration)
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stateStr := "idle"
	switch c.state {
	case StateCollecting:
		stateStr = "collecting"
	case StateWaitingSilence:
		stateStr = "waiting_silence"
	}

	avgDuration := float64(0)
	if c.chunksCreated > 0 {
		avgDuration = c.totalDuration.Seconds() / float64(c.chunksCreated)
	}

	return ChunkerStats{
		State:         stateStr,
		ChunksCreated: c.chunksCreated,
		ChunksDropped: c.chunksDropped,
		TotalDuration: c.totalDuration,
		AvgChunkSize:  avgDuration,
	}
}

// IsIdle returns whether the chunker is currently idle
func (c *Chunker) IsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state == StateIdle
}
