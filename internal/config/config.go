package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Sound         SoundConfig         `yaml:"sound"`
	Summary       SummaryConfig       `yaml:"summary"`
	Store         StoreConfig         `yaml:"store"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// CaptureConfig selects the audio input backend
type CaptureConfig struct {
	Backend         string `yaml:"backend"`          // "portaudio" or "wavfile"
	WAVDir          string `yaml:"wav_dir"`          // wavfile backend only
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	Loop            bool   `yaml:"loop"`             // wavfile backend replays files forever
}

// TranscriptionConfig contains recognition backend configuration
type TranscriptionConfig struct {
	Backend       string  `yaml:"backend"` // "realtime", "http" or "mock"
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	Language      string  `yaml:"language"`
	Timeout       int     `yaml:"timeout"` // seconds
	MaxRetries    int     `yaml:"max_retries"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	ReorderWindow int     `yaml:"reorder_window_ms"`
	MockInterval  float64 `yaml:"mock_interval"` // seconds

	// http backend chunking
	ChunkMinDuration   float64 `yaml:"chunk_min_duration"`   // seconds
	ChunkMaxDuration   float64 `yaml:"chunk_max_duration"`   // seconds
	VADThreshold       float32 `yaml:"vad_threshold"`
	VADWindowSize      int     `yaml:"vad_window_size"`      // samples
	MinSpeechDuration  float64 `yaml:"min_speech_duration"`  // seconds
	MinSilenceDuration float64 `yaml:"min_silence_duration"` // seconds
}

// AlertsConfig contains keyword rule configuration
type AlertsConfig struct {
	RulesFile         string     `yaml:"rules_file"`
	Seed              []RuleSeed `yaml:"seed"`
	DispatchQueueSize int        `yaml:"dispatch_queue_size"`
}

// RuleSeed is a keyword rule loaded at startup
type RuleSeed struct {
	Keyword  string `yaml:"keyword"`
	Priority string `yaml:"priority"`
	Sound    *bool  `yaml:"sound,omitempty"`
}

// SoundConfig controls the alert sound player
type SoundConfig struct {
	Enabled bool `yaml:"enabled"`
	Notify  bool `yaml:"notify"`
}

// SummaryConfig contains meeting minutes generator configuration
type SummaryConfig struct {
	Backend   string `yaml:"backend"` // "openai" or "template"
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Timeout   int    `yaml:"timeout"` // seconds
	OutputDir string `yaml:"output_dir"`
}

// StoreConfig contains sqlite persistence configuration
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that runs without hardware or credentials:
// WAV files as devices, mock recognition and template minutes.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Port: 8080, Address: "127.0.0.1", Enabled: true},
		Capture: CaptureConfig{
			Backend:         "wavfile",
			WAVDir:          "./recordings",
			FramesPerBuffer: 1024,
		},
		Transcription: TranscriptionConfig{
			Backend:            "mock",
			Model:              "gpt-4o-transcribe",
			Language:           "pt",
			Timeout:            30,
			MaxRetries:         3,
			MaxConcurrent:      4,
			ReorderWindow:      1500,
			MockInterval:       3,
			ChunkMinDuration:   1.0,
			ChunkMaxDuration:   15.0,
			VADThreshold:       0.3,
			VADWindowSize:      512,
			MinSpeechDuration:  0.3,
			MinSilenceDuration: 0.6,
		},
		Alerts: AlertsConfig{
			Seed: []RuleSeed{
				{Keyword: "decisão", Priority: "high"},
				{Keyword: "orçamento", Priority: "medium"},
				{Keyword: "prazo", Priority: "medium"},
				{Keyword: "aprovado", Priority: "low"},
			},
			DispatchQueueSize: 64,
		},
		Sound:   SoundConfig{Enabled: true},
		Summary: SummaryConfig{Backend: "template", Model: "gpt-4o-mini", Timeout: 60, OutputDir: "."},
		Store:   StoreConfig{Enabled: false, Path: "insights.sqlite"},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
	}
}

// Load reads and parses the configuration file. Values not present in the
// file keep their defaults, and ${VAR} references are expanded from the
// environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Alerts.Validate(); err != nil {
		return fmt.Errorf("alerts config: %w", err)
	}

	if err := c.Summary.Validate(); err != nil {
		return fmt.Errorf("summary config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Backend {
	case "portaudio":
	case "wavfile":
		if c.WAVDir == "" {
			return fmt.Errorf("wav_dir cannot be empty for the wavfile backend")
		}
	default:
		return fmt.Errorf("backend must be 'portaudio' or 'wavfile', got '%s'", c.Backend)
	}

	if c.FramesPerBuffer < 64 || c.FramesPerBuffer > 16384 {
		return fmt.Errorf("frames_per_buffer must be between 64 and 16384, got %d", c.FramesPerBuffer)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Backend {
	case "mock":
		if t.MockInterval <= 0 {
			return fmt.Errorf("mock_interval must be positive, got %f", t.MockInterval)
		}
	case "realtime", "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the %s backend", t.Backend)
		}
		if t.Backend == "realtime" && t.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty for the realtime backend")
		}
	default:
		return fmt.Errorf("backend must be one of [realtime, http, mock], got '%s'", t.Backend)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	if t.ReorderWindow < 0 {
		return fmt.Errorf("reorder_window_ms cannot be negative, got %d", t.ReorderWindow)
	}

	if t.Backend == "http" {
		if t.ChunkMinDuration <= 0 {
			return fmt.Errorf("chunk_min_duration must be positive, got %f", t.ChunkMinDuration)
		}

		if t.ChunkMaxDuration <= t.ChunkMinDuration {
			return fmt.Errorf("chunk_max_duration (%f) must be greater than chunk_min_duration (%f)",
				t.ChunkMaxDuration, t.ChunkMinDuration)
		}

		if t.VADThreshold < 0 || t.VADThreshold > 1 {
			return fmt.Errorf("vad_threshold must be between 0 and 1, got %f", t.VADThreshold)
		}

		if t.VADWindowSize < 256 || t.VADWindowSize > 2048 {
			return fmt.Errorf("vad_window_size must be between 256 and 2048 samples, got %d", t.VADWindowSize)
		}

		if t.MinSpeechDuration <= 0 {
			return fmt.Errorf("min_speech_duration must be positive, got %f", t.MinSpeechDuration)
		}

		if t.MinSilenceDuration <= 0 {
			return fmt.Errorf("min_silence_duration must be positive, got %f", t.MinSilenceDuration)
		}
	}

	return nil
}

// Validate validates alert configuration
func (a *AlertsConfig) Validate() error {
	if a.DispatchQueueSize < 1 {
		return fmt.Errorf("dispatch_queue_size must be at least 1, got %d", a.DispatchQueueSize)
	}

	seen := make(map[string]bool, len(a.Seed))
	for i, seed := range a.Seed {
		keyword := strings.ToLower(strings.TrimSpace(seed.Keyword))
		if keyword == "" {
			return fmt.Errorf("seed[%d]: keyword cannot be empty", i)
		}
		if seen[keyword] {
			return fmt.Errorf("seed[%d]: duplicate keyword '%s'", i, seed.Keyword)
		}
		seen[keyword] = true

		switch strings.ToLower(seed.Priority) {
		case "low", "medium", "high":
		default:
			return fmt.Errorf("seed[%d]: priority must be one of [low, medium, high], got '%s'", i, seed.Priority)
		}
	}

	return nil
}

// Validate validates summary configuration
func (s *SummaryConfig) Validate() error {
	switch s.Backend {
	case "template":
	case "openai":
		if s.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty for the openai backend")
		}
		if s.Model == "" {
			return fmt.Errorf("model cannot be empty for the openai backend")
		}
	default:
		return fmt.Errorf("backend must be 'openai' or 'template', got '%s'", s.Backend)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	return nil
}

// Validate validates store configuration
func (s *StoreConfig) Validate() error {
	if s.Enabled && s.Path == "" {
		return fmt.Errorf("path cannot be empty when the store is enabled")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path.
	return nil
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetReorderWindow returns the final-segment reorder window as a time.Duration
func (t *TranscriptionConfig) GetReorderWindow() time.Duration {
	return time.Duration(t.ReorderWindow) * time.Millisecond
}

// GetMockInterval returns the mock phrase interval as a time.Duration
func (t *TranscriptionConfig) GetMockInterval() time.Duration {
	return time.Duration(t.MockInterval * float64(time.Second))
}

// GetChunkMinDuration returns the minimum chunk duration as a time.Duration
func (t *TranscriptionConfig) GetChunkMinDuration() time.Duration {
	return time.Duration(t.ChunkMinDuration * float64(time.Second))
}

// GetChunkMaxDuration returns the maximum chunk duration as a time.Duration
func (t *TranscriptionConfig) GetChunkMaxDuration() time.Duration {
	return time.Duration(t.ChunkMaxDuration * float64(time.Second))
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (t *TranscriptionConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(t.MinSpeechDuration * float64(time.Second))
}

// GetMinSilenceDuration returns the minimum silence duration as a time.Duration
func (t *TranscriptionConfig) GetMinSilenceDuration() time.Duration {
	return time.Duration(t.MinSilenceDuration * float64(time.Second))
}

// GetTimeoutDuration returns the summarization timeout as a time.Duration
func (s *SummaryConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}
