package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}

	if len(cfg.Alerts.Seed) != 4 {
		t.Errorf("Expected 4 seeded rules, got %d", len(cfg.Alerts.Seed))
	}

	if cfg.Transcription.Backend != "mock" {
		t.Errorf("Expected mock transcription backend, got %s", cfg.Transcription.Backend)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid http port",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name:        "disabled http ignores port",
			mutate:      func(c *Config) { c.HTTP.Enabled = false; c.HTTP.Port = 0 },
			expectError: false,
		},
		{
			name:        "unknown capture backend",
			mutate:      func(c *Config) { c.Capture.Backend = "alsa" },
			expectError: true,
			errorMsg:    "backend must be 'portaudio' or 'wavfile'",
		},
		{
			name:        "wavfile without directory",
			mutate:      func(c *Config) { c.Capture.WAVDir = "" },
			expectError: true,
			errorMsg:    "wav_dir cannot be empty",
		},
		{
			name:        "realtime without api key",
			mutate:      func(c *Config) { c.Transcription.Backend = "realtime"; c.Transcription.Endpoint = "wss://example.com" },
			expectError: true,
			errorMsg:    "api_key cannot be empty for the realtime backend",
		},
		{
			name: "http backend with inverted chunk durations",
			mutate: func(c *Config) {
				c.Transcription.Backend = "http"
				c.Transcription.Endpoint = "http://localhost:9000/transcribe"
				c.Transcription.ChunkMaxDuration = 0.5
			},
			expectError: true,
			errorMsg:    "chunk_max_duration",
		},
		{
			name:        "negative reorder window",
			mutate:      func(c *Config) { c.Transcription.ReorderWindow = -1 },
			expectError: true,
			errorMsg:    "reorder_window_ms cannot be negative",
		},
		{
			name: "duplicate seed keyword differing in case",
			mutate: func(c *Config) {
				c.Alerts.Seed = append(c.Alerts.Seed, RuleSeed{Keyword: " PRAZO ", Priority: "low"})
			},
			expectError: true,
			errorMsg:    "duplicate keyword",
		},
		{
			name:        "seed with unknown priority",
			mutate:      func(c *Config) { c.Alerts.Seed[0].Priority = "urgent" },
			expectError: true,
			errorMsg:    "priority must be one of",
		},
		{
			name:        "zero dispatch queue",
			mutate:      func(c *Config) { c.Alerts.DispatchQueueSize = 0 },
			expectError: true,
			errorMsg:    "dispatch_queue_size must be at least 1",
		},
		{
			name:        "openai summary without key",
			mutate:      func(c *Config) { c.Summary.Backend = "openai" },
			expectError: true,
			errorMsg:    "api_key cannot be empty for the openai backend",
		},
		{
			name:        "store enabled without path",
			mutate:      func(c *Config) { c.Store.Enabled = true; c.Store.Path = "" },
			expectError: true,
			errorMsg:    "path cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("INSIGHTS_TEST_KEY", "sk-secret")

	configContent := `
http:
  port: 9090
  address: "0.0.0.0"
  enabled: true

capture:
  backend: "wavfile"
  wav_dir: "./fixtures"
  frames_per_buffer: 512

transcription:
  backend: "realtime"
  endpoint: "wss://api.openai.com/v1/realtime?intent=transcription"
  api_key: "${INSIGHTS_TEST_KEY}"
  reorder_window_ms: 2000

alerts:
  seed:
    - keyword: "orçamento"
      priority: "high"
      sound: false

logging:
  level: "debug"
  format: "json"
  output: "stdout"
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Errorf("Expected http port 9090, got %d", cfg.HTTP.Port)
	}

	if cfg.Transcription.APIKey != "sk-secret" {
		t.Errorf("Expected api key expanded from environment, got %q", cfg.Transcription.APIKey)
	}

	if cfg.Transcription.GetReorderWindow() != 2*time.Second {
		t.Errorf("Expected reorder window 2s, got %v", cfg.Transcription.GetReorderWindow())
	}

	// Unset values keep their defaults.
	if cfg.Transcription.MaxConcurrent != 4 {
		t.Errorf("Expected default max_concurrent 4, got %d", cfg.Transcription.MaxConcurrent)
	}

	if len(cfg.Alerts.Seed) != 1 {
		t.Fatalf("Expected seed list to be replaced, got %d rules", len(cfg.Alerts.Seed))
	}

	if cfg.Alerts.Seed[0].Sound == nil || *cfg.Alerts.Seed[0].Sound {
		t.Errorf("Expected seed sound explicitly disabled")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing file")
	}

	tmpDir := t.TempDir()
	bad := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("http: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("Expected error for malformed YAML")
	}

	invalid := filepath.Join(tmpDir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("logging:\n  level: trace\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	_, err := Load(invalid)
	if err == nil || !strings.Contains(err.Error(), "config validation failed") {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	tc := TranscriptionConfig{
		Timeout:            30,
		ReorderWindow:      1500,
		MockInterval:       2.5,
		ChunkMinDuration:   1.0,
		ChunkMaxDuration:   15.0,
		MinSpeechDuration:  0.3,
		MinSilenceDuration: 0.6,
	}

	if tc.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", tc.GetTimeoutDuration())
	}
	if tc.GetReorderWindow() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", tc.GetReorderWindow())
	}
	if tc.GetMockInterval() != 2500*time.Millisecond {
		t.Errorf("Expected 2.5 seconds, got %v", tc.GetMockInterval())
	}
	if tc.GetChunkMinDuration() != time.Second {
		t.Errorf("Expected 1 second, got %v", tc.GetChunkMinDuration())
	}
	if tc.GetChunkMaxDuration() != 15*time.Second {
		t.Errorf("Expected 15 seconds, got %v", tc.GetChunkMaxDuration())
	}
	if tc.GetMinSpeechDuration() != 300*time.Millisecond {
		t.Errorf("Expected 0.3 seconds, got %v", tc.GetMinSpeechDuration())
	}
	if tc.GetMinSilenceDuration() != 600*time.Millisecond {
		t.Errorf("Expected 0.6 seconds, got %v", tc.GetMinSilenceDuration())
	}

	sc := SummaryConfig{Timeout: 60}
	if sc.GetTimeoutDuration() != time.Minute {
		t.Errorf("Expected 60 seconds, got %v", sc.GetTimeoutDuration())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name:   "valid json to stdout",
			config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			valid:  true,
		},
		{
			name:   "valid text to file",
			config: LoggingConfig{Level: "debug", Format: "text", Output: "/var/log/insights.log"},
			valid:  true,
		},
		{
			name:   "invalid log level",
			config: LoggingConfig{Level: "trace", Format: "json", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "invalid format",
			config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
