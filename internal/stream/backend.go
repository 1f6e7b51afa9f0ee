package stream

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/JeffJna/instant-meeting-insights/internal/audio"
	"github.com/JeffJna/instant-meeting-insights/internal/config"
	"github.com/JeffJna/instant-meeting-insights/internal/metrics"
	"github.com/JeffJna/instant-meeting-insights/internal/transcription"
)

// BackendFromConfig returns a factory for the configured recognition
// backend.
func BackendFromConfig(cfg config.TranscriptionConfig, m *metrics.Metrics, logger *slog.Logger) (BackendFactory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "mock":
		return func(string) (transcription.Backend, error) {
			return transcription.NewMockBackend(transcription.MockOptions{
				Interval: cfg.GetMockInterval(),
			}), nil
		}, nil

	case "realtime":
		return func(string) (transcription.Backend, error) {
			return transcription.NewRealtimeBackend(transcription.RealtimeOptions{
				URL:      cfg.Endpoint,
				APIKey:   cfg.APIKey,
				Model:    cfg.Model,
				Language: cfg.Language,
				Logger:   logger,
			}), nil
		}, nil

	case "http":
		var observe func(time.Duration, error)
		if m != nil {
			observe = func(d time.Duration, err error) {
				m.RecordTranscriptionRequest(d.Seconds(), err != nil)
			}
		}
		return func(sessionID string) (transcription.Backend, error) {
			return transcription.NewHTTPBackend(transcription.HTTPOptions{
				Client: transcription.Config{
					Endpoint:      cfg.Endpoint,
					APIKey:        cfg.APIKey,
					Timeout:       cfg.GetTimeoutDuration(),
					MaxRetries:    cfg.MaxRetries,
					MaxConcurrent: cfg.MaxConcurrent,
				},
				Model:         cfg.Model,
				Language:      cfg.Language,
				SessionID:     sessionID,
				VADThreshold:  cfg.VADThreshold,
				VADWindowSize: cfg.VADWindowSize,
				Chunking: audio.ChunkingConfig{
					MinDuration:        cfg.GetChunkMinDuration(),
					MaxDuration:        cfg.GetChunkMaxDuration(),
					MinSpeechDuration:  cfg.GetMinSpeechDuration(),
					MinSilenceDuration: cfg.GetMinSilenceDuration(),
				},
				Logger:  logger,
				Observe: observe,
			})
		}, nil
	}

	return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
}
