package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JeffJna/instant-meeting-insights/internal/alert"
	"github.com/JeffJna/instant-meeting-insights/internal/capture"
	"github.com/JeffJna/instant-meeting-insights/internal/config"
	"github.com/JeffJna/instant-meeting-insights/internal/device"
	"github.com/JeffJna/instant-meeting-insights/internal/events"
	"github.com/JeffJna/instant-meeting-insights/internal/metrics"
	"github.com/JeffJna/instant-meeting-insights/internal/server"
	"github.com/JeffJna/instant-meeting-insights/internal/sound"
	"github.com/JeffJna/instant-meeting-insights/internal/store"
	"github.com/JeffJna/instant-meeting-insights/internal/stream"
	"github.com/JeffJna/instant-meeting-insights/internal/summary"
	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
)

const (
	eventHistory    = 256
	eventBufferSize = 128
	shutdownTimeout = 10 * time.Second
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the capture pipeline and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			logger, closer := initLogger(cfg.Logging, os.Stdout)
			defer closer.Close()

			logger.Info("Service starting",
				slog.String("version", server.Version),
				slog.String("config_path", flags.configPath),
				slog.String("capture_backend", cfg.Capture.Backend),
				slog.String("transcription_backend", cfg.Transcription.Backend),
				slog.String("summary_backend", cfg.Summary.Backend),
				slog.String("log_level", cfg.Logging.Level),
			)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("Failed to initialize service", slog.String("error", err.Error()))
				return err
			}
			return a.run(cmd.Context())
		},
	}
}

// app holds the wired service.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	bus        *events.Bus
	devices    *device.Registry
	log        *transcript.Log
	rules      *alert.Registry
	dispatcher *alert.Dispatcher
	engine     *alert.Engine
	manager    *stream.Manager
	watcher    *alert.RulesWatcher
	store      *store.Store
	recorder   *store.Recorder
	http       *server.HTTPServer
}

// newDeviceBackend returns the configured capture backend.
func newDeviceBackend(cfg config.CaptureConfig, logger *slog.Logger) (device.Backend, error) {
	switch cfg.Backend {
	case "portaudio":
		b, err := device.NewPortAudioBackend(cfg.FramesPerBuffer, logger)
		if err != nil {
			return nil, fmt.Errorf("portaudio backend: %w", err)
		}
		return b, nil
	case "wavfile":
		return device.NewWAVFileBackend(cfg.WAVDir, device.WAVFileOptions{
			FramesPerBuffer: cfg.FramesPerBuffer,
			Loop:            cfg.Loop,
			Logger:          logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", cfg.Backend)
	}
}

// newSummarizer returns the configured minutes generator, or nil when
// disabled.
func newSummarizer(cfg config.SummaryConfig, rules *alert.Registry) (summary.Summarizer, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "template":
		return &summary.Template{Rules: rules.List}, nil
	case "openai":
		return summary.NewOpenAI(summary.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.GetTimeoutDuration(),
		})
	default:
		return nil, fmt.Errorf("unknown summary backend %q", cfg.Backend)
	}
}

func toRuleSpecs(seeds []config.RuleSeed) []alert.RuleSpec {
	specs := make([]alert.RuleSpec, len(seeds))
	for i, s := range seeds {
		specs[i] = alert.RuleSpec{Keyword: s.Keyword, Priority: s.Priority, Sound: s.Sound}
	}
	return specs
}

// newHTTPServer is replaced in tests.
var newHTTPServer = server.NewHTTPServer

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeStore()
		}
	}()

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewMetrics(a.registry)
	a.bus = events.NewBus(eventHistory, eventBufferSize, logger)

	backend, err := newDeviceBackend(cfg.Capture, logger)
	if err != nil {
		return nil, err
	}
	a.devices = device.NewRegistry(backend, logger)
	if devices, err := a.devices.Enumerate(ctx); err != nil {
		// Not fatal: clients can enumerate again once permission is granted.
		logger.Warn("Initial device enumeration failed", slog.String("error", err.Error()))
	} else {
		logger.Info("Audio devices enumerated",
			slog.String("backend", a.devices.Backend()),
			slog.Int("count", len(devices)),
		)
	}

	// Alert rules: config seeds first, then the rules file on top.
	a.rules = alert.NewRegistry(logger)
	added, err := a.rules.Seed(toRuleSpecs(cfg.Alerts.Seed))
	if err != nil {
		return nil, fmt.Errorf("seed alert rules: %w", err)
	}
	logger.Info("Alert rules seeded", slog.Int("count", added))
	if cfg.Alerts.RulesFile != "" {
		a.watcher = alert.NewRulesWatcher(a.rules, cfg.Alerts.RulesFile, logger)
		if _, err := a.watcher.Reload(); err != nil {
			return nil, err
		}
	}
	stream.PublishRuleChanges(a.rules, a.bus, a.metrics)

	// Evaluations fan out to sound, bus and metrics.
	a.dispatcher = alert.NewDispatcher(cfg.Alerts.DispatchQueueSize, logger)
	a.dispatcher.OnDrop = a.metrics.RecordDispatchDrop
	a.dispatcher.OnError = func(sink string, err error) {
		a.metrics.RecordDispatchError(sink)
	}
	var player sound.Player = sound.Nop{}
	if cfg.Sound.Enabled {
		player = sound.NewBeeepPlayer(cfg.Sound.Notify, logger)
	}
	sinks := []struct {
		name string
		fn   alert.SinkFunc
	}{
		{"sound", sound.Sink(player)},
		{"events", stream.EventSink(a.bus)},
		{"metrics", stream.MetricsSink(a.metrics)},
	}
	for _, s := range sinks {
		if err := a.dispatcher.Register(s.name, s.fn); err != nil {
			return nil, err
		}
	}

	a.log = transcript.NewLog()
	a.engine = alert.NewEngine(a.rules, alert.EngineConfig{Dispatcher: a.dispatcher, Logger: logger})
	a.engine.Attach(a.log)

	factory, err := stream.BackendFromConfig(cfg.Transcription, a.metrics, logger)
	if err != nil {
		return nil, err
	}
	a.manager, err = stream.NewManager(stream.ManagerConfig{
		Capture:       capture.NewController(a.devices, cfg.Capture.FramesPerBuffer, logger),
		Log:           a.log,
		NewBackend:    factory,
		ReorderWindow: cfg.Transcription.GetReorderWindow(),
		Bus:           a.bus,
		Metrics:       a.metrics,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream manager: %w", err)
	}

	summarizer, err := newSummarizer(cfg.Summary, a.rules)
	if err != nil {
		return nil, err
	}

	if cfg.Store.Enabled {
		a.store, err = store.Open(ctx, cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		a.recorder = store.NewRecorder(a.store, logger)
		logger.Info("Session store opened", slog.String("path", cfg.Store.Path))
	}

	if cfg.HTTP.Enabled {
		a.http, err = newHTTPServer(cfg.HTTP, logger, server.Dependencies{
			Config:     cfg,
			Devices:    a.devices,
			Streams:    a.manager,
			Log:        a.log,
			Rules:      a.rules,
			Engine:     a.engine,
			Dispatcher: a.dispatcher,
			Summarizer: summarizer,
			Bus:        a.bus,
			Metrics:    a.metrics,
			Gatherer:   a.registry,
		})
		if err != nil {
			return nil, fmt.Errorf("create HTTP server: %w", err)
		}
	}

	return a, nil
}

// run starts the background workers and the HTTP API, then blocks until ctx
// is cancelled or a worker fails, and shuts everything down.
func (a *app) run(ctx context.Context) error {
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	g, gctx := errgroup.WithContext(workCtx)
	g.Go(func() error {
		return a.dispatcher.Run(gctx)
	})
	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(gctx)
		})
	}
	if a.recorder != nil {
		sub := a.bus.Subscribe(gctx, false)
		g.Go(func() error {
			return a.recorder.Run(gctx, sub)
		})
	}

	if a.http != nil {
		if err := a.http.Start(); err != nil {
			cancelWork()
			g.Wait()
			return err
		}
	}
	a.logger.Info("Service started successfully, waiting for signals...")

	select {
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	case <-gctx.Done():
		a.logger.Warn("Background worker stopped, shutting down")
	}

	return a.shutdown(cancelWork, g)
}

func (a *app) shutdown(cancelWork context.CancelFunc, g *errgroup.Group) error {
	a.logger.Info("Starting graceful shutdown...")
	var errs []error

	if a.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.http.Stop(ctx); err != nil {
			a.logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// Stop the session before the bus closes so the recorder sees it end.
	if err := a.manager.Shutdown(); err != nil {
		a.logger.Error("Error stopping capture session", slog.String("error", err.Error()))
	}
	a.bus.Close()

	cancelWork()
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := a.closeStore(); err != nil {
		errs = append(errs, err)
	}

	for _, s := range a.dispatcher.Stats() {
		a.logger.Info("Final sink statistics",
			slog.String("sink", s.Name),
			slog.Uint64("delivered", s.Delivered),
			slog.Uint64("dropped", s.Dropped),
			slog.Uint64("failed", s.Failed),
		)
	}
	a.logger.Info("Service stopped", slog.Int("transcript_segments", a.log.Len()))
	return errors.Join(errs...)
}

func (a *app) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	if err != nil {
		a.logger.Error("Error closing session store", slog.String("error", err.Error()))
		return err
	}
	a.logger.Info("Session store closed")
	return nil
}
