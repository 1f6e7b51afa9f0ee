package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeffJna/instant-meeting-insights/internal/config"
	"github.com/JeffJna/instant-meeting-insights/internal/server"
	"github.com/JeffJna/instant-meeting-insights/internal/store"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "insights version")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"serve", "devices", "tui", "mcp", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestMissingConfigFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"devices", "--config", filepath.Join(t.TempDir(), "missing.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestDevicesCommandEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
capture:
  backend: wavfile
  wav_dir: `+dir+`
logging:
  level: error
`), 0o644))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"devices", "--config", cfgPath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "No input devices found (wavfile backend)")
}

func TestInitLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insights.log")
	logger, closer := initLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: path}, io.Discard)
	logger.Debug("Hello", slog.String("k", "v"))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Equal(t, "Hello", line["msg"])
	assert.Equal(t, "v", line["k"])
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Capture.WAVDir = dir
	cfg.Sound.Enabled = false
	cfg.HTTP.Port = 0
	cfg.Store.Enabled = true
	cfg.Store.Path = filepath.Join(dir, "insights.sqlite")
	cfg.Summary.OutputDir = dir
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewAppWiresService(t *testing.T) {
	cfg := testConfig(t)
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte("rules:\n  - keyword: cliente\n    priority: high\n"), 0o644))
	cfg.Alerts.RulesFile = rulesPath

	a, err := newApp(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.store.Close()

	assert.Equal(t, len(cfg.Alerts.Seed)+1, a.rules.Len(), "seeds plus rules file")
	require.NotNil(t, a.http)
	require.NotNil(t, a.recorder)

	srv := httptest.NewServer(a.http.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/alerts")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, a.rules.Len(), body.Count)
}

func TestNewAppClosesStoreWhenHTTPSetupFails(t *testing.T) {
	orig := newHTTPServer
	defer func() { newHTTPServer = orig }()
	newHTTPServer = func(config.HTTPConfig, *slog.Logger, server.Dependencies) (*server.HTTPServer, error) {
		return nil, errors.New("listener unavailable")
	}

	cfg := testConfig(t)
	require.True(t, cfg.Store.Enabled)
	require.True(t, cfg.HTTP.Enabled)

	var logs bytes.Buffer
	_, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(&logs, nil)))
	require.ErrorContains(t, err, "listener unavailable")
	assert.Contains(t, logs.String(), "Session store opened")
	assert.Contains(t, logs.String(), "Session store closed")
}

func TestNewAppRejectsUnknownBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Backend = "alsa"
	_, err := newApp(context.Background(), cfg, quietLogger())
	assert.ErrorContains(t, err, "unknown capture backend")

	cfg = testConfig(t)
	cfg.Summary.Backend = "markov"
	_, err = newApp(context.Background(), cfg, quietLogger())
	assert.ErrorContains(t, err, "unknown summary backend")
}

func TestAppRunShutsDownOnCancel(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	// The store is closed on shutdown.
	_, err = a.store.Sessions(context.Background(), 1)
	assert.Error(t, err)

	s, err := store.Open(context.Background(), cfg.Store.Path)
	require.NoError(t, err)
	defer s.Close()
	sessions, err := s.Sessions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
