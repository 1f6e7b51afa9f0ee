package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeffJna/instant-meeting-insights/internal/audio"
)

type fakeBackend struct {
	granted  bool
	grant    bool
	requests int
	devices  []Device
	listErr  error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) PermissionGranted(context.Context) (bool, error) { return f.granted, nil }

func (f *fakeBackend) RequestPermission(context.Context) (bool, error) {
	f.requests++
	f.granted = f.grant
	return f.grant, nil
}

func (f *fakeBackend) Devices(context.Context) ([]Device, error) {
	return f.devices, f.listErr
}

func (f *fakeBackend) Open(context.Context, Device, StreamOptions) (Stream, error) {
	return nil, errors.New("not implemented")
}

func TestRegistryRequestsPermissionOnce(t *testing.T) {
	backend := &fakeBackend{grant: true, devices: []Device{{ID: "b", Label: "USB"}, {ID: "a", Label: "Built-in"}}}
	reg := NewRegistry(backend, nil)

	devices, err := reg.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, []string{devices[0].ID, devices[1].ID}, "platform order kept")
	assert.Equal(t, 1, backend.requests)

	_, err = reg.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, backend.requests, "grant remembered")
}

func TestRegistryPermissionDenied(t *testing.T) {
	backend := &fakeBackend{grant: false, devices: []Device{{ID: "a"}}}
	reg := NewRegistry(backend, nil)

	_, err := reg.Enumerate(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, 1, backend.requests)
	assert.Empty(t, reg.Latest())
}

func TestRegistryEmptyIsValid(t *testing.T) {
	reg := NewRegistry(&fakeBackend{granted: true}, nil)

	devices, err := reg.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestRegistryEnumerationError(t *testing.T) {
	cause := errors.New("host api exploded")
	reg := NewRegistry(&fakeBackend{granted: true, listErr: cause}, nil)

	_, err := reg.Enumerate(context.Background())
	var enumErr *EnumerationError
	require.ErrorAs(t, err, &enumErr)
	assert.Equal(t, "fake", enumErr.Backend)
	assert.ErrorIs(t, err, cause)
}

func TestRegistryLabelFallbackAndLookup(t *testing.T) {
	backend := &fakeBackend{granted: true, devices: []Device{{ID: "abcdef123"}}}
	reg := NewRegistry(backend, nil)

	devices, err := reg.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Microphone abcde...", devices[0].Label)

	_, ok := reg.Lookup("abcdef123")
	assert.True(t, ok)

	backend.devices = nil
	_, err = reg.Enumerate(context.Background())
	require.NoError(t, err)
	_, ok = reg.Lookup("abcdef123")
	assert.False(t, ok, "only the latest enumeration counts")

	_, _, err = reg.Open(context.Background(), "abcdef123", StreamOptions{})
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func writeRecording(t *testing.T, dir, name string, samples []int16, rate int) {
	t.Helper()
	data, err := audio.EncodeWAV(samples, rate)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestWAVFileBackendDevices(t *testing.T) {
	dir := t.TempDir()
	writeRecording(t, dir, "reuniao.wav", make([]int16, 160), 16000)
	writeRecording(t, dir, "call.WAV", make([]int16, 80), 8000)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.wav"), []byte("nope"), 0o644))

	backend := NewWAVFileBackend(dir, WAVFileOptions{})
	granted, err := backend.PermissionGranted(context.Background())
	require.NoError(t, err)
	assert.True(t, granted)

	devices, err := backend.Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, Device{ID: "call.WAV", Label: "call", SampleRate: 8000, Channels: 1}, devices[0])
	assert.Equal(t, "reuniao.wav", devices[1].ID)
	assert.Equal(t, 16000, devices[1].SampleRate)
}

func TestWAVFileStreamReplaysRecording(t *testing.T) {
	dir := t.TempDir()
	samples := make([]int16, 250)
	for i := range samples {
		samples[i] = int16(i)
	}
	writeRecording(t, dir, "a.wav", samples, 1000)

	reg := NewRegistry(NewWAVFileBackend(dir, WAVFileOptions{FramesPerBuffer: 100, Unpaced: true}), nil)
	_, err := reg.Enumerate(context.Background())
	require.NoError(t, err)

	stream, dev, err := reg.Open(context.Background(), "a.wav", StreamOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1000, dev.SampleRate)
	assert.False(t, stream.Settings().Processed())

	var got []int16
	for f := range stream.Frames() {
		assert.Equal(t, 1000, f.SampleRate)
		got = append(got, f.Samples...)
	}
	assert.Equal(t, samples, got)
	assert.NoError(t, stream.Err())
	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())
}

func TestWAVFileStreamCloseStopsLoop(t *testing.T) {
	dir := t.TempDir()
	writeRecording(t, dir, "a.wav", make([]int16, 100), 1000)

	backend := NewWAVFileBackend(dir, WAVFileOptions{FramesPerBuffer: 10, Loop: true})
	stream, err := backend.Open(context.Background(), Device{ID: "a.wav"}, StreamOptions{})
	require.NoError(t, err)

	select {
	case <-stream.Frames():
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}

	require.NoError(t, stream.Close())
	for range stream.Frames() {
	}
}

func TestPortAudioUnavailableWithoutTag(t *testing.T) {
	if _, err := NewPortAudioBackend(0, nil); err != nil {
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	}
}
