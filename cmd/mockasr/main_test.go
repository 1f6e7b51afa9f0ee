package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeffJna/instant-meeting-insights/internal/transcription"
)

func TestHandlerReturnsPhrase(t *testing.T) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", "chunk-1.wav")
	require.NoError(t, err)
	fw.Write([]byte("RIFF...."))
	require.NoError(t, w.WriteField("chunk_id", "chunk-1"))
	require.NoError(t, w.WriteField("duration", "2.500"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/transcribe", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	h := newHandler([]string{"Vamos revisar o prazo."}, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp transcription.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Vamos revisar o prazo.", resp.Text)
	assert.Equal(t, "pt", resp.Language)
	assert.InDelta(t, 2.5, resp.Duration, 1e-9)
}

func TestHandlerRequiresFile(t *testing.T) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("chunk_id", "chunk-1"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/transcribe", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	newHandler([]string{"x"}, 0, slog.New(slog.NewTextHandler(io.Discard, nil))).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
