// Command mockasr is a local stand-in for a speech recognition endpoint. It
// accepts the multipart uploads of the http transcription backend and answers
// every chunk with a random meeting phrase.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/JeffJna/instant-meeting-insights/internal/transcription"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "Listen address")
	latency := flag.Duration("latency", 200*time.Millisecond, "Simulated processing time per chunk")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	mux := http.NewServeMux()
	mux.Handle("POST /transcribe", newHandler(transcription.DefaultMockPhrases, *latency, logger))

	logger.Info("Mock transcription server starting",
		slog.String("endpoint", "http://"+*addr+"/transcribe"),
		slog.Duration("latency", *latency),
	)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newHandler answers multipart transcription requests with one of phrases.
func newHandler(phrases []string, latency time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Error getting audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		size, err := io.Copy(io.Discard, file)
		if err != nil {
			http.Error(w, "Error reading audio file", http.StatusInternalServerError)
			return
		}

		duration, _ := strconv.ParseFloat(r.FormValue("duration"), 64)
		language := r.FormValue("language")
		if language == "" {
			language = "pt"
		}

		logger.Info("Transcription request received",
			slog.String("chunk_id", r.FormValue("chunk_id")),
			slog.String("session_id", r.FormValue("session_id")),
			slog.String("filename", header.Filename),
			slog.Int64("audio_bytes", size),
			slog.Float64("duration", duration),
		)

		select {
		case <-time.After(latency):
		case <-r.Context().Done():
			return
		}

		resp := transcription.Response{
			Text:     phrases[rand.IntN(len(phrases))],
			Language: language,
			Duration: duration,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}
