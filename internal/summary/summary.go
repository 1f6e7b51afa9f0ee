package summary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
)

// Document is a generated set of minutes.
type Document struct {
	Title       string    `json:"title"`
	Markdown    string    `json:"markdown"`
	Backend     string    `json:"backend"`
	Segments    int       `json:"segments"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Summarizer turns final segments into minutes. Implementations must not
// modify the segments they are given.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, segments []transcript.Segment) (Document, error)
}

// ErrEmptyTranscript is returned when there is nothing to summarize.
var ErrEmptyTranscript = errors.New("no transcript available to summarize")

// SummarizationFailedError wraps any failure of a summarizer backend.
type SummarizationFailedError struct {
	Backend string
	Err     error
}

func (e *SummarizationFailedError) Error() string {
	return fmt.Sprintf("summarization with %s failed: %v", e.Backend, e.Err)
}

func (e *SummarizationFailedError) Unwrap() error {
	return e.Err
}

// FileName returns the minutes file name for the given day.
func FileName(day time.Time) string {
	return fmt.Sprintf("ata-reuniao-%s.md", day.Format("2006-01-02"))
}

// Export writes doc into dir, named after its generation date, and returns
// the path written.
func Export(dir string, doc Document) (string, error) {
	if doc.Markdown == "" {
		return "", fmt.Errorf("document is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(dir, FileName(doc.GeneratedAt))
	if err := os.WriteFile(path, []byte(doc.Markdown), 0o644); err != nil {
		return "", fmt.Errorf("write minutes: %w", err)
	}
	return path, nil
}

func lastTimestamp(segments []transcript.Segment) time.Time {
	return segments[len(segments)-1].Timestamp
}
