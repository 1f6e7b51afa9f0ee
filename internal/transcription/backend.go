package transcription

import (
	"context"
	"errors"

	"github.com/JeffJna/instant-meeting-insights/internal/audio"
)

// Result is one recognition update for an utterance. Interim results for the
// same UtteranceID replace each other; exactly one Final result closes it.
// A Result with Err set reports that the backend lost its connection and no
// further results will follow.
type Result struct {
	UtteranceID string
	Text        string
	Final       bool
	Speaker     string
	Err         error
}

// Backend turns captured audio frames into recognition results. The results
// channel is closed when the frames channel is exhausted, when ctx is
// cancelled, or right after an error Result.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, frames <-chan audio.Frame) (<-chan Result, error)
}

// ErrDisconnected is wrapped by backends when the recognition service goes
// away mid-session.
var ErrDisconnected = errors.New("recognition backend disconnected")
