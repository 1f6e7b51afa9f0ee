package transcript

import (
	"errors"
	"fmt"
	"time"
)

// Status distinguishes provisional from finalized segments.
type Status int

const (
	Interim Status = iota
	Final
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case Interim:
		return "interim"
	case Final:
		return "final"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "interim":
		*s = Interim
	case "final":
		*s = Final
	default:
		return fmt.Errorf("unknown segment status %q", string(text))
	}
	return nil
}

// Segment is one recognized utterance. Interim segments share the ID of the
// utterance they refine; a Final segment is immutable once logged.
type Segment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   string    `json:"speaker,omitempty"`
	Status    Status    `json:"status"`
	Late      bool      `json:"late,omitempty"`
}

// ErrInvalidSegment is returned by Log.Append for segments that would break
// the log's invariants.
var ErrInvalidSegment = errors.New("invalid segment")

// ErrStreamConsumed is returned when Stream.Run is called more than once.
var ErrStreamConsumed = errors.New("transcription stream already consumed")

// InterruptedError reports a recognition backend failure mid-session.
// LastGoodTimestamp is the timestamp of the last segment that reached the
// log (zero when none did).
type InterruptedError struct {
	LastGoodTimestamp time.Time
	Err               error
}

func (e *InterruptedError) Error() string {
	if e.LastGoodTimestamp.IsZero() {
		return fmt.Sprintf("transcription interrupted before any segment: %v", e.Err)
	}
	return fmt.Sprintf("transcription interrupted (last good segment at %s): %v",
		e.LastGoodTimestamp.Format(time.RFC3339Nano), e.Err)
}

func (e *InterruptedError) Unwrap() error {
	return e.Err
}
