package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/JeffJna/instant-meeting-insights/internal/device"
)

// State is the capture session lifecycle state.
type State int

const (
	Idle State = iota
	Starting
	Active
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st := Idle; st <= Failed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown capture state %q", text)
}

// Session describes the current or most recent capture session.
type Session struct {
	ID        string          `json:"id,omitempty"`
	Device    device.Device   `json:"device"`
	State     State           `json:"state"`
	Settings  device.Settings `json:"settings"`
	StartedAt time.Time       `json:"started_at,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// StateChange is delivered to observers for every transition. Session is
// the session as it stands after the transition.
type StateChange struct {
	SessionID string    `json:"session_id,omitempty"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Err       error     `json:"-"`
	At        time.Time `json:"at"`
	Session   Session   `json:"session"`
}

// ErrSessionBusy is returned by Start unless the controller is Idle.
var ErrSessionBusy = errors.New("capture session busy")

// CaptureStartError reports why a session could not start.
type CaptureStartError struct {
	Reason string
	Err    error
}

func (e *CaptureStartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture start failed: %s: %v", e.Reason, e.Err)
	}
	return "capture start failed: " + e.Reason
}

func (e *CaptureStartError) Unwrap() error {
	return e.Err
}
