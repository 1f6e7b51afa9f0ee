package tui

import (
	"github.com/JeffJna/instant-meeting-insights/internal/alert"
	"github.com/JeffJna/instant-meeting-insights/internal/device"
	"github.com/JeffJna/instant-meeting-insights/internal/stream"
	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
)

// connectedMsg carries the initial API state and the event stream.
type connectedMsg struct {
	stream     *EventStream
	status     stream.Status
	devices    []device.Device
	rules      []alert.Rule
	transcript []transcript.Segment
}

type connectErrorMsg struct{ err error }

type eventMsg struct{ event Event }

type eventErrorMsg struct{ err error }

type reconnectTickMsg struct{}

type statusMsg struct{ status stream.Status }

type rulesMsg struct{ rules []alert.Rule }

type devicesMsg struct{ devices []device.Device }

// apiErrorMsg reports a failed command; the message is shown transiently.
type apiErrorMsg struct{ err error }

type summaryMsg struct {
	title string
	path  string
}

type transcriptClearedMsg struct{}

type clearNoticeMsg struct{ seq int }
