package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JeffJna/instant-meeting-insights/internal/alert"
	"github.com/JeffJna/instant-meeting-insights/internal/device"
	"github.com/JeffJna/instant-meeting-insights/internal/events"
	"github.com/JeffJna/instant-meeting-insights/internal/stream"
	"github.com/JeffJna/instant-meeting-insights/internal/summary"
	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
)

// Client talks to the insights HTTP API.
type Client struct {
	base string
	http *http.Client
}

// APIError is a non-2xx API response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}

// NewClient creates a client for the API at addr ("host:port" or a URL).
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{Timeout: 90 * time.Second}}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Devices enumerates capture devices.
func (c *Client) Devices(ctx context.Context) ([]device.Device, error) {
	var resp struct {
		Devices []device.Device `json:"devices"`
	}
	err := c.do(ctx, http.MethodGet, "/devices", nil, &resp)
	return resp.Devices, err
}

// Status returns the current session.
func (c *Client) Status(ctx context.Context) (stream.Status, error) {
	var st stream.Status
	err := c.do(ctx, http.MethodGet, "/session", nil, &st)
	return st, err
}

// Start starts capturing deviceID.
func (c *Client) Start(ctx context.Context, deviceID string) error {
	return c.do(ctx, http.MethodPost, "/session/start", map[string]string{"device_id": deviceID}, nil)
}

// Stop stops the capture session.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/session/stop", nil, nil)
}

// Transcript returns the finalized segments.
func (c *Client) Transcript(ctx context.Context) ([]transcript.Segment, error) {
	var resp struct {
		Segments []transcript.Segment `json:"segments"`
	}
	err := c.do(ctx, http.MethodGet, "/transcript", nil, &resp)
	return resp.Segments, err
}

// ClearTranscript empties the transcript.
func (c *Client) ClearTranscript(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/transcript", nil, nil)
}

// Rules lists the alert rules.
func (c *Client) Rules(ctx context.Context) ([]alert.Rule, error) {
	var resp struct {
		Rules []alert.Rule `json:"rules"`
	}
	err := c.do(ctx, http.MethodGet, "/alerts", nil, &resp)
	return resp.Rules, err
}

// AddRule registers a keyword.
func (c *Client) AddRule(ctx context.Context, keyword string, priority alert.Priority) (alert.Rule, error) {
	var rule alert.Rule
	err := c.do(ctx, http.MethodPost, "/alerts", map[string]string{
		"keyword":  keyword,
		"priority": priority.String(),
	}, &rule)
	return rule, err
}

// RemoveRule deletes a rule.
func (c *Client) RemoveRule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/alerts/"+url.PathEscape(id), nil, nil)
}

// SetSound toggles a rule's sound.
func (c *Client) SetSound(ctx context.Context, id string, enabled bool) (alert.Rule, error) {
	var rule alert.Rule
	err := c.do(ctx, http.MethodPatch, "/alerts/"+url.PathEscape(id), map[string]bool{"sound_enabled": enabled}, &rule)
	return rule, err
}

// Summarize generates minutes and optionally exports them.
func (c *Client) Summarize(ctx context.Context, export bool) (summary.Document, string, error) {
	var resp struct {
		Document summary.Document `json:"document"`
		Path     string           `json:"path"`
	}
	err := c.do(ctx, http.MethodPost, "/summary", map[string]bool{"export": export}, &resp)
	return resp.Document, resp.Path, err
}

// Event is a bus event as received over the WebSocket. Data is decoded
// by type with Decode.
type Event struct {
	Seq  uint64           `json:"seq"`
	Type events.EventType `json:"type"`
	At   time.Time        `json:"at"`
	Data json.RawMessage  `json:"data"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// EventStream reads live events.
type EventStream struct {
	conn *websocket.Conn
}

// Events opens the event WebSocket.
func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	u := "ws" + strings.TrimPrefix(c.base, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to event stream: %w", err)
	}
	return &EventStream{conn: conn}, nil
}

// Next blocks for the next event.
func (s *EventStream) Next() (Event, error) {
	var e Event
	err := s.conn.ReadJSON(&e)
	return e, err
}

// Close closes the connection.
func (s *EventStream) Close() error {
	return s.conn.Close()
}
