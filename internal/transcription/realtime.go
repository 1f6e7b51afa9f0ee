package transcription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JeffJna/instant-meeting-insights/internal/audio"
)

// RealtimeSampleRate is the PCM16 rate the realtime API expects.
const RealtimeSampleRate = 24000

// DefaultRealtimeURL is the OpenAI realtime transcription endpoint.
const DefaultRealtimeURL = "wss://api.openai.com/v1/realtime?intent=transcription"

// RealtimeOptions configure the streaming WebSocket backend.
type RealtimeOptions struct {
	URL      string
	APIKey   string
	Model    string
	Language string
	// DrainTimeout bounds how long pending utterances may take to complete
	// after the audio ends.
	DrainTimeout time.Duration
	Dialer       *websocket.Dialer
	Logger       *slog.Logger
}

// RealtimeBackend streams audio over a WebSocket and maps the server's
// transcription events to results keyed by conversation item id.
type RealtimeBackend struct {
	opts RealtimeOptions
}

// NewRealtimeBackend creates the realtime backend.
func NewRealtimeBackend(opts RealtimeOptions) *RealtimeBackend {
	if opts.URL == "" {
		opts.URL = DefaultRealtimeURL
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-transcribe"
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RealtimeBackend{opts: opts}
}

func (b *RealtimeBackend) Name() string { return "realtime" }

// serverEvent represents events from the realtime API.
type serverEvent struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Transcribe dials the server and configures a transcription session. A dial
// or configuration failure is returned directly; a later loss of the
// connection is reported as a Result wrapping ErrDisconnected.
func (b *RealtimeBackend) Transcribe(ctx context.Context, frames <-chan audio.Frame) (<-chan Result, error) {
	header := http.Header{"OpenAI-Beta": []string{"realtime=v1"}}
	if b.opts.APIKey != "" {
		header.Set("Authorization", "Bearer "+b.opts.APIKey)
	}

	conn, _, err := b.opts.Dialer.DialContext(ctx, b.opts.URL, header)
	if err != nil {
		return nil, fmt.Errorf("connect to realtime API: %w", err)
	}

	transcription := map[string]string{"model": b.opts.Model}
	if b.opts.Language != "" {
		transcription["language"] = b.opts.Language
	}
	if err := conn.WriteJSON(map[string]any{
		"type": "transcription_session.update",
		"session": map[string]any{
			"input_audio_format":        "pcm16",
			"input_audio_transcription": transcription,
			"turn_detection":            map[string]any{"type": "server_vad"},
		},
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configure session: %w", err)
	}

	s := &realtimeSession{
		opts:  b.opts,
		conn:  conn,
		out:   make(chan Result, 32),
		texts: make(map[string]*strings.Builder),
		idle:  make(chan struct{}),
	}
	go s.readLoop(ctx)
	go s.writeLoop(ctx, frames)
	return s.out, nil
}

type realtimeSession struct {
	opts RealtimeOptions
	conn *websocket.Conn
	out  chan Result

	writeMu sync.Mutex
	closing atomic.Bool

	mu        sync.Mutex
	writeErr  error
	texts     map[string]*strings.Builder
	committed bool
	idle      chan struct{}
	idleOnce  sync.Once
}

func (s *realtimeSession) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *realtimeSession) writeLoop(ctx context.Context, frames <-chan audio.Frame) {
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				s.finish(ctx)
				return
			}
			pcm := audio.PCM16LE(audio.Resample(f.Samples, f.SampleRate, RealtimeSampleRate))
			if err := s.write(map[string]string{
				"type":  "input_audio_buffer.append",
				"audio": base64.StdEncoding.EncodeToString(pcm),
			}); err != nil {
				s.mu.Lock()
				s.writeErr = err
				s.mu.Unlock()
				return
			}
		}
	}
}

// finish commits the remaining audio and waits for open utterances.
func (s *realtimeSession) finish(ctx context.Context) {
	_ = s.write(map[string]string{"type": "input_audio_buffer.commit"})

	s.mu.Lock()
	s.committed = true
	if len(s.texts) == 0 {
		s.idleOnce.Do(func() { close(s.idle) })
	}
	s.mu.Unlock()

	select {
	case <-s.idle:
	case <-ctx.Done():
	case <-time.After(s.opts.DrainTimeout):
		s.opts.Logger.Warn("Realtime transcription did not complete before drain timeout")
	}
}

func (s *realtimeSession) shutdown() {
	s.closing.Store(true)
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	s.conn.Close()
}

func (s *realtimeSession) readLoop(ctx context.Context) {
	defer close(s.out)

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			werr := s.writeErr
			s.mu.Unlock()
			if werr != nil {
				s.send(ctx, Result{Err: fmt.Errorf("%w: %v", ErrDisconnected, werr)})
				return
			}
			if s.closing.Load() || ctx.Err() != nil {
				return
			}
			s.send(ctx, Result{Err: fmt.Errorf("%w: %v", ErrDisconnected, err)})
			s.conn.Close()
			return
		}

		var event serverEvent
		if json.Unmarshal(msg, &event) != nil {
			continue
		}

		switch event.Type {
		case "input_audio_buffer.speech_started":
			if event.ItemID != "" {
				s.open(event.ItemID)
				s.send(ctx, Result{UtteranceID: event.ItemID})
			}

		case "conversation.item.input_audio_transcription.delta":
			text := s.appendDelta(event.ItemID, event.Delta)
			s.send(ctx, Result{UtteranceID: event.ItemID, Text: text})

		case "conversation.item.input_audio_transcription.completed":
			s.complete(event.ItemID)
			s.send(ctx, Result{UtteranceID: event.ItemID, Text: event.Transcript, Final: true})

		case "conversation.item.input_audio_transcription.failed":
			s.complete(event.ItemID)
			s.opts.Logger.Warn("Realtime transcription failed for item", slog.String("item_id", event.ItemID))
			s.send(ctx, Result{UtteranceID: event.ItemID, Final: true})

		case "error":
			if event.Error == nil || event.Error.Code == "input_audio_buffer_commit_empty" {
				continue
			}
			s.send(ctx, Result{Err: fmt.Errorf("%w: %s: %s", ErrDisconnected, event.Error.Code, event.Error.Message)})
			s.closing.Store(true)
			s.conn.Close()
			return
		}
	}
}

func (s *realtimeSession) send(ctx context.Context, r Result) {
	select {
	case s.out <- r:
	case <-ctx.Done():
	}
}

func (s *realtimeSession) open(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.texts[id]; !ok {
		s.texts[id] = &strings.Builder{}
	}
}

func (s *realtimeSession) appendDelta(id, delta string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.texts[id]
	if !ok {
		b = &strings.Builder{}
		s.texts[id] = b
	}
	b.WriteString(delta)
	return b.String()
}

func (s *realtimeSession) complete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.texts, id)
	if s.committed && len(s.texts) == 0 {
		s.idleOnce.Do(func() { close(s.idle) })
	}
}
