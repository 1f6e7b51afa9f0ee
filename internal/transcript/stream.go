package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/JeffJna/instant-meeting-insights/internal/transcription"
)

// Observer receives stream progress. Any field may be nil.
type Observer struct {
	// Interim is called for every non-empty interim update.
	Interim func(Segment)
	// Final is called after a segment has been accepted by the log.
	Final func(Segment)
	// Abandoned is called with the ids of utterances discarded on stop.
	Abandoned func(ids []string)
}

// StreamConfig configures a Stream.
type StreamConfig struct {
	// ReorderWindow bounds how long a completed utterance waits for earlier,
	// still-open utterances before it is released without them.
	ReorderWindow time.Duration
	Observer      Observer
	Logger        *slog.Logger
	// Now is the emission clock; defaults to time.Now.
	Now func() time.Time
}

// StreamStats counts segments seen by a Stream.
type StreamStats struct {
	Interims  uint64 `json:"interims"`
	Finals    uint64 `json:"finals"`
	Late      uint64 `json:"late"`
	Abandoned uint64 `json:"abandoned"`
}

type utterance struct {
	id        string
	speaker   string
	text      string
	final     bool
	finalAt   time.Time
	overtaken bool
}

// Stream turns backend results into logged Final segments. It keeps
// utterances in detection order and holds completed ones until everything
// detected before them has completed, for at most ReorderWindow. An
// utterance overtaken that way is logged with Late set when it completes.
//
// A Stream is single use: Run may only be called once.
type Stream struct {
	log     *Log
	results <-chan transcription.Result
	cfg     StreamConfig
	logger  *slog.Logger
	started atomic.Bool

	open     map[string]*utterance
	queue    []*utterance
	finished map[string]struct{}
	lastTS   time.Time

	interims  atomic.Uint64
	finals    atomic.Uint64
	late      atomic.Uint64
	abandoned atomic.Uint64
}

// NewStream creates a stream that appends to log.
func NewStream(log *Log, results <-chan transcription.Result, cfg StreamConfig) *Stream {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		log:      log,
		results:  results,
		cfg:      cfg,
		logger:   logger,
		open:     make(map[string]*utterance),
		finished: make(map[string]struct{}),
	}
}

// Run consumes results until ctx is cancelled or the results channel closes,
// and returns nil in both cases after releasing completed utterances still
// held for reordering. Utterances that never completed are discarded.
//
// A backend error ends the stream with *InterruptedError. A segment rejected
// by the log ends it with an error wrapping ErrInvalidSegment.
func (s *Stream) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrStreamConsumed
	}

	s.lastTS = s.log.LastTimestamp()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return s.flush()

		case <-timerC:
			timerC = nil
			if err := s.releaseExpired(); err != nil {
				return err
			}

		case res, ok := <-s.results:
			if !ok {
				return s.flush()
			}
			if res.Err != nil {
				if err := s.flush(); err != nil {
					return err
				}
				return &InterruptedError{LastGoodTimestamp: s.lastEmitted(), Err: res.Err}
			}
			if err := s.handle(res); err != nil {
				return err
			}
		}

		if d, ok := s.nextDeadline(); ok {
			timer.Reset(d)
			timerC = timer.C
		} else {
			timer.Stop()
			timerC = nil
		}
	}
}

// Stats returns segment counters.
func (s *Stream) Stats() StreamStats {
	return StreamStats{
		Interims:  s.interims.Load(),
		Finals:    s.finals.Load(),
		Late:      s.late.Load(),
		Abandoned: s.abandoned.Load(),
	}
}

func (s *Stream) lastEmitted() time.Time {
	return s.lastTS
}

func (s *Stream) handle(res transcription.Result) error {
	if res.UtteranceID == "" {
		s.logger.Warn("Dropping recognition result without utterance id",
			slog.String("text", res.Text),
		)
		return nil
	}

	if _, done := s.finished[res.UtteranceID]; done {
		s.logger.Debug("Ignoring update for finished utterance",
			slog.String("utterance_id", res.UtteranceID),
			slog.Bool("final", res.Final),
		)
		return nil
	}

	u, known := s.open[res.UtteranceID]
	if !known {
		u = &utterance{id: res.UtteranceID}
		s.open[u.id] = u
		s.queue = append(s.queue, u)
	}
	if res.Speaker != "" {
		u.speaker = res.Speaker
	}

	if !res.Final {
		u.text = res.Text
		if strings.TrimSpace(res.Text) == "" {
			return nil
		}
		s.interims.Add(1)
		if s.cfg.Observer.Interim != nil {
			s.cfg.Observer.Interim(Segment{
				ID:        u.id,
				Text:      u.text,
				Timestamp: s.cfg.Now(),
				Speaker:   u.speaker,
				Status:    Interim,
				Late:      u.overtaken,
			})
		}
		return nil
	}

	u.text = res.Text
	u.final = true
	u.finalAt = s.cfg.Now()

	if u.overtaken {
		return s.emit(u, true)
	}

	if err := s.releaseReady(); err != nil {
		return err
	}
	return s.releaseExpired()
}

// releaseReady emits completed utterances from the head of the queue.
func (s *Stream) releaseReady() error {
	for len(s.queue) > 0 && s.queue[0].final {
		u := s.queue[0]
		s.queue = s.queue[1:]
		if err := s.emit(u, false); err != nil {
			return err
		}
	}
	return nil
}

// releaseExpired emits every completed utterance up to the last one whose
// reorder window has run out. Open utterances ahead of it are overtaken.
func (s *Stream) releaseExpired() error {
	now := s.cfg.Now()
	last := -1
	for i, u := range s.queue {
		if u.final && !now.Before(u.finalAt.Add(s.cfg.ReorderWindow)) {
			last = i
		}
	}
	if last < 0 {
		return nil
	}

	release := s.queue[:last+1]
	s.queue = s.queue[last+1:]
	for _, u := range release {
		if u.final {
			if err := s.emit(u, false); err != nil {
				return err
			}
			continue
		}
		u.overtaken = true
		s.logger.Debug("Utterance overtaken by reorder window",
			slog.String("utterance_id", u.id),
			slog.Duration("reorder_window", s.cfg.ReorderWindow),
		)
	}

	return s.releaseReady()
}

func (s *Stream) nextDeadline() (time.Duration, bool) {
	var earliest time.Time
	for _, u := range s.queue {
		if u.final && (earliest.IsZero() || u.finalAt.Before(earliest)) {
			earliest = u.finalAt
		}
	}
	if earliest.IsZero() {
		return 0, false
	}

	d := earliest.Add(s.cfg.ReorderWindow).Sub(s.cfg.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

func (s *Stream) emit(u *utterance, late bool) error {
	delete(s.open, u.id)
	s.finished[u.id] = struct{}{}

	if strings.TrimSpace(u.text) == "" {
		return nil
	}

	ts := s.cfg.Now()
	if ts.Before(s.lastTS) {
		ts = s.lastTS
	}

	seg := Segment{
		ID:        u.id,
		Text:      strings.TrimSpace(u.text),
		Timestamp: ts,
		Speaker:   u.speaker,
		Status:    Final,
		Late:      late,
	}

	if err := s.log.Append(seg); err != nil {
		s.logger.Error("Transcript log rejected segment",
			slog.String("segment_id", seg.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("append segment %s: %w", seg.ID, err)
	}
	s.lastTS = ts

	s.finals.Add(1)
	if late {
		s.late.Add(1)
	}
	if s.cfg.Observer.Final != nil {
		s.cfg.Observer.Final(seg)
	}
	return nil
}

// flush releases held completed utterances in order and discards the rest.
func (s *Stream) flush() error {
	var dropped []string
	for _, u := range s.queue {
		if u.final {
			if err := s.emit(u, false); err != nil {
				return err
			}
			continue
		}
		dropped = append(dropped, u.id)
	}
	s.queue = nil

	for id, u := range s.open {
		if !u.final && u.overtaken {
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		delete(s.open, id)
		s.finished[id] = struct{}{}
	}

	if len(dropped) > 0 {
		s.abandoned.Add(uint64(len(dropped)))
		s.logger.Debug("Discarded unfinished utterances", slog.Int("count", len(dropped)))
		if s.cfg.Observer.Abandoned != nil {
			s.cfg.Observer.Abandoned(dropped)
		}
	}
	return nil
}
