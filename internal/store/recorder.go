package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/JeffJna/instant-meeting-insights/internal/alert"
	"github.com/JeffJna/instant-meeting-insights/internal/capture"
	"github.com/JeffJna/instant-meeting-insights/internal/events"
	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
)

// RecordedEvents are the event types a Recorder needs.
var RecordedEvents = []events.EventType{events.SessionState, events.SegmentFinal, events.AlertEvaluation}

// Recorder writes bus events to the store. Segments and triggers are
// attributed to the session that was last seen starting.
type Recorder struct {
	store  *Store
	logger *slog.Logger

	current string
}

// NewRecorder creates a recorder writing to s.
func NewRecorder(s *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, logger: logger}
}

// Run consumes sub until it is closed or ctx is done. Write failures are
// logged and do not stop the recorder.
func (r *Recorder) Run(ctx context.Context, sub *events.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := r.Record(ctx, e); err != nil {
				r.logger.Error("Failed to persist event",
					slog.String("type", string(e.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Record persists one event. Events of other types are ignored.
func (r *Recorder) Record(ctx context.Context, e events.Event) error {
	switch data := e.Data.(type) {
	case capture.StateChange:
		return r.recordState(ctx, data)

	case transcript.Segment:
		if r.current == "" {
			r.logger.Debug("Segment outside a session not persisted", slog.String("segment_id", data.ID))
			return nil
		}
		return r.store.SaveSegment(ctx, Segment{
			ID:        data.ID,
			SessionID: r.current,
			Text:      data.Text,
			Speaker:   data.Speaker,
			Timestamp: data.Timestamp,
			Late:      data.Late,
		})

	case alert.Evaluation:
		if data.Trigger == nil || r.current == "" {
			return nil
		}
		return r.store.SaveTrigger(ctx, Trigger{
			SessionID: r.current,
			SegmentID: data.Segment.ID,
			RuleID:    data.Trigger.Rule.ID,
			Keyword:   data.Trigger.Rule.Keyword,
			Priority:  data.Trigger.Rule.Priority.String(),
			Text:      data.Segment.Text,
			FiredAt:   data.Trigger.FiredAt,
		})
	}
	return nil
}

func (r *Recorder) recordState(ctx context.Context, change capture.StateChange) error {
	sess := change.Session
	if sess.ID == "" {
		return nil
	}

	switch change.To {
	case capture.Starting:
		r.current = sess.ID
		return r.store.SaveSession(ctx, Session{
			ID:          sess.ID,
			DeviceID:    sess.Device.ID,
			DeviceLabel: sess.Device.Label,
			State:       change.To.String(),
			StartedAt:   change.At,
		})

	case capture.Active, capture.Failed:
		return r.store.SaveSession(ctx, Session{
			ID:          sess.ID,
			DeviceID:    sess.Device.ID,
			DeviceLabel: sess.Device.Label,
			State:       change.To.String(),
			StartedAt:   startedAt(sess, change.At),
			Error:       sess.Error,
		})

	case capture.Idle:
		if r.current == sess.ID {
			r.current = ""
		}
		final := "completed"
		if sess.Error != "" {
			final = capture.Failed.String()
		}
		return r.store.EndSession(ctx, sess.ID, final, change.At)
	}
	return nil
}

func startedAt(sess capture.Session, fallback time.Time) time.Time {
	if sess.StartedAt.IsZero() {
		return fallback
	}
	return sess.StartedAt
}
