package transcript

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// AppendHook is called synchronously for every segment accepted by the log,
// in append order. Hooks must not call Append or Clear.
type AppendHook func(Segment)

// Log is the append-only, time-ordered record of Final segments.
//
// Writers are serialized by a mutex. Readers load an atomically published
// slice header whose visible prefix is never written again, so Snapshot never
// blocks behind an append and never observes a half-applied one.
type Log struct {
	mu    sync.Mutex
	segs  []Segment
	ids   map[string]struct{}
	hooks []AppendHook

	view atomic.Pointer[[]Segment]
}

// NewLog creates an empty transcript log.
func NewLog() *Log {
	l := &Log{ids: make(map[string]struct{})}
	empty := []Segment{}
	l.view.Store(&empty)
	return l
}

// OnAppend registers a hook run after each successful Append.
func (l *Log) OnAppend(hook AppendHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// Append adds a Final segment. It fails with ErrInvalidSegment if the segment
// is not Final, has no id, repeats an id already in the log, or carries a
// timestamp earlier than the newest logged segment. The log is unchanged on
// failure.
func (l *Log) Append(seg Segment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if seg.Status != Final {
		return fmt.Errorf("%w: segment %q has status %s", ErrInvalidSegment, seg.ID, seg.Status)
	}
	if seg.ID == "" {
		return fmt.Errorf("%w: segment has no id", ErrInvalidSegment)
	}
	if _, dup := l.ids[seg.ID]; dup {
		return fmt.Errorf("%w: segment %q already logged", ErrInvalidSegment, seg.ID)
	}
	if n := len(l.segs); n > 0 && seg.Timestamp.Before(l.segs[n-1].Timestamp) {
		return fmt.Errorf("%w: segment %q timestamp %s precedes %s", ErrInvalidSegment,
			seg.ID, seg.Timestamp.Format(time.RFC3339Nano), l.segs[n-1].Timestamp.Format(time.RFC3339Nano))
	}

	l.segs = append(l.segs, seg)
	l.ids[seg.ID] = struct{}{}
	published := l.segs[:len(l.segs):len(l.segs)]
	l.view.Store(&published)

	for _, hook := range l.hooks {
		hook(seg)
	}
	return nil
}

// Snapshot returns an ordered copy of the logged segments.
func (l *Log) Snapshot() []Segment {
	view := *l.view.Load()
	out := make([]Segment, len(view))
	copy(out, view)
	return out
}

// Len returns the number of logged segments.
func (l *Log) Len() int {
	return len(*l.view.Load())
}

// LastTimestamp returns the newest segment's timestamp, or the zero time.
func (l *Log) LastTimestamp() time.Time {
	view := *l.view.Load()
	if len(view) == 0 {
		return time.Time{}
	}
	return view[len(view)-1].Timestamp
}

// Clear empties the log. It is only meant for an explicit session reset.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.segs = nil
	l.ids = make(map[string]struct{})
	empty := []Segment{}
	l.view.Store(&empty)
}
