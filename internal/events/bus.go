package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventType names a kind of pipeline event.
type EventType string

const (
	SegmentInterim  EventType = "segment.interim"
	SegmentFinal    EventType = "segment.final"
	AlertEvaluation EventType = "alert.evaluation"
	SessionState    EventType = "session.state"
	RuleChanged     EventType = "rule.changed"
	TranscriptReset EventType = "transcript.reset"
)

// Event is one published item. Seq increases by one per Publish call.
type Event struct {
	Seq  uint64    `json:"seq"`
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

type ringBuffer struct {
	size   int
	buffer []Event
	index  int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{size: size, buffer: make([]Event, size)}
}

func (r *ringBuffer) add(e Event) {
	if r.size == 0 {
		return
	}
	r.buffer[r.index%r.size] = e
	r.index++
}

// replay returns the retained events oldest first.
func (r *ringBuffer) replay() []Event {
	start := r.index - r.size
	if start < 0 {
		start = 0
	}
	out := make([]Event, 0, r.index-start)
	for i := start; i < r.index; i++ {
		out = append(out, r.buffer[i%r.size])
	}
	return out
}

// Subscription delivers events of the requested types. A subscriber that
// falls behind loses events rather than blocking publishers.
type Subscription struct {
	C <-chan Event

	bus     *Bus
	ch      chan Event
	types   map[EventType]bool
	dropped atomic.Uint64
	once    sync.Once
	done    chan struct{}
}

// Dropped returns how many events were discarded because C was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// release closes C and ends the context watcher. Callers hold the bus lock
// or own the subscription exclusively.
func (s *Subscription) release() {
	s.once.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

func (s *Subscription) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	ring   *ringBuffer
	subs   map[*Subscription]struct{}
	seq    uint64
	closed bool

	bufferSize int
	logger     *slog.Logger
}

// NewBus creates a bus that keeps the last history events for replay and
// gives each subscriber a channel of bufferSize.
func NewBus(history, bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		ring:       newRingBuffer(history),
		subs:       make(map[*Subscription]struct{}),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe registers for the given types, or for everything when none are
// given. With replay set, retained history of those types is delivered
// first. The subscription is closed when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, replay bool, types ...EventType) *Subscription {
	sub := &Subscription{
		bus:   b,
		ch:    make(chan Event, b.bufferSize),
		types: make(map[EventType]bool, len(types)),
		done:  make(chan struct{}),
	}
	sub.C = sub.ch
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.release()
		return sub
	}
	if replay {
		for _, e := range b.ring.replay() {
			if sub.wants(e.Type) {
				sub.offer(e)
			}
		}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	sub.release()
}

func (s *Subscription) offer(e Event) bool {
	select {
	case s.ch <- e:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Publish stamps and delivers an event. It never blocks.
func (b *Bus) Publish(t EventType, data any) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e := Event{Seq: b.seq, Type: t, At: time.Now(), Data: data}
	if b.closed {
		return e
	}
	b.ring.add(e)

	for sub := range b.subs {
		if !sub.wants(t) {
			continue
		}
		if !sub.offer(e) {
			b.logger.Debug("Dropped event for slow subscriber",
				slog.String("type", string(t)),
				slog.Uint64("seq", e.Seq),
			)
		}
	}
	return e
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for sub := range b.subs {
		sub.release()
	}
	b.subs = nil
}
