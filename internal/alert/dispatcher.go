package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// SinkFunc handles one evaluation. An error is logged and does not stop the
// sink.
type SinkFunc func(ctx context.Context, ev Evaluation) error

type sink struct {
	name      string
	fn        SinkFunc
	queue     chan Evaluation
	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// SinkStats counts deliveries for one sink.
type SinkStats struct {
	Name      string `json:"name"`
	Pending   int    `json:"pending"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Dispatcher fans evaluations out to sinks. Each sink has its own bounded
// queue and goroutine, so a slow sink only loses its own events and never
// blocks Enqueue.
type Dispatcher struct {
	size   int
	logger *slog.Logger

	mu      sync.Mutex
	sinks   []*sink
	running bool

	// OnDrop is called with the sink name whenever an evaluation is dropped.
	OnDrop func(sink string)
	// OnError is called when a sink returns an error.
	OnError func(sink string, err error)
}

// NewDispatcher creates a dispatcher with queueSize slots per sink.
func NewDispatcher(queueSize int, logger *slog.Logger) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{size: queueSize, logger: logger}
}

// Register adds a named sink. Sinks must be registered before Run.
func (d *Dispatcher) Register(name string, fn SinkFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("register sink %s: dispatcher already running", name)
	}
	for _, s := range d.sinks {
		if s.name == name {
			return fmt.Errorf("register sink %s: duplicate name", name)
		}
	}
	d.sinks = append(d.sinks, &sink{name: name, fn: fn, queue: make(chan Evaluation, d.size)})
	return nil
}

// Enqueue offers ev to every sink without blocking. It returns false if any
// sink's queue was full.
func (d *Dispatcher) Enqueue(ev Evaluation) bool {
	d.mu.Lock()
	sinks := d.sinks
	d.mu.Unlock()

	ok := true
	for _, s := range sinks {
		select {
		case s.queue <- ev:
		default:
			ok = false
			s.dropped.Add(1)
			d.logger.Warn("Alert dispatch queue full, dropping evaluation",
				slog.String("sink", s.name),
				slog.String("segment_id", ev.Segment.ID),
				slog.Int("queue_size", d.size),
			)
			if d.OnDrop != nil {
				d.OnDrop(s.name)
			}
		}
	}
	return ok
}

// Run delivers queued evaluations until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	sinks := d.sinks
	d.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sinks {
		g.Go(func() error {
			d.drain(gctx, s)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) drain(ctx context.Context, s *sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			if err := s.fn(ctx, ev); err != nil {
				s.failed.Add(1)
				if d.OnError != nil {
					d.OnError(s.name, err)
				}
				d.logger.Error("Alert sink failed",
					slog.String("sink", s.name),
					slog.String("segment_id", ev.Segment.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			s.delivered.Add(1)
		}
	}
}

// Stats returns per-sink counters in registration order.
func (d *Dispatcher) Stats() []SinkStats {
	d.mu.Lock()
	sinks := d.sinks
	d.mu.Unlock()

	out := make([]SinkStats, len(sinks))
	for i, s := range sinks {
		out[i] = SinkStats{
			Name:      s.name,
			Pending:   len(s.queue),
			Delivered: s.delivered.Load(),
			Dropped:   s.dropped.Load(),
			Failed:    s.failed.Load(),
		}
	}
	return out
}
