package alert

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
)

// Match is one rule found in a segment, with the spans to highlight.
type Match struct {
	RuleID       string   `json:"rule_id"`
	Keyword      string   `json:"keyword"`
	Priority     Priority `json:"priority"`
	SoundEnabled bool     `json:"sound_enabled"`
	Spans        []Span   `json:"spans"`
}

// Trigger is the single sound alert chosen for a segment.
type Trigger struct {
	Rule    Rule               `json:"rule"`
	Segment transcript.Segment `json:"segment"`
	FiredAt time.Time          `json:"fired_at"`
}

// Evaluation is the outcome of checking one segment against the registry.
type Evaluation struct {
	Segment transcript.Segment `json:"segment"`
	Matches []Match            `json:"matches"`
	Trigger *Trigger           `json:"trigger,omitempty"`
}

// EngineStats counts engine activity.
type EngineStats struct {
	Evaluated  uint64 `json:"evaluated"`
	Matched    uint64 `json:"matched"`
	Triggers   uint64 `json:"triggers"`
	Duplicates uint64 `json:"duplicates"`
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Dispatcher receives every evaluation that has at least one match.
	// Optional.
	Dispatcher *Dispatcher
	Logger     *slog.Logger
	Now        func() time.Time
}

// Engine evaluates finalized segments against the registry. Each segment id
// is evaluated at most once for the engine's lifetime.
type Engine struct {
	registry   *Registry
	dispatcher *Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	processed map[string]struct{}

	evaluated  atomic.Uint64
	matched    atomic.Uint64
	triggers   atomic.Uint64
	duplicates atomic.Uint64
}

// NewEngine creates an engine reading rules from registry.
func NewEngine(registry *Registry, cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		registry:   registry,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		now:        cfg.Now,
		processed:  make(map[string]struct{}),
	}
}

// Attach evaluates every segment appended to log from now on, before Append
// returns.
func (e *Engine) Attach(log *transcript.Log) {
	log.OnAppend(func(seg transcript.Segment) {
		e.Evaluate(seg)
	})
}

// Evaluate matches seg against the current rules. It returns false, and an
// empty evaluation, when seg's id was already evaluated.
func (e *Engine) Evaluate(seg transcript.Segment) (Evaluation, bool) {
	e.mu.Lock()
	if _, seen := e.processed[seg.ID]; seen {
		e.mu.Unlock()
		e.duplicates.Add(1)
		e.logger.Debug("Segment already evaluated", slog.String("segment_id", seg.ID))
		return Evaluation{}, false
	}
	e.processed[seg.ID] = struct{}{}
	e.mu.Unlock()

	e.evaluated.Add(1)
	ev := Evaluation{Segment: seg}

	toks := tokenize(seg.Text)
	var best *compiledRule
	rules := e.registry.snapshot().rules
	for i := range rules {
		cr := &rules[i]
		spans := cr.pattern.find(toks)
		if len(spans) == 0 {
			continue
		}
		ev.Matches = append(ev.Matches, Match{
			RuleID:       cr.ID,
			Keyword:      cr.Keyword,
			Priority:     cr.Priority,
			SoundEnabled: cr.SoundEnabled,
			Spans:        spans,
		})
		if cr.SoundEnabled && outranks(cr.Rule, best) {
			best = cr
		}
	}

	if len(ev.Matches) == 0 {
		return ev, true
	}
	e.matched.Add(1)

	if best != nil {
		ev.Trigger = &Trigger{Rule: best.Rule, Segment: seg, FiredAt: e.now()}
		e.triggers.Add(1)
		e.logger.Info("Keyword alert triggered",
			slog.String("segment_id", seg.ID),
			slog.String("rule_id", best.ID),
			slog.String("keyword", best.Keyword),
			slog.String("priority", best.Priority.String()),
			slog.Int("matches", len(ev.Matches)),
		)
	}

	if e.dispatcher != nil {
		e.dispatcher.Enqueue(ev)
	}
	return ev, true
}

// outranks reports whether r should sound instead of the current choice:
// higher priority first, then the smaller rule id.
func outranks(r Rule, current *compiledRule) bool {
	if current == nil {
		return true
	}
	if r.Priority != current.Priority {
		return r.Priority > current.Priority
	}
	return r.ID < current.ID
}

// Stats returns engine counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Evaluated:  e.evaluated.Load(),
		Matched:    e.matched.Load(),
		Triggers:   e.triggers.Load(),
		Duplicates: e.duplicates.Load(),
	}
}
