package alert

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ChangeKind names a registry mutation.
type ChangeKind string

const (
	RuleAdded   ChangeKind = "rule.added"
	RuleUpdated ChangeKind = "rule.updated"
	RuleRemoved ChangeKind = "rule.removed"
)

// Change describes one applied mutation.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Rule Rule       `json:"rule"`
}

type compiledRule struct {
	Rule
	pattern pattern
}

// ruleSet is an immutable registry state. Writers build a new one and
// publish it atomically.
type ruleSet struct {
	rules []compiledRule
}

// Registry holds the alert rules. Mutations are serialized and published as
// a new immutable set, so List and the engine read without locking and see
// every mutation that returned before they started.
type Registry struct {
	mu        sync.Mutex
	observers []func(Change)
	view      atomic.Pointer[ruleSet]
	now       func() time.Time
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{now: time.Now, logger: logger}
	r.view.Store(&ruleSet{})
	return r
}

// OnChange registers an observer called synchronously after each mutation.
func (r *Registry) OnChange(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Add registers keyword with the given priority and sound enabled.
func (r *Registry) Add(keyword string, priority Priority) (Rule, error) {
	return r.add(keyword, priority, true, OriginManual)
}

// AddWithOptions is Add with an explicit sound flag and origin.
func (r *Registry) AddWithOptions(keyword string, priority Priority, sound bool, origin Origin) (Rule, error) {
	return r.add(keyword, priority, sound, origin)
}

func (r *Registry) add(keyword string, priority Priority, sound bool, origin Origin) (Rule, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return Rule{}, ErrEmptyKeyword
	}
	if !priority.Valid() {
		return Rule{}, fmt.Errorf("%w: %d", ErrInvalidPriority, int(priority))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.view.Load()
	for _, cr := range cur.rules {
		if strings.EqualFold(cr.Keyword, keyword) {
			return Rule{}, fmt.Errorf("%w: %q conflicts with rule %s", ErrDuplicateKeyword, keyword, cr.ID)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Rule{}, fmt.Errorf("generate rule id: %w", err)
	}
	rule := Rule{
		ID:           id.String(),
		Keyword:      keyword,
		Priority:     priority,
		SoundEnabled: sound,
		Origin:       origin,
		CreatedAt:    r.now(),
	}

	next := make([]compiledRule, len(cur.rules), len(cur.rules)+1)
	copy(next, cur.rules)
	next = append(next, compiledRule{Rule: rule, pattern: compile(keyword)})
	r.publishLocked(next, Change{Kind: RuleAdded, Rule: rule})

	r.logger.Debug("Alert rule added",
		slog.String("rule_id", rule.ID),
		slog.String("keyword", rule.Keyword),
		slog.String("priority", rule.Priority.String()),
	)
	return rule, nil
}

// Remove deletes the rule with the given id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.view.Load()
	idx := cur.index(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	removed := cur.rules[idx].Rule
	next := make([]compiledRule, 0, len(cur.rules)-1)
	next = append(next, cur.rules[:idx]...)
	next = append(next, cur.rules[idx+1:]...)
	r.publishLocked(next, Change{Kind: RuleRemoved, Rule: removed})
	return nil
}

// SetSoundEnabled toggles whether a rule may sound. Silent rules still match.
func (r *Registry) SetSoundEnabled(id string, enabled bool) (Rule, error) {
	return r.update(id, func(rule *Rule) { rule.SoundEnabled = enabled })
}

// SetPriority changes a rule's priority.
func (r *Registry) SetPriority(id string, priority Priority) (Rule, error) {
	if !priority.Valid() {
		return Rule{}, fmt.Errorf("%w: %d", ErrInvalidPriority, int(priority))
	}
	return r.update(id, func(rule *Rule) { rule.Priority = priority })
}

func (r *Registry) update(id string, mutate func(*Rule)) (Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.view.Load()
	idx := cur.index(id)
	if idx < 0 {
		return Rule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	next := make([]compiledRule, len(cur.rules))
	copy(next, cur.rules)
	mutate(&next[idx].Rule)
	if next[idx].Rule == cur.rules[idx].Rule {
		return next[idx].Rule, nil
	}
	r.publishLocked(next, Change{Kind: RuleUpdated, Rule: next[idx].Rule})
	return next[idx].Rule, nil
}

// List returns the rules in insertion order.
func (r *Registry) List() []Rule {
	cur := r.view.Load()
	out := make([]Rule, len(cur.rules))
	for i, cr := range cur.rules {
		out[i] = cr.Rule
	}
	return out
}

// Get returns the rule with the given id.
func (r *Registry) Get(id string) (Rule, bool) {
	cur := r.view.Load()
	if idx := cur.index(id); idx >= 0 {
		return cur.rules[idx].Rule, true
	}
	return Rule{}, false
}

// Len returns the number of rules.
func (r *Registry) Len() int {
	return len(r.view.Load().rules)
}

func (r *Registry) snapshot() *ruleSet {
	return r.view.Load()
}

func (r *Registry) publishLocked(rules []compiledRule, change Change) {
	r.view.Store(&ruleSet{rules: rules})
	for _, fn := range r.observers {
		fn(change)
	}
}

func (s *ruleSet) index(id string) int {
	for i, cr := range s.rules {
		if cr.ID == id {
			return i
		}
	}
	return -1
}

func (s *ruleSet) byKeyword(keyword string) (compiledRule, bool) {
	for _, cr := range s.rules {
		if strings.EqualFold(cr.Keyword, keyword) {
			return cr, true
		}
	}
	return compiledRule{}, false
}
